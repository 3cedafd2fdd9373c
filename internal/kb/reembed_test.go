package kb

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"

	"github.com/retrocourt/retrocourt/internal/model"
)

type fakeEmbeddingStore struct {
	pending    []model.KBDocument
	embeddings map[string]model.KBEmbedding
}

func newFakeEmbeddingStore(pending []model.KBDocument) *fakeEmbeddingStore {
	return &fakeEmbeddingStore{pending: pending, embeddings: make(map[string]model.KBEmbedding)}
}

func (f *fakeEmbeddingStore) PendingEmbeddings(_ context.Context, _ string, limit int) ([]model.KBDocument, error) {
	var remaining []model.KBDocument
	for _, d := range f.pending {
		if _, done := f.embeddings[d.KBID]; !done {
			remaining = append(remaining, d)
		}
	}
	if limit > 0 && len(remaining) > limit {
		remaining = remaining[:limit]
	}
	return remaining, nil
}

func (f *fakeEmbeddingStore) UpsertKBEmbedding(_ context.Context, e model.KBEmbedding) error {
	f.embeddings[e.KBID] = e
	return nil
}

type fakeProvider struct {
	dims      int
	model     string
	failTimes int
	calls     int
}

func (p *fakeProvider) Dimensions() int { return p.dims }
func (p *fakeProvider) Model() string   { return p.model }

func (p *fakeProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

func (p *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	p.calls++
	if p.calls <= p.failTimes {
		return nil, errors.New("fake provider: transient failure")
	}
	vecs := make([]pgvector.Vector, len(texts))
	for i := range texts {
		vecs[i] = pgvector.NewVector(make([]float32, p.dims))
	}
	return vecs, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReEmbedder_RunOnce_EmbedsAllPending(t *testing.T) {
	docs := []model.KBDocument{
		{KBID: "issue-1-body-aaa", Text: "first"},
		{KBID: "issue-2-body-bbb", Text: "second"},
	}
	store := newFakeEmbeddingStore(docs)
	provider := &fakeProvider{dims: 3, model: "test-embed"}

	r := NewReEmbedder(store, provider, discardLogger(), 1)
	count, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Len(t, store.embeddings, 2)
	for _, d := range docs {
		e, ok := store.embeddings[d.KBID]
		require.True(t, ok)
		require.Equal(t, "test-embed", e.Model)
		require.Equal(t, 3, e.Dims)
	}
}

func TestReEmbedder_RunOnce_RetriesTransientFailure(t *testing.T) {
	docs := []model.KBDocument{{KBID: "issue-1-body-aaa", Text: "first"}}
	store := newFakeEmbeddingStore(docs)
	provider := &fakeProvider{dims: 3, model: "test-embed", failTimes: 2}

	r := NewReEmbedder(store, provider, discardLogger(), 10)
	count, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Greater(t, provider.calls, 2)
}

func TestReEmbedder_RunOnce_NoPendingIsNoop(t *testing.T) {
	store := newFakeEmbeddingStore(nil)
	provider := &fakeProvider{dims: 3, model: "test-embed"}

	r := NewReEmbedder(store, provider, discardLogger(), 10)
	count, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, 0, provider.calls)
}
