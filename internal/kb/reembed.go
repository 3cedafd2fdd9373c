package kb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/retrocourt/retrocourt/internal/kb/embedding"
	"github.com/retrocourt/retrocourt/internal/model"
)

// defaultBatchSize is used when RETROCOURT_EMBED_BATCH_SIZE is unset or
// invalid.
const defaultBatchSize = 64

// maxEmbedAttempts bounds the re-embed scheduler's retry loop per batch.
// Wider than storage.WithRetry's default: a transient OpenAI outage can
// outlast a few hundred milliseconds of Postgres-style backoff.
const maxEmbedAttempts = 8

// EmbeddingStore is the subset of *storage.DB the re-embed scheduler needs.
type EmbeddingStore interface {
	PendingEmbeddings(ctx context.Context, modelName string, limit int) ([]model.KBDocument, error)
	UpsertKBEmbedding(ctx context.Context, e model.KBEmbedding) error
}

// ReEmbedder polls for kb_document rows whose embedding is missing or stale
// and embeds them in bounded batches.
type ReEmbedder struct {
	store     EmbeddingStore
	provider  embedding.Provider
	logger    *slog.Logger
	BatchSize int
}

// NewReEmbedder builds a ReEmbedder. batchSize <= 0 falls back to
// defaultBatchSize.
func NewReEmbedder(store EmbeddingStore, provider embedding.Provider, logger *slog.Logger, batchSize int) *ReEmbedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &ReEmbedder{store: store, provider: provider, logger: logger, BatchSize: batchSize}
}

// RunOnce embeds pending documents one batch at a time until none remain,
// re-querying PendingEmbeddings before each batch so documents upserted
// mid-run by a concurrent Builder are picked up without a second
// invocation. It returns the number of documents embedded. A provider that
// reports embedding.ErrNoProvider ends the run early without an error.
func (r *ReEmbedder) RunOnce(ctx context.Context) (int, error) {
	var total int
	for {
		docs, err := r.store.PendingEmbeddings(ctx, r.provider.Model(), r.BatchSize)
		if err != nil {
			return total, fmt.Errorf("kb: list pending embeddings: %w", err)
		}
		if len(docs) == 0 {
			return total, nil
		}

		if err := r.embedBatch(ctx, docs); err != nil {
			if errors.Is(err, embedding.ErrNoProvider) {
				r.logger.Warn("kb: no embedding provider configured, skipping embedding", "pending", len(docs))
				return total, nil
			}
			return total, err
		}
		total += len(docs)
		r.logger.Info("kb: embedded batch", "count", len(docs), "model", r.provider.Model())

		if len(docs) < r.BatchSize {
			return total, nil
		}
	}
}

// embedBatch embeds one batch with bounded retry and persists every result.
// A dimension mismatch against the configured model width is fatal —
// embedding.OpenAIProvider.EmbedBatch refuses to return a differently-sized
// vector — and once retries are exhausted the error propagates rather than
// being logged and swallowed, matching the provider's own fatal treatment.
func (r *ReEmbedder) embedBatch(ctx context.Context, docs []model.KBDocument) error {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	vecs, err := retryBackoff(ctx, maxEmbedAttempts, func() ([]pgvector.Vector, error) {
		return r.provider.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return fmt.Errorf("kb: embed batch of %d: %w", len(docs), err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("kb: embed batch of %d: got %d vectors back", len(docs), len(vecs))
	}

	for i, d := range docs {
		e := model.KBEmbedding{
			KBID:       d.KBID,
			Model:      r.provider.Model(),
			Dims:       r.provider.Dimensions(),
			Embedding:  vecs[i],
			SourceHash: sourceHash(d.Text),
		}
		if err := r.store.UpsertKBEmbedding(ctx, e); err != nil {
			return fmt.Errorf("kb: upsert embedding %s: %w", d.KBID, err)
		}
	}
	return nil
}

// sourceHash matches PendingEmbeddings' encode(sha256(text::bytea), 'hex')
// re-embed check, so a document re-embedded here is never immediately
// re-selected as pending on the next poll.
func sourceHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// retryBackoff retries fn with exponential backoff and full jitter, up to
// maxAttempts times or until ctx is done. embedding.ErrNoProvider is not
// retried.
func retryBackoff(ctx context.Context, maxAttempts int, fn func() ([]pgvector.Vector, error)) ([]pgvector.Vector, error) {
	var lastErr error
	base := 500 * time.Millisecond
	const capDelay = 30 * time.Second
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		if errors.Is(err, embedding.ErrNoProvider) {
			return nil, err
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}
		delay := base * time.Duration(uint64(1)<<uint(attempt))
		if delay > capDelay {
			delay = capDelay
		}
		jittered := time.Duration(rand.Int64N(int64(delay)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jittered):
		}
	}
	return nil, errors.Join(fmt.Errorf("kb: embed batch exhausted %d attempts", maxAttempts), lastErr)
}
