// Package lesson implements the business logic around persisting and
// retrieving do/don't lessons the judge stage proposes: embedding
// composition, near-duplicate detection, and role-scoped retrieval.
//
// Storage primitives (CreateLessonDeduped, SearchLessons) are already
// transactional and redaction-gated in internal/storage; this package is
// the thin layer above them that knows how to turn a model.LessonProposal
// into an embedded, deduplicated model.Lesson.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/retrocourt/retrocourt/internal/kb/embedding"
	"github.com/retrocourt/retrocourt/internal/model"
)

// Store is the subset of *storage.DB lesson persistence needs.
type Store interface {
	CreateLessonDeduped(ctx context.Context, l model.Lesson, emb pgvector.Vector, k int) (created model.Lesson, inserted bool, duplicate *model.Lesson, err error)
	SearchLessons(ctx context.Context, role string, queryEmbedding pgvector.Vector, embeddingModel string, dims, k int) ([]model.Lesson, error)
}

// Registrar persists judge-proposed lessons after embedding and
// deduplication.
type Registrar struct {
	store    Store
	embedder embedding.Provider
}

// New builds a Registrar. A nil or Noop embedder degrades InsertProposal to
// a no-op that reports Skipped "no embedding provider configured" rather than failing
// the whole judge stage.
func New(store Store, embedder embedding.Provider) *Registrar {
	return &Registrar{store: store, embedder: embedder}
}

// InsertResult reports what happened to one proposed lesson.
type InsertResult struct {
	Lesson    model.Lesson
	Inserted  bool
	Duplicate *model.Lesson // set when Inserted is false because a near-duplicate already exists
	Skipped   string        // non-empty reason when neither inserted nor deduplicated
}

// InsertProposal composes the embedding text (title, content, rationale),
// then dedup-checks and persists the lesson atomically: CreateLessonDeduped
// runs the near-duplicate search and the insert in the same serializable
// transaction, so two proposals racing the same near-duplicate slot can't
// both slip past the check and both insert.
func (r *Registrar) InsertProposal(ctx context.Context, p model.LessonProposal) (InsertResult, error) {
	if r.embedder == nil {
		return InsertResult{Skipped: "no embedding provider configured"}, nil
	}

	text := composeText(p)
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrNoProvider) {
			return InsertResult{Skipped: "no embedding provider configured"}, nil
		}
		return InsertResult{}, fmt.Errorf("lesson: embed proposal: %w", err)
	}

	l := model.Lesson{
		Role:             p.Role,
		Polarity:         model.Polarity(p.Polarity),
		Title:            p.Title,
		Content:          p.Content,
		Rationale:        p.Rationale,
		Confidence:       p.Confidence,
		Tags:             p.Tags,
		EvidenceEventIDs: p.EvidenceEventIDs,
		Embedding:        &vec,
		EmbeddingModel:   r.embedder.Model(),
		EmbeddingDim:     r.embedder.Dimensions(),
	}
	created, inserted, duplicate, err := r.store.CreateLessonDeduped(ctx, l, vec, 1)
	if err != nil {
		return InsertResult{}, fmt.Errorf("lesson: create deduped: %w", err)
	}
	if !inserted {
		return InsertResult{Duplicate: duplicate}, nil
	}
	return InsertResult{Lesson: created, Inserted: true}, nil
}

// Search embeds query and returns the top-k role-scoped lessons. Returns an
// empty slice (not an error) when no embedding provider is configured, so
// callers that treat lessons as optional context degrade gracefully.
func (r *Registrar) Search(ctx context.Context, role, query string, k int) ([]model.Lesson, error) {
	if r.embedder == nil {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, embedding.ErrNoProvider) {
			return nil, nil
		}
		return nil, fmt.Errorf("lesson: embed query: %w", err)
	}
	return r.store.SearchLessons(ctx, role, vec, r.embedder.Model(), r.embedder.Dimensions(), k)
}

func composeText(p model.LessonProposal) string {
	var b strings.Builder
	b.WriteString(p.Title)
	b.WriteString("\n\n")
	b.WriteString(p.Content)
	if p.Rationale != "" {
		b.WriteString("\n\n")
		b.WriteString(p.Rationale)
	}
	return b.String()
}
