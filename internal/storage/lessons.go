package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/retrocourt/retrocourt/internal/model"
)

// DuplicateL2Threshold is the default L2 distance below which a candidate
// counts as a duplicate of a proposed lesson.
const DuplicateL2Threshold = 0.25

// CreateLesson persists a lesson with its embedding. The redaction
// persistence gate runs over title/content/rationale before the insert.
func (db *DB) CreateLesson(ctx context.Context, l model.Lesson) (model.Lesson, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if err := db.assertLessonClean(l); err != nil {
		return model.Lesson{}, err
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO lessons (
		     id, role, polarity, title, content, rationale, confidence, tags,
		     evidence_event_ids, embedding, embedding_model, embedding_dim, supersedes_lesson_id
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		l.ID, l.Role, string(l.Polarity), l.Title, l.Content, l.Rationale, l.Confidence, l.Tags,
		l.EvidenceEventIDs, l.Embedding, l.EmbeddingModel, l.EmbeddingDim, l.SupersedesLessonID,
	)
	if err != nil {
		return model.Lesson{}, fmt.Errorf("storage: create lesson: %w", err)
	}
	return l, nil
}

func (db *DB) assertLessonClean(l model.Lesson) error {
	for _, s := range []string{l.Title, l.Content, l.Rationale} {
		if err := db.policy.AssertNoSensitiveData(s); err != nil {
			return fmt.Errorf("storage: lesson: %w", err)
		}
	}
	return nil
}

// GetLesson fetches a lesson by id.
func (db *DB) GetLesson(ctx context.Context, id uuid.UUID) (model.Lesson, error) {
	var l model.Lesson
	var polarity string
	var embedding *pgvector.Vector
	err := db.pool.QueryRow(ctx,
		`SELECT id, role, polarity, title, content, rationale, confidence, tags,
		        evidence_event_ids, embedding, embedding_model, embedding_dim,
		        supersedes_lesson_id, created_at
		 FROM lessons WHERE id = $1`, id,
	).Scan(
		&l.ID, &l.Role, &polarity, &l.Title, &l.Content, &l.Rationale, &l.Confidence, &l.Tags,
		&l.EvidenceEventIDs, &embedding, &l.EmbeddingModel, &l.EmbeddingDim,
		&l.SupersedesLessonID, &l.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Lesson{}, ErrNotFound
	}
	if err != nil {
		return model.Lesson{}, fmt.Errorf("storage: get lesson: %w", err)
	}
	l.Polarity = model.Polarity(polarity)
	l.Embedding = embedding
	return l, nil
}

// FindDuplicateLessons runs a role-scoped ANN search for lessons whose
// embedding is within DuplicateL2Threshold L2 distance of the candidate
// embedding, limited to k results. Only rows embedded with the same
// (embeddingModel, dims) are compared.
func (db *DB) FindDuplicateLessons(ctx context.Context, role string, embedding pgvector.Vector, embeddingModel string, dims, k int) ([]model.DuplicateCandidate, error) {
	if k <= 0 {
		k = 5
	}
	rows, err := db.pool.Query(ctx, duplicateLessonsQuery, role, embedding, DuplicateL2Threshold, k, embeddingModel, dims)
	if err != nil {
		return nil, fmt.Errorf("storage: find duplicate lessons: %w", err)
	}
	defer rows.Close()
	return scanDuplicateCandidates(rows)
}

const duplicateLessonsQuery = `
	SELECT id, role, polarity, title, content, rationale, confidence, tags,
	       evidence_event_ids, embedding, embedding_model, embedding_dim,
	       supersedes_lesson_id, created_at, embedding <-> $2 AS distance
	FROM lessons
	WHERE role = $1 AND embedding IS NOT NULL
	  AND embedding_model = $5 AND embedding_dim = $6
	  AND embedding <-> $2 <= $3
	ORDER BY distance ASC
	LIMIT $4`

func scanDuplicateCandidates(rows pgx.Rows) ([]model.DuplicateCandidate, error) {
	var out []model.DuplicateCandidate
	for rows.Next() {
		var l model.Lesson
		var polarity string
		var emb *pgvector.Vector
		var dist float32
		if err := rows.Scan(
			&l.ID, &l.Role, &polarity, &l.Title, &l.Content, &l.Rationale, &l.Confidence, &l.Tags,
			&l.EvidenceEventIDs, &emb, &l.EmbeddingModel, &l.EmbeddingDim,
			&l.SupersedesLessonID, &l.CreatedAt, &dist,
		); err != nil {
			return nil, fmt.Errorf("storage: scan duplicate lesson: %w", err)
		}
		l.Polarity = model.Polarity(polarity)
		l.Embedding = emb
		out = append(out, model.DuplicateCandidate{Lesson: l, Distance: dist})
	}
	return out, rows.Err()
}

// CreateLessonDeduped checks for a role-scoped near-duplicate and, if none
// is found, inserts l — both inside one serializable transaction, so two
// proposals racing the same near-duplicate slot can't both insert. The
// transaction is retried via WithRetry on the serialization conflict that
// exact race produces; every other error is returned immediately.
func (db *DB) CreateLessonDeduped(ctx context.Context, l model.Lesson, emb pgvector.Vector, k int) (created model.Lesson, inserted bool, duplicate *model.Lesson, err error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if cleanErr := db.assertLessonClean(l); cleanErr != nil {
		return model.Lesson{}, false, nil, cleanErr
	}
	if k <= 0 {
		k = 1
	}

	retryErr := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		// Reset outputs on every attempt: a retried transaction must not
		// carry over a partial result from an aborted prior attempt.
		duplicate = nil
		inserted = false
		created = model.Lesson{}

		tx, beginErr := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if beginErr != nil {
			return fmt.Errorf("storage: begin create lesson deduped: %w", beginErr)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		rows, queryErr := tx.Query(ctx, duplicateLessonsQuery, l.Role, emb, DuplicateL2Threshold, k, l.EmbeddingModel, l.EmbeddingDim)
		if queryErr != nil {
			return fmt.Errorf("storage: find duplicate lessons (tx): %w", queryErr)
		}
		dupes, scanErr := scanDuplicateCandidates(rows)
		if scanErr != nil {
			return scanErr
		}
		if len(dupes) > 0 {
			existing := dupes[0].Lesson
			duplicate = &existing
			return tx.Commit(ctx)
		}

		if _, insErr := tx.Exec(ctx,
			`INSERT INTO lessons (
			     id, role, polarity, title, content, rationale, confidence, tags,
			     evidence_event_ids, embedding, embedding_model, embedding_dim, supersedes_lesson_id
			 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			l.ID, l.Role, string(l.Polarity), l.Title, l.Content, l.Rationale, l.Confidence, l.Tags,
			l.EvidenceEventIDs, l.Embedding, l.EmbeddingModel, l.EmbeddingDim, l.SupersedesLessonID,
		); insErr != nil {
			return fmt.Errorf("storage: create lesson: %w", insErr)
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return fmt.Errorf("storage: commit create lesson deduped: %w", commitErr)
		}
		inserted = true
		created = l
		return nil
	})
	if retryErr != nil {
		return model.Lesson{}, false, nil, retryErr
	}
	return created, inserted, duplicate, nil
}

// SearchLessons runs a role-scoped ANN search for the top-k lessons nearest
// the query embedding. Rows whose (embedding_model, embedding_dim) differ
// from the query's are excluded to avoid cross-model noise.
func (db *DB) SearchLessons(ctx context.Context, role string, queryEmbedding pgvector.Vector, embeddingModel string, dims, k int) ([]model.Lesson, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, role, polarity, title, content, rationale, confidence, tags,
		        evidence_event_ids, embedding, embedding_model, embedding_dim,
		        supersedes_lesson_id, created_at
		 FROM lessons
		 WHERE role = $1 AND embedding_model = $2 AND embedding_dim = $3
		 ORDER BY embedding <-> $4 ASC
		 LIMIT $5`,
		role, embeddingModel, dims, queryEmbedding, k,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: search lessons: %w", err)
	}
	defer rows.Close()

	var out []model.Lesson
	for rows.Next() {
		var l model.Lesson
		var polarity string
		var emb *pgvector.Vector
		if err := rows.Scan(
			&l.ID, &l.Role, &polarity, &l.Title, &l.Content, &l.Rationale, &l.Confidence, &l.Tags,
			&l.EvidenceEventIDs, &emb, &l.EmbeddingModel, &l.EmbeddingDim,
			&l.SupersedesLessonID, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan lesson: %w", err)
		}
		l.Polarity = model.Polarity(polarity)
		l.Embedding = emb
		out = append(out, l)
	}
	return out, rows.Err()
}
