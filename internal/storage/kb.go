package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/retrocourt/retrocourt/internal/model"
)

// UpsertKBDocument inserts or updates a kb_document row, keyed on kb_id.
// text_tsv is derived by the schema (a generated column), never set here.
func (db *DB) UpsertKBDocument(ctx context.Context, d model.KBDocument) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO kb_document (kb_id, repo_full_name, item_type, item_number, section, source_ref, text, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (kb_id) DO UPDATE SET
		     text = EXCLUDED.text,
		     metadata = EXCLUDED.metadata,
		     source_ref = EXCLUDED.source_ref,
		     updated_at = now()`,
		d.KBID, d.RepoFullName, d.ItemType, d.ItemNumber, d.Section, d.SourceRef, d.Text, d.Metadata,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert kb document: %w", err)
	}
	return nil
}

// GetKBDocument fetches a kb_document by kb_id.
func (db *DB) GetKBDocument(ctx context.Context, kbID string) (model.KBDocument, error) {
	var d model.KBDocument
	err := db.pool.QueryRow(ctx,
		`SELECT kb_id, repo_full_name, item_type, item_number, section, source_ref, text, metadata, created_at, updated_at
		 FROM kb_document WHERE kb_id = $1`, kbID,
	).Scan(&d.KBID, &d.RepoFullName, &d.ItemType, &d.ItemNumber, &d.Section, &d.SourceRef, &d.Text, &d.Metadata, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.KBDocument{}, ErrNotFound
	}
	if err != nil {
		return model.KBDocument{}, fmt.Errorf("storage: get kb document: %w", err)
	}
	return d, nil
}

// PendingEmbeddings returns kb_document rows that have no embedding for
// model, or whose existing kb_embedding.source_hash no longer matches the
// document's current text (the re-embed rule).
func (db *DB) PendingEmbeddings(ctx context.Context, modelName string, limit int) ([]model.KBDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT d.kb_id, d.repo_full_name, d.item_type, d.item_number, d.section, d.source_ref, d.text, d.metadata, d.created_at, d.updated_at
		 FROM kb_document d
		 LEFT JOIN kb_embedding e ON e.kb_id = d.kb_id AND e.model = $1
		 WHERE e.kb_id IS NULL OR e.source_hash <> encode(sha256(d.text::bytea), 'hex')
		 ORDER BY d.kb_id
		 LIMIT $2`,
		modelName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending embeddings: %w", err)
	}
	defer rows.Close()

	var docs []model.KBDocument
	for rows.Next() {
		var d model.KBDocument
		if err := rows.Scan(&d.KBID, &d.RepoFullName, &d.ItemType, &d.ItemNumber, &d.Section, &d.SourceRef, &d.Text, &d.Metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan pending embedding doc: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpsertKBEmbedding inserts or updates the embedding for (kb_id, model).
// Dimension mismatch against the schema's vector column is caught by
// Postgres and surfaced as a fatal error — callers must not retry it.
func (db *DB) UpsertKBEmbedding(ctx context.Context, e model.KBEmbedding) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO kb_embedding (kb_id, model, dims, embedding, source_hash)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (kb_id, model) DO UPDATE SET
		     dims = EXCLUDED.dims,
		     embedding = EXCLUDED.embedding,
		     source_hash = EXCLUDED.source_hash,
		     created_at = now()`,
		e.KBID, e.Model, e.Dims, e.Embedding, e.SourceHash,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert kb embedding: %w", err)
	}
	return nil
}

// KeywordSearchResult is one row from a keyword or vector retrieval query.
type KeywordSearchResult struct {
	model.KBDocument
	Score float64
}

// KeywordSearch runs ts_rank against kb_document.text_tsv, optionally
// scoped to a repo, ordered by score descending.
func (db *DB) KeywordSearch(ctx context.Context, query, repoFilter string, limit int) ([]KeywordSearchResult, error) {
	sqlQuery := `
		SELECT kb_id, repo_full_name, item_type, item_number, section, source_ref, text, metadata, created_at, updated_at,
		       ts_rank(text_tsv, plainto_tsquery('simple', $1)) AS score
		FROM kb_document
		WHERE text_tsv @@ plainto_tsquery('simple', $1)`
	args := []any{query}
	if repoFilter != "" {
		sqlQuery += ` AND repo_full_name = $2`
		args = append(args, repoFilter)
	}
	sqlQuery += fmt.Sprintf(` ORDER BY score DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: keyword search: %w", err)
	}
	defer rows.Close()
	return scanKeywordResults(rows)
}

// VectorSearch orders kb_document by L2 distance of its embedding against
// queryEmbedding, filtered to rows whose (embedding_model, dims) match and
// whose source_hash still matches the document's current text.
func (db *DB) VectorSearch(ctx context.Context, queryEmbedding pgvector.Vector, embeddingModel string, dims int, repoFilter string, limit int) ([]KeywordSearchResult, error) {
	sqlQuery := `
		SELECT d.kb_id, d.repo_full_name, d.item_type, d.item_number, d.section, d.source_ref, d.text, d.metadata, d.created_at, d.updated_at,
		       e.embedding <-> $1 AS distance
		FROM kb_document d
		JOIN kb_embedding e ON e.kb_id = d.kb_id
		WHERE e.model = $2 AND e.dims = $3
		  AND e.source_hash = encode(sha256(d.text::bytea), 'hex')`
	args := []any{queryEmbedding, embeddingModel, dims}
	if repoFilter != "" {
		sqlQuery += ` AND d.repo_full_name = $4`
		args = append(args, repoFilter)
	}
	sqlQuery += fmt.Sprintf(` ORDER BY distance ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: vector search: %w", err)
	}
	defer rows.Close()
	return scanKeywordResults(rows)
}

func scanKeywordResults(rows pgx.Rows) ([]KeywordSearchResult, error) {
	var out []KeywordSearchResult
	for rows.Next() {
		var r KeywordSearchResult
		if err := rows.Scan(
			&r.KBID, &r.RepoFullName, &r.ItemType, &r.ItemNumber, &r.Section, &r.SourceRef, &r.Text, &r.Metadata,
			&r.CreatedAt, &r.UpdatedAt, &r.Score,
		); err != nil {
			return nil, fmt.Errorf("storage: scan search result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
