package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// KBDocument is one knowledge-base section derived from a projected repo
// item (title/body, comments, or reviews; no timeline-summary section is
// built). kb_id is a
// stable hash of (repo, item_type, item_number, section); rebuilding the
// projection reproduces the same id, so upserts are idempotent.
type KBDocument struct {
	KBID         string         `json:"kb_id"`
	RepoFullName string         `json:"repo_full_name"`
	ItemType     string         `json:"item_type"`
	ItemNumber   int            `json:"item_number"`
	Section      string         `json:"section"`
	SourceRef    string         `json:"source_ref"`
	Text         string         `json:"text"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// KBEmbedding is the embedding for one (kb_id, model) pair. SourceHash must
// equal SHA-256 of the owning KBDocument.Text at embed time; a mismatch
// means the row is stale and must be re-embedded before it is trusted for
// retrieval.
type KBEmbedding struct {
	KBID       string          `json:"kb_id"`
	Model      string          `json:"model"`
	Dims       int             `json:"dims"`
	Embedding  pgvector.Vector `json:"-"`
	SourceHash string          `json:"source_hash"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RawRecord mirrors the on-disk archive format written by the forge
// ingester: one JSON file per HTTP exchange, keyed by request fingerprint
// and attempt number so re-runs are safe no-ops.
type RawRecord struct {
	Request  RawRequest    `json:"request"`
	Response RawResponse   `json:"response"`
	Meta     RawRecordMeta `json:"meta"`
}

// RawRequest is the outbound half of a RawRecord.
type RawRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// RawResponse is the inbound half of a RawRecord.
type RawResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// RawRecordMeta carries the archival provenance used for idempotent
// resumption.
type RawRecordMeta struct {
	Tag               string    `json:"tag"`
	RequestFingerprint string   `json:"request_fingerprint"`
	Attempt           int       `json:"attempt"`
	FetchedAt         time.Time `json:"fetched_at"`
}
