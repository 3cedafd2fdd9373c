package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Polarity applied to a Lesson.
type Polarity string

const (
	PolarityDo   Polarity = "do"
	PolarityDont Polarity = "dont"
)

// Lesson is a reusable do/don't rule extracted by the judge, role-scoped and
// evidence-linked.
type Lesson struct {
	ID                 uuid.UUID        `json:"id"`
	Role               string           `json:"role"`
	Polarity           Polarity         `json:"polarity"`
	Title              string           `json:"title"`
	Content            string           `json:"content"`
	Rationale          string           `json:"rationale"`
	Confidence         float64          `json:"confidence"`
	Tags               []string         `json:"tags"`
	EvidenceEventIDs   []string         `json:"evidence_event_ids"`
	Embedding          *pgvector.Vector `json:"-"`
	EmbeddingModel     string           `json:"embedding_model,omitempty"`
	EmbeddingDim       int              `json:"embedding_dim,omitempty"`
	SupersedesLessonID *uuid.UUID       `json:"supersedes_lesson_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// DuplicateCandidate is a near-duplicate lesson hit from an ANN search.
type DuplicateCandidate struct {
	Lesson   Lesson
	Distance float32
}

// PromptUpdateStatus is the lifecycle state of a proposed prompt change.
type PromptUpdateStatus string

const (
	PromptUpdateProposed PromptUpdateStatus = "proposed"
	PromptUpdateApproved PromptUpdateStatus = "approved"
	PromptUpdateRejected PromptUpdateStatus = "rejected"
	PromptUpdateApplied  PromptUpdateStatus = "applied"
)

// PromptUpdate is a judge-proposed change to an agent role's active prompt.
type PromptUpdate struct {
	ID               uuid.UUID          `json:"id"`
	CaseID           uuid.UUID          `json:"case_id"`
	AgentID          string             `json:"agent_id"`
	Role             string             `json:"role"`
	FromVersion      int                `json:"from_version"`
	Proposal         string             `json:"proposal"`
	Reason           string             `json:"reason"`
	Status           PromptUpdateStatus `json:"status"`
	ReviewComment    *string            `json:"review_comment,omitempty"`
	ApprovedBy       *string            `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time         `json:"approved_at,omitempty"`
	AppliedAt        *time.Time         `json:"applied_at,omitempty"`
	EvidenceEventIDs []string           `json:"evidence_event_ids"`
	CreatedAt        time.Time          `json:"created_at"`
}

// RolePrompt is one versioned revision of a role's active prompt. Never
// mutated, only superseded: at most one row per role has IsActive = true.
type RolePrompt struct {
	ID       uuid.UUID `json:"id"`
	Role     string    `json:"role"`
	Version  int       `json:"version"`
	Prompt   string    `json:"prompt"`
	IsActive bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
