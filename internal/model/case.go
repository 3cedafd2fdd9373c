// Package model defines the core domain types for the retrospective court
// pipeline. Types correspond directly to database tables and event payloads
// described by the system specification, and favor strong typing (UUIDs,
// time.Time, enums) over interface{}.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Case is a single agent decision under review by the court.
// Owned by the court: created once per review, appended to only via events.
type Case struct {
	ID     uuid.UUID `json:"id"`
	Source CaseSource `json:"source"`

	Metadata map[string]any `json:"metadata"`

	// Result is the agent output being judged (triage/assignment/response/
	// docs-gap/promotion decision), stored as opaque JSON.
	Result map[string]any `json:"result"`

	// Feedback is the human verdict + comment, when present.
	Feedback *CaseFeedback `json:"feedback,omitempty"`

	RedactionPolicyVersion string    `json:"redaction_policy_version"`
	CreatedAt              time.Time `json:"created_at"`
}

// CaseSource identifies the system of origin and a reference within it
// (e.g. a repository plus an issue/PR number).
type CaseSource struct {
	System string `json:"system"`
	Ref    string `json:"ref"`
}

// CaseFeedback is the human verdict attached to a case.
type CaseFeedback struct {
	Verdict string `json:"verdict"`
	Comment string `json:"comment,omitempty"`
}

// ActorType enumerates who or what produced a CaseEvent.
type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorAI     ActorType = "ai"
	ActorTool   ActorType = "tool"
	ActorSystem ActorType = "system"
)

// EventType namespaces the kind of a CaseEvent.
type EventType string

const (
	EventModelCall   EventType = "model_call"
	EventModelResult EventType = "model_result"
	EventError       EventType = "error"
	EventArtifact    EventType = "artifact"
)

// Usage holds token/cost metrics for a model call, when reported.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// CaseEvent is an append-only journal entry for a case. Ordering within a
// case is (ts, seq); seq is assigned monotonically at append time.
type CaseEvent struct {
	ID         uuid.UUID      `json:"id"`
	CaseID     uuid.UUID      `json:"case_id"`
	CourtRunID *uuid.UUID     `json:"court_run_id,omitempty"`
	Ts         time.Time      `json:"ts"`
	Seq        int64          `json:"seq"`
	ActorType  ActorType      `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	Role       *string        `json:"role,omitempty"`
	EventType  EventType      `json:"event_type"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
}
