package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for every successful wire
// API response.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta carries request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error code constants for standard API error codes, referenced by
// internal/server and internal/ratelimit.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnredacted    = "UNREDACTED_DATA"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateAgentRequest is the request body for POST /api/agents (admin-only):
// registers a new authenticated identity and its initial API key.
type CreateAgentRequest struct {
	AgentID  string         `json:"agent_id"`
	Name     string         `json:"name"`
	APIKey   string         `json:"api_key"`
	Role     AgentRole      `json:"role,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchRequest is the request body for POST /api/search.
type SearchRequest struct {
	Query      string `json:"query"`
	Limit      int    `json:"limit,omitempty"`
	RepoFilter string `json:"repo_filter,omitempty"`
	SearchType string `json:"search_type,omitempty"` // keyword | vector | hybrid
}

// SearchHit is one ranked search result returned by POST /api/search.
type SearchHit struct {
	KBID      string         `json:"kb_id"`
	ItemType  string         `json:"item_type"`
	ItemNum   int            `json:"item_number"`
	Section   string         `json:"section"`
	SourceRef string         `json:"source_ref"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Score     float64        `json:"score"`
}

// AnalyzeRequest is the request body for POST /api/agents/analyze.
type AnalyzeRequest struct {
	Issue RepoWorkItem `json:"issue"`
}

// ResponseRequest is the request body for POST /api/agents/response.
type ResponseRequest struct {
	Issue    RepoWorkItem  `json:"issue"`
	Analysis *TriageOutput `json:"analysis,omitempty"`
}

// AgentRunRequest is the request body for POST /api/agents/run.
type AgentRunRequest struct {
	Issue RepoWorkItem `json:"issue"`
}

// AgentRunResult is the response for POST /api/agents/run: the full
// analyze -> optional RAG -> response pipeline in one call.
type AgentRunResult struct {
	Analysis TriageOutput   `json:"analysis"`
	Response ResponseOutput `json:"response"`
}

// CourtRunRequest is the request body for POST /api/court/run and
// POST /api/court/run/stream.
type CourtRunRequest struct {
	CaseID uuid.UUID `json:"case_id"`
}

// PromptReviewRequest is the request body for
// POST /api/court/prompt-updates/{id}/review.
type PromptReviewRequest struct {
	Action  string  `json:"action"` // approve | reject
	Comment *string `json:"comment,omitempty"`
}

// CreateCaseRequest is the request body for POST /api/cases, the entry
// point that seeds a Case before a court run can be started against it. No
// CaseEvents are created with it.
type CreateCaseRequest struct {
	Source   CaseSource     `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Result   map[string]any `json:"result"`
	Feedback *CaseFeedback  `json:"feedback,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Postgres  string `json:"postgres"`
	UptimeSec int64  `json:"uptime_seconds"`
}

// ConfigResponse is the response for GET /config: feature flags the UI/SDK
// needs, never secrets.
type ConfigResponse struct {
	Version           string `json:"version"`
	JudgeModel        string `json:"judge_model"`
	EmbeddingProvider bool   `json:"embedding_provider_configured"`
}
