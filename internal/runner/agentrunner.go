package runner

import (
	"context"

	"github.com/retrocourt/retrocourt/internal/model"
)

// KBHit is one retrieval hit handed to a forge-agent stage, the same shape
// retrieval.Result projects down to so internal/agent doesn't need to
// import internal/runner's callers' callers.
type KBHit struct {
	SourceRef string  `json:"source_ref"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// AgentTools is the capability surface handed to a forge-agent stage
// (triage, response): KB search, scoped the same redaction-safe way
// court's Tools scopes case data.
type AgentTools interface {
	SearchKB(ctx context.Context, query string, k int) ([]KBHit, error)
}

// AgentInput is what the forge-agent pipeline hands a stage: the work item
// under triage/response, plus whatever upstream stage output is already
// available (response sees triage's analysis).
type AgentInput struct {
	Issue    model.RepoWorkItem  `json:"issue"`
	Analysis *model.TriageOutput `json:"analysis,omitempty"`
}

// AgentRunner executes one forge-agent stage (StageTriage, StageResponse).
// It is the same "uniform JSON-schema-validated interface around any LLM or
// deterministic heuristic" contract as Runner (spec component G), scoped to
// a different Input/Tools shape because a forge work item isn't a court
// Case. Output and ValidateStage are shared with Runner since both are
// keyed by model.Stage.
type AgentRunner interface {
	Run(ctx context.Context, stage model.Stage, input AgentInput, tools AgentTools) (Output, error)
}
