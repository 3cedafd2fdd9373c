// Package runner defines the contract between the court orchestrator and
// the agents that actually produce prosecutor/defense/jury/judge output.
//
// A Runner is handed a stage, an input payload, and a Tools handle scoped to
// one case; it returns a structured Output. Two implementations ship here: a
// deterministic heuristic Runner usable without any model credential (tests,
// offline operation), and an MCP-backed Runner (package runner/mcp) that
// exposes Tools as MCP tools to an external agent process.
package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/retrocourt/retrocourt/internal/model"
)

// Tools is the capability surface handed to a stage. Every return value has
// already passed through the redaction policy — a Runner never sees raw
// unredacted content, regardless of which stage is calling.
type Tools interface {
	GetCase(ctx context.Context) (model.Case, error)
	ListCaseEvents(ctx context.Context) ([]model.CaseEvent, error)
	SearchLessons(ctx context.Context, role, query string, k int) ([]model.Lesson, error)
}

// Input is what the orchestrator hands a stage: the case under review plus
// whatever prior stage outputs are visible to it. Prosecutor, defense and
// jury run concurrently and see none; the judge sees all three.
type Input struct {
	Case          model.Case        `json:"case"`
	Events        []model.CaseEvent `json:"events"`
	StageOutputs  model.AgentOutput `json:"stage_outputs"`
	StageErrors   map[string]string `json:"stage_errors,omitempty"`
}

// Output is the raw structured result of one stage invocation, before it is
// validated against that stage's JSON schema and unmarshaled into the
// concrete Prosecutor/Defense/Jury/JudgeOutput type.
type Output struct {
	Raw json.RawMessage
}

// Runner executes one court stage.
type Runner interface {
	Run(ctx context.Context, stage model.Stage, input Input, tools Tools) (Output, error)
}

// Decode validates o.Raw against the stage's JSON schema and unmarshals it
// into v.
func (o Output) Decode(stage model.Stage, v any) error {
	if err := ValidateStage(stage, o.Raw); err != nil {
		return fmt.Errorf("runner: stage %s output failed schema validation: %w", stage, err)
	}
	if err := json.Unmarshal(o.Raw, v); err != nil {
		return fmt.Errorf("runner: stage %s output: %w", stage, err)
	}
	return nil
}
