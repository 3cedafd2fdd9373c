package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/retrocourt/retrocourt/internal/model"
)

// HeuristicRunner produces deterministic, schema-valid stage output without
// calling any model. It exists so the court can run end to end with no
// credential configured, and so orchestrator tests never depend on network
// access or nondeterministic model output.
type HeuristicRunner struct{}

// NewHeuristicRunner builds the credential-less fallback Runner.
func NewHeuristicRunner() *HeuristicRunner {
	return &HeuristicRunner{}
}

func (r *HeuristicRunner) Run(ctx context.Context, stage model.Stage, input Input, tools Tools) (Output, error) {
	events, err := tools.ListCaseEvents(ctx)
	if err != nil {
		return Output{}, fmt.Errorf("runner: heuristic %s: list events: %w", stage, err)
	}
	evidence := evidenceIDs(events, 3)

	var v any
	switch stage {
	case model.StageProsecutor:
		v = model.ProsecutorOutput{
			Argument:         fmt.Sprintf("Reviewing %d recorded event(s) for case %s.", len(events), input.Case.ID),
			CitedFailures:    []string{},
			Severity:         "low",
			EvidenceEventIDs: evidence,
		}
	case model.StageDefense:
		v = model.DefenseOutput{
			Argument:         fmt.Sprintf("The agent's decision followed the recorded process for case %s.", input.Case.ID),
			Mitigations:      []string{},
			EvidenceEventIDs: evidence,
		}
	case model.StageJury:
		v = model.JuryOutput{
			Verdict:          "mixed",
			Confidence:       0.5,
			Notes:            "No model credential configured; verdict is a deterministic placeholder.",
			EvidenceEventIDs: evidence,
		}
	case model.StageJudge:
		v = model.JudgeOutput{
			Ruling:                "no_action",
			Rationale:             "No model credential configured; the heuristic runner proposes no lessons or prompt updates.",
			SelectedLessons:       []model.LessonProposal{},
			PromptUpdateProposals: []model.PromptProposal{},
		}
	default:
		return Output{}, fmt.Errorf("runner: heuristic: unknown stage %q", stage)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return Output{}, fmt.Errorf("runner: heuristic %s: marshal: %w", stage, err)
	}
	return Output{Raw: raw}, nil
}

// evidenceIDs returns the IDs of the last n events, oldest first, as
// strings — the shape every stage's EvidenceEventIDs field expects.
func evidenceIDs(events []model.CaseEvent, n int) []string {
	if len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID.String())
	}
	return out
}
