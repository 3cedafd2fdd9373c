package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/retrocourt/retrocourt/internal/model"
)

// HeuristicAgentRunner is the credential-less fallback for the forge-agent
// stages (triage, response), mirroring HeuristicRunner: deterministic,
// schema-valid output with no model call. Zero-value fields already satisfy
// the spec's assignment edge case (zero candidates -> empty
// recommended_assignee, confidence 0.0) without special-casing.
type HeuristicAgentRunner struct{}

// NewHeuristicAgentRunner builds the credential-less fallback AgentRunner.
func NewHeuristicAgentRunner() *HeuristicAgentRunner {
	return &HeuristicAgentRunner{}
}

func (r *HeuristicAgentRunner) Run(ctx context.Context, stage model.Stage, input AgentInput, tools AgentTools) (Output, error) {
	var v any
	switch stage {
	case model.StageTriage:
		out := model.TriageOutput{}
		if strings.TrimSpace(input.Issue.BodyExcerpt) == "" {
			out.NeedsMoreInfo = true
			out.SuggestedAction = "request_info"
			out.Rationale = "issue body is empty; cannot triage without more detail"
		} else {
			out.SuggestedAction = "needs_triage"
			out.Rationale = "no model credential configured; routing to manual triage"
		}
		v = out

	case model.StageResponse:
		out := model.ResponseOutput{Tone: "neutral"}
		hits, err := tools.SearchKB(ctx, input.Issue.Title+"\n"+input.Issue.BodyExcerpt, 3)
		if err != nil {
			return Output{}, fmt.Errorf("runner: heuristic agent response: search kb: %w", err)
		}
		if len(hits) == 0 {
			out.DraftResponse = "Thanks for filing this — we don't have a matching precedent yet; a maintainer will follow up."
		} else {
			refs := make([]string, 0, len(hits))
			for _, h := range hits {
				refs = append(refs, h.SourceRef)
			}
			out.CitedSources = refs
			out.DraftResponse = "Thanks for filing this — it looks related to prior discussion; see the linked references below."
		}
		v = out

	default:
		return Output{}, fmt.Errorf("runner: heuristic agent: unknown stage %q", stage)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return Output{}, fmt.Errorf("runner: heuristic agent %s: marshal: %w", stage, err)
	}
	return Output{Raw: raw}, nil
}
