// Package agent implements the forge-agent pipeline's wiring: the out-of-
// scope "per-agent LLM prompting heuristics for triage/assignment/response"
// (spec §1) are treated as pluggable runner.AgentRunner implementations;
// this package just sequences analyze -> optional RAG -> response and is
// the thin layer internal/server calls through for POST /api/agents/*.
package agent

import (
	"context"
	"fmt"

	"github.com/retrocourt/retrocourt/internal/model"
	"github.com/retrocourt/retrocourt/internal/retrieval"
	"github.com/retrocourt/retrocourt/internal/runner"
)

// Pipeline sequences the triage and response forge-agent stages.
type Pipeline struct {
	triage   runner.AgentRunner
	response runner.AgentRunner
	searcher *retrieval.Searcher
	ragK     int
}

// New builds a Pipeline. A nil searcher disables RAG context for the
// response stage without failing the call.
func New(triage, response runner.AgentRunner, searcher *retrieval.Searcher) *Pipeline {
	return &Pipeline{triage: triage, response: response, searcher: searcher, ragK: 5}
}

// kbTools adapts a *retrieval.Searcher to runner.AgentTools.
type kbTools struct {
	searcher *retrieval.Searcher
}

func (t kbTools) SearchKB(ctx context.Context, query string, k int) ([]runner.KBHit, error) {
	if t.searcher == nil {
		return nil, nil
	}
	results, err := t.searcher.Search(ctx, retrieval.ModeHybrid, query, "", k)
	if err != nil {
		return nil, fmt.Errorf("agent: search kb: %w", err)
	}
	hits := make([]runner.KBHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, runner.KBHit{SourceRef: r.SourceRef, Text: r.Text, Score: r.FusedScore})
	}
	return hits, nil
}

// Analyze runs the triage stage over one forge work item.
func (p *Pipeline) Analyze(ctx context.Context, issue model.RepoWorkItem) (model.TriageOutput, error) {
	out, err := p.triage.Run(ctx, model.StageTriage, runner.AgentInput{Issue: issue}, kbTools{p.searcher})
	if err != nil {
		return model.TriageOutput{}, fmt.Errorf("agent: analyze: %w", err)
	}
	var triage model.TriageOutput
	if err := out.Decode(model.StageTriage, &triage); err != nil {
		return model.TriageOutput{}, fmt.Errorf("agent: analyze: %w", err)
	}
	return triage, nil
}

// Respond runs the response stage, using analysis (if provided by a prior
// Analyze call) and RAG context pulled from the knowledge base.
func (p *Pipeline) Respond(ctx context.Context, issue model.RepoWorkItem, analysis *model.TriageOutput) (model.ResponseOutput, error) {
	out, err := p.response.Run(ctx, model.StageResponse, runner.AgentInput{Issue: issue, Analysis: analysis}, kbTools{p.searcher})
	if err != nil {
		return model.ResponseOutput{}, fmt.Errorf("agent: respond: %w", err)
	}
	var resp model.ResponseOutput
	if err := out.Decode(model.StageResponse, &resp); err != nil {
		return model.ResponseOutput{}, fmt.Errorf("agent: respond: %w", err)
	}
	return resp, nil
}

// Run executes the full pipeline: analyze, then response informed by that
// analysis.
func (p *Pipeline) Run(ctx context.Context, issue model.RepoWorkItem) (model.AgentRunResult, error) {
	analysis, err := p.Analyze(ctx, issue)
	if err != nil {
		return model.AgentRunResult{}, err
	}
	response, err := p.Respond(ctx, issue, &analysis)
	if err != nil {
		return model.AgentRunResult{Analysis: analysis}, err
	}
	return model.AgentRunResult{Analysis: analysis, Response: response}, nil
}
