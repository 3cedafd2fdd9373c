// Package court implements the four-stage retrospective review state
// machine: INIT -> FANOUT -> JUDGE -> FINALIZE.
//
// FANOUT runs the prosecutor, defense, and jury stages concurrently via
// golang.org/x/sync/errgroup. A stage failing is not a fatal error for the
// run as a whole — it is captured as a model.StageResult and handed to the
// judge alongside whatever stages did succeed, so one flaky model call
// never loses the rest of the review. errgroup.Group.Wait()'s own error
// return is deliberately never surfaced for this reason: exception-style
// control flow across stage boundaries is not how this orchestrator
// reports failure.
package court

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/retrocourt/retrocourt/internal/lesson"
	"github.com/retrocourt/retrocourt/internal/model"
	"github.com/retrocourt/retrocourt/internal/promptreg"
	"github.com/retrocourt/retrocourt/internal/redact"
	"github.com/retrocourt/retrocourt/internal/runner"
)

// Store is the subset of *storage.DB the orchestrator writes through.
type Store interface {
	GetCase(ctx context.Context, id uuid.UUID) (model.Case, error)
	AppendEvents(ctx context.Context, caseID uuid.UUID, events []model.CaseEvent) ([]model.CaseEvent, error)
	ListCaseEvents(ctx context.Context, caseID uuid.UUID) ([]model.CaseEvent, error)
	CreateCourtRun(ctx context.Context, run model.CourtRun) (model.CourtRun, error)
	FinishCourtRun(ctx context.Context, id uuid.UUID, status model.CourtRunStatus, artifacts map[string]any) error
	CreateJudgement(ctx context.Context, j model.Judgement) (model.Judgement, error)
}

// StageEvent is emitted around each stage invocation, letting a caller (the
// SSE handler for POST /api/court/run/stream) narrate progress without the
// orchestrator itself knowing about HTTP.
type StageEvent struct {
	Stage  model.Stage
	Phase  string // "start" | "complete"
	Output json.RawMessage
	Err    error
}

// Orchestrator drives one case through the four stages.
type Orchestrator struct {
	db        Store
	runner    runner.Runner
	lessons   *lesson.Registrar
	prompts   *promptreg.Registry
	policy    redact.Policy
	logger    *slog.Logger
	modelName string
}

type stageHookKey struct{}

// WithStageHook returns a context that makes every stage this Orchestrator
// runs during its lifetime emit a StageEvent to fn, both at the start and
// the completion of the stage. Scoped to the context (not the Orchestrator
// struct) so concurrent Run/RunStream calls never race over a shared hook.
func WithStageHook(ctx context.Context, fn func(StageEvent)) context.Context {
	return context.WithValue(ctx, stageHookKey{}, fn)
}

// New builds an Orchestrator. modelName is recorded on every CourtRun for
// provenance (which runner/model backend produced the stage outputs).
func New(db Store, r runner.Runner, lessons *lesson.Registrar, prompts *promptreg.Registry, policy redact.Policy, logger *slog.Logger, modelName string) *Orchestrator {
	return &Orchestrator{
		db:        db,
		runner:    r,
		lessons:   lessons,
		prompts:   prompts,
		policy:    policy,
		logger:    logger,
		modelName: modelName,
	}
}

// caseTools implements runner.Tools scoped to one case, routing every
// return value through the redaction policy before it reaches a stage.
type caseTools struct {
	db      Store
	lessons *lesson.Registrar
	caseID  uuid.UUID
	policy  redact.Policy
}

func (t *caseTools) GetCase(ctx context.Context) (model.Case, error) {
	c, err := t.db.GetCase(ctx, t.caseID)
	if err != nil {
		return model.Case{}, err
	}
	var redacted model.Case
	if err := redactInto(t.policy, c, &redacted); err != nil {
		return model.Case{}, fmt.Errorf("court: redact case: %w", err)
	}
	return redacted, nil
}

func (t *caseTools) ListCaseEvents(ctx context.Context) ([]model.CaseEvent, error) {
	events, err := t.db.ListCaseEvents(ctx, t.caseID)
	if err != nil {
		return nil, err
	}
	var redacted []model.CaseEvent
	if err := redactInto(t.policy, events, &redacted); err != nil {
		return nil, fmt.Errorf("court: redact case events: %w", err)
	}
	return redacted, nil
}

// redactInto round-trips v through JSON so Policy.Redact — which only
// understands JSON shapes (map[string]any, []any, string, scalars) — can
// walk arbitrary domain structs, then decodes the redacted shape back into
// out.
func redactInto(policy redact.Policy, v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	redacted := policy.Redact(generic)
	redactedJSON, err := json.Marshal(redacted)
	if err != nil {
		return err
	}
	return json.Unmarshal(redactedJSON, out)
}

func (t *caseTools) SearchLessons(ctx context.Context, role, query string, k int) ([]model.Lesson, error) {
	if t.lessons == nil {
		return nil, nil
	}
	lessons, err := t.lessons.Search(ctx, role, query, k)
	if err != nil {
		return nil, err
	}
	var redacted []model.Lesson
	if err := redactInto(t.policy, lessons, &redacted); err != nil {
		return nil, fmt.Errorf("court: redact lessons: %w", err)
	}
	return redacted, nil
}

// Run executes the state machine for caseID and returns the completed
// CourtRun. Finalize always runs via defer, so exactly one CourtRun row
// gets ended_at set even if ctx is cancelled mid-fanout or mid-judge.
func (o *Orchestrator) Run(ctx context.Context, caseID uuid.UUID) (result model.CourtRun, resultErr error) {
	// INIT
	c, err := o.db.GetCase(ctx, caseID)
	if err != nil {
		return model.CourtRun{}, fmt.Errorf("court: init: get case: %w", err)
	}

	run, err := o.db.CreateCourtRun(ctx, model.CourtRun{
		CaseID:    c.ID,
		Model:     o.modelName,
		StartedAt: time.Now().UTC(),
		Status:    model.CourtRunRunning,
	})
	if err != nil {
		return model.CourtRun{}, fmt.Errorf("court: init: create run: %w", err)
	}

	tools := &caseTools{db: o.db, lessons: o.lessons, caseID: c.ID, policy: o.policy}

	var (
		stageOutputs model.AgentOutput
		stageErrors  = map[string]string{}
		finalStatus  = model.CourtRunCompleted
	)

	defer func() {
		if ctx.Err() != nil {
			finalStatus = model.CourtRunFailed
		}
		if len(stageErrors) > 0 && finalStatus == model.CourtRunCompleted {
			finalStatus = model.CourtRunCompletedWithError
		}
		var redactedArtifacts map[string]any
		if err := redactInto(o.policy, map[string]any{
			"stages": stageOutputs,
			"errors": stageErrors,
		}, &redactedArtifacts); err != nil {
			o.logger.Error("court: failed to redact run artifacts", "error", err, "court_run_id", run.ID)
			redactedArtifacts = map[string]any{"redaction_failed": true}
		}
		if finishErr := o.db.FinishCourtRun(context.WithoutCancel(ctx), run.ID, finalStatus, redactedArtifacts); finishErr != nil {
			o.logger.Error("court: failed to finalize run", "error", finishErr, "court_run_id", run.ID)
		}
		now := time.Now().UTC()
		run.Status = finalStatus
		run.EndedAt = &now
		run.Artifacts = redactedArtifacts
		result = run
	}()

	// FANOUT: prosecutor, defense, jury run concurrently. A stage error is
	// captured, never escalated — ctx is not cancelled by a sibling failure.
	fanoutStages := []model.Stage{model.StageProsecutor, model.StageDefense, model.StageJury}
	results := make(map[model.Stage]model.StageResult[json.RawMessage], len(fanoutStages))

	// Real ctx, not a detached one: cancellation should stop fan-out. A
	// sibling's stage error never cancels gctx because the Go() closures
	// below always return nil — errgroup only cancels on a non-nil return.
	g, gctx := errgroup.WithContext(ctx)
	resCh := make(chan struct {
		stage model.Stage
		res   model.StageResult[json.RawMessage]
	}, len(fanoutStages))

	for _, stage := range fanoutStages {
		stage := stage
		g.Go(func() error {
			out, err := o.runStage(gctx, run.ID, c.ID, stage, runner.Input{Case: c}, tools)
			if err != nil {
				resCh <- struct {
					stage model.Stage
					res   model.StageResult[json.RawMessage]
				}{stage, model.StageResult[json.RawMessage]{Err: err}}
				return nil
			}
			raw := out.Raw
			resCh <- struct {
				stage model.Stage
				res   model.StageResult[json.RawMessage]
			}{stage, model.StageResult[json.RawMessage]{Output: &raw}}
			return nil
		})
	}
	_ = g.Wait()
	close(resCh)
	for r := range resCh {
		results[r.stage] = r.res
	}

	for stage, res := range results {
		applyStageResult(stage, res, &stageOutputs, stageErrors)
	}

	// JUDGE
	judgeInput := runner.Input{
		Case:         c,
		StageOutputs: stageOutputs,
		StageErrors:  stageErrors,
	}
	judgeOut, err := o.runStage(ctx, run.ID, c.ID, model.StageJudge, judgeInput, tools)
	if err != nil {
		stageErrors[string(model.StageJudge)] = err.Error()
		return run, nil
	}

	var judgement model.JudgeOutput
	if err := judgeOut.Decode(model.StageJudge, &judgement); err != nil {
		stageErrors[string(model.StageJudge)] = err.Error()
		return run, nil
	}
	stageOutputs.Judge = &judgement

	if _, err := o.db.CreateJudgement(ctx, model.Judgement{
		CourtRunID: run.ID,
		CaseID:     c.ID,
		Verdict:    map[string]any{"ruling": judgement.Ruling, "rationale": judgement.Rationale},
	}); err != nil {
		o.logger.Error("court: failed to persist judgement", "error", err, "court_run_id", run.ID)
	}

	o.persistJudgeProposals(ctx, c.ID, judgement)

	return run, nil
}

func emitStage(ctx context.Context, ev StageEvent) {
	if fn, ok := ctx.Value(stageHookKey{}).(func(StageEvent)); ok && fn != nil {
		fn(ev)
	}
}

// runStage journals a model_call event, invokes the Runner, and journals
// either a model_result event plus an artifact event or an error event.
func (o *Orchestrator) runStage(ctx context.Context, courtRunID, caseID uuid.UUID, stage model.Stage, input runner.Input, tools runner.Tools) (runner.Output, error) {
	emitStage(ctx, StageEvent{Stage: stage, Phase: "start"})
	role := string(stage)
	if _, err := o.db.AppendEvents(ctx, caseID, []model.CaseEvent{{
		CourtRunID: &courtRunID,
		ActorType:  model.ActorAI,
		ActorID:    role,
		Role:       &role,
		EventType:  model.EventModelCall,
		Content:    fmt.Sprintf("invoking %s stage", stage),
	}}); err != nil {
		o.logger.Warn("court: failed to journal model_call", "error", err, "stage", stage)
	}

	out, err := o.runner.Run(ctx, stage, input, tools)
	if err != nil {
		if _, aerr := o.db.AppendEvents(ctx, caseID, []model.CaseEvent{{
			CourtRunID: &courtRunID,
			ActorType:  model.ActorAI,
			ActorID:    role,
			Role:       &role,
			EventType:  model.EventError,
			Content:    err.Error(),
		}}); aerr != nil {
			o.logger.Warn("court: failed to journal stage error", "error", aerr, "stage", stage)
		}
		emitStage(ctx, StageEvent{Stage: stage, Phase: "complete", Err: err})
		return runner.Output{}, fmt.Errorf("court: stage %s: %w", stage, err)
	}

	if _, err := o.db.AppendEvents(ctx, caseID, []model.CaseEvent{{
		CourtRunID: &courtRunID,
		ActorType:  model.ActorAI,
		ActorID:    role,
		Role:       &role,
		EventType:  model.EventModelResult,
		Content:    fmt.Sprintf("%s stage completed", stage),
	}, {
		CourtRunID: &courtRunID,
		ActorType:  model.ActorAI,
		ActorID:    role,
		Role:       &role,
		EventType:  model.EventArtifact,
		Content:    string(out.Raw),
	}}); err != nil {
		o.logger.Warn("court: failed to journal stage artifact", "error", err, "stage", stage)
	}

	emitStage(ctx, StageEvent{Stage: stage, Phase: "complete", Output: out.Raw})
	return out, nil
}

func applyStageResult(stage model.Stage, res model.StageResult[json.RawMessage], out *model.AgentOutput, errs map[string]string) {
	if res.Err != nil {
		errs[string(stage)] = res.Err.Error()
		return
	}
	if res.Output == nil {
		errs[string(stage)] = "stage produced no output"
		return
	}
	switch stage {
	case model.StageProsecutor:
		var v model.ProsecutorOutput
		if err := json.Unmarshal(*res.Output, &v); err != nil {
			errs[string(stage)] = err.Error()
			return
		}
		out.Prosecutor = &v
	case model.StageDefense:
		var v model.DefenseOutput
		if err := json.Unmarshal(*res.Output, &v); err != nil {
			errs[string(stage)] = err.Error()
			return
		}
		out.Defense = &v
	case model.StageJury:
		var v model.JuryOutput
		if err := json.Unmarshal(*res.Output, &v); err != nil {
			errs[string(stage)] = err.Error()
			return
		}
		out.Jury = &v
	}
}

// persistJudgeProposals inserts every lesson and prompt-update proposal the
// judge selected. Failures here are logged, never escalated: the court run
// already completed and its ruling is recorded regardless of whether a
// downstream lesson/prompt write succeeds.
//
// Before persistence, each proposal's EvidenceEventIDs is filtered down to
// ids that actually exist in the case's event journal. The judge sees stage
// outputs as plain JSON, with nothing stopping it from citing an id it
// invented rather than one a tool call returned, so a dangling reference is
// possible whenever the filter is skipped.
func (o *Orchestrator) persistJudgeProposals(ctx context.Context, caseID uuid.UUID, judgement model.JudgeOutput) {
	validEventIDs, err := o.validEventIDSet(ctx, caseID)
	if err != nil {
		o.logger.Error("court: failed to load case events for evidence filtering, stripping all evidence ids", "error", err, "case_id", caseID)
		validEventIDs = map[string]struct{}{}
	}

	if o.lessons != nil {
		for _, lp := range judgement.SelectedLessons {
			lp.EvidenceEventIDs = filterEvidenceIDs(validEventIDs, lp.EvidenceEventIDs)
			if _, err := o.lessons.InsertProposal(ctx, lp); err != nil {
				o.logger.Error("court: failed to insert lesson proposal", "error", err, "case_id", caseID)
			}
		}
	}
	if o.prompts != nil {
		for _, pp := range judgement.PromptUpdateProposals {
			pp.EvidenceEventIDs = filterEvidenceIDs(validEventIDs, pp.EvidenceEventIDs)
			if _, err := o.prompts.Propose(ctx, caseID, pp); err != nil {
				o.logger.Error("court: failed to propose prompt update", "error", err, "case_id", caseID)
			}
		}
	}
}

// validEventIDSet returns the set of event ids that actually exist in
// caseID's journal, the base context the judge was given.
func (o *Orchestrator) validEventIDSet(ctx context.Context, caseID uuid.UUID) (map[string]struct{}, error) {
	events, err := o.db.ListCaseEvents(ctx, caseID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(events))
	for _, e := range events {
		ids[e.ID.String()] = struct{}{}
	}
	return ids, nil
}

// filterEvidenceIDs strips any id not present in valid, so a hallucinated
// event id never reaches storage.
func filterEvidenceIDs(valid map[string]struct{}, ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := valid[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
