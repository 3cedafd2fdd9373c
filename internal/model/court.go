package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage enumerates the four court stages plus the two forge-agent stages
// that share the same JSON-schema-validated runner contract (G).
type Stage string

const (
	StageProsecutor Stage = "prosecutor"
	StageDefense    Stage = "defense"
	StageJury       Stage = "jury"
	StageJudge      Stage = "judge"

	StageTriage   Stage = "triage"
	StageResponse Stage = "response"
)

// CourtRunStatus is the lifecycle state of one orchestrator invocation.
type CourtRunStatus string

const (
	CourtRunRunning            CourtRunStatus = "running"
	CourtRunCompleted          CourtRunStatus = "completed"
	CourtRunCompletedWithError CourtRunStatus = "completed_with_errors"
	CourtRunFailed             CourtRunStatus = "failed"
)

// CourtRun is one pass of the four-stage court over a case.
type CourtRun struct {
	ID        uuid.UUID      `json:"id"`
	CaseID    uuid.UUID      `json:"case_id"`
	Model     string         `json:"model"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Status    CourtRunStatus `json:"status"`

	// Artifacts is a redacted blob: {stages, errors}, the typed stage
	// outputs and the per-stage error messages. The base context and token
	// usage are not recorded.
	Artifacts map[string]any `json:"artifacts,omitempty"`
}

// Judgement is the judge's decision JSON for a court run. One per completed
// judge stage.
type Judgement struct {
	ID          uuid.UUID      `json:"id"`
	CourtRunID  uuid.UUID      `json:"court_run_id"`
	CaseID      uuid.UUID      `json:"case_id"`
	Verdict     map[string]any `json:"verdict"`
	ContentHash string         `json:"content_hash"`
	CreatedAt   time.Time      `json:"created_at"`
}

// StageResult is the value-level outcome of a single stage invocation: either
// Output is set (success) or Err is set (failure). Never both. Stage failure
// never crosses the stage boundary as a panic or propagated error — the
// orchestrator always has a StageResult to hand to the judge.
type StageResult[T any] struct {
	Output *T
	Err    error
}

// ProsecutorOutput is the prosecutor stage's structured output: the case
// against the agent's decision.
type ProsecutorOutput struct {
	Argument          string   `json:"argument"`
	CitedFailures     []string `json:"cited_failures"`
	Severity          string   `json:"severity"`
	EvidenceEventIDs  []string `json:"evidence_event_ids"`
}

// DefenseOutput is the defense stage's structured output: the case for the
// agent's decision.
type DefenseOutput struct {
	Argument         string   `json:"argument"`
	Mitigations      []string `json:"mitigations"`
	EvidenceEventIDs []string `json:"evidence_event_ids"`
}

// JuryOutput is the jury stage's structured output: an independent read on
// whether the decision held up.
type JuryOutput struct {
	Verdict          string   `json:"verdict"` // e.g. "sound", "flawed", "mixed"
	Confidence       float64  `json:"confidence"`
	Notes            string   `json:"notes"`
	EvidenceEventIDs []string `json:"evidence_event_ids"`
}

// JudgeOutput is the judge stage's structured output: the final ruling plus
// any lessons and prompt-update proposals to persist.
type JudgeOutput struct {
	Ruling              string               `json:"ruling"`
	Rationale           string               `json:"rationale"`
	SelectedLessons     []LessonProposal     `json:"selected_lessons"`
	PromptUpdateProposals []PromptProposal   `json:"prompt_update_proposals"`
}

// LessonProposal is a judge-proposed lesson before it is persisted
// (embedding and provenance are filled in by the lesson store).
type LessonProposal struct {
	Role             string   `json:"role"`
	Polarity         string   `json:"polarity"` // "do" | "dont"
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	Rationale        string   `json:"rationale"`
	Confidence       float64  `json:"confidence"`
	Tags             []string `json:"tags"`
	EvidenceEventIDs []string `json:"evidence_event_ids"`
}

// PromptProposal is a judge-proposed prompt update before it is persisted.
type PromptProposal struct {
	AgentID          string   `json:"agent_id"`
	Role             string   `json:"role"`
	Proposal         string   `json:"proposal"`
	Reason           string   `json:"reason"`
	EvidenceEventIDs []string `json:"evidence_event_ids"`
}

// TriageOutput is the triage/assignment stage's structured output: routing
// and assignment guidance for one forge work item. The LLM prompting
// heuristic that fills this in is a pluggable agent runner, not part of
// this system's core (spec §1); a deterministic HeuristicAgentRunner
// provides a credential-less fallback.
type TriageOutput struct {
	NeedsMoreInfo        bool     `json:"needs_more_info"`
	SuggestedAction      string   `json:"suggested_action"`
	Labels               []string `json:"labels"`
	RecommendedAssignee  string   `json:"recommended_assignee"`
	AssignmentConfidence float64  `json:"assignment_confidence"`
	DocsGapDetected      bool     `json:"docs_gap_detected"`
	Rationale            string   `json:"rationale"`
}

// ResponseOutput is the response stage's structured output: a RAG-aware
// draft reply to the forge work item.
type ResponseOutput struct {
	DraftResponse      string   `json:"draft_response"`
	Tone               string   `json:"tone"`
	CitedSources       []string `json:"cited_sources"`
	PromotionCandidate bool     `json:"promotion_candidate"`
}

// AgentOutput collects the typed outputs of one court run's stages; the
// orchestrator hands it to the judge and records it in CourtRun.Artifacts
// under "stages". A nil field means that stage failed or did not run.
type AgentOutput struct {
	Prosecutor *ProsecutorOutput `json:"prosecutor,omitempty"`
	Defense    *DefenseOutput    `json:"defense,omitempty"`
	Jury       *JuryOutput       `json:"jury,omitempty"`
	Judge      *JudgeOutput      `json:"judge,omitempty"`
}
