package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/retrocourt/retrocourt/internal/agent"
	"github.com/retrocourt/retrocourt/internal/auth"
	"github.com/retrocourt/retrocourt/internal/court"
	"github.com/retrocourt/retrocourt/internal/model"
	"github.com/retrocourt/retrocourt/internal/promptreg"
	"github.com/retrocourt/retrocourt/internal/redact"
	"github.com/retrocourt/retrocourt/internal/retrieval"
	"github.com/retrocourt/retrocourt/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db         *storage.DB
	jwtMgr     *auth.JWTManager
	searcher   *retrieval.Searcher
	orch       *court.Orchestrator
	prompts    *promptreg.Registry
	agents     *agent.Pipeline
	logger     *slog.Logger
	version    string
	judgeModel string
	startedAt  time.Time
	openAPI    []byte

	maxRequestBodyBytes int64
}

// HandlersDeps bundles NewHandlers' dependencies.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Searcher            *retrieval.Searcher
	Orchestrator        *court.Orchestrator
	Prompts             *promptreg.Registry
	Agents              *agent.Pipeline
	Logger              *slog.Logger
	Version             string
	JudgeModel          string
	OpenAPISpec         []byte
	MaxRequestBodyBytes int64
}

// NewHandlers builds a Handlers from its dependencies.
func NewHandlers(deps HandlersDeps) *Handlers {
	maxBytes := deps.MaxRequestBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}
	return &Handlers{
		db:                  deps.DB,
		jwtMgr:              deps.JWTMgr,
		searcher:            deps.Searcher,
		orch:                deps.Orchestrator,
		prompts:             deps.Prompts,
		agents:              deps.Agents,
		logger:              deps.Logger,
		version:             deps.Version,
		judgeModel:          deps.JudgeModel,
		startedAt:           time.Now(),
		openAPI:             deps.OpenAPISpec,
		maxRequestBodyBytes: maxBytes,
	}
}

func (h *Handlers) decode(r *http.Request, target any) error {
	return decodeJSON(r, target, h.maxRequestBodyBytes)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	pgStatus := "ok"
	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "unreachable"
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:    status,
		Version:   h.version,
		Postgres:  pgStatus,
		UptimeSec: int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleConfig handles GET /config: feature flags only, never secrets.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.ConfigResponse{
		Version:           h.version,
		JudgeModel:        h.judgeModel,
		EmbeddingProvider: h.searcher != nil,
	})
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	ag, err := h.db.GetAgentByAgentID(r.Context(), req.AgentID)
	if err != nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	if ag.APIKeyHash == nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, *ag.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(ag)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleCreateAgent handles POST /api/agents (admin-only).
func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAgentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Name == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name and api_key are required")
		return
	}
	if req.Role == "" {
		req.Role = model.RoleAgent
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	created, err := h.db.CreateAgent(r.Context(), model.Agent{
		AgentID:    req.AgentID,
		Name:       req.Name,
		Role:       req.Role,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		APIKeyHash: &hash,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to create agent", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleSearch handles POST /api/search.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	if h.searcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "search is not configured")
		return
	}

	mode := retrieval.Mode(req.SearchType)
	results, err := h.searcher.Search(r.Context(), mode, req.Query, req.RepoFilter, req.Limit)
	if err != nil {
		h.writeInternalError(w, r, "search failed", err)
		return
	}

	hits := make([]model.SearchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, model.SearchHit{
			KBID:      res.KBID,
			ItemType:  res.ItemType,
			ItemNum:   res.ItemNumber,
			Section:   res.Section,
			SourceRef: res.SourceRef,
			Text:      res.Text,
			Metadata:  res.Metadata,
			Score:     res.FusedScore,
		})
	}
	writeJSON(w, r, http.StatusOK, hits)
}

// HandleAgentsAnalyze handles POST /api/agents/analyze.
func (h *Handlers) HandleAgentsAnalyze(w http.ResponseWriter, r *http.Request) {
	if h.agents == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "agent pipeline is not configured")
		return
	}
	var req model.AnalyzeRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	out, err := h.agents.Analyze(r.Context(), req.Issue)
	if err != nil {
		h.writeInternalError(w, r, "analyze failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleAgentsResponse handles POST /api/agents/response.
func (h *Handlers) HandleAgentsResponse(w http.ResponseWriter, r *http.Request) {
	if h.agents == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "agent pipeline is not configured")
		return
	}
	var req model.ResponseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	out, err := h.agents.Respond(r.Context(), req.Issue, req.Analysis)
	if err != nil {
		h.writeInternalError(w, r, "response generation failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleAgentsRun handles POST /api/agents/run: analyze then respond in one call.
func (h *Handlers) HandleAgentsRun(w http.ResponseWriter, r *http.Request) {
	if h.agents == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "agent pipeline is not configured")
		return
	}
	var req model.AgentRunRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	out, err := h.agents.Run(r.Context(), req.Issue)
	if err != nil {
		h.writeInternalError(w, r, "agent run failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleCreateCase handles POST /api/cases: seeds a Case before a court run
// can be started against it.
func (h *Handlers) HandleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCaseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Source.System == "" || req.Source.Ref == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "source.system and source.ref are required")
		return
	}

	claims := ClaimsFromContext(r.Context())
	agentID := ""
	if claims != nil {
		agentID = claims.AgentID
	}

	idem, proceed := h.beginIdempotentWrite(w, r, agentID, "POST:/api/cases", req)
	if !proceed {
		return
	}

	created, err := h.db.CreateCase(r.Context(), model.Case{
		Source:   req.Source,
		Metadata: req.Metadata,
		Result:   req.Result,
		Feedback: req.Feedback,
	})
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		var unredacted *redact.UnredactedDataError
		if errors.As(err, &unredacted) {
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeUnredacted, unredacted.Error())
			return
		}
		h.writeInternalError(w, r, "failed to create case", err)
		return
	}

	h.completeIdempotentWriteBestEffort(r, idem, http.StatusCreated, created)
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleListCases handles GET /api/cases.
func (h *Handlers) HandleListCases(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 200)
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	cases, err := h.db.ListCases(r.Context(), storage.ListCasesOpts{
		SourceSystem: r.URL.Query().Get("source_system"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to list cases", err)
		return
	}
	writeJSON(w, r, http.StatusOK, cases)
}

// HandleSetCaseFeedback handles POST /api/cases/{id}/feedback: records the
// human verdict on a case.
func (h *Handlers) HandleSetCaseFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid case id")
		return
	}
	var feedback model.CaseFeedback
	if err := h.decode(r, &feedback); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if feedback.Verdict == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "verdict is required")
		return
	}

	var unredacted *redact.UnredactedDataError
	if err := h.db.SetCaseFeedback(r.Context(), id, feedback); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "case not found")
			return
		}
		if errors.As(err, &unredacted) {
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeUnredacted, unredacted.Error())
			return
		}
		h.writeInternalError(w, r, "failed to set case feedback", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetCase handles GET /api/cases/{id}.
func (h *Handlers) HandleGetCase(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid case id")
		return
	}
	c, err := h.db.GetCase(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "case not found")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to fetch case", err)
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}

// HandleCourtRun handles POST /api/court/run: runs the four-stage court
// synchronously and returns the completed CourtRun.
func (h *Handlers) HandleCourtRun(w http.ResponseWriter, r *http.Request) {
	if h.orch == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "court orchestrator is not configured")
		return
	}
	var req model.CourtRunRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.CaseID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "case_id is required")
		return
	}

	claims := ClaimsFromContext(r.Context())
	agentID := ""
	if claims != nil {
		agentID = claims.AgentID
	}

	idem, proceed := h.beginIdempotentWrite(w, r, agentID, "POST:/api/court/run", req)
	if !proceed {
		return
	}

	run, err := h.orch.Run(r.Context(), req.CaseID)
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "case not found")
			return
		}
		h.writeInternalError(w, r, "court run failed", err)
		return
	}

	h.completeIdempotentWriteBestEffort(r, idem, http.StatusOK, run)
	writeJSON(w, r, http.StatusOK, run)
}

// sseEvent is one Server-Sent Event frame: "event: <name>\ndata: <json>\n\n".
type sseEvent struct {
	Name string
	Data any
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev sseEvent) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("server: marshal sse event %s: %w", ev.Name, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// HandleCourtRunStream handles POST /api/court/run/stream: the same
// four-stage court run as HandleCourtRun, narrated as Server-Sent Events
// (start, stage_start, stage_complete, complete) instead of one blocking
// JSON response.
func (h *Handlers) HandleCourtRunStream(w http.ResponseWriter, r *http.Request) {
	if h.orch == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "court orchestrator is not configured")
		return
	}
	var req model.CourtRunRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.CaseID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "case_id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, flusher, sseEvent{Name: "start", Data: map[string]any{"case_id": req.CaseID}}); err != nil {
		h.logger.Warn("court run stream: failed to write start event", "error", err)
		return
	}

	ctx := court.WithStageHook(r.Context(), func(ev court.StageEvent) {
		data := map[string]any{"stage": ev.Stage}
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}
		if len(ev.Output) > 0 {
			var raw json.RawMessage = ev.Output
			data["output"] = raw
		}
		name := "stage_" + ev.Phase
		if werr := writeSSE(w, flusher, sseEvent{Name: name, Data: data}); werr != nil {
			h.logger.Warn("court run stream: failed to write stage event", "error", werr, "stage", ev.Stage)
		}
	})

	run, err := h.orch.Run(ctx, req.CaseID)
	if err != nil {
		_ = writeSSE(w, flusher, sseEvent{Name: "error", Data: map[string]any{"message": err.Error()}})
		return
	}

	_ = writeSSE(w, flusher, sseEvent{Name: "complete", Data: run})
}

// HandlePromptUpdateReview handles POST /api/court/prompt-updates/{id}/review.
func (h *Handlers) HandlePromptUpdateReview(w http.ResponseWriter, r *http.Request) {
	if h.prompts == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "prompt registry is not configured")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid prompt update id")
		return
	}
	var req model.PromptReviewRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Action != "approve" && req.Action != "reject" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "action must be approve or reject")
		return
	}

	claims := ClaimsFromContext(r.Context())
	reviewer := "unknown"
	if claims != nil {
		reviewer = claims.AgentID
	}

	updated, err := h.prompts.Review(r.Context(), id, req.Action == "approve", reviewer, req.Comment)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "prompt update not found")
			return
		}
		if errors.Is(err, storage.ErrInvalidState) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "prompt update is not in a reviewable state")
			return
		}
		h.writeInternalError(w, r, "failed to review prompt update", err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// HandlePromptUpdateApply handles POST /api/court/prompt-updates/{id}/apply.
func (h *Handlers) HandlePromptUpdateApply(w http.ResponseWriter, r *http.Request) {
	if h.prompts == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "prompt registry is not configured")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid prompt update id")
		return
	}

	claims := ClaimsFromContext(r.Context())
	agentID := ""
	if claims != nil {
		agentID = claims.AgentID
	}

	idem, proceed := h.beginIdempotentWrite(w, r, agentID, fmt.Sprintf("POST:/api/court/prompt-updates/%s/apply", id), nil)
	if !proceed {
		return
	}

	rolePrompt, err := h.prompts.Apply(r.Context(), id)
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "prompt update not found")
			return
		}
		if errors.Is(err, storage.ErrInvalidState) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "prompt update is not approved")
			return
		}
		h.writeInternalError(w, r, "failed to apply prompt update", err)
		return
	}

	h.completeIdempotentWriteBestEffort(r, idem, http.StatusOK, rolePrompt)
	writeJSON(w, r, http.StatusOK, rolePrompt)
}

// HandleGetPromptUpdate handles GET /api/court/prompt-updates/{id}.
func (h *Handlers) HandleGetPromptUpdate(w http.ResponseWriter, r *http.Request) {
	if h.prompts == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "prompt registry is not configured")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid prompt update id")
		return
	}
	update, err := h.prompts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "prompt update not found")
			return
		}
		h.writeInternalError(w, r, "failed to fetch prompt update", err)
		return
	}
	writeJSON(w, r, http.StatusOK, update)
}

// HandleOpenAPI handles GET /openapi.yaml: serves the embedded wire API spec.
func (h *Handlers) HandleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if len(h.openAPI) == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "openapi spec not embedded in this build")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openAPI)
}

// parseLimit reads a "limit" query parameter, defaulting to and capping at
// sane bounds for list endpoints.
func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
