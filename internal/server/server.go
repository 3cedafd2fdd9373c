package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/retrocourt/retrocourt/internal/model"
	"github.com/retrocourt/retrocourt/internal/ratelimit"
)

// Server is the retrocourt HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	HandlersDeps

	// HTTP server settings.
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CORSAllowedOrigins []string // Allowed origins for CORS; ["*"] permits all.

	// Optional rate limiting (redis-backed, noop when Limiter is nil).
	RateLimiter *ratelimit.Limiter

	// Optional embedded SPA assets for an operator UI; nil disables it.
	UIFS fs.FS
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.HandlersDeps)

	mux := http.NewServeMux()

	// Auth (no JWT required — this is how a JWT is obtained).
	mux.Handle("POST /auth/token", http.HandlerFunc(h.HandleAuthToken))

	adminOnly := requireRole(model.RoleAdmin)
	agentOnly := requireRole(model.RoleAgent)
	readerOnly := requireRole(model.RoleReader)

	// Agent management (admin-only).
	mux.Handle("POST /api/agents", adminOnly(http.HandlerFunc(h.HandleCreateAgent)))

	// Knowledge-base search (reader+).
	mux.Handle("POST /api/search", readerOnly(http.HandlerFunc(h.HandleSearch)))

	// Forge-agent pipeline (agent+).
	mux.Handle("POST /api/agents/analyze", agentOnly(http.HandlerFunc(h.HandleAgentsAnalyze)))
	mux.Handle("POST /api/agents/response", agentOnly(http.HandlerFunc(h.HandleAgentsResponse)))
	mux.Handle("POST /api/agents/run", agentOnly(http.HandlerFunc(h.HandleAgentsRun)))

	// Cases (agent+ to create/mutate, reader+ to read).
	mux.Handle("POST /api/cases", agentOnly(http.HandlerFunc(h.HandleCreateCase)))
	mux.Handle("GET /api/cases", readerOnly(http.HandlerFunc(h.HandleListCases)))
	mux.Handle("GET /api/cases/{id}", readerOnly(http.HandlerFunc(h.HandleGetCase)))
	mux.Handle("POST /api/cases/{id}/feedback", agentOnly(http.HandlerFunc(h.HandleSetCaseFeedback)))

	// Court runs (agent+).
	mux.Handle("POST /api/court/run", agentOnly(http.HandlerFunc(h.HandleCourtRun)))
	mux.Handle("POST /api/court/run/stream", agentOnly(http.HandlerFunc(h.HandleCourtRunStream)))

	// Prompt-update review lifecycle (reader+ to read; review and apply are
	// admin-only: these gate what the judge's self-improvement proposals
	// actually change about the court's prompts).
	mux.Handle("GET /api/court/prompt-updates/{id}", readerOnly(http.HandlerFunc(h.HandleGetPromptUpdate)))
	mux.Handle("POST /api/court/prompt-updates/{id}/review", adminOnly(http.HandlerFunc(h.HandlePromptUpdateReview)))
	mux.Handle("POST /api/court/prompt-updates/{id}/apply", adminOnly(http.HandlerFunc(h.HandlePromptUpdateApply)))

	// OpenAPI spec (no auth).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPI)

	// Config (no auth — feature flags for callers/UI).
	mux.HandleFunc("GET /config", h.HandleConfig)

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// SPA: serve an embedded operator UI at the root path, if provided.
	// Registered last so all API routes take priority via the mux's
	// longest-match rule.
	if cfg.UIFS != nil {
		mux.Handle("/", newSPAHandler(cfg.UIFS))
	}

	// Middleware chain (outermost executes first):
	// request ID -> security headers -> CORS -> tracing -> logging -> baggage -> auth -> recovery -> rate limit -> handler.
	var handler http.Handler = mux
	if cfg.RateLimiter != nil {
		handler = ratelimit.MiddlewareWithRequestID(
			cfg.RateLimiter,
			ratelimit.Rule{Prefix: "api", Limit: 120, Window: time.Minute},
			ratelimit.IPKeyFunc,
			func(r *http.Request) string { return RequestIDFromContext(r.Context()) },
		)(handler)
	}
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = baggageMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
