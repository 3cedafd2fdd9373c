package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/retrocourt/retrocourt/api"
	"github.com/retrocourt/retrocourt/internal/agent"
	"github.com/retrocourt/retrocourt/internal/auth"
	"github.com/retrocourt/retrocourt/internal/config"
	"github.com/retrocourt/retrocourt/internal/court"
	"github.com/retrocourt/retrocourt/internal/kb/embedding"
	"github.com/retrocourt/retrocourt/internal/lesson"
	"github.com/retrocourt/retrocourt/internal/promptreg"
	"github.com/retrocourt/retrocourt/internal/ratelimit"
	"github.com/retrocourt/retrocourt/internal/redact"
	"github.com/retrocourt/retrocourt/internal/retrieval"
	"github.com/retrocourt/retrocourt/internal/runner"
	mcprunner "github.com/retrocourt/retrocourt/internal/runner/mcp"
	"github.com/retrocourt/retrocourt/internal/server"
	"github.com/retrocourt/retrocourt/internal/storage"
	"github.com/retrocourt/retrocourt/internal/telemetry"
	"github.com/retrocourt/retrocourt/migrations"
	"github.com/retrocourt/retrocourt/ui"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("RETROCOURT_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("retrocourt starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to the database. No dedicated LISTEN/NOTIFY connection is
	// needed — court-run progress streams in-process via court.WithStageHook,
	// not Postgres notifications.
	db, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	policy, err := loadRedactionPolicy(cfg.RedactionPolicyPath, logger)
	if err != nil {
		return fmt.Errorf("redaction policy: %w", err)
	}
	db.SetRedactionPolicy(policy)

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	embedder := newEmbeddingProvider(cfg, logger)
	searcher := retrieval.NewSearcher(db, embedder)

	lessons := lesson.New(db, embedder)
	prompts := promptreg.New(db)

	judgeModel := cfg.ModelForTask("JUDGE", "heuristic")
	orch := court.New(db, newCourtRunner(logger), lessons, prompts, policy, logger, judgeModel)

	agentRunner := runner.NewHeuristicAgentRunner()
	agents := agent.New(agentRunner, agentRunner, searcher)

	// Load embedded UI filesystem (non-nil only when built with -tags ui).
	uiFS, err := ui.DistFS()
	if err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	if uiFS != nil {
		logger.Info("ui: embedded SPA loaded")
	}

	limiter := newRateLimiter(logger)

	srv := server.New(server.ServerConfig{
		HandlersDeps: server.HandlersDeps{
			DB:                  db,
			JWTMgr:              jwtMgr,
			Searcher:            searcher,
			Orchestrator:        orch,
			Prompts:             prompts,
			Agents:              agents,
			Logger:              logger,
			Version:             version,
			JudgeModel:          judgeModel,
			OpenAPISpec:         api.OpenAPISpec,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		},
		Port:               cfg.Port,
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		UIFS:               uiFS,
	})

	go idempotencyCleanupLoop(ctx, db, logger, cfg.IdempotencyCompletedTTL, cfg.IdempotencyInProgressTTL)

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("retrocourt shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("retrocourt stopped")
	return nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadRedactionPolicy reads the policy at path, falling back to the
// built-in default policy when the file doesn't exist. A malformed file
// (present but unparseable) is a fatal misconfiguration, not a fallback
// case — an operator who wrote a broken policy file needs to know.
func loadRedactionPolicy(path string, logger *slog.Logger) (redact.Policy, error) {
	p, err := redact.LoadPolicy(path)
	switch {
	case err == nil:
		logger.Info("redaction policy loaded", "path", path, "version", p.Version)
		return p, nil
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("redaction policy file not found, using default policy", "path", path)
		return redact.Compiled(redact.DefaultPolicy())
	default:
		return redact.Policy{}, err
	}
}

// newEmbeddingProvider builds the embedding.Provider used for KB retrieval
// and lesson deduplication. Degrades to NoopProvider (keyword-only search,
// lesson insertion skipped) when no OpenAI credential is configured, rather
// than failing startup outright.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	if cfg.OpenAIAPIKey == "" {
		logger.Info("embedding provider: noop (no OPENAI_API_KEY; semantic search and lesson embedding disabled)")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
	p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions, cfg.EmbeddingNormalize)
	if err != nil {
		logger.Error("openai embedding provider init failed, falling back to noop", "error", err)
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
	logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
	return p
}

// newCourtRunner selects the Runner driving the four court stages: an
// MCP-backed external agent process when RETROCOURT_AGENT_COMMAND is set,
// otherwise the deterministic heuristic fallback that needs no credential.
func newCourtRunner(logger *slog.Logger) runner.Runner {
	cmd := strings.TrimSpace(os.Getenv("RETROCOURT_AGENT_COMMAND"))
	if cmd == "" {
		logger.Info("court runner: heuristic (no RETROCOURT_AGENT_COMMAND configured)")
		return runner.NewHeuristicRunner()
	}
	var args []string
	if raw := os.Getenv("RETROCOURT_AGENT_ARGS"); raw != "" {
		args = strings.Fields(raw)
	}
	logger.Info("court runner: mcp-backed external agent", "command", cmd)
	return mcprunner.New(cmd, args, logger)
}

// newRateLimiter builds a Redis-backed sliding-window rate limiter when
// REDIS_URL is configured. Rate limiting is an optional defense-in-depth
// layer, not a correctness requirement, so its absence just disables the
// middleware rather than failing startup.
func newRateLimiter(logger *slog.Logger) *ratelimit.Limiter {
	raw := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if raw == "" {
		logger.Info("rate limiting: disabled (no REDIS_URL)")
		return nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		logger.Error("invalid REDIS_URL, rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	logger.Info("rate limiting: redis-backed sliding window", "addr", opts.Addr)
	return ratelimit.New(client, logger, false)
}

// idempotencyCleanupLoop periodically deletes expired idempotency-key
// records so the table doesn't grow unbounded.
func idempotencyCleanupLoop(ctx context.Context, db *storage.DB, logger *slog.Logger, completedTTL, inProgressTTL time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanupIdempotencyKeys(ctx, completedTTL, inProgressTTL)
			if err != nil {
				logger.Warn("idempotency cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("idempotency cleanup", "deleted", n)
			}
		}
	}
}
