// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration, recognized per spec §6.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings (spec §6: DATABASE_URL).
	DatabaseURL string

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Embedding provider settings (spec §6: PRISM_EMBEDDING_*).
	OpenAIAPIKey            string // spec §6: OPENAI_API_KEY; absence degrades to heuristics.
	EmbeddingModel          string
	EmbeddingNormalize      bool
	EmbeddingForceDownload  bool
	EmbeddingDimensions     int
	EmbedBatchSize          int // spec §6: RETROCOURT_EMBED_BATCH_SIZE.

	// Per-task model overrides (spec §6: OPENAI_MODEL_{TASK}).
	ModelIssueTriage string
	ModelAssignment  string
	ModelResponse    string
	ModelDocs        string
	ModelPromotion   string
	ModelJudge       string

	// Redaction (spec §6: REDACTION_POLICY_PATH).
	RedactionPolicyPath string

	// Forge ingestion (spec §6: GITHUB_TOKEN).
	GitHubToken string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// CORS settings.
	CORSAllowedOrigins []string

	// Operational settings.
	LogLevel                 string
	MaxRequestBodyBytes      int64
	IdempotencyInProgressTTL time.Duration
	IdempotencyCompletedTTL  time.Duration

	// File-system layout (spec §6): root directory holding raw_http/,
	// out_views/, out_insights/.
	ArchiveDir string
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if any environment variable contains an unparseable value
// or if the result fails Validate (which, among other checks, requires
// DATABASE_URL). Other missing variables use sensible defaults.
func Load() (Config, error) {
	cfg, err := load()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadIngest reads configuration the same way Load does but validates with
// ValidateIngest instead of Validate: most ingestctl subcommands (discover,
// hydrate, project) never open a database connection, so DATABASE_URL is
// optional here. The embed subcommand, which does touch Postgres, checks
// DatabaseURL itself before constructing a storage.DB.
func LoadIngest() (Config, error) {
	cfg, err := load()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ValidateIngest(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func load() (Config, error) {
	var errs []error
	cfg := Config{
		DatabaseURL:         envStr("DATABASE_URL", ""),
		JWTPrivateKeyPath:   envStr("RETROCOURT_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("RETROCOURT_JWT_PUBLIC_KEY", ""),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("PRISM_EMBEDDING_MODEL", "text-embedding-3-small"),
		ModelIssueTriage:    envStr("OPENAI_MODEL_ISSUE_TRIAGE", ""),
		ModelAssignment:     envStr("OPENAI_MODEL_ASSIGNMENT", ""),
		ModelResponse:       envStr("OPENAI_MODEL_RESPONSE", ""),
		ModelDocs:           envStr("OPENAI_MODEL_DOCS", ""),
		ModelPromotion:      envStr("OPENAI_MODEL_PROMOTION", ""),
		ModelJudge:          envStr("OPENAI_MODEL_JUDGE", ""),
		RedactionPolicyPath: envStr("REDACTION_POLICY_PATH", "redaction_policy.json"),
		GitHubToken:         envStr("GITHUB_TOKEN", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "retrocourt"),
		LogLevel:            envStr("RETROCOURT_LOG_LEVEL", "info"),
		CORSAllowedOrigins:  envStrSlice("RETROCOURT_CORS_ALLOWED_ORIGINS", nil),
		ArchiveDir:          envStr("RETROCOURT_ARCHIVE_DIR", "."),
	}

	cfg.Port, errs = collectInt(errs, "RETROCOURT_PORT", 8080)
	cfg.EmbeddingDimensions, errs = collectInt(errs, "PRISM_EMBEDDING_DIMENSIONS", 1536)
	cfg.EmbedBatchSize, errs = collectInt(errs, "RETROCOURT_EMBED_BATCH_SIZE", 64)

	var maxReqBody int
	maxReqBody, errs = collectInt(errs, "RETROCOURT_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	cfg.MaxRequestBodyBytes = int64(maxReqBody)

	cfg.EmbeddingNormalize, errs = collectBool(errs, "PRISM_EMBEDDING_NORMALIZE", true)
	cfg.EmbeddingForceDownload, errs = collectBool(errs, "PRISM_EMBEDDING_FORCE_DOWNLOAD", false)
	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)

	cfg.ReadTimeout, errs = collectDuration(errs, "RETROCOURT_READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout, errs = collectDuration(errs, "RETROCOURT_WRITE_TIMEOUT", 30*time.Second)
	cfg.JWTExpiration, errs = collectDuration(errs, "RETROCOURT_JWT_EXPIRATION", 24*time.Hour)
	cfg.IdempotencyInProgressTTL, errs = collectDuration(errs, "RETROCOURT_IDEMPOTENCY_IN_PROGRESS_TTL", 5*time.Minute)
	cfg.IdempotencyCompletedTTL, errs = collectDuration(errs, "RETROCOURT_IDEMPOTENCY_COMPLETED_TTL", 24*time.Hour)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

// ModelForTask returns the configured model override for TASK, or fallback
// if none was set (spec §6: OPENAI_MODEL_{TASK}).
func (c Config) ModelForTask(task string, fallback string) string {
	switch strings.ToUpper(task) {
	case "ISSUE_TRIAGE":
		if c.ModelIssueTriage != "" {
			return c.ModelIssueTriage
		}
	case "ASSIGNMENT":
		if c.ModelAssignment != "" {
			return c.ModelAssignment
		}
	case "RESPONSE":
		if c.ModelResponse != "" {
			return c.ModelResponse
		}
	case "DOCS":
		if c.ModelDocs != "" {
			return c.ModelDocs
		}
	case "PROMOTION":
		if c.ModelPromotion != "" {
			return c.ModelPromotion
		}
	case "JUDGE":
		if c.ModelJudge != "" {
			return c.ModelJudge
		}
	}
	return fallback
}

// Validate checks that required configuration is present and sane.
// DATABASE_URL is required only for commands that touch storage/migrations
// (spec §6); callers that only need e.g. the ingester's HTTP client skip
// this check by constructing Config directly rather than through Load.
func (c Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL is required"))
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("config: PRISM_EMBEDDING_DIMENSIONS must be positive"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("config: RETROCOURT_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("config: RETROCOURT_PORT must be between 1 and 65535"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("config: RETROCOURT_READ_TIMEOUT must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("config: RETROCOURT_WRITE_TIMEOUT must be positive"))
	}
	if c.JWTPrivateKeyPath != "" {
		if err := validateKeyFile(c.JWTPrivateKeyPath, "RETROCOURT_JWT_PRIVATE_KEY"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.JWTPublicKeyPath != "" {
		if err := validateKeyFile(c.JWTPublicKeyPath, "RETROCOURT_JWT_PUBLIC_KEY"); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ValidateIngest checks the subset of configuration the ingestion CLI needs,
// deliberately omitting the DATABASE_URL requirement Validate enforces (see
// LoadIngest).
func (c Config) ValidateIngest() error {
	var errs []error
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("config: PRISM_EMBEDDING_DIMENSIONS must be positive"))
	}
	return errors.Join(errs...)
}

// validateKeyFile checks that a key file exists, is readable, is non-empty,
// and has restrictive permissions (owner-only on Unix).
func validateKeyFile(path, envVar string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: %s %q: %w", envVar, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s %q is a directory, expected a file", envVar, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("config: %s %q is empty", envVar, path)
	}
	// Check that the file is not world-readable (Unix permissions only).
	perm := info.Mode().Perm()
	if perm&0o077 != 0 {
		return fmt.Errorf("config: %s %q has overly permissive mode %04o (expected 0600 or stricter)", envVar, path, perm)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envStrSlice reads a comma-separated env var into a string slice.
// Returns fallback if the env var is empty or unset.
func envStrSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectBool parses a bool env var, appending any error to the accumulator.
func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var, appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}
