// Command ingestctl drives forge ingestion independently of the retrocourt
// API server: discover a repo's issues/PRs, hydrate their raw HTTP
// archives, project them into repo_* rows, and (re-)embed the resulting
// knowledge-base documents.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/retrocourt/retrocourt/internal/config"
	"github.com/retrocourt/retrocourt/internal/forgehttp"
	"github.com/retrocourt/retrocourt/internal/ingest"
	"github.com/retrocourt/retrocourt/internal/kb"
	"github.com/retrocourt/retrocourt/internal/kb/embedding"
	"github.com/retrocourt/retrocourt/internal/project"
	"github.com/retrocourt/retrocourt/internal/storage"
	"github.com/retrocourt/retrocourt/migrations"
)

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		return 2
	}

	var err error
	switch os.Args[1] {
	case "discover":
		err = cmdDiscover(ctx, logger, os.Args[2:])
	case "hydrate":
		err = cmdHydrate(ctx, logger, os.Args[2:])
	case "project":
		err = cmdProject(ctx, logger, os.Args[2:])
	case "embed":
		err = cmdEmbed(ctx, logger, os.Args[2:])
	case "run":
		err = cmdRun(ctx, logger, os.Args[2:])
	default:
		usage()
		return 2
	}
	if err != nil {
		logger.Error("ingestctl: fatal error", "error", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ingestctl <discover|hydrate|project|embed|run> [flags]

  discover -owner O -repo R [-since 2026-01-01]   list issue/PR numbers (any state)
  hydrate  -owner O -repo R [-since 2026-01-01] [-concurrency 4]
                                                   discover and archive every item's raw HTTP exchanges
  project  -owner O -repo R                        turn archived exchanges into repo_* rows (printed as JSON)
  embed    [-batch-size 64]                        embed pending kb_document rows until none remain
  run      -owner O -repo R [-concurrency 4]        hydrate, project, persist, and embed in one pass`)
}

func repoFlags(fs *flag.FlagSet) (owner, repo *string, since *string, concurrency *int) {
	owner = fs.String("owner", "", "repository owner")
	repo = fs.String("repo", "", "repository name")
	since = fs.String("since", "", "only items updated on/after this date (YYYY-MM-DD)")
	concurrency = fs.Int("concurrency", 1, "concurrent item hydrations")
	return
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -since %q: %w", raw, err)
	}
	return t, nil
}

// newIngester wires an ingest.Ingester against cfg.ArchiveDir/raw_http,
// sharing one forgehttp.Client and fingerprint index across the run.
func newIngester(cfg config.Config, logger *slog.Logger, concurrency int) (*ingest.Ingester, *ingest.FingerprintIndex, error) {
	if cfg.GitHubToken == "" {
		return nil, nil, fmt.Errorf("GITHUB_TOKEN is required")
	}
	client := forgehttp.New(cfg.GitHubToken, logger)
	archiver := ingest.NewArchiver(cfg.ArchiveDir)
	index, err := ingest.OpenFingerprintIndex(filepath.Join(cfg.ArchiveDir, "ingest_index.sqlite"))
	if err != nil {
		return nil, nil, fmt.Errorf("open fingerprint index: %w", err)
	}
	ing := ingest.New(client, archiver, index, logger)
	ing.Concurrency = concurrency
	return ing, index, nil
}

func cmdDiscover(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	owner, repo, since, _ := repoFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadIngest()
	if err != nil {
		return err
	}
	sinceTime, err := parseSince(*since)
	if err != nil {
		return err
	}

	ing, index, err := newIngester(cfg, logger, 1)
	if err != nil {
		return err
	}
	defer index.Close()

	numbers, err := ing.Discover(ctx, *owner, *repo, sinceTime)
	if err != nil {
		return err
	}
	logger.Info("discover: done", "owner", *owner, "repo", *repo, "count", len(numbers))
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(numbers)
}

func cmdHydrate(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("hydrate", flag.ExitOnError)
	owner, repo, since, concurrency := repoFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadIngest()
	if err != nil {
		return err
	}
	sinceTime, err := parseSince(*since)
	if err != nil {
		return err
	}

	ing, index, err := newIngester(cfg, logger, *concurrency)
	if err != nil {
		return err
	}
	defer index.Close()

	if err := ing.Run(ctx, *owner, *repo, sinceTime); err != nil {
		return err
	}
	logger.Info("hydrate: done", "owner", *owner, "repo", *repo)
	return nil
}

func cmdProject(_ context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("project", flag.ExitOnError)
	_, _, _, _ = repoFlags(fs) // accepted for consistency, not used: projection reads every archived repo under ArchiveDir
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadIngest()
	if err != nil {
		return err
	}

	views, err := project.Project(cfg.ArchiveDir)
	if err != nil {
		return err
	}
	logger.Info("project: done",
		"work_items", len(views.WorkItems), "comments", len(views.Comments),
		"reviews", len(views.Reviews), "events", len(views.Events), "activity", len(views.Activity))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func cmdEmbed(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	batchSize := fs.Int("batch-size", 0, "override RETROCOURT_EMBED_BATCH_SIZE")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("embed: DATABASE_URL is required")
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	size := cfg.EmbedBatchSize
	if *batchSize > 0 {
		size = *batchSize
	}
	provider, err := embeddingProvider(cfg, logger)
	if err != nil {
		return err
	}

	r := kb.NewReEmbedder(db, provider, logger, size)
	count, err := r.RunOnce(ctx)
	if err != nil {
		return err
	}
	logger.Info("embed: done", "embedded", count, "model", provider.Model())
	return nil
}

// cmdRun chains hydrate -> project -> build kb_documents -> embed in one
// process, for a cron-style incremental sync.
func cmdRun(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	owner, repo, since, concurrency := repoFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("run: DATABASE_URL is required")
	}
	sinceTime, err := parseSince(*since)
	if err != nil {
		return err
	}

	ing, index, err := newIngester(cfg, logger, *concurrency)
	if err != nil {
		return err
	}
	defer index.Close()
	if err := ing.Run(ctx, *owner, *repo, sinceTime); err != nil {
		return err
	}

	views, err := project.Project(cfg.ArchiveDir)
	if err != nil {
		return err
	}
	logger.Info("run: projected", "work_items", len(views.WorkItems))

	db, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	repoFullName := *owner + "/" + *repo
	if err := db.ReplaceProjectedViews(ctx, repoFullName, views.WorkItems, views.Comments, views.Reviews, views.Events, views.Activity); err != nil {
		return fmt.Errorf("persist projection: %w", err)
	}

	built, err := kb.New(db).Build(ctx, views)
	if err != nil {
		return err
	}
	logger.Info("run: built kb documents", "count", built)

	provider, err := embeddingProvider(cfg, logger)
	if err != nil {
		return err
	}
	embedded, err := kb.NewReEmbedder(db, provider, logger, cfg.EmbedBatchSize).RunOnce(ctx)
	if err != nil {
		return err
	}
	logger.Info("run: done", "owner", *owner, "repo", *repo, "embedded", embedded)
	return nil
}

// embeddingProvider mirrors cmd/retrocourt's degrade-to-noop behavior: a
// missing OPENAI_API_KEY disables embedding rather than failing the run,
// since keyword search still works without it.
func embeddingProvider(cfg config.Config, logger *slog.Logger) (embedding.Provider, error) {
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("embed: no OPENAI_API_KEY, using noop provider (kb_embedding rows will not be written)")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions), nil
	}
	return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions, cfg.EmbeddingNormalize)
}
