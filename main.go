package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"property-feed-sync/api"
	"property-feed-sync/config"
	"property-feed-sync/services"
	"property-feed-sync/storage"
	"property-feed-sync/utils"
	"property-feed-sync/watcher"
)

const usage = `usage: property-feed-sync <command> [flags]

commands:
  serve               run the HTTP ingestion endpoint
  watch [-mode m]     watch WATCH_DIR; m is "local" (sync here) or "remote" (forward to WEBHOOK_URL)
  ingest [-dry-run] <file.xml|file.zip>
                      ingest one feed and exit
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := utils.NewLoggerTo(os.Stdout, os.Stderr, utils.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "watch":
		err = runWatch(ctx, cfg, logger, os.Args[2:])
	case "ingest":
		err = runIngest(ctx, cfg, logger, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("%s: %v", os.Args[1], err)
		os.Exit(1)
	}
}

// app is the wired pipeline plus everything that must be closed on exit.
type app struct {
	pipeline *services.Pipeline
	health   map[string]api.Pinger
	closers  []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *utils.Logger, dryRun bool) (*app, error) {
	a := &app{health: map[string]api.Pinger{}}

	tables, err := services.LoadTables(cfg.MappingTablesPath)
	if err != nil {
		return nil, err
	}

	var store storage.PropertyStore
	if dryRun {
		store = storage.NewMemoryStore()
		logger.Info("Dry run: records are kept in memory only")
	} else {
		pg, err := storage.NewPostgresStore(ctx, cfg.DSN())
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL: %v", err)
			return nil, err
		}
		store = pg
		a.health["postgres"] = pg
	}
	a.closers = append(a.closers, store)

	var locker storage.Locker
	if cfg.RedisURL != "" {
		rl, err := storage.NewRedisLockerFromURL(ctx, cfg.RedisURL, cfg.LockTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		locker = rl
		a.health["redis"] = rl
		a.closers = append(a.closers, rl)
	}

	pcfg := services.PipelineConfig{
		WorkDir:         cfg.WorkDir,
		ExtractTimeout:  cfg.ExtractTimeout,
		MaxExtractBytes: cfg.MaxExtractBytes,
	}
	if cfg.CSVOutputPath != "" {
		csv, err := storage.NewCSVWriter(cfg.CSVOutputPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		pcfg.Dump = csv
		a.closers = append(a.closers, csv)
	}

	engine := services.NewSyncEngine(store, locker, services.SyncConfig{
		Workers:       cfg.SyncConcurrency,
		UpsertTimeout: cfg.UpsertTimeout,
	}, logger)
	a.pipeline = services.NewPipeline(services.NewMapper(tables, logger), engine, pcfg, logger)
	return a, nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is empty: every ingestion request will be rejected")
	}
	a, err := buildApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := api.NewServer(a.pipeline, api.NewHealthChecker(a.health, logger), api.ServerConfig{
		Addr:         cfg.ListenAddr,
		Secret:       cfg.WebhookSecret,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, logger)
	return srv.Run(ctx)
}

func runWatch(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	defaultMode := "local"
	if cfg.WebhookURL != "" {
		defaultMode = "remote"
	}
	mode := fs.String("mode", defaultMode, `"local" or "remote"`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var proc watcher.Processor
	switch *mode {
	case "remote":
		if cfg.WebhookURL == "" || cfg.WebhookSecret == "" {
			return fmt.Errorf("remote mode needs WEBHOOK_URL and WEBHOOK_SECRET")
		}
		proc = watcher.NewForwarder(watcher.ForwarderConfig{
			URL:             cfg.WebhookURL,
			Secret:          cfg.WebhookSecret,
			WorkDir:         cfg.WorkDir,
			ExtractTimeout:  cfg.ExtractTimeout,
			MaxExtractBytes: cfg.MaxExtractBytes,
			Retry:           utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: 2 * time.Second},
		}, logger)
	case "local":
		a, err := buildApp(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()
		proc = a.pipeline
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}

	var archiver storage.Archiver
	if cfg.S3Bucket != "" {
		s3a, err := storage.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
		if err != nil {
			return err
		}
		archiver = s3a
	}

	logger.Info("=== Property feed watcher starting (%s mode) ===", *mode)
	agent := watcher.NewAgent(watcher.Config{
		WatchDir:     cfg.WatchDir,
		ProcessedDir: cfg.ProcessedDir,
		Debounce:     cfg.Debounce,
	}, proc, archiver, logger)
	return agent.Run(ctx)
}

func runIngest(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "map and sync into memory instead of PostgreSQL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one feed file")
	}

	a, err := buildApp(ctx, cfg, logger, *dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.pipeline.IngestFile(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("\n  Run %s: %d ads | %d sale records | %d dropped | %d/%d synced (%d inserted, %d updated, %d failed)\n\n",
		res.RunID, res.Ads, res.Mapped, res.Dropped,
		res.Sync.Processed, res.Sync.Total, res.Sync.Inserted, res.Sync.Updated, res.Sync.Failed)
	return nil
}
