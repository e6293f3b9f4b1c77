package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/intakehq/docpipe/internal/backend"
	"github.com/intakehq/docpipe/internal/blob"
	"github.com/intakehq/docpipe/internal/common"
	"github.com/intakehq/docpipe/internal/export"
	"github.com/intakehq/docpipe/internal/observability"
	"github.com/intakehq/docpipe/internal/ocr"
	"github.com/intakehq/docpipe/internal/repository"
	"github.com/intakehq/docpipe/internal/retry"
	"github.com/intakehq/docpipe/internal/schema"
	"github.com/intakehq/docpipe/internal/server"
	"github.com/intakehq/docpipe/internal/services/jobs"
	"github.com/intakehq/docpipe/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		logger.Info("loaded .env file")
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, repository.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.HealthCheck(ctx, 5*time.Second); err != nil {
		logger.Error("database health check failed", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	jobStore := repository.NewJobRepository(db, logger)

	blobs, err := openBlobStore(cfg.Blob, logger)
	if err != nil {
		logger.Error("failed to open blob store", "error", err)
		os.Exit(1)
	}

	registry, err := schema.NewRegistry(logger)
	if err != nil {
		logger.Error("failed to build schema registry", "error", err)
		os.Exit(1)
	}
	if cfg.Schemas.Dir != "" {
		if err := registry.LoadDir(cfg.Schemas.Dir); err != nil {
			logger.Error("failed to load schema definitions", "dir", cfg.Schemas.Dir, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("schema registry ready", "schemas", registry.Names())

	metrics := observability.NewNoopMetrics()
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	engine := selectOCREngine(cfg.OCR, cfg.Blob.MaxSizeBytes, logger)
	loop := worker.NewLoop(jobStore, blobs, engine, registry, policy, metrics, logger)

	be, err := backend.Select(cfg.Backend, jobStore, loop, logger)
	if err != nil {
		logger.Error("failed to select execution backend", "error", err)
		os.Exit(1)
	}
	logger.Info("execution backend selected", "backend", be.Name())

	// Local execution polls the queue directly; delegated backends get their
	// jobs pushed by the dispatcher and settled by the runner webhook.
	var (
		pool       *worker.Pool
		dispatcher *backend.Dispatcher
	)
	if be.Name() == "local" {
		pool = worker.NewPool(loop, logger,
			worker.WithWorkers(cfg.Worker.Workers),
			worker.WithPollInterval(cfg.Worker.PollInterval),
			worker.WithProcessTimeout(cfg.Worker.ProcessTimeout),
		)
	} else {
		dispatcher = backend.NewDispatcher(jobStore, be, cfg.Worker.PollInterval, cfg.Worker.ProcessTimeout, logger)
	}
	promoter := worker.NewPromoter(jobStore, cfg.Worker.PollInterval, metrics, logger)

	svc := jobs.NewService(jobStore, blobs, registry, policy, metrics, cfg.Blob.MaxSizeBytes, logger)
	exporter := export.NewService(jobStore, logger)

	router := server.NewRouter(server.Deps{
		Jobs:          svc,
		Exporter:      exporter,
		Registry:      registry,
		DB:            db,
		WebhookSecret: cfg.Webhook.Secret,
		Logger:        logger,
	})
	srv := server.New(cfg.Server, router, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if pool != nil {
		pool.Shutdown(shutdownCtx)
	}
	if dispatcher != nil {
		dispatcher.Shutdown(shutdownCtx)
	}
	promoter.Shutdown(shutdownCtx)
	if closer, ok := be.(interface{ Close() }); ok {
		closer.Close()
	}
	logger.Info("stopped")
}

func openBlobStore(cfg common.BlobConfig, logger *slog.Logger) (blob.Store, error) {
	if cfg.Dir == "" {
		logger.Warn("no blob directory configured, using in-memory store")
		return blob.NewMemory(), nil
	}
	return blob.NewFS(cfg.Dir, logger)
}

func selectOCREngine(cfg common.OCRConfig, maxSize int64, logger *slog.Logger) ocr.Engine {
	if cfg.Engine == "static" {
		logger.Warn("using static ocr engine, inputs are treated as plain text")
		return ocr.Static{}
	}
	return ocr.NewTesseract(ocr.Config{
		Tesseract:     cfg.Tesseract,
		TesseractLang: cfg.TesseractLang,
		TessdataDir:   cfg.TessdataDir,
		PSM:           cfg.PSM,
		OEM:           cfg.OEM,
		MaxSizeBytes:  maxSize,
	}, logger)
}
