package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/intakehq/docpipe/internal/blob"
	"github.com/intakehq/docpipe/internal/common"
	"github.com/intakehq/docpipe/internal/observability"
	"github.com/intakehq/docpipe/internal/ocr"
	"github.com/intakehq/docpipe/internal/repository"
	"github.com/intakehq/docpipe/internal/retry"
	"github.com/intakehq/docpipe/internal/schema"
	"github.com/intakehq/docpipe/internal/worker"
)

// runjob executes one queued job through the local pipeline and reports the
// state it settled in. Useful for debugging a stuck job without starting the
// full daemon.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runjob <job-id-uuid>")
		os.Exit(2)
	}
	jobID, err := uuid.Parse(os.Args[1])
	if err != nil {
		logger.Error("invalid job id (must be UUID)", "arg", os.Args[1], "error", err)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ProcessTimeout)
	defer cancel()

	db, err := repository.Open(ctx, repository.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var blobs blob.Store
	if cfg.Blob.Dir == "" {
		logger.Error("BLOB_DIR is required, the in-memory store cannot see the daemon's blobs")
		os.Exit(1)
	}
	blobs, err = blob.NewFS(cfg.Blob.Dir, logger)
	if err != nil {
		logger.Error("open blob store", "error", err)
		os.Exit(1)
	}

	registry, err := schema.NewRegistry(logger)
	if err != nil {
		logger.Error("build schema registry", "error", err)
		os.Exit(1)
	}
	if cfg.Schemas.Dir != "" {
		if err := registry.LoadDir(cfg.Schemas.Dir); err != nil {
			logger.Error("load schema definitions", "dir", cfg.Schemas.Dir, "error", err)
			os.Exit(1)
		}
	}

	var engine ocr.Engine = ocr.NewTesseract(ocr.Config{
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
		PSM:           cfg.OCR.PSM,
		OEM:           cfg.OCR.OEM,
		MaxSizeBytes:  cfg.Blob.MaxSizeBytes,
	}, logger)
	if cfg.OCR.Engine == "static" {
		engine = ocr.Static{}
	}

	loop := worker.NewLoop(
		repository.NewJobRepository(db, logger),
		blobs,
		engine,
		registry,
		retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		observability.NewNoopMetrics(),
		logger,
	)

	start := time.Now()
	job, err := loop.RunByID(ctx, jobID)
	dur := time.Since(start)

	if err != nil {
		logger.Error("job execution failed", "job_id", jobID, "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}
	if job == nil {
		logger.Error("job is not queued, nothing to run", "job_id", jobID)
		os.Exit(1)
	}

	logger.Info("job settled",
		"job_id", job.ID,
		"state", job.State,
		"error_code", job.ErrorCode,
		"retries", job.Retries,
		"quality_score", job.QualityScore,
		"duration_ms", dur.Milliseconds(),
	)
}
