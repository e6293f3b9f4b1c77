package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/intakehq/docpipe/internal/common"
	"github.com/intakehq/docpipe/internal/repository"
)

// dbhealth pings the job store and prints queue depth per state. Deploy
// scripts run it before starting the daemon to catch connectivity and
// migration problems early.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		logger.Error("DB_DSN is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

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

	if err := db.HealthCheck(ctx, time.Second); err != nil {
		logger.Error("db health: FAIL", "error", err)
		os.Exit(1)
	}
	logger.Info("db health: OK", "driver", cfg.Database.Driver)

	// Typed query past the bare ping; fails if migrations never ran.
	counts, err := repository.NewJobRepository(db, logger).CountByState(ctx)
	if err != nil {
		logger.Error("counting jobs by state", "error", err)
		os.Exit(1)
	}
	total := 0
	for state, n := range counts {
		logger.Info("queue depth", "state", state, "jobs", n)
		total += n
	}
	logger.Info("job store reachable", "total_jobs", total)
}
