// Package backend decides where queued jobs execute. The local backend runs
// them in-process through the worker loop; the http and amqp backends hand
// them to an external runner and flip them to RUNNING with the runner's job
// id, to be completed later through the runner webhook.
package backend

import (
	"context"
	"log/slog"

	"github.com/intakehq/docpipe/internal/common"
	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/repository"
	"github.com/intakehq/docpipe/internal/worker"
)

// Backend submits one queued job for execution. Submit owns the job's next
// transition: on success the job is RUNNING (or already settled, for the
// local backend); on error the job is still QUEUED and the caller decides
// what to do with it.
type Backend interface {
	Name() string
	Submit(ctx context.Context, job *entity.Job) error
}

// Select builds the backend named by cfg.Kind. The choice is made once at
// startup; nothing re-reads configuration afterwards.
func Select(cfg common.BackendConfig, jobs repository.JobStore, loop *worker.Loop, logger *slog.Logger) (Backend, error) {
	switch cfg.Kind {
	case "", "local":
		return NewLocal(loop, logger), nil
	case "http":
		return NewHTTP(jobs, cfg.RunnerURL, cfg.RunnerKey, logger), nil
	case "amqp":
		return NewAMQP(jobs, cfg.AMQPURL, cfg.AMQPQueue, logger), nil
	}
	return nil, common.NewAppError("CONFIG_ERROR", "unknown execution backend "+cfg.Kind, common.ErrInvalidInput)
}
