package backend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/faults"
	"github.com/intakehq/docpipe/internal/repository"
)

// Dispatcher feeds queued jobs to a backend in FIFO order. A job whose
// submission fails is marked FAILED with the classified code; the queue never
// wedges on one bad job.
type Dispatcher struct {
	jobs          repository.JobStore
	backend       Backend
	interval      time.Duration
	submitTimeout time.Duration
	logger        *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewDispatcher(jobs repository.JobStore, be Backend, interval, submitTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if submitTimeout <= 0 {
		submitTimeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		jobs:          jobs,
		backend:       be,
		interval:      interval,
		submitTimeout: submitTimeout,
		logger:        logger,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	d.logger.Info("dispatcher started", "backend", d.backend.Name())

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.Dispatch(context.Background()); err != nil {
				d.logger.Error("dispatch pass aborted", "error", err)
			}
		}
	}
}

// Dispatch drains the current queue once and returns how many jobs were
// submitted. Exposed so callers can drive the dispatcher without its ticker.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	submitted := 0
	for {
		select {
		case <-d.stop:
			return submitted, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return submitted, err
		}

		job, err := d.jobs.NextQueued(ctx)
		if err != nil {
			return submitted, err
		}
		if job == nil {
			return submitted, nil
		}

		submitCtx, cancel := context.WithTimeout(ctx, d.submitTimeout)
		err = d.backend.Submit(submitCtx, job)
		cancel()

		if err != nil {
			code := faults.Code(err)
			d.logger.Error("job submission failed",
				"job_id", job.ID, "backend", d.backend.Name(), "error_code", code, "error", err)
			if _, terr := d.jobs.Transition(ctx, job.ID, constants.JobStateQueued, constants.JobStateFailed,
				repository.TransitionMeta{ErrorCode: code}); terr != nil {
				// The job moved underneath us; bail out of this pass rather
				// than spin on it.
				return submitted, terr
			}
			continue
		}
		submitted++
	}
}

// Shutdown stops the ticker loop and waits for the current pass.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.once.Do(func() { close(d.stop) })
	select {
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown interrupted by context")
	case <-d.done:
	}
}
