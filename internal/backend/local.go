package backend

import (
	"context"
	"log/slog"

	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/worker"
)

// Local executes jobs in-process, synchronously. Submit claims the job and
// runs the full pipeline before returning; the job is settled by the time
// Submit comes back.
type Local struct {
	loop   *worker.Loop
	logger *slog.Logger
}

func NewLocal(loop *worker.Loop, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{loop: loop, logger: logger}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Submit(ctx context.Context, job *entity.Job) error {
	settled, err := l.loop.RunByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if settled == nil {
		// Claimed by a concurrent worker; nothing left to do here.
		l.logger.Debug("job no longer queued", "job_id", job.ID)
	}
	return nil
}
