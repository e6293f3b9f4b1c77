package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/intakehq/docpipe/internal/observability"
	"github.com/intakehq/docpipe/internal/repository"
)

// Promoter periodically sweeps RETRYING jobs whose backoff deadline has
// passed back into the queue.
type Promoter struct {
	jobs     repository.JobStore
	interval time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewPromoter(jobs repository.JobStore, interval time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Promoter {
	if interval <= 0 {
		interval = time.Second
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Promoter{
		jobs:     jobs,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Promoter) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Sweep(context.Background())
		}
	}
}

// Sweep promotes everything currently due. Exposed so callers can trigger
// a pass without waiting for the ticker.
func (p *Promoter) Sweep(ctx context.Context) {
	n, err := p.jobs.PromoteDue(ctx, time.Now())
	if err != nil {
		p.logger.Error("promotion sweep failed", "error", err)
		return
	}
	p.metrics.RecordPromoted(ctx, n)
}

// Shutdown stops the sweeper and waits for the current pass to finish.
func (p *Promoter) Shutdown(ctx context.Context) {
	p.once.Do(func() { close(p.stop) })
	select {
	case <-ctx.Done():
	case <-p.done:
	}
}
