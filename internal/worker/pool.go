package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pool runs a fixed set of pollers against the job queue. Each poller claims
// and processes jobs until the queue is empty, then sleeps for the poll
// interval. Claiming is atomic in the store, so pollers never collide.
type Pool struct {
	loop   *Loop
	logger *slog.Logger

	workers      int
	pollInterval time.Duration
	timeout      time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPool(loop *Loop, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		loop:         loop,
		logger:       logger,
		workers:      4,
		pollInterval: 500 * time.Millisecond,
		timeout:      3 * time.Minute,
		stop:         make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Info("worker started", "worker_id", workerID)

				ticker := time.NewTicker(p.pollInterval)
				defer ticker.Stop()
				for {
					select {
					case <-p.stop:
						p.logger.Info("worker stopped", "worker_id", workerID)
						return
					case <-ticker.C:
						p.drain(workerID)
					}
				}
			}(i + 1)
		}
	})
}

// drain claims and runs jobs until the queue is empty or the pool stops. The
// in-flight job always finishes; shutdown is only observed between jobs.
func (p *Pool) drain(workerID int) {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		job, err := p.loop.RunOnce(ctx)
		cancel()

		if err != nil {
			p.logger.Error("job processing error", "worker_id", workerID, "error", err)
			return
		}
		if job == nil {
			return
		}
		p.logger.Debug("job settled", "worker_id", workerID, "job_id", job.ID, "state", job.State)
	}
}

// Shutdown stops the pollers and waits for in-flight jobs, giving up when ctx
// expires.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context")
	case <-done:
		p.logger.Info("workers drained, shutdown complete")
	}
}
