// Package retry holds the pure retry decision function. No side effects,
// no I/O: the worker loop owns applying the decision to the job store.
package retry

import (
	"time"

	"github.com/intakehq/docpipe/internal/faults"
)

// Policy bounds how often and how long failed jobs are re-attempted.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Decision is the outcome of consulting the policy after a failure.
type Decision struct {
	Retry    bool
	Delay    time.Duration
	Terminal bool
}

// Default mirrors the daemon's config defaults.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Decide is consulted after attempt number `attempt` failed with err.
// Attempts number from 1, so Decide is never called with attempt 0.
// Errors without an explicit retryable classification are terminal.
func (p Policy) Decide(attempt int, err error) Decision {
	if attempt >= p.MaxAttempts {
		return Decision{Terminal: true}
	}
	if !faults.Retryable(err) {
		return Decision{Terminal: true}
	}
	return Decision{Retry: true, Delay: p.backoff(attempt)}
}

// backoff computes min(base * 2^(attempt-1), max).
func (p Policy) backoff(attempt int) time.Duration {
	shift := uint(attempt - 1)
	// past 62 doublings any sane base overflows int64; the cap applies anyway
	if shift > 62 {
		return p.MaxDelay
	}
	d := p.BaseDelay << shift
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
