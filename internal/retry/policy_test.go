package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/faults"
)

func retryableErr() error {
	return faults.New(constants.CodeOCRTimeout, constants.StageOCR, errors.New("deadline"))
}

func terminalErr() error {
	return faults.New(constants.CodeUnsupportedFormat, constants.StageOCR, errors.New("pdf"))
}

func TestNonRetryableIsAlwaysTerminal(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	for attempt := 1; attempt < 5; attempt++ {
		d := p.Decide(attempt, terminalErr())
		assert.True(t, d.Terminal, "attempt %d", attempt)
		assert.False(t, d.Retry, "attempt %d", attempt)
	}
}

func TestUnclassifiedErrorIsTerminal(t *testing.T) {
	p := Default()
	d := p.Decide(1, errors.New("mystery failure"))
	assert.True(t, d.Terminal)
	assert.False(t, d.Retry)
}

func TestExponentialBackoffWithCap(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	var prev time.Duration
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Decide(attempt, retryableErr())
		assert.True(t, d.Retry, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d.Delay, prev, "delay must not shrink")
		prev = d.Delay
	}

	assert.Equal(t, 1*time.Second, p.Decide(1, retryableErr()).Delay)
	assert.Equal(t, 2*time.Second, p.Decide(2, retryableErr()).Delay)
	assert.Equal(t, 4*time.Second, p.Decide(3, retryableErr()).Delay)

	// attempt 6 would be 32s, capped to 30s
	assert.Equal(t, 30*time.Second, p.Decide(6, retryableErr()).Delay)
	// far past any cap, including shift overflow territory
	assert.Equal(t, 30*time.Second, p.Decide(9, retryableErr()).Delay)
}

func TestMaxAttemptsForcesTerminal(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	assert.True(t, p.Decide(1, retryableErr()).Retry)
	assert.True(t, p.Decide(2, retryableErr()).Retry)

	d := p.Decide(3, retryableErr())
	assert.True(t, d.Terminal)
	assert.False(t, d.Retry)

	d = p.Decide(7, retryableErr())
	assert.True(t, d.Terminal)
}

func TestSingleAttemptPolicy(t *testing.T) {
	p := Policy{MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: time.Second}
	d := p.Decide(1, retryableErr())
	assert.True(t, d.Terminal)
	assert.False(t, d.Retry)
}
