package fetcher

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FixedBackoff waits d after every failure.
func FixedBackoff(d time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
}

// ExponentialBackoff doubles from base after each failure, capped at max.
func ExponentialBackoff(base, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxInterval = max
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// RetryPolicy controls how Fetch repeats a failed Get. Every attempt is
// preceded by a random pause in [JitterMin, JitterMax].
type RetryPolicy struct {
	MaxAttempts int
	JitterMin   time.Duration
	JitterMax   time.Duration
	// Backoff returns a fresh schedule per Fetch. Nil retries immediately.
	Backoff func() backoff.BackOff
	// Timer makes every wait. Nil uses real timers.
	Timer func() backoff.Timer
	// Rand returns a value in [0,1). Nil uses math/rand.
	Rand func() float64
}

// DefaultRetryPolicy is five attempts with a 250-350ms pre-request pause and
// a fixed 300ms wait after each failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		JitterMin:   250 * time.Millisecond,
		JitterMax:   350 * time.Millisecond,
		Backoff:     FixedBackoff(300 * time.Millisecond),
	}
}

func (p RetryPolicy) jitter() time.Duration {
	span := p.JitterMax - p.JitterMin
	if span <= 0 {
		return p.JitterMin
	}
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	return p.JitterMin + time.Duration(r()*float64(span))
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// schedule bounds the backoff to attempts()-1 retries and stops it with ctx.
func (p RetryPolicy) schedule(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff != nil {
		b = p.Backoff()
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts()-1)), ctx)
}

func (p RetryPolicy) newTimer() backoff.Timer {
	if p.Timer != nil {
		return p.Timer()
	}
	return &realTimer{}
}

// wait blocks for d or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := p.newTimer()
	t.Start(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *realTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *realTimer) C() <-chan time.Time {
	return t.timer.C
}
