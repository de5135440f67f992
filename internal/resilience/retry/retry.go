// Package retry runs an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Func is one attempt. attempt is 0 for the first call.
type Func func(ctx context.Context, attempt int) (any, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy defines retry behavior.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. 0 means one attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps a single wait. 0 means uncapped.
	MaxDelay time.Duration

	Sleep SleepFunc
	Rand  func() float64
}

// DefaultPolicy provides sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err, or an error it wraps, says it may be retried.
// Errors that say nothing are not retried.
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.Retryable()
}

// Do calls fn until it succeeds, returns a non-retryable error, or runs out
// of retries. It returns the value, the number of attempts made, and the last
// error.
func Do(ctx context.Context, p Policy, fn Func) (any, int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	jitter := p.Rand
	if jitter == nil {
		jitter = rand.Float64
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt + 1, nil
		}

		if attempt >= maxRetries || !IsRetryable(err) {
			return nil, attempt + 1, err
		}

		delay := Backoff(p.BaseDelay, attempt, jitter())
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, attempt + 1, err
		}
	}
}

// maxBackoff is the largest wait Backoff returns.
const maxBackoff = time.Duration(math.MaxInt64)

// Backoff returns base * 2^attempt * (0.5 + r*0.5) for r in [0, 1),
// saturating at maxBackoff instead of overflowing.
func Backoff(base time.Duration, attempt int, r float64) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := 0.5 + r*0.5
	d := float64(base) * math.Pow(2, float64(attempt)) * factor
	if d >= float64(maxBackoff) || math.IsNaN(d) {
		return maxBackoff
	}
	return time.Duration(d)
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
