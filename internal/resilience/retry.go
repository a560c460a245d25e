package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is a bounded exponential backoff. Its layout matches
// config.Backoff so callers can convert directly.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// Notify is called before each wait with the attempt that just failed
// (1-based), its error and the delay until the next attempt.
type Notify func(attempt int, err error, wait time.Duration)

// Permanent marks err as not worth retrying. Retry returns the unwrapped
// error immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs op until it succeeds, returns a permanent error, the attempt
// budget is spent, or ctx is cancelled while waiting.
func Retry(ctx context.Context, p Policy, op func(attempt int) error, notify Notify) error {
	_, err := RetryValue(ctx, p, func(attempt int) (struct{}, error) {
		return struct{}{}, op(attempt)
	}, notify)
	return err
}

// RetryValue is Retry for operations that produce a value. On exhaustion it
// returns the last value and error so callers can inspect the final outcome.
func RetryValue[T any](ctx context.Context, p Policy, op func(attempt int) (T, error), notify Notify) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		return op(attempt)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.MaxAttempts, 1))),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			notify(attempt, err, wait)
		}))
	}
	return backoff.Retry(ctx, operation, opts...)
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.Reset()
	return b
}
