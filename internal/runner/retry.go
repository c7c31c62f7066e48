package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is applied around each attempt to open a stream.
type RetryPolicy struct {
	// Retries after the first failed attempt.
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	// Upper bound for a single delay. 0 means no bound.
	MaxDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
	}
}

func (p RetryPolicy) validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: retries must not be negative, got %d", ErrInvalidConfig, p.MaxRetries)
	}
	if p.BaseDelay <= 0 || p.Multiplier < 1 {
		return fmt.Errorf("%w: backoff needs a positive base delay and multiplier >= 1", ErrInvalidConfig)
	}
	return nil
}

// Delay returns the wait before retry number attempt (0-based):
// BaseDelay * Multiplier^attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<63 - 1)
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// retryNotify is called before each backoff sleep.
type retryNotify func(err error, attempt int, wait time.Duration)

// withRetry runs op until it succeeds, the policy is exhausted, or ctx ends.
// On exhaustion it returns the last error. Errors wrapped with
// backoff.Permanent are not retried.
func withRetry[T any](ctx context.Context, p RetryPolicy, op func() (T, error), notify retryNotify) (T, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(op, p.backOff(ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempt, wait)
		}
		attempt++
	})
}
