package limiter

import (
	"context"
	"math"
	"sync"
	"time"
)

// BytesPerMbps converts the rate limit unit (2^20 bits per second) to bytes/s.
const BytesPerMbps = 1024 * 1024 / 8

// TokenBucket is a byte rate limiter shared by all download workers.
// Tokens are refilled lazily on every Acquire, there is no background timer.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64
	available  float64
	lastRefill time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a bucket refilling at rate bytes/s and holding at most capacity
// bytes. The bucket starts full. A rate <= 0 disables limiting.
func New(rate, capacity float64) *TokenBucket {
	if capacity <= 0 {
		capacity = rate
	}
	b := &TokenBucket{
		capacity: capacity,
		rate:     rate,
		now:      time.Now,
		sleep:    sleepContext,
	}
	b.available = capacity
	b.lastRefill = b.now()
	return b
}

// FromMbps builds a bucket for a limit in Mbps. burst is the capacity as a
// multiple of one second of rate (1 = one second worth of bytes).
func FromMbps(mbps, burst float64) *TokenBucket {
	rate := mbps * BytesPerMbps
	if burst <= 0 {
		burst = 1
	}
	return New(rate, rate*burst)
}

// Unlimited reports whether Acquire is a no-op.
func (b *TokenBucket) Unlimited() bool {
	return b == nil || b.rate <= 0
}

// Rate returns the refill rate in bytes/s.
func (b *TokenBucket) Rate() float64 { return b.rate }

// Capacity returns the maximum number of tokens.
func (b *TokenBucket) Capacity() float64 { return b.capacity }

// Acquire blocks until n tokens have been paid for. The sleep for a deficit
// happens outside the lock so other workers keep refilling and consuming.
// The only error is ctx.Err() when the wait was interrupted.
func (b *TokenBucket) Acquire(ctx context.Context, n int) error {
	if b.Unlimited() || n <= 0 {
		return nil
	}

	b.mu.Lock()
	b.refillLocked()

	need := float64(n)
	if b.available >= need {
		b.available -= need
		b.mu.Unlock()
		return nil
	}

	// Tokens refilled while the caller sleeps belong to the caller, so the
	// refill clock is pushed past the deficit instead of re-granting them.
	deficit := need - b.available
	owed := time.Duration(deficit / b.rate * float64(time.Second))
	b.available = 0
	b.lastRefill = b.lastRefill.Add(owed)
	until := b.lastRefill
	wait := until.Sub(b.now())
	b.mu.Unlock()

	if err := b.sleep(ctx, wait); err != nil {
		b.release(until, owed)
		return err
	}
	return nil
}

// release hands the unslept part of a cancelled wait back to the bucket so
// later callers do not inherit debt for bytes that were never counted.
func (b *TokenBucket) release(until time.Time, owed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	left := min(until.Sub(b.now()), owed)
	if left <= 0 {
		return
	}
	b.lastRefill = b.lastRefill.Add(-left)
}

// Available refills and returns the current token level.
func (b *TokenBucket) Available() float64 {
	if b.Unlimited() {
		return math.Inf(1)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.available
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	if !now.After(b.lastRefill) {
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.available = math.Min(b.capacity, b.available+elapsed*b.rate)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
