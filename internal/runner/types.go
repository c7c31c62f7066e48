package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

var (
	ErrInvalidConfig    = errors.New("invalid config")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrAlreadyStarted   = errors.New("runner already started")
)

// PickMode selects how a worker chooses its next URL.
type PickMode string

const (
	PickRandom     PickMode = "random"
	PickSequential PickMode = "sequential"
)

type Config struct {
	URLs        []string
	Concurrency int

	// Rate limit in Mbps (2^20 bits/s). 0 means unlimited.
	LimitMbps float64
	// Bucket capacity as a multiple of one second of rate.
	Burst float64

	// Duration of one cycle. 0 runs until cancelled.
	Duration time.Duration
	// Pause between repeat cycles.
	Interval time.Duration
	// 1 = one-shot, 0 = repeat until cancelled, N = N cycles.
	Cycles int

	ChunkSize   int
	RotateAfter int64 // bytes per URL before switching
	Pick        PickMode

	Timeout        time.Duration // connect, header and idle-read timeout
	Insecure       bool
	Retry          RetryPolicy
	JoinTimeout    time.Duration
	SampleInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		Burst:          1,
		Cycles:         1,
		ChunkSize:      32 * 1024,
		RotateAfter:    64 * 1024 * 1024,
		Pick:           PickRandom,
		Timeout:        30 * time.Second,
		Retry:          DefaultRetryPolicy(),
		JoinTimeout:    5 * time.Second,
		SampleInterval: time.Second,
	}
}

// Repeating reports whether the session runs more than one cycle.
func (c Config) Repeating() bool {
	return c.Cycles != 1
}

// Bounded reports whether cycles end on their own. Workers in a bounded
// cycle stop after exhausting retries, unbounded ones rotate and carry on.
func (c Config) Bounded() bool {
	return c.Duration > 0
}

// Normalize trims and dedupes URLs and fills unset optional fields.
func (c Config) Normalize() Config {
	d := DefaultConfig()

	urls := lo.Map(c.URLs, func(u string, _ int) string { return strings.TrimSpace(u) })
	c.URLs = lo.Uniq(lo.Compact(urls))

	if c.Burst == 0 {
		c.Burst = d.Burst
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.RotateAfter == 0 {
		c.RotateAfter = d.RotateAfter
	}
	if c.Pick == "" {
		c.Pick = d.Pick
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = d.Retry
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = d.SampleInterval
	}
	return c
}

// Validate rejects configurations before any worker starts.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if len(c.URLs) == 0 {
		return invalid("at least one url is required")
	}
	for _, u := range c.URLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return invalid("url %q must be http or https", u)
		}
	}
	if c.Concurrency < 1 {
		return invalid("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.LimitMbps < 0 {
		return invalid("rate limit must not be negative, got %g", c.LimitMbps)
	}
	if c.Burst <= 0 {
		return invalid("burst must be positive, got %g", c.Burst)
	}
	if c.Duration < 0 || c.Interval < 0 {
		return invalid("duration and interval must not be negative")
	}
	if c.Cycles < 0 {
		return invalid("cycles must not be negative, got %d", c.Cycles)
	}
	if c.Repeating() && !c.Bounded() {
		return invalid("repeating cycles need a duration")
	}
	if c.ChunkSize <= 0 {
		return invalid("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.RotateAfter <= 0 {
		return invalid("rotate threshold must be positive, got %d", c.RotateAfter)
	}
	if c.Pick != PickRandom && c.Pick != PickSequential {
		return invalid("unknown pick mode %q", c.Pick)
	}
	if c.Timeout <= 0 || c.JoinTimeout <= 0 || c.SampleInterval <= 0 {
		return invalid("timeouts and sample interval must be positive")
	}
	return c.Retry.validate()
}

// State of the session controller.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
