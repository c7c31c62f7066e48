package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is the byte accumulator shared by every download worker.
type Counter struct {
	total atomic.Int64
}

func (c *Counter) Add(n int64) {
	c.total.Add(n)
}

func (c *Counter) Total() int64 {
	return c.total.Load()
}

// Stats holds real-time aggregated metrics for one cycle. A new cycle gets a
// new Stats rather than a reset one.
type Stats struct {
	Bytes Counter

	Requests  atomic.Uint64
	Failures  atomic.Uint64
	Retries   atomic.Uint64
	Rotations atomic.Uint64
	Exhausted atomic.Uint64

	// Sample speeds (bytes/s) for percentiles
	Speeds *SafeHistogram

	errMu  sync.Mutex
	errors map[string]int
}

func NewStats() *Stats {
	return &Stats{
		Speeds: NewSafeHistogram(),
		errors: make(map[string]int),
	}
}

// RecordFailure counts a failed attempt, keyed by its message.
func (s *Stats) RecordFailure(err error) {
	s.Failures.Add(1)
	if err == nil {
		return
	}
	s.errMu.Lock()
	s.errors[err.Error()]++
	s.errMu.Unlock()
}

// ErrorCounts returns a copy of the failure messages seen so far.
func (s *Stats) ErrorCounts() map[string]int {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	out := make(map[string]int, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

// Sample is one windowed throughput reading.
type Sample struct {
	Cycle   int
	At      time.Time
	Elapsed time.Duration // since cycle start
	Total   int64
	Delta   int64
	Window  time.Duration
	Speed   float64 // bytes/s
}

// Summary is the final report of a cycle.
type Summary struct {
	Cycle      int
	SessionID  string
	Started    time.Time
	Elapsed    time.Duration
	TotalBytes int64
	Average    float64 // bytes/s

	P50     float64
	P90     float64
	Mean    float64 // mean of the sampled speeds
	Peak    float64
	Samples int64

	Requests  uint64
	Failures  uint64
	Retries   uint64
	Rotations uint64
	Exhausted uint64
	Errors    map[string]int

	Stragglers int // workers still running after the join timeout
	Cancelled  bool
}

// Summarize builds the cycle summary from the current counters.
func (s *Stats) Summarize(cycle int, started time.Time, elapsed time.Duration) Summary {
	total := s.Bytes.Total()
	avg := 0.0
	if elapsed > 0 {
		avg = float64(total) / elapsed.Seconds()
	}
	return Summary{
		Cycle:      cycle,
		Started:    started,
		Elapsed:    elapsed,
		TotalBytes: total,
		Average:    avg,
		P50:        float64(s.Speeds.ValueAtQuantile(50)),
		P90:        float64(s.Speeds.ValueAtQuantile(90)),
		Mean:       s.Speeds.Mean(),
		Peak:       float64(s.Speeds.Max()),
		Samples:    s.Speeds.TotalCount(),
		Requests:   s.Requests.Load(),
		Failures:   s.Failures.Load(),
		Retries:    s.Retries.Load(),
		Rotations:  s.Rotations.Load(),
		Exhausted:  s.Exhausted.Load(),
		Errors:     s.ErrorCounts(),
	}
}

// TopErrors returns error messages ordered by count, most frequent first.
func (s Summary) TopErrors() []string {
	keys := make([]string, 0, len(s.Errors))
	for k := range s.Errors {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if s.Errors[keys[i]] != s.Errors[keys[j]] {
			return s.Errors[keys[i]] > s.Errors[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
