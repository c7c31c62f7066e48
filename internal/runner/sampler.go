package runner

import (
	"context"
	"time"

	"bwprobe/internal/stats"
)

// Sampler turns the running byte total into windowed throughput readings.
// It only reads the counter.
type Sampler struct {
	counter  *stats.Counter
	interval time.Duration
	cycle    int

	start     time.Time
	lastTime  time.Time
	lastTotal int64

	now func() time.Time
}

func NewSampler(counter *stats.Counter, interval time.Duration, cycle int, start time.Time) *Sampler {
	return &Sampler{
		counter:   counter,
		interval:  interval,
		cycle:     cycle,
		start:     start,
		lastTime:  start,
		lastTotal: counter.Total(),
		now:       time.Now,
	}
}

// Sample computes the speed since the previous call. ok is false when no
// time has passed.
func (s *Sampler) Sample() (stats.Sample, bool) {
	now := s.now()
	total := s.counter.Total()
	dt := now.Sub(s.lastTime)
	if dt <= 0 {
		return stats.Sample{}, false
	}

	delta := total - s.lastTotal
	out := stats.Sample{
		Cycle:   s.cycle,
		At:      now,
		Elapsed: now.Sub(s.start),
		Total:   total,
		Delta:   delta,
		Window:  dt,
		Speed:   float64(delta) / dt.Seconds(),
	}

	s.lastTotal = total
	s.lastTime = now
	return out, true
}

// Run emits a sample every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context, emit func(stats.Sample)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sample, ok := s.Sample(); ok {
				emit(sample)
			}
		}
	}
}
