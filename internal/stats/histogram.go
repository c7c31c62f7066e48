package stats

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// maxTrackableSpeed is 100 GiB/s.
const maxTrackableSpeed = 100 << 30

// SafeHistogram is a thread-safe wrapper around hdrhistogram
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1 B/s to 100 GiB/s, 3 significant figures
	h := hdrhistogram.New(1, maxTrackableSpeed, 3)
	return &SafeHistogram{hist: h}
}

// RecordValue records a speed in bytes/s. Out of range values are clamped.
func (h *SafeHistogram) RecordValue(v int64) error {
	if v < 1 {
		v = 1
	}
	if v > maxTrackableSpeed {
		v = maxTrackableSpeed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.RecordValue(v)
}

func (h *SafeHistogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.ValueAtQuantile(q)
}

func (h *SafeHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean()
}

func (h *SafeHistogram) Max() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Max()
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}
