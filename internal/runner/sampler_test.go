package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bwprobe/internal/stats"
)

func TestSamplerWindowedSpeed(t *testing.T) {
	var counter stats.Counter
	start := time.Unix(1000, 0)
	now := start

	s := NewSampler(&counter, time.Second, 2, start)
	s.now = func() time.Time { return now }

	counter.Add(2 * 1024 * 1024)
	now = now.Add(2 * time.Second)

	sample, ok := s.Sample()
	require.True(t, ok)
	assert.Equal(t, 2, sample.Cycle)
	assert.Equal(t, 2*time.Second, sample.Elapsed)
	assert.Equal(t, 2*time.Second, sample.Window)
	assert.EqualValues(t, 2*1024*1024, sample.Delta)
	assert.InDelta(t, 1024*1024, sample.Speed, 0.001)
	assert.InDelta(t, 8, stats.Mbps(sample.Speed), 0.001)

	// The next window only sees bytes added since the previous sample.
	counter.Add(512 * 1024)
	now = now.Add(500 * time.Millisecond)

	sample, ok = s.Sample()
	require.True(t, ok)
	assert.EqualValues(t, 512*1024, sample.Delta)
	assert.EqualValues(t, 2*1024*1024+512*1024, sample.Total)
	assert.InDelta(t, 1024*1024, sample.Speed, 0.001)
}

func TestSamplerSkipsEmptyWindow(t *testing.T) {
	var counter stats.Counter
	start := time.Unix(1000, 0)

	s := NewSampler(&counter, time.Second, 1, start)
	s.now = func() time.Time { return start }

	counter.Add(100)
	_, ok := s.Sample()
	assert.False(t, ok)
}

func TestSamplerIdleWindowIsZero(t *testing.T) {
	var counter stats.Counter
	start := time.Unix(1000, 0)
	now := start.Add(time.Second)

	s := NewSampler(&counter, time.Second, 1, start)
	s.now = func() time.Time { return now }

	sample, ok := s.Sample()
	require.True(t, ok)
	assert.Zero(t, sample.Speed)
}

func TestSamplerRunEmitsUntilCancelled(t *testing.T) {
	var counter stats.Counter
	s := NewSampler(&counter, 20*time.Millisecond, 1, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	var samples []stats.Sample
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(sm stats.Sample) {
			counter.Add(10)
			samples = append(samples, sm)
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop after cancellation")
	}

	require.NotEmpty(t, samples)
	for i := 1; i < len(samples); i++ {
		assert.True(t, samples[i].At.After(samples[i-1].At))
		assert.GreaterOrEqual(t, samples[i].Total, samples[i-1].Total)
	}
}
