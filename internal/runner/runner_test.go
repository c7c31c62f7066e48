package runner

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bwprobe/internal/dummy"
	"bwprobe/internal/limiter"
	"bwprobe/internal/stats"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(dummy.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestNewRunnerRejectsInvalidConfig(t *testing.T) {
	_, err := NewRunner(Config{Concurrency: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRunner(Config{URLs: []string{"http://a"}, Concurrency: 1, Cycles: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig, "repeating forever needs a duration")
}

func TestRunRespectsRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("real time")
	}
	base := newTestServer(t)

	cfg := testConfig(base+"/stream?u=1", base+"/stream?u=2")
	cfg.Concurrency = 4
	cfg.LimitMbps = 8 // 1 MiB/s
	cfg.Burst = 0.1
	cfg.Duration = 1500 * time.Millisecond
	cfg.RotateAfter = 256 * 1024
	cfg.SampleInterval = 250 * time.Millisecond

	rec := &recordingReporter{}
	r, err := NewRunner(cfg, WithReporter(rec), WithLogger(quietLogger()), WithSeed(7))
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))

	sums := r.Summaries()
	require.Len(t, sums, 1)
	sum := sums[0]

	limit := 8 * float64(limiter.BytesPerMbps)
	assert.Positive(t, sum.TotalBytes)
	assert.LessOrEqual(t, sum.Average, limit*1.15)
	assert.Positive(t, sum.Rotations, "256 KiB threshold is crossed several times")
	assert.False(t, sum.Cancelled)
	assert.Zero(t, sum.Stragglers)
	assert.Equal(t, r.SessionID, sum.SessionID)
	assert.Equal(t, StateStopped, r.State())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.started, 1)
	require.Len(t, rec.sums, 1)
	assert.NotEmpty(t, rec.samples)
	for _, s := range rec.samples {
		assert.Equal(t, 1, s.Cycle)
	}
}

func TestLimiterWaitIsNotAnIdleTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("real time")
	}
	base := newTestServer(t)

	cfg := testConfig(base + "/stream")
	cfg.Concurrency = 1
	cfg.LimitMbps = 0.625 // 80 KiB/s, ~0.4s per 32 KiB chunk
	cfg.Burst = 0.25
	cfg.ChunkSize = 32 * 1024
	cfg.Timeout = 200 * time.Millisecond
	cfg.Duration = 2 * time.Second

	r, err := NewRunner(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	sums := r.Summaries()
	require.Len(t, sums, 1)
	sum := sums[0]

	assert.Positive(t, sum.TotalBytes)
	assert.Zero(t, sum.Failures, "errors: %v", sum.Errors)
	assert.Empty(t, sum.Errors)
	assert.Equal(t, uint64(1), sum.Requests)
}

func TestRunStopsPromptlyOnCancel(t *testing.T) {
	base := newTestServer(t)

	cfg := testConfig(base + "/slow?kbps=64")
	cfg.Concurrency = 3
	cfg.JoinTimeout = 2 * time.Second

	r, err := NewRunner(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		cur := r.Current()
		return cur != nil && cur.Bytes.Total() > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(cfg.JoinTimeout + time.Second):
		t.Fatal("run did not return after cancellation")
	}

	sums := r.Summaries()
	require.Len(t, sums, 1)
	assert.True(t, sums[0].Cancelled)
	assert.Positive(t, sums[0].TotalBytes)
	assert.Zero(t, r.ActiveWorkers())
	assert.Equal(t, StateStopped, r.State())
}

func TestStopEndsContinuousSession(t *testing.T) {
	r, err := NewRunner(testConfig("http://a"),
		WithFetcher(fetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
			return endlessBody(), nil
		})),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool { return r.State() == StateRunning }, time.Second, time.Millisecond)
	r.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after Stop")
	}
	assert.Equal(t, StateStopped, r.State())
}

func TestStopBeforeRun(t *testing.T) {
	r, err := NewRunner(testConfig("http://a"), WithLogger(quietLogger()))
	require.NoError(t, err)

	r.Stop()
	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, r.Summaries())
	assert.Equal(t, StateStopped, r.State())
}

func TestRunTwice(t *testing.T) {
	cfg := testConfig("http://a")
	cfg.Duration = 10 * time.Millisecond
	r, err := NewRunner(cfg,
		WithFetcher(fetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
			return endlessBody(), nil
		})),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyStarted)
}

func TestRunRepeatsCyclesWithFreshCounter(t *testing.T) {
	if testing.Short() {
		t.Skip("real time")
	}
	base := newTestServer(t)

	cfg := testConfig(base + "/stream")
	cfg.Concurrency = 2
	cfg.LimitMbps = 8
	cfg.Burst = 0.1
	cfg.Duration = 300 * time.Millisecond
	cfg.Interval = 50 * time.Millisecond
	cfg.Cycles = 3
	cfg.SampleInterval = 100 * time.Millisecond

	rec := &recordingReporter{}
	r, err := NewRunner(cfg, WithReporter(rec), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	sums := r.Summaries()
	require.Len(t, sums, 3)

	// 1 MiB/s for 0.3s plus a 0.1 MiB bucket stays well under 0.6 MiB per
	// cycle. A counter carried over between cycles would not.
	for i, sum := range sums {
		assert.Equal(t, i+1, sum.Cycle)
		assert.Positive(t, sum.TotalBytes)
		assert.Less(t, sum.TotalBytes, int64(600*1024), "cycle %d", sum.Cycle)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.started, 3)
	for i, info := range rec.started {
		assert.Equal(t, i+1, info.Cycle)
		assert.Equal(t, r.SessionID, info.SessionID)
	}
	for i := 1; i < len(rec.started); i++ {
		gap := rec.started[i].Started.Sub(rec.started[i-1].Started)
		assert.GreaterOrEqual(t, gap, cfg.Duration+cfg.Interval)
	}
}

func TestCycleEndsWhenEveryWorkerGivesUp(t *testing.T) {
	base := newTestServer(t)

	cfg := testConfig(base + "/status/500")
	cfg.Concurrency = 3
	cfg.Duration = time.Minute

	r, err := NewRunner(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, r.Run(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Second)

	sums := r.Summaries()
	require.Len(t, sums, 1)
	assert.Zero(t, sums[0].TotalBytes)
	assert.EqualValues(t, 3, sums[0].Exhausted)
	assert.EqualValues(t, 9, sums[0].Failures)
	assert.Equal(t, []string{"unexpected status: 500 Internal Server Error"}, sums[0].TopErrors())
}

func TestStragglersAreReported(t *testing.T) {
	// A body that ignores cancellation holds its worker past the join timeout.
	release := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	cfg := testConfig("http://a")
	cfg.Concurrency = 2
	cfg.Duration = 50 * time.Millisecond
	cfg.JoinTimeout = 100 * time.Millisecond

	r, err := NewRunner(cfg,
		WithFetcher(fetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
			return io.NopCloser(readerFunc(func(p []byte) (int, error) {
				<-release
				return 0, io.EOF
			})), nil
		})),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, r.Run(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)

	sums := r.Summaries()
	require.Len(t, sums, 1)
	assert.Equal(t, 2, sums[0].Stragglers)
	assert.EqualValues(t, 2, r.ActiveWorkers())

	once.Do(func() { close(release) })
	assert.Eventually(t, func() bool { return r.ActiveWorkers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStatsUpdateChanDeliversLifecycle(t *testing.T) {
	cfg := testConfig("http://a")
	cfg.Duration = 120 * time.Millisecond
	cfg.SampleInterval = 20 * time.Millisecond

	updates := make(StatsUpdateChan, 100)
	r, err := NewRunner(cfg,
		WithFetcher(fetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
			return endlessBody(), nil
		})),
		WithReporter(updates),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))
	close(updates)

	var kinds []UpdateKind
	var last stats.Summary
	for u := range updates {
		kinds = append(kinds, u.Kind)
		if u.Kind == UpdateCycleFinished {
			last = u.Summary
		}
	}

	require.GreaterOrEqual(t, len(kinds), 3)
	assert.Equal(t, UpdateCycleStarted, kinds[0])
	assert.Equal(t, UpdateCycleFinished, kinds[len(kinds)-1])
	assert.Contains(t, kinds, UpdateSample)
	assert.Equal(t, 1, last.Cycle)
	assert.Positive(t, last.TotalBytes)
}
