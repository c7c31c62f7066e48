package runner

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"bwprobe/internal/limiter"
	"bwprobe/internal/stats"
)

// fetcherFunc adapts a function to the Fetcher interface.
type fetcherFunc func(ctx context.Context, url string) (io.ReadCloser, error)

func (f fetcherFunc) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	return f(ctx, url)
}

// endless is an infinite body.
type endless struct{}

func (endless) Read(p []byte) (int, error) {
	return len(p), nil
}

func endlessBody() io.ReadCloser {
	return io.NopCloser(endless{})
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func fastRetry(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		Multiplier: 2,
		MaxDelay:   10 * time.Millisecond,
	}
}

func testConfig(urls ...string) Config {
	cfg := DefaultConfig()
	cfg.URLs = urls
	cfg.Retry = fastRetry(2)
	return cfg
}

func newTestWorker(t *testing.T, cfg Config, f Fetcher, bucket *limiter.TokenBucket) *worker {
	t.Helper()
	cfg = cfg.Normalize()
	require.NoError(t, cfg.Validate())

	tmpl, err := NewTemplateEngine(cfg.URLs, 1)
	require.NoError(t, err)

	return &worker{
		cfg:     cfg,
		fetcher: f,
		bucket:  bucket,
		stats:   stats.NewStats(),
		picker:  newPicker(cfg.URLs, cfg.Pick, 0, rand.New(rand.NewSource(1))),
		tmpl:    tmpl,
		log:     quietLogger(),
	}
}

// recordingReporter keeps every event it receives.
type recordingReporter struct {
	mu      sync.Mutex
	started []CycleInfo
	samples []stats.Sample
	sums    []stats.Summary
}

func (r *recordingReporter) CycleStarted(info CycleInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, info)
}

func (r *recordingReporter) Sampled(s stats.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recordingReporter) CycleFinished(sum stats.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sums = append(r.sums, sum)
}
