package runner

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"bwprobe/internal/limiter"
	"bwprobe/internal/stats"
)

// Runner is the session controller. It moves through
// Idle -> Running -> Draining -> Idle for every repeat cycle and ends in
// Stopped.
type Runner struct {
	Cfg       Config
	SessionID string

	fetcher  Fetcher
	reporter Reporter
	log      logrus.FieldLogger
	bucket   *limiter.TokenBucket
	tmpl     *TemplateEngine
	seed     int64

	started atomic.Bool
	state   atomic.Int32
	active  atomic.Int64

	mu        sync.Mutex
	stop      context.CancelFunc
	stopped   bool
	current   *stats.Stats
	summaries []stats.Summary

	// test hook, see worker.onOpen
	onOpen func(url string)
}

type Option func(*Runner)

// WithFetcher replaces the HTTP transport.
func WithFetcher(f Fetcher) Option {
	return func(r *Runner) { r.fetcher = f }
}

// WithReporter adds a reporter. It can be given more than once.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) {
		if rep == nil {
			return
		}
		if rs, ok := r.reporter.(Reporters); ok {
			r.reporter = append(rs, rep)
			return
		}
		r.reporter = Reporters{rep}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = log }
}

// WithSeed fixes the random source used for URL selection and templates.
func WithSeed(seed int64) Option {
	return func(r *Runner) { r.seed = seed }
}

// NewRunner normalizes and validates cfg. Configuration errors are returned
// here, before any worker exists.
func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		Cfg:       cfg,
		SessionID: uuid.NewString(),
		reporter:  Reporters{},
		log:       logrus.StandardLogger(),
		seed:      time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fetcher == nil {
		r.fetcher = NewHTTPFetcher(cfg.Timeout, cfg.Concurrency, cfg.Insecure)
	}
	r.log = r.log.WithField("session", r.SessionID[:8])

	tmpl, err := NewTemplateEngine(cfg.URLs, r.seed)
	if err != nil {
		return nil, err
	}
	r.tmpl = tmpl

	if cfg.LimitMbps > 0 {
		r.bucket = limiter.FromMbps(cfg.LimitMbps, cfg.Burst)
	}
	return r, nil
}

func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// Current returns the stats of the running (or last) cycle.
func (r *Runner) Current() *stats.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Summaries returns the summaries of all finished cycles.
func (r *Runner) Summaries() []stats.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stats.Summary, len(r.summaries))
	copy(out, r.summaries)
	return out
}

// ActiveWorkers returns the number of worker goroutines still running.
func (r *Runner) ActiveWorkers() int64 {
	return r.active.Load()
}

// Stop drains the current cycle and ends the session. Safe to call from any
// goroutine, including before Run.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.stop != nil {
		r.stop()
	}
}

// Run executes cycles until the configured count is reached or ctx is
// cancelled. Cancellation is a normal way to finish and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer r.setState(StateStopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.stop = cancel
	if r.stopped {
		cancel()
	}
	r.mu.Unlock()

	for cycle := 1; r.Cfg.Cycles == 0 || cycle <= r.Cfg.Cycles; cycle++ {
		if ctx.Err() != nil {
			return nil
		}
		r.runCycle(ctx, cycle)

		if ctx.Err() != nil || (r.Cfg.Cycles != 0 && cycle == r.Cfg.Cycles) {
			return nil
		}

		r.setState(StateIdle)
		if r.Cfg.Interval > 0 {
			r.log.WithField("interval", r.Cfg.Interval).Info("waiting before next cycle")
			if sleepContext(ctx, r.Cfg.Interval) != nil {
				return nil
			}
		}
	}
	return nil
}

func (r *Runner) runCycle(ctx context.Context, cycle int) stats.Summary {
	log := r.log.WithField("cycle", cycle)

	// Every cycle starts from a zeroed counter. Stragglers from a previous
	// cycle keep writing to their own, already summarized, stats.
	st := stats.NewStats()
	r.mu.Lock()
	r.current = st
	r.mu.Unlock()

	var cycleCtx context.Context
	var cancel context.CancelFunc
	if r.Cfg.Bounded() {
		cycleCtx, cancel = context.WithTimeout(ctx, r.Cfg.Duration)
	} else {
		cycleCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := time.Now()
	r.setState(StateRunning)
	r.reporter.CycleStarted(CycleInfo{
		SessionID: r.SessionID,
		Cycle:     cycle,
		Started:   start,
		Config:    r.Cfg,
	})
	log.WithFields(logrus.Fields{
		"workers": r.Cfg.Concurrency,
		"urls":    len(r.Cfg.URLs),
	}).Info("cycle started")

	var wg conc.WaitGroup
	var running atomic.Int64
	for i := 0; i < r.Cfg.Concurrency; i++ {
		w := r.newWorker(i, cycle, st, log)
		running.Add(1)
		r.active.Add(1)
		wg.Go(func() {
			defer r.active.Add(-1)
			defer running.Add(-1)
			// Failures are logged by the worker itself.
			_ = w.run(cycleCtx)
		})
	}

	var recovered *panics.Recovered
	workersDone := make(chan struct{})
	go func() {
		recovered = wg.WaitAndRecover()
		close(workersDone)
	}()

	// End the cycle early if every worker gave up.
	go func() {
		select {
		case <-workersDone:
			cancel()
		case <-cycleCtx.Done():
		}
	}()

	sampler := NewSampler(&st.Bytes, r.Cfg.SampleInterval, cycle, start)
	sampler.Run(cycleCtx, func(s stats.Sample) {
		st.Speeds.RecordValue(int64(s.Speed))
		r.reporter.Sampled(s)
	})

	r.setState(StateDraining)
	cancel()

	stragglers := 0
	join := time.NewTimer(r.Cfg.JoinTimeout)
	select {
	case <-workersDone:
		join.Stop()
		if recovered != nil {
			log.WithField("panic", recovered.String()).Error("worker panicked")
		}
	case <-join.C:
		stragglers = int(running.Load())
		log.WithField("stragglers", stragglers).Warn("workers did not stop within join timeout")
	}

	sum := st.Summarize(cycle, start, time.Since(start))
	sum.SessionID = r.SessionID
	sum.Stragglers = stragglers
	sum.Cancelled = ctx.Err() != nil

	r.mu.Lock()
	r.summaries = append(r.summaries, sum)
	r.mu.Unlock()

	log.WithFields(logrus.Fields{
		"bytes":   sum.TotalBytes,
		"elapsed": sum.Elapsed.Round(time.Millisecond),
		"mbps":    stats.Mbps(sum.Average),
	}).Info("cycle finished")
	r.reporter.CycleFinished(sum)
	return sum
}

func (r *Runner) newWorker(id, cycle int, st *stats.Stats, log logrus.FieldLogger) *worker {
	rng := rand.New(rand.NewSource(r.seed + int64(cycle)*1_000_003 + int64(id)))
	return &worker{
		id:      id,
		cycle:   cycle,
		cfg:     r.Cfg,
		fetcher: r.fetcher,
		bucket:  r.bucket,
		stats:   st,
		picker:  newPicker(r.Cfg.URLs, r.Cfg.Pick, id, rng),
		tmpl:    r.tmpl,
		log:     log.WithField("worker", id),
		onOpen:  r.onOpen,
	}
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
