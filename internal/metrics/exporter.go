package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"bwprobe/internal/runner"
	"bwprobe/internal/stats"
)

// Exporter mirrors the session into Prometheus metrics. It is a
// runner.Reporter and owns its registry so tests and several sessions do not
// collide on the default one.
type Exporter struct {
	registry *prometheus.Registry

	bytes      prometheus.Counter
	throughput prometheus.Gauge
	average    prometheus.Gauge
	cycle      prometheus.Gauge
	cycles     prometheus.Counter
	requests   prometheus.Counter
	failures   prometheus.Counter
	rotations  prometheus.Counter

	// cycle total already added to bytes
	counted int64
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bwprobe",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes counted by all workers",
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bwprobe",
			Name:      "throughput_bytes_per_second",
			Help:      "Throughput over the last sample window",
		}),
		average: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bwprobe",
			Name:      "cycle_average_bytes_per_second",
			Help:      "Average throughput of the last finished cycle",
		}),
		cycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bwprobe",
			Name:      "cycle",
			Help:      "Number of the running cycle",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bwprobe",
			Name:      "cycles_completed_total",
			Help:      "Finished cycles",
		}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bwprobe",
			Name:      "requests_total",
			Help:      "Download requests issued",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bwprobe",
			Name:      "failures_total",
			Help:      "Failed download attempts and interrupted streams",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bwprobe",
			Name:      "rotations_total",
			Help:      "URL rotations",
		}),
	}
	e.registry.MustRegister(
		e.bytes, e.throughput, e.average, e.cycle,
		e.cycles, e.requests, e.failures, e.rotations,
	)
	return e
}

func (e *Exporter) CycleStarted(info runner.CycleInfo) {
	e.cycle.Set(float64(info.Cycle))
	e.throughput.Set(0)
	e.counted = 0
}

func (e *Exporter) Sampled(s stats.Sample) {
	e.addBytes(s.Total)
	e.throughput.Set(s.Speed)
}

// CycleFinished settles the counters that are only known per cycle. Bytes
// after the last sample are added here so the total matches the summary.
func (e *Exporter) CycleFinished(sum stats.Summary) {
	e.addBytes(sum.TotalBytes)
	e.cycles.Inc()
	e.average.Set(sum.Average)
	e.throughput.Set(0)
	e.requests.Add(float64(sum.Requests))
	e.failures.Add(float64(sum.Failures))
	e.rotations.Add(float64(sum.Rotations))
}

func (e *Exporter) addBytes(total int64) {
	if total > e.counted {
		e.bytes.Add(float64(total - e.counted))
		e.counted = total
	}
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
