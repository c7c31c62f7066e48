package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"bwprobe/internal/limiter"
	"bwprobe/internal/stats"
)

// worker streams bytes from rotating URLs until its context ends.
type worker struct {
	id      int
	cycle   int
	cfg     Config
	fetcher Fetcher
	bucket  *limiter.TokenBucket
	stats   *stats.Stats
	picker  *picker
	tmpl    *TemplateEngine
	log     logrus.FieldLogger

	requests uint64
	// onOpen is a test hook called with every rendered request URL.
	onOpen func(url string)
}

// run is the worker loop. It returns nil on cancellation and
// ErrRetriesExhausted when a bounded cycle gives up on an endpoint.
func (w *worker) run(ctx context.Context) error {
	url := w.picker.first()
	var fromURL int64
	buf := make([]byte, w.cfg.ChunkSize)

	for ctx.Err() == nil {
		body, err := w.open(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.stats.Exhausted.Add(1)
			log := w.log.WithError(err).WithField("url", url)
			if w.cfg.Bounded() {
				log.Error("retries exhausted, stopping worker")
				return fmt.Errorf("%w: %s: %v", ErrRetriesExhausted, url, err)
			}
			url, fromURL = w.rotate(url), 0
			log.WithField("next", url).Warn("retries exhausted, rotating url")
			continue
		}

		received, rotate, err := w.stream(ctx, body, buf, &fromURL)
		body.Close()

		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			w.stats.RecordFailure(err)
			w.log.WithError(err).WithFields(logrus.Fields{
				"url":      url,
				"received": received,
			}).Warn("stream interrupted, reconnecting")
		case rotate:
			next := w.rotate(url)
			w.log.WithFields(logrus.Fields{"url": url, "next": next}).Debug("rotation threshold reached")
			url, fromURL = next, 0
			continue
		}

		// A stream that ended without delivering anything gets a pause so an
		// empty or broken endpoint is not hammered in a tight loop.
		if received == 0 {
			if sleepContext(ctx, w.cfg.Retry.Delay(0)) != nil {
				return nil
			}
		}
	}
	return nil
}

// open starts a stream on url, retrying transient failures with backoff.
func (w *worker) open(ctx context.Context, url string) (io.ReadCloser, error) {
	return withRetry(ctx, w.cfg.Retry, func() (io.ReadCloser, error) {
		w.requests++
		target, err := w.tmpl.Render(url, TemplateData{
			Worker:  w.id,
			Cycle:   w.cycle,
			Request: w.requests,
		})
		if err != nil {
			return nil, fmt.Errorf("render url: %w", err)
		}
		if w.onOpen != nil {
			w.onOpen(target)
		}

		w.stats.Requests.Add(1)
		body, err := w.fetcher.Open(ctx, target)
		if err != nil {
			w.stats.RecordFailure(err)
			return nil, err
		}
		return body, nil
	}, func(err error, attempt int, wait time.Duration) {
		w.stats.Retries.Add(1)
		w.log.WithError(err).WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempt + 1,
			"wait":    wait,
		}).Warn("download failed, retrying")
	})
}

// stream copies chunks from body into the counter, paying the limiter for
// each one first. It returns rotate=true once the per-URL threshold is met.
func (w *worker) stream(ctx context.Context, body io.Reader, buf []byte, fromURL *int64) (received int64, rotate bool, err error) {
	for {
		if ctx.Err() != nil {
			return received, false, nil
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return received, false, nil
			}
			if err := w.bucket.Acquire(ctx, n); err != nil {
				return received, false, nil
			}
			w.stats.Bytes.Add(int64(n))
			received += int64(n)
			*fromURL += int64(n)
			if *fromURL >= w.cfg.RotateAfter {
				return received, true, nil
			}
		}

		if rerr == io.EOF {
			return received, false, nil
		}
		if rerr != nil {
			return received, false, rerr
		}
	}
}

func (w *worker) rotate(current string) string {
	w.stats.Rotations.Add(1)
	return w.picker.next(current)
}
