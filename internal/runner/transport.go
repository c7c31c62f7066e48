package runner

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrStatus      = errors.New("unexpected status")
	ErrIdleTimeout = errors.New("read idle timeout")
)

// Fetcher opens a streaming download. Any error returned is treated as a
// transient failure unless wrapped with backoff.Permanent.
type Fetcher interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher streams GET responses. The timeout bounds connect, response
// headers and the gap between two successful reads; a healthy stream can run
// for as long as it keeps delivering bytes.
type HTTPFetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPFetcher(timeout time.Duration, conns int, insecure bool) *HTTPFetcher {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = conns * 2
	t.MaxConnsPerHost = conns * 2
	t.MaxIdleConnsPerHost = conns * 2
	t.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.TLSHandshakeTimeout = timeout
	t.ResponseHeaderTimeout = timeout
	t.DisableCompression = true // count bytes on the wire
	if insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPFetcher{
		Client:  &http.Client{Transport: t},
		Timeout: timeout,
	}
}

func (f *HTTPFetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.Client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}

	return newIdleTimeoutBody(resp.Body, f.Timeout, cancel), nil
}

// idleTimeoutBody cancels the request when a single Read blocks longer than
// timeout. Time spent between reads (e.g. waiting on the limiter) is not counted.
type idleTimeoutBody struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	expired atomic.Bool
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{body: body, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		cancel()
	})
	b.timer.Stop()
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.expired.Load() {
		return 0, fmt.Errorf("%w after %s", ErrIdleTimeout, b.timeout)
	}
	b.timer.Reset(b.timeout)
	n, err := b.body.Read(p)
	b.timer.Stop()
	if err != nil && err != io.EOF && b.expired.Load() {
		return n, fmt.Errorf("%w after %s", ErrIdleTimeout, b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.body.Close()
	b.cancel()
	return err
}
