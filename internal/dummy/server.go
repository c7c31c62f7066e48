package dummy

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

type ServerConfig struct {
	Port int
}

// Payload block written repeatedly by the streaming endpoints.
var block = func() []byte {
	b := make([]byte, 32*1024)
	rand.New(rand.NewSource(1)).Read(b)
	return b
}()

// Handler serves the test endpoints:
//
//	/stream?size=N   N bytes (default: endless until the client leaves)
//	/slow?kbps=N     endless body paced at N KiB/s (default 256)
//	/error           random 500/429/200
//	/flaky?cut=N     sends N bytes (default 64 KiB) then drops the connection
//	/status/{code}   empty response with the given status
func Handler() http.Handler {
	mux := http.NewServeMux()

	// 1. Stream Endpoint (fixed size or endless)
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		size := queryInt(r, "size", -1)
		if size >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		writeBody(r.Context(), w, size, 0)
	})

	// 2. Slow Endpoint - good for rate and cancellation tests
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		kbps := queryInt(r, "kbps", 256)
		writeBody(r.Context(), w, -1, kbps*1024)
	})

	// 3. Error Endpoint (Random failures)
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		rnd := rand.Float32()
		if rnd < 0.2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("500 Internal Server Error"))
		} else if rnd < 0.4 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("429 Too Many Requests"))
		} else {
			writeBody(r.Context(), w, int64(len(block)), 0)
		}
	})

	// 4. Flaky Endpoint (connection cut mid-stream)
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		cut := queryInt(r, "cut", 64*1024)
		w.Header().Set("Content-Length", strconv.FormatInt(cut*2, 10))
		writeBody(r.Context(), w, cut, 0)
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
			}
		}
	})

	// 5. Status Endpoint
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.URL.Path[len("/status/"):])
		if err != nil || code < 100 || code > 999 {
			code = http.StatusBadRequest
		}
		w.WriteHeader(code)
	})

	return mux
}

// Start runs the server in the background and returns it for shutdown.
func Start(cfg ServerConfig) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("👻 Dummy Server running on http://localhost%s\n", addr)
	fmt.Println("   Endpoints: /stream, /slow, /error, /flaky, /status/{code}")

	server := &http.Server{
		Addr:    addr,
		Handler: Handler(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("dummy server failed")
		}
	}()
	return server
}

// writeBody writes size bytes (or forever when size < 0), optionally paced
// to bytesPerSec, until the client goes away.
func writeBody(ctx context.Context, w http.ResponseWriter, size int64, bytesPerSec int64) {
	flusher, _ := w.(http.Flusher)
	var written int64
	start := time.Now()

	for size < 0 || written < size {
		if ctx.Err() != nil {
			return
		}
		chunk := block
		if size >= 0 && size-written < int64(len(chunk)) {
			chunk = chunk[:size-written]
		}
		if bytesPerSec > 0 {
			due := start.Add(time.Duration(float64(written) / float64(bytesPerSec) * float64(time.Second)))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
			if int64(len(chunk)) > bytesPerSec/8 && bytesPerSec >= 8 {
				chunk = chunk[:bytesPerSec/8]
			}
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func queryInt(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
