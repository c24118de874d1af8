package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/logging"
)

const defaultRequestTimeout = 30 * time.Second

// Timeout bounds handler execution; the downstream handler keeps running in
// its own goroutine (Go has no way to force-preempt it) but the client gets
// a timely 504 once the deadline passes.
func Timeout(d time.Duration, log *logging.Logger) func(http.Handler) http.Handler {
	if d <= 0 {
		d = defaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			done := make(chan struct{})
			tw := &timeoutWriter{ResponseWriter: w}

			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				tw.mu.Lock()
				wrote := tw.wroteHeader
				tw.mu.Unlock()
				if !wrote {
					WriteError(w, log, apperrors.Timeout("http_request"))
				}
			}
		})
	}
}

type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.ResponseWriter.WriteHeader(code)
	}
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	tw.wroteHeader = true
	tw.mu.Unlock()
	return tw.ResponseWriter.Write(b)
}
