package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/meridian-search/meridian/pkg/logger"
)

// Timeout bounds every request by d. When the handler misses the deadline
// and has not started a response, the client gets the 504 error envelope.
// Handlers are expected to honor ctx cancellation; queries are read-only so
// an abandoned one leaves no index state behind.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			guard := &deadlineGuard{ResponseWriter: w}
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				next.ServeHTTP(guard, r.WithContext(ctx))
			}()

			select {
			case <-finished:
			case <-ctx.Done():
				if guard.started() {
					// too late to change the response; let the handler drain
					<-finished
					return
				}
				logger.FromContext(r.Context()).Warn("request deadline exceeded",
					"method", r.Method, "path", r.URL.Path, "timeout", d)
				w.Header().Set("Content-Type", "application/json; charset=UTF-8")
				w.WriteHeader(http.StatusGatewayTimeout)
				w.Write([]byte(`{"message":"request timeout","status":504}`))
			}
		})
	}
}

// deadlineGuard records whether the wrapped writer has been touched, so the
// timeout path knows if a 504 can still be written.
type deadlineGuard struct {
	http.ResponseWriter
	mu      sync.Mutex
	touched bool
}

func (g *deadlineGuard) started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.touched
}

func (g *deadlineGuard) WriteHeader(code int) {
	g.mu.Lock()
	g.touched = true
	g.mu.Unlock()
	g.ResponseWriter.WriteHeader(code)
}

func (g *deadlineGuard) Write(b []byte) (int, error) {
	g.mu.Lock()
	g.touched = true
	g.mu.Unlock()
	return g.ResponseWriter.Write(b)
}
