package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/logging"
)

// Recovery catches panics from downstream handlers, logs the stack trace,
// and returns a 500 rather than crashing the server.
func Recovery(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := debug.Stack()
					log.WithContext(r.Context()).WithFields(map[string]interface{}{
						"panic":  fmt.Sprintf("%v", rec),
						"stack":  string(stack),
						"path":   r.URL.Path,
						"method": r.Method,
					}).Error("panic recovered")

					WriteError(w, log, apperrors.Internal("request handling", fmt.Errorf("%v", rec)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
