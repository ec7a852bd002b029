package core

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// RecoveryMiddleware recovers panics in the control port's HTTP handlers so
// a single bad request (or a plugin's Peek/Process bug reached through a
// status endpoint) cannot take the listener down. Logs the panic with a
// stack trace and returns 500 to the caller.
func RecoveryMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					stackTrace := debug.Stack()
					if logger != nil {
						logger.Error("control port handler panic recovered", map[string]interface{}{
							"panic":      err,
							"error_type": fmt.Sprintf("%T", err),
							"path":       r.URL.Path,
							"method":     r.Method,
							"stack":      string(stackTrace),
							"remote_ip":  r.RemoteAddr,
						})
					}
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
