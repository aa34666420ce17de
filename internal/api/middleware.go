package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/oplock"
)

// RequestLogger returns a Chi-compatible middleware that logs each request
// using the provided zap logger. It logs method, path, status, bytes
// written, request ID and remote address.
// Chi's middleware.RequestID is expected to run before this middleware so
// that the request ID is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// LockStatusGate implements §4.7's external HTTP middleware: it consults
// the operation lock on every incoming write request and refuses with 503
// when a restore lock is held, since a restore in flight is actively
// re-populating the target database. It is applied only to routes outside
// "the backup management surface" (backup-now/restore-now and the runner
// endpoints acquire and release the lock themselves via the pipelines) —
// wire it onto target/destination/schedule mutation routes in the router.
func LockStatusGate(locks *oplock.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
				if _, held := locks.AnyHeld(oplock.OpRestore); held {
					errJSON(w, http.StatusServiceUnavailable,
						"service temporarily unavailable: a restore is in progress", "restore_in_progress")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
