package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/authz"
	"github.com/vaultkeep/backupd/internal/oplock"
	"github.com/vaultkeep/backupd/internal/pipeline"
	"github.com/vaultkeep/backupd/internal/repository"
	"github.com/vaultkeep/backupd/internal/restore"
	"github.com/vaultkeep/backupd/internal/websocket"
)

const (
	permBackupRun     = "backup:run"
	permBackupRestore = "backup:restore"
)

// Dependencies bundles everything NewRouter needs to construct every
// handler and wire every route (§6.1).
type Dependencies struct {
	Targets      repository.TargetRepository
	Destinations repository.DestinationRepository
	Schedules    repository.ScheduleRepository
	Runs         repository.RunRepository
	Audit        repository.AuditEventRepository

	Pipeline *pipeline.Pipeline
	Restore  *restore.Pipeline
	Locks    *oplock.Manager
	Hub      *websocket.Hub

	Verifier authz.Verifier
	TempDir  string
	Logger   *zap.Logger
}

// NewRouter builds the full chi.Router for the backup orchestration engine.
// Every route under /automation requires a valid bearer credential
// (authz.Authenticate), except the WebSocket endpoint, which verifies its
// own token query parameter; /metrics is unauthenticated. Some routes
// additionally require a specific permission (authz.RequirePermission).
// Target/destination/schedule mutation routes are also gated by
// LockStatusGate so that a write attempted mid-restore is refused rather
// than racing the restore's own writes.
func NewRouter(deps Dependencies) http.Handler {
	targetHandler := NewTargetHandler(deps.Targets, deps.Logger)
	destinationHandler := NewDestinationHandler(deps.Destinations, deps.Logger)
	scheduleHandler := NewScheduleHandler(deps.Schedules, deps.Pipeline, deps.Logger)
	runHandler := NewRunHandler(deps.Runs, deps.Logger)
	auditHandler := NewAuditHandler(deps.Audit, deps.Logger)
	backupHandler := NewBackupHandler(deps.Destinations, deps.Schedules, deps.Runs, deps.Pipeline, deps.Restore, deps.Locks, deps.TempDir, deps.Logger)
	wsHandler := NewWSHandler(deps.Hub, deps.Verifier, deps.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestLogger(deps.Logger))

	// The WebSocket upgrade endpoint authenticates via a `token` query
	// parameter (see ws.go) rather than the Authorization header, so it
	// sits outside the /automation authz.Authenticate subtree.
	r.Get("/automation/ws", wsHandler.ServeWS)

	// Prometheus scraping is unauthenticated, matching the usual
	// cluster-internal-only exposure of a metrics endpoint.
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/automation", func(r chi.Router) {
		r.Use(authz.Authenticate(deps.Verifier))

		mutating := func(r chi.Router) {
			r.Use(LockStatusGate(deps.Locks))
		}

		r.Route("/targets", func(r chi.Router) {
			r.Get("/", targetHandler.List)
			r.Group(func(r chi.Router) {
				mutating(r)
				r.Post("/", targetHandler.Create)
				r.Put("/{id}", targetHandler.Update)
				r.Delete("/{id}", targetHandler.Delete)
			})
			r.Get("/{id}", targetHandler.GetByID)
			r.Get("/{id}/stats", targetHandler.Stats)
			r.Post("/test-connection", targetHandler.TestConnection)
		})

		r.Route("/destinations", func(r chi.Router) {
			r.Get("/", destinationHandler.List)
			r.Group(func(r chi.Router) {
				mutating(r)
				r.Post("/", destinationHandler.Create)
				r.Put("/{id}", destinationHandler.Update)
				r.Delete("/{id}", destinationHandler.Delete)
			})
			r.Get("/{id}", destinationHandler.GetByID)
			r.Get("/{id}/backups", backupHandler.ListBackups)
			r.Get("/{id}/backups/download", backupHandler.DownloadBackup)
			r.Delete("/{id}/backups/delete", backupHandler.DeleteBackup)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", scheduleHandler.List)
			r.Group(func(r chi.Router) {
				mutating(r)
				r.Post("/", scheduleHandler.Create)
				r.Patch("/{id}", scheduleHandler.Update)
				r.Delete("/{id}", scheduleHandler.Delete)
			})
			r.Get("/{id}", scheduleHandler.GetByID)
			r.Group(func(r chi.Router) {
				r.Use(authz.RequirePermission(permBackupRun))
				r.Post("/{id}/run-now", scheduleHandler.RunNow)
				r.Post("/run-enabled-now", scheduleHandler.RunEnabledNow)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runHandler.List)
			r.Get("/{id}", runHandler.GetByID)
			r.Get("/{id}/progress", backupHandler.Progress)
			r.Delete("/{id}", runHandler.Delete)
		})

		r.Get("/status", backupHandler.Status)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", auditHandler.List)
			r.Get("/{id}", auditHandler.GetByID)
		})

		r.Group(func(r chi.Router) {
			r.Use(authz.RequirePermission(permBackupRun))
			r.Post("/backup-now", backupHandler.BackupNow)
			r.Post("/runner/run-due", backupHandler.RunDue)
		})

		r.Group(func(r chi.Router) {
			r.Use(authz.RequirePermission(permBackupRestore))
			r.Post("/restore-now", backupHandler.RestoreNow)
		})
	})

	return r
}
