// Package repository defines the data-access interfaces for the engine's
// metadata store and their GORM-backed implementations, one file per
// aggregate (target, destination, schedule, run, audit event, setting).
// The interface/implementation split mirrors the teacher's repositories/
// repository package pair, merged into one package here since this engine
// has far fewer aggregates and the split bought little beyond indirection.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vaultkeep/backupd/internal/apierr"
	"github.com/vaultkeep/backupd/internal/db"
)

// ErrNotFound and ErrConflict alias the shared apierr sentinels so callers
// can use either errors.Is(err, repository.ErrNotFound) or
// errors.Is(err, apierr.ErrNotFound) interchangeably.
var (
	ErrNotFound = apierr.ErrNotFound
	ErrConflict = apierr.ErrConflict
)

// Type aliases so repository interfaces read as domain types without every
// caller importing internal/db directly.
type (
	Target               = db.Target
	Destination          = db.Destination
	Schedule             = db.Schedule
	ScheduleDestination  = db.ScheduleDestination
	Run                  = db.Run
	AuditEvent           = db.AuditEvent
	Setting              = db.Setting
)

// ListOptions carries pagination for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// TargetRepository manages db.Target records.
type TargetRepository interface {
	Create(ctx context.Context, target *Target) error
	GetByID(ctx context.Context, id uuid.UUID) (*Target, error)
	Update(ctx context.Context, target *Target) error
	// Delete cascade-deletes the target's schedules and those schedules'
	// runs, matching §3's "deleting a target removes its schedules and
	// run history" note.
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]Target, int64, error)
}

// DestinationRepository manages db.Destination records.
type DestinationRepository interface {
	Create(ctx context.Context, destination *Destination) error
	GetByID(ctx context.Context, id uuid.UUID) (*Destination, error)
	Update(ctx context.Context, destination *Destination) error
	// Delete returns apierr.ErrValidation if the destination is still
	// referenced by any schedule, and unconditionally rejects deletion of
	// the built-in "local" destination (§3).
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]Destination, int64, error)

	// EnsureLocal creates the built-in "local" destination pointed at
	// basePath if it does not already exist. Called once at startup, after
	// migrations run, since the local artifact directory depends on
	// runtime configuration rather than a migration-time constant.
	EnsureLocal(ctx context.Context, basePath string) error

	// GetLocal returns the built-in "local" destination. Callers that offer
	// a use_local_storage convenience (§6.1 backup-now/restore-now) use
	// this instead of requiring the caller to know its id.
	GetLocal(ctx context.Context) (*Destination, error)
}

// ScheduleRepository manages db.Schedule records and their destination
// associations.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	// GetByIDWithDestinations loads a schedule with its ScheduleDestination
	// rows populated, following the teacher's GetByIDWithDestinations
	// pattern for avoiding N+1 association queries against a uuid.UUID
	// foreign key GORM cannot auto-resolve.
	GetByIDWithDestinations(ctx context.Context, id uuid.UUID) (*Schedule, error)
	Update(ctx context.Context, schedule *Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]Schedule, int64, error)
	ListByTarget(ctx context.Context, targetID uuid.UUID) ([]Schedule, error)

	// ListDue returns up to limit enabled schedules whose NextRunAt is
	// at or before asOf, ordered by NextRunAt ascending — the scheduler's
	// batch-selection query (§4.2).
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]Schedule, error)

	// UpdateSchedule persists the post-run NextRunAt/LastRunAt pair
	// without rewriting the rest of the record.
	UpdateSchedule(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error

	AddDestination(ctx context.Context, scheduleID, destinationID uuid.UUID) error
	RemoveDestination(ctx context.Context, scheduleID, destinationID uuid.UUID) error
	SetDestinations(ctx context.Context, scheduleID uuid.UUID, destinationIDs []uuid.UUID) error
}

// RunRepository manages db.Run execution records.
type RunRepository interface {
	Create(ctx context.Context, run *Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	Update(ctx context.Context, run *Run) error
	// UpdateStatus transitions a run to a terminal state, setting
	// FinishedAt and, on failure, ErrorMessage.
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, finishedAt *time.Time, details, errMsg string) error
	List(ctx context.Context, opts ListOptions) ([]Run, int64, error)
	ListByScheduleID(ctx context.Context, scheduleID uuid.UUID, opts ListOptions) ([]Run, int64, error)
	// Delete removes a run from history (§6.1 DELETE /automation/runs/{id}). It
	// does not touch any backup already uploaded to a destination.
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditFilter narrows AuditEventRepository.ListFiltered (§6.1
// "?target_id&operation&trigger"). A zero-value field means "don't filter
// on this dimension". Trigger == "non_scheduled" matches any trigger other
// than "scheduled" (§7).
type AuditFilter struct {
	TargetID  *uuid.UUID
	Operation string
	Trigger   string
}

// AuditEventRepository manages the append-only db.AuditEvent log.
type AuditEventRepository interface {
	Create(ctx context.Context, event *AuditEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*AuditEvent, error)
	// UpdateStatus transitions a started event to a terminal state — mirrors
	// RunRepository.UpdateStatus, since an AuditEvent created for a backup
	// or restore operation tracks the same started→terminal lifecycle.
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, finishedAt *time.Time, details, errMsg string) error
	List(ctx context.Context, opts ListOptions) ([]AuditEvent, int64, error)
	ListByTarget(ctx context.Context, targetID uuid.UUID, opts ListOptions) ([]AuditEvent, int64, error)
	// ListFiltered applies AuditFilter's target_id/operation/trigger
	// dimensions, used by GET /automation/audit.
	ListFiltered(ctx context.Context, filter AuditFilter, opts ListOptions) ([]AuditEvent, int64, error)
}

// SettingRepository manages key-value db.Setting records.
type SettingRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	ListByPrefix(ctx context.Context, prefix string) (map[string]string, error)
}
