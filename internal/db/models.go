package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// softDelete extends base with a nullable DeletedAt field for soft deletion.
// GORM automatically filters out soft-deleted records from all queries unless
// Unscoped() is used explicitly.
type softDelete struct {
	base
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Targets
// -----------------------------------------------------------------------------

// Target is a configured database that can be backed up. Config holds
// connection parameters (host/port/database/user/file path, as applicable
// to DBType) serialized as JSON; Secrets holds password/key material as a
// single encrypted blob. A target with a non-empty Secrets value requires
// the master encryption key to be configured (enforced at the repository
// boundary, not here).
//
// Targets cascade-delete their schedules and those schedules' runs; see
// repository.TargetRepository.Delete.
type Target struct {
	softDelete
	Name     string `gorm:"uniqueIndex;not null"`
	DBType   string `gorm:"not null"` // "postgresql", "mysql", "sqlite", "neo4j"
	Config   string `gorm:"type:text;not null;default:'{}'"` // JSON, not sensitive
	Secrets  Secret `gorm:"type:text"`                       // JSON, encrypted; empty when none
	IsActive bool   `gorm:"not null;default:true"`
}

// -----------------------------------------------------------------------------
// Destinations
// -----------------------------------------------------------------------------

// Destination is a place to put backup artifacts. The built-in destination
// named "local" always exists (created at startup by the destination
// repository's EnsureLocal, with a generated id) and cannot be deleted.
type Destination struct {
	base
	Name            string `gorm:"uniqueIndex;not null"`
	DestinationType string `gorm:"not null"` // "local", "sftp", "google_drive"
	Config          string `gorm:"type:text;not null;default:'{}'"`
	Secrets         Secret `gorm:"type:text"`
	IsActive        bool   `gorm:"not null;default:true"`
}

// -----------------------------------------------------------------------------
// Schedules
// -----------------------------------------------------------------------------

// Schedule ties a target to one or more destinations on a fixed interval
// with a retention policy. Destinations is populated manually via
// GetByIDWithDestinations — GORM cannot resolve foreign keys against a
// uuid.UUID primary key without an explicit query, matching the pattern in
// the consolidated repository package.
type Schedule struct {
	softDelete
	Name            string     `gorm:"uniqueIndex;not null"`
	TargetID        uuid.UUID  `gorm:"type:text;not null;index"`
	Enabled         bool       `gorm:"not null"`
	IntervalSeconds int64      `gorm:"not null"`
	NextRunAt       *time.Time `gorm:"index"`
	LastRunAt       *time.Time
	Retention       string `gorm:"type:text;not null;default:'{}'"` // JSON retention.Policy

	// EncryptionSecret holds the artifact encryption password, encrypted at
	// rest, when Retention's encrypt flag is set. Never returned plaintext
	// over the API — see repository.ScheduleRepository.
	EncryptionSecret Secret `gorm:"column:encryption_secret;type:text;not null;default:''"`

	Destinations []ScheduleDestination `gorm:"-"`
}

// ScheduleDestination is the join table between Schedule and Destination.
type ScheduleDestination struct {
	base
	ScheduleID    uuid.UUID `gorm:"type:text;not null;index"`
	DestinationID uuid.UUID `gorm:"type:text;not null;index"`
}

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

// Run is an immutable-after-terminal-state execution record for a backup or
// restore attempt. ScheduleID is nil for manual runs. Details holds a
// structured JSON payload (type, target snapshot, per-destination upload
// results, retention actions, notification attempts).
type Run struct {
	base
	ScheduleID     *uuid.UUID `gorm:"type:text;index"`
	Operation      string     `gorm:"not null;default:'backup'"` // "backup" or "restore"
	Status         string     `gorm:"not null;default:'started'"` // "started", "success", "failed"
	StartedAt      time.Time  `gorm:"not null"`
	FinishedAt     *time.Time
	BackupFilename string `gorm:"default:''"`
	Details        string `gorm:"type:text;default:'{}'"` // JSON
	ErrorMessage   string `gorm:"type:text;default:''"`
}

// -----------------------------------------------------------------------------
// Audit events
// -----------------------------------------------------------------------------

// AuditEvent is an append-only operational history entry. It is a superset
// of Run: it also records configuration changes, login, and retention
// deletions. Status transitions from "started" to a terminal state exactly
// once (or is persisted directly in a terminal state for instantaneous
// operations).
type AuditEvent struct {
	base
	Operation     string     `gorm:"not null;index"` // "backup", "restore", "delete_backup", "target_create", "login", ...
	Trigger       string     `gorm:"not null;default:'system'"` // "manual", "scheduled", "system"
	Status        string     `gorm:"not null;default:'started'"`
	StartedAt     time.Time  `gorm:"not null"`
	FinishedAt    *time.Time
	TargetID      *uuid.UUID `gorm:"type:text;index"`
	DestinationID *uuid.UUID `gorm:"type:text;index"`
	ScheduleID    *uuid.UUID `gorm:"type:text;index"`
	RunID         *uuid.UUID `gorm:"type:text;index"`
	BackupID      string     `gorm:"default:''"`
	UserID        string     `gorm:"default:''"`
	UserName      string     `gorm:"default:''"`
	Details       string     `gorm:"type:text;default:'{}'"`
	ErrorMessage  string     `gorm:"type:text;default:''"`
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// Setting is a generic key-value configuration entry, namespaced by
// convention (e.g. "smtp.host", "telegram.bot_token"). Sensitive values are
// encrypted at the application layer via Secret before being persisted.
//
// Setting does not embed base because it uses a string primary key (the key
// itself) rather than a UUID, and does not need CreatedAt.
type Setting struct {
	Key       string    `gorm:"primaryKey"`
	Value     Secret    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}
