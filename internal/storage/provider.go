// Package storage abstracts the three backup-artifact destinations the
// engine supports: a local directory, an SFTP server, and Google Drive.
// Every provider implements the same four operations; internal/pipeline
// and internal/restore depend only on this interface, never on a concrete
// provider type.
package storage

import (
	"context"
	"fmt"

	"github.com/vaultkeep/backupd/internal/retention"
)

// Provider is the uniform interface over local/SFTP/Drive storage.
type Provider interface {
	// ListBackups returns artifacts whose stored path begins with prefix,
	// sorted newest-first.
	ListBackups(ctx context.Context, prefix string) ([]retention.StoredBackup, error)

	// UploadBackup uploads the file at localPath, storing it as destName
	// (which may contain exactly one forward-slash segment to place it in a
	// per-target subdirectory), and returns the resulting StoredBackup.
	UploadBackup(ctx context.Context, localPath, destName string) (retention.StoredBackup, error)

	// DownloadBackup downloads backupID to destPath and returns destPath.
	// backupID must satisfy ValidateBackupID first — callers at the
	// boundary (internal/api, internal/restore) are expected to call it
	// before invoking DownloadBackup/DeleteBackups, but providers re-check
	// defensively.
	DownloadBackup(ctx context.Context, backupID, destPath string) (string, error)

	// DeleteBackups removes the given artifacts. LocalProvider also prunes
	// now-empty parent directories; the SFTP and Drive providers leave empty
	// directories and subfolders in place.
	DeleteBackups(ctx context.Context, backups []retention.StoredBackup) error

	// ValidateBackupID enforces this provider's shape rule for externally
	// supplied backup ids (§4.5): relative & no ".." for local, base_path
	// prefix for SFTP, a "subfolder/filename" shape for Drive. Drive's
	// ancestor-reachability check runs inside DownloadBackup/DeleteBackups,
	// since it needs API calls.
	ValidateBackupID(backupID string) error
}

// ErrInvalidBackupID is wrapped with provider-specific detail by
// ValidateBackupID implementations.
var ErrInvalidBackupID = fmt.Errorf("invalid backup id for destination")
