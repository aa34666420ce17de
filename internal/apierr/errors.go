// Package apierr defines the error taxonomy shared across the backup
// engine's core components. Every component that can fail returns one of
// these sentinel kinds (wrapped with context via fmt.Errorf("...: %w", err))
// so that callers — the REST layer in particular — can map failures to a
// stable, small vocabulary instead of inspecting error strings.
package apierr

import "errors"

// Kind sentinels. Check with errors.Is, never by comparing error strings.
var (
	// ErrNotFound is returned when an id referenced by a request does not
	// exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on a unique-name collision, or when an
	// operation lock is already held by a conflicting operation.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for malformed input: an unrecognized
	// db_type/destination_type, an invalid backup_id for a destination's
	// shape, a missing "RESTORE" confirmation token, or a filename suffix
	// that doesn't match the target's db_type.
	ErrValidation = errors.New("validation failed")

	// ErrCompatibilityReject is returned when a restore artifact's detected
	// shape is incompatible with the target; no partial restore occurs.
	ErrCompatibilityReject = errors.New("restore artifact incompatible with target")

	// ErrCrypto is returned for a wrong encryption password, a truncated
	// envelope, or a missing master key.
	ErrCrypto = errors.New("crypto failure")

	// ErrAdapterFailure is returned when a database adapter's dump/restore
	// subprocess exits non-zero; the error text carries a captured stderr
	// snippet.
	ErrAdapterFailure = errors.New("database adapter failure")

	// ErrProviderFailure is returned for storage-provider network/IO errors.
	ErrProviderFailure = errors.New("storage provider failure")

	// ErrEncryptionNotConfigured is returned when a mutation supplies
	// secrets but no master encryption key has been configured.
	ErrEncryptionNotConfigured = errors.New("encryption not configured")
)

// CompatibilityWarning is not an error kind — it is attached to a
// successful restore's response payload (e.g. a MariaDB dump restored into
// a MySQL target) and never blocks the restore. See internal/restore.
type CompatibilityWarning struct {
	Message string
}

func (w CompatibilityWarning) Error() string { return w.Message }
