// Package restore implements the restore execution pipeline (§4.6, C6):
// resolve target/destination, validate the requested backup_id's shape,
// acquire the operation lock in restore mode (excluding any concurrent
// backup), download the artifact, decrypt it if needed, reject it on
// compatibility grounds before any adapter invocation, and delegate the
// actual restore to the target's database adapter.
//
// Grounded on internal/pipeline's execute(): the same "create started
// record, defer a guaranteed finalize+cleanup, run the steps, finalize
// once" shape, generalized from backup's upload fan-out to restore's
// single-destination download-then-apply.
package restore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/apierr"
	"github.com/vaultkeep/backupd/internal/crypto"
	"github.com/vaultkeep/backupd/internal/dbadapter"
	"github.com/vaultkeep/backupd/internal/metrics"
	"github.com/vaultkeep/backupd/internal/oplock"
	"github.com/vaultkeep/backupd/internal/pipeline"
	"github.com/vaultkeep/backupd/internal/repository"
	"github.com/vaultkeep/backupd/internal/retention"
	"github.com/vaultkeep/backupd/internal/storage"
)

// RequiredConfirmation is the literal token a restore request must supply
// (§4.6 preconditions) before any other validation runs.
const RequiredConfirmation = "RESTORE"

// Request is the caller-supplied input to Execute.
type Request struct {
	TargetID           uuid.UUID
	DestinationID      uuid.UUID
	BackupID           string
	EncryptionPassword string
	Confirmation       string
}

type Config struct {
	TempDir string
}

func (c Config) withDefaults() Config {
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	return c
}

type Pipeline struct {
	cfg          Config
	targets      repository.TargetRepository
	destinations repository.DestinationRepository
	runs         repository.RunRepository
	audit        repository.AuditEventRepository
	locks        *oplock.Manager
	notifier     pipeline.Notifier
	logger       *zap.Logger
}

// New builds a Pipeline. notifier may be nil, in which case restore
// completions are neither fanned out to telegram/email nor published to
// the websocket hub — restore never carries a per-schedule Notifications
// policy of its own, so Execute always passes the zero value (every
// channel disabled) and relies on notifier.Notify's unconditional
// websocket/audit publish side effect for live status, the same
// presentation-layer fan-out backup runs get.
func New(
	cfg Config,
	targets repository.TargetRepository,
	destinations repository.DestinationRepository,
	runs repository.RunRepository,
	audit repository.AuditEventRepository,
	locks *oplock.Manager,
	notifier pipeline.Notifier,
	logger *zap.Logger,
) *Pipeline {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Pipeline{
		cfg:          cfg.withDefaults(),
		targets:      targets,
		destinations: destinations,
		runs:         runs,
		audit:        audit,
		locks:        locks,
		notifier:     notifier,
		logger:       logger.Named("restore"),
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, pipeline.NotificationEvent) []pipeline.NotificationAttempt {
	return nil
}

type runDetails struct {
	Type          string              `json:"type"`
	TargetID      string              `json:"target_id"`
	TargetName    string              `json:"target_name"`
	DestinationID string              `json:"destination_id"`
	BackupID      string              `json:"backup_id"`
	Decrypted     bool                `json:"decrypted"`
	Warnings      []dbadapter.Warning `json:"warnings,omitempty"`
	CompatWarning string              `json:"compatibility_warning,omitempty"`
}

// Execute runs the full §4.6 restore pipeline. The confirmation token is
// checked first, before any repository lookup or I/O, so a missing/wrong
// token never touches the lock or any other state.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*repository.Run, []dbadapter.Warning, error) {
	if req.Confirmation != RequiredConfirmation {
		return nil, nil, fmt.Errorf("restore: %w: confirmation token must equal %q", apierr.ErrValidation, RequiredConfirmation)
	}

	target, err := p.targets.GetByID(ctx, req.TargetID)
	if err != nil {
		return nil, nil, fmt.Errorf("restore: load target: %w", err)
	}
	dest, err := p.destinations.GetByID(ctx, req.DestinationID)
	if err != nil {
		return nil, nil, fmt.Errorf("restore: load destination: %w", err)
	}

	provider, err := storage.NewProvider(dest.DestinationType, dest.Config, string(dest.Secrets))
	if err != nil {
		return nil, nil, fmt.Errorf("restore: %w: destination %q: %v", apierr.ErrProviderFailure, dest.Name, err)
	}
	if err := provider.ValidateBackupID(req.BackupID); err != nil {
		return nil, nil, fmt.Errorf("restore: %w: %v", apierr.ErrValidation, err)
	}

	family := oplock.FamilyForDBType(target.DBType)
	release, err := p.locks.Acquire(family, oplock.OpRestore)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	startedAt := time.Now().UTC()
	audit := &repository.AuditEvent{
		Operation:     "restore",
		Trigger:       "manual",
		Status:        "started",
		StartedAt:     startedAt,
		TargetID:      &target.ID,
		DestinationID: &dest.ID,
		BackupID:      req.BackupID,
	}
	if err := p.audit.Create(ctx, audit); err != nil {
		return nil, nil, fmt.Errorf("restore: create audit event: %w", err)
	}

	run := &repository.Run{
		Operation: "restore",
		Status:    "started",
		StartedAt: startedAt,
	}
	if err := p.runs.Create(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("restore: create run: %w", err)
	}

	var tempFiles []string
	defer p.cleanupTempFiles(&tempFiles)

	details := &runDetails{
		Type:          "restore",
		TargetID:      target.ID.String(),
		TargetName:    target.Name,
		DestinationID: dest.ID.String(),
		BackupID:      req.BackupID,
	}

	isDrive := dest.DestinationType == "google_drive"
	warnings, runErr := p.restore(ctx, *target, provider, req, isDrive, &tempFiles, details)

	finishedAt := time.Now().UTC()
	status := "success"
	errMsg := ""
	if runErr != nil {
		status = "failed"
		errMsg = runErr.Error()
	}
	details.Warnings = warnings

	event := pipeline.NotificationEvent{
		RunID:         run.ID.String(),
		Operation:     "restore",
		Trigger:       "manual",
		TargetName:    target.Name,
		Status:        status,
		ErrorMessage:  errMsg,
		Notifications: retention.Notifications{},
	}
	p.notifier.Notify(ctx, event)
	metrics.RecordRun("restore", "manual", status, finishedAt.Sub(startedAt))

	detailsJSON, jsonErr := json.Marshal(details)
	if jsonErr != nil {
		p.logger.Error("failed to marshal run details", zap.Error(jsonErr))
		detailsJSON = []byte("{}")
	}

	if err := p.runs.UpdateStatus(ctx, run.ID, status, &finishedAt, string(detailsJSON), errMsg); err != nil {
		p.logger.Error("failed to finalize run", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	if err := p.audit.UpdateStatus(ctx, audit.ID, status, &finishedAt, string(detailsJSON), errMsg); err != nil {
		p.logger.Error("failed to finalize audit event", zap.String("audit_id", audit.ID.String()), zap.Error(err))
	}

	run.Status = status
	run.FinishedAt = &finishedAt
	run.Details = string(detailsJSON)
	run.ErrorMessage = errMsg
	return run, warnings, runErr
}

func (p *Pipeline) restore(ctx context.Context, target repository.Target, provider storage.Provider, req Request, isDrive bool, tempFiles *[]string, details *runDetails) ([]dbadapter.Warning, error) {
	// Suffix check runs first, before any download: it is the cheapest of
	// the two compatibility checks (no I/O) and, unlike validateCompatibility
	// below, it must still run after lock/audit/run bookkeeping (§4.6
	// scenario: a suffix-detectable mismatch gets an audit event just like a
	// content-detectable one).
	if err := validateFilenameSuffix(target.DBType, req.BackupID, isDrive); err != nil {
		return nil, err
	}

	downloadPath := path.Join(p.cfg.TempDir, fmt.Sprintf("restore-%s-%s", target.ID.String(), path.Base(req.BackupID)))
	if _, err := provider.DownloadBackup(ctx, req.BackupID, downloadPath); err != nil {
		return nil, fmt.Errorf("restore: %w: download artifact: %v", apierr.ErrProviderFailure, err)
	}
	*tempFiles = append(*tempFiles, downloadPath)

	restoreInput := downloadPath
	header, err := readHeader(downloadPath, len(crypto.Magic))
	if err != nil {
		return nil, fmt.Errorf("restore: read artifact header: %w", err)
	}
	if crypto.LooksEncrypted(header) {
		if req.EncryptionPassword == "" {
			return nil, fmt.Errorf("restore: %w: artifact is encrypted but no password was supplied", apierr.ErrCrypto)
		}
		decPath := downloadPath + ".dec"
		if err := crypto.DecryptFile(decPath, downloadPath, req.EncryptionPassword); err != nil {
			return nil, fmt.Errorf("restore: %w: %v", apierr.ErrCrypto, err)
		}
		*tempFiles = append(*tempFiles, decPath)
		restoreInput = decPath
		details.Decrypted = true
	}

	compatWarning, err := validateCompatibility(target.DBType, restoreInput)
	if err != nil {
		return nil, err
	}
	details.CompatWarning = compatWarning

	adapter, ok := dbadapter.ForDBType(target.DBType)
	if !ok {
		return nil, fmt.Errorf("restore: %w: no adapter registered for db_type %q", apierr.ErrAdapterFailure, target.DBType)
	}
	params, err := dbadapter.ParamsFromTarget(target.DBType, target.Config, string(target.Secrets))
	if err != nil {
		return nil, fmt.Errorf("restore: %w: %v", apierr.ErrAdapterFailure, err)
	}

	warnings, err := adapter.Restore(ctx, params, restoreInput)
	if err != nil {
		return warnings, fmt.Errorf("restore: %w: %v", apierr.ErrAdapterFailure, err)
	}
	return warnings, nil
}

func readHeader(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && read == 0 {
		return nil, err
	}
	return buf[:read], nil
}

func (p *Pipeline) cleanupTempFiles(tempFiles *[]string) {
	for _, f := range *tempFiles {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove temporary artifact", zap.String("path", f), zap.Error(err))
		}
	}
}
