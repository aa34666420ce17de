// Package pipeline implements the execution pipeline (§4.3, C3): produce an
// artifact, optionally encrypt it, upload it to every configured
// destination, sweep retention, and record the attempt on Run/AuditEvent —
// all under the operation lock's mutual exclusion with restores.
//
// Grounded on the teacher's scheduler.runJob/dispatch: a Job+JobDestination
// record is created before any remote work starts, a defer guarantees the
// record is finalized on every exit path, and per-destination payloads are
// assembled one at a time. The generalization here is "dispatch to a remote
// agent over gRPC" becoming "execute locally in-process", since this
// engine's adapters and storage providers run in the same process as the
// scheduler (§5: worker goroutines, not remote dispatch).
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/apierr"
	"github.com/vaultkeep/backupd/internal/crypto"
	"github.com/vaultkeep/backupd/internal/dbadapter"
	"github.com/vaultkeep/backupd/internal/metrics"
	"github.com/vaultkeep/backupd/internal/oplock"
	"github.com/vaultkeep/backupd/internal/repository"
	"github.com/vaultkeep/backupd/internal/retention"
	"github.com/vaultkeep/backupd/internal/scheduler"
	"github.com/vaultkeep/backupd/internal/storage"
)

// Config configures the pipeline's process-local behavior.
type Config struct {
	// TempDir is where adapters stage artifacts and where the encryption
	// step writes its output. Default os.TempDir().
	TempDir string
}

func (c Config) withDefaults() Config {
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	return c
}

// Pipeline orchestrates one backup attempt at a time per caller goroutine;
// concurrency across schedules is the scheduler's concern (internal/scheduler
// runs one goroutine per due schedule and relies on the operation lock plus
// each schedule's own "at most one run concurrently" invariant, §1).
type Pipeline struct {
	cfg          Config
	targets      repository.TargetRepository
	destinations repository.DestinationRepository
	schedules    repository.ScheduleRepository
	runs         repository.RunRepository
	audit        repository.AuditEventRepository
	locks        *oplock.Manager
	notifier     Notifier
	logger       *zap.Logger
}

// New builds a Pipeline. notifier may be nil, in which case notifications
// are a no-op (useful for tests and for deployments with no channel
// configured).
func New(
	cfg Config,
	targets repository.TargetRepository,
	destinations repository.DestinationRepository,
	schedules repository.ScheduleRepository,
	runs repository.RunRepository,
	audit repository.AuditEventRepository,
	locks *oplock.Manager,
	notifier Notifier,
	logger *zap.Logger,
) *Pipeline {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Pipeline{
		cfg:          cfg.withDefaults(),
		targets:      targets,
		destinations: destinations,
		schedules:    schedules,
		runs:         runs,
		audit:        audit,
		locks:        locks,
		notifier:     notifier,
		logger:       logger.Named("pipeline"),
	}
}

// runRequest is the normalized input shared by the scheduled and manual
// entry points; only the pieces that differ between them are threaded
// through here.
type runRequest struct {
	trigger            string // "scheduled" | "manual"
	target             repository.Target
	destinations       []repository.Destination
	scheduleID         *uuid.UUID
	schedule           *repository.Schedule // non-nil only for scheduled runs, needed to advance next_run_at
	policy             retention.Policy
	encryptionPassword string // manual password, or the schedule's stored password
}

// ExecuteScheduled implements scheduler.Executor. It loads the schedule, its
// target, and its destinations, then runs the pipeline with trigger
// "scheduled".
func (p *Pipeline) ExecuteScheduled(ctx context.Context, scheduleID uuid.UUID) error {
	_, err := p.RunScheduleNow(ctx, scheduleID)
	return err
}

// RunScheduleNow runs one schedule immediately and returns the resulting
// Run, regardless of NextRunAt — the "run-now" API entry point (§6.1
// POST /automation/schedules/{id}/run-now). Unlike ExecuteScheduled's
// scheduler.Executor contract, callers here want the Run back to report
// {run_id, status, backup_filename, uploads[]}.
func (p *Pipeline) RunScheduleNow(ctx context.Context, scheduleID uuid.UUID) (*repository.Run, error) {
	sched, err := p.schedules.GetByIDWithDestinations(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load schedule: %w", err)
	}
	target, err := p.targets.GetByID(ctx, sched.TargetID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load target: %w", err)
	}

	destinations := make([]repository.Destination, 0, len(sched.Destinations))
	for _, sd := range sched.Destinations {
		dest, err := p.destinations.GetByID(ctx, sd.DestinationID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load destination %s: %w", sd.DestinationID, err)
		}
		destinations = append(destinations, *dest)
	}

	var policy retention.Policy
	if sched.Retention != "" {
		if err := json.Unmarshal([]byte(sched.Retention), &policy); err != nil {
			return nil, fmt.Errorf("pipeline: parse retention policy: %w", err)
		}
	}

	return p.execute(ctx, runRequest{
		trigger:            "scheduled",
		target:             *target,
		destinations:       destinations,
		scheduleID:         &sched.ID,
		schedule:           sched,
		policy:             policy,
		encryptionPassword: string(sched.EncryptionSecret),
	})
}

// ManualRequest is the input to ExecuteManual (§4.3: "for manual backup, an
// explicit (target_id, destination_ids, use_local_storage,
// encryption_password?)"). use_local_storage is expressed by including the
// built-in "local" destination's id in DestinationIDs — this package does
// not special-case it.
type ManualRequest struct {
	TargetID           uuid.UUID
	DestinationIDs     []uuid.UUID
	EncryptionPassword string
}

// ExecuteManual runs the pipeline once outside the scheduler, for the
// backup-now API. It never advances a schedule's next_run_at.
func (p *Pipeline) ExecuteManual(ctx context.Context, req ManualRequest) (*repository.Run, error) {
	target, err := p.targets.GetByID(ctx, req.TargetID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load target: %w", err)
	}

	destinations := make([]repository.Destination, 0, len(req.DestinationIDs))
	for _, id := range req.DestinationIDs {
		dest, err := p.destinations.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load destination %s: %w", id, err)
		}
		destinations = append(destinations, *dest)
	}

	return p.execute(ctx, runRequest{
		trigger:            "manual",
		target:             *target,
		destinations:       destinations,
		policy:             retention.Policy{Encrypt: req.EncryptionPassword != ""},
		encryptionPassword: req.EncryptionPassword,
	})
}

// execute runs steps 1-9 of §4.3 for a single backup attempt.
func (p *Pipeline) execute(ctx context.Context, req runRequest) (*repository.Run, error) {
	family := oplock.FamilyForDBType(req.target.DBType)
	release, err := p.locks.Acquire(family, oplock.OpBackup)
	if err != nil {
		return nil, err
	}
	defer release()

	startedAt := time.Now().UTC()
	sanitized := sanitizeTargetName(req.target.Name)

	// Step 1: audit event + run, both "started".
	audit := &repository.AuditEvent{
		Operation:  "backup",
		Trigger:    req.trigger,
		Status:     "started",
		StartedAt:  startedAt,
		TargetID:   &req.target.ID,
		ScheduleID: req.scheduleID,
	}
	if err := p.audit.Create(ctx, audit); err != nil {
		return nil, fmt.Errorf("pipeline: create audit event: %w", err)
	}

	run := &repository.Run{
		ScheduleID: req.scheduleID,
		Operation:  "backup",
		Status:     "started",
		StartedAt:  startedAt,
	}
	if err := p.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("pipeline: create run: %w", err)
	}

	var tempFiles []string
	defer p.cleanupTempFiles(&tempFiles)

	details := &runDetails{
		Type:       "backup",
		TargetID:   req.target.ID.String(),
		TargetName: req.target.Name,
	}

	finalFilename, artifactPath, runErr := p.produce(ctx, req, sanitized, &tempFiles, details)
	if runErr == nil {
		runErr = p.upload(ctx, req, sanitized, finalFilename, artifactPath, details)
	}
	if runErr == nil && req.trigger == "scheduled" {
		p.sweepRetention(ctx, req, sanitized, details)
	}

	finishedAt := time.Now().UTC()
	status := "success"
	errMsg := ""
	if runErr != nil {
		status = "failed"
		errMsg = runErr.Error()
	} else {
		run.BackupFilename = finalFilename
	}

	event := NotificationEvent{
		RunID:         run.ID.String(),
		Operation:     "backup",
		Trigger:       req.trigger,
		TargetName:    req.target.Name,
		Status:        status,
		ErrorMessage:  errMsg,
		Notifications: req.policy.Notifications,
	}
	details.Notifications = p.notifier.Notify(ctx, event)
	metrics.RecordRun("backup", req.trigger, status, finishedAt.Sub(startedAt))

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

	// "On any failure... still advance next_run_at when scheduled" — this
	// runs unconditionally, not only on success.
	if req.trigger == "scheduled" && req.schedule != nil {
		nextRunAt := scheduler.NextFire(req.schedule.IntervalSeconds, req.policy, finishedAt)
		if err := p.schedules.UpdateSchedule(ctx, req.schedule.ID, startedAt, nextRunAt); err != nil {
			p.logger.Error("failed to advance schedule next_run_at",
				zap.String("schedule_id", req.schedule.ID.String()), zap.Error(err))
		}
	}

	run.Status = status
	run.FinishedAt = &finishedAt
	run.Details = string(detailsJSON)
	run.ErrorMessage = errMsg
	return run, runErr
}

// produce implements §4.3 steps 2-4: dump the artifact, compose the final
// filename, and optionally encrypt it. Returns the final filename and the
// local path of the (possibly encrypted) artifact to upload.
func (p *Pipeline) produce(ctx context.Context, req runRequest, sanitized string, tempFiles *[]string, details *runDetails) (string, string, error) {
	adapter, ok := dbadapter.ForDBType(req.target.DBType)
	if !ok {
		return "", "", fmt.Errorf("pipeline: %w: no adapter registered for db_type %q", apierr.ErrAdapterFailure, req.target.DBType)
	}

	params, err := dbadapter.ParamsFromTarget(req.target.DBType, req.target.Config, string(req.target.Secrets))
	if err != nil {
		return "", "", fmt.Errorf("pipeline: %w: %v", apierr.ErrAdapterFailure, err)
	}

	result, err := adapter.CreateBackupToTemp(ctx, params, true, p.cfg.TempDir)
	if err != nil {
		return "", "", fmt.Errorf("pipeline: produce artifact: %w", err)
	}
	*tempFiles = append(*tempFiles, result.TempPath)

	filename := composeFilename(result.Filename, req.trigger, req.scheduleID, sanitized)
	artifactPath := result.TempPath

	encrypt := req.policy.Encrypt || req.encryptionPassword != ""
	if encrypt {
		if req.encryptionPassword == "" {
			return "", "", fmt.Errorf("pipeline: %w: encryption requested but no password configured", apierr.ErrCrypto)
		}
		encPath := artifactPath + ".enc"
		if err := p.encryptArtifact(artifactPath, encPath, req.encryptionPassword); err != nil {
			return "", "", fmt.Errorf("pipeline: %w: %v", apierr.ErrCrypto, err)
		}
		*tempFiles = append(*tempFiles, encPath)
		artifactPath = encPath
		filename += ".enc"
	}
	details.Encrypted = encrypt

	return filename, artifactPath, nil
}

func (p *Pipeline) encryptArtifact(srcPath, dstPath, password string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create encrypted artifact: %w", err)
	}
	defer dst.Close()

	return crypto.EncryptFile(dst, src, password, crypto.DefaultIterations)
}

// upload implements §4.3 step 5: the same on-disk artifact is uploaded
// serially to every destination.
func (p *Pipeline) upload(ctx context.Context, req runRequest, sanitized, finalFilename, artifactPath string, details *runDetails) error {
	destPath := uploadPath(sanitized, finalFilename)
	for i := range req.destinations {
		dest := req.destinations[i]
		provider, err := storage.NewProvider(dest.DestinationType, dest.Config, string(dest.Secrets))
		if err != nil {
			return fmt.Errorf("pipeline: %w: destination %q: %v", apierr.ErrProviderFailure, dest.Name, err)
		}

		stored, err := provider.UploadBackup(ctx, artifactPath, destPath)
		if err != nil {
			return fmt.Errorf("pipeline: %w: upload to %q: %v", apierr.ErrProviderFailure, dest.Name, err)
		}

		details.Uploads = append(details.Uploads, uploadResult{
			DestinationID: dest.ID.String(),
			BackupID:      stored.ID,
			Name:          stored.Name,
			Size:          stored.Size,
			CreatedAt:     stored.CreatedAt,
		})
	}
	return nil
}

// sweepRetention implements §4.3 step 6. Failures are logged, not
// propagated — a retention sweep failure must not turn an otherwise
// successful backup into a failed run.
func (p *Pipeline) sweepRetention(ctx context.Context, req runRequest, sanitized string, details *runDetails) {
	if req.scheduleID == nil {
		return
	}
	prefix := retentionPrefix(sanitized, *req.scheduleID)

	for i := range req.destinations {
		dest := req.destinations[i]
		provider, err := storage.NewProvider(dest.DestinationType, dest.Config, string(dest.Secrets))
		if err != nil {
			p.logger.Error("retention sweep: failed to build provider", zap.String("destination", dest.Name), zap.Error(err))
			continue
		}

		backups, err := provider.ListBackups(ctx, prefix)
		if err != nil {
			p.logger.Error("retention sweep: failed to list backups", zap.String("destination", dest.Name), zap.Error(err))
			continue
		}

		_, toDelete := retention.Plan(backups, req.policy)
		if len(toDelete) == 0 {
			continue
		}

		p.deleteBatch(ctx, req, dest, toDelete, provider, details)
	}
}

func (p *Pipeline) deleteBatch(ctx context.Context, req runRequest, dest repository.Destination, toDelete []retention.StoredBackup, provider storage.Provider, details *runDetails) {
	deleteEvent := &repository.AuditEvent{
		Operation:     "delete_backup",
		Trigger:       req.trigger,
		Status:        "started",
		StartedAt:     time.Now().UTC(),
		TargetID:      &req.target.ID,
		DestinationID: &dest.ID,
		ScheduleID:    req.scheduleID,
	}
	if err := p.audit.Create(ctx, deleteEvent); err != nil {
		p.logger.Error("retention sweep: failed to create delete_backup audit event", zap.Error(err))
		return
	}

	status := "success"
	errMsg := ""
	if err := provider.DeleteBackups(ctx, toDelete); err != nil {
		status = "failed"
		errMsg = err.Error()
		p.logger.Error("retention sweep: delete failed", zap.String("destination", dest.Name), zap.Error(err))
	} else {
		for _, b := range toDelete {
			details.RetentionDeleted = append(details.RetentionDeleted, retentionDeletion{
				DestinationID: dest.ID.String(),
				BackupID:      b.ID,
				Name:          b.Name,
			})
			metrics.RecordRetentionDeletion(dest.DestinationType)
		}
	}

	finishedAt := time.Now().UTC()
	deleteDetailsJSON, _ := json.Marshal(map[string]any{"deleted_count": len(toDelete)})
	if err := p.audit.UpdateStatus(ctx, deleteEvent.ID, status, &finishedAt, string(deleteDetailsJSON), errMsg); err != nil {
		p.logger.Error("retention sweep: failed to finalize delete_backup audit event", zap.Error(err))
	}
}

func (p *Pipeline) cleanupTempFiles(tempFiles *[]string) {
	for _, f := range *tempFiles {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove temporary artifact", zap.String("path", f), zap.Error(err))
		}
	}
}
