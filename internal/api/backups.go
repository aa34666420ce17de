package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/oplock"
	"github.com/vaultkeep/backupd/internal/pipeline"
	"github.com/vaultkeep/backupd/internal/repository"
	"github.com/vaultkeep/backupd/internal/restore"
	"github.com/vaultkeep/backupd/internal/retention"
	"github.com/vaultkeep/backupd/internal/storage"
)

// BackupHandler groups the artifact-facing endpoints: listing/downloading/
// deleting stored backups, the ad-hoc backup-now and restore-now triggers,
// and the runner's run-due entry point (§4.5/§4.3/§4.6/§4.2).
type BackupHandler struct {
	destinations repository.DestinationRepository
	schedules    repository.ScheduleRepository
	runs         repository.RunRepository
	pipeline     *pipeline.Pipeline
	restore      *restore.Pipeline
	locks        *oplock.Manager
	tempDir      string
	logger       *zap.Logger
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(
	destinations repository.DestinationRepository,
	schedules repository.ScheduleRepository,
	runs repository.RunRepository,
	p *pipeline.Pipeline,
	r *restore.Pipeline,
	locks *oplock.Manager,
	tempDir string,
	logger *zap.Logger,
) *BackupHandler {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &BackupHandler{
		destinations: destinations,
		schedules:    schedules,
		runs:         runs,
		pipeline:     p,
		restore:      r,
		locks:        locks,
		tempDir:      tempDir,
		logger:       logger.Named("backup_handler"),
	}
}

func (h *BackupHandler) providerFor(ctx context.Context, destinationID uuid.UUID) (storage.Provider, *repository.Destination, error) {
	dest, err := h.destinations.GetByID(ctx, destinationID)
	if err != nil {
		return nil, nil, err
	}
	provider, err := storage.NewProvider(dest.DestinationType, dest.Config, string(dest.Secrets))
	if err != nil {
		return nil, nil, fmt.Errorf("build storage provider: %w", err)
	}
	return provider, dest, nil
}

type storedBackupResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	Size      *int64 `json:"size,omitempty"`
}

func storedBackupToResponse(b retention.StoredBackup) storedBackupResponse {
	return storedBackupResponse{
		ID:        b.ID,
		Name:      b.Name,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
		Size:      b.Size,
	}
}

// ListBackups handles GET /automation/destinations/{id}/backups?target_id&limit&offset.
// target_id scopes the listing to one target's prefix within the
// destination (§4.5: artifacts are stored under a per-target path segment).
func (h *BackupHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	destID, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	provider, _, err := h.providerFor(r.Context(), destID)
	if err != nil {
		writeTargetError(w, h.logger, "list backups", err)
		return
	}

	prefix := r.URL.Query().Get("target_id")

	backups, err := provider.ListBackups(r.Context(), prefix)
	if err != nil {
		h.logger.Error("failed to list backups", zap.Error(err))
		ErrInternal(w)
		return
	}

	opts := paginationOpts(r)
	start := opts.Offset
	if start > len(backups) {
		start = len(backups)
	}
	end := start + opts.Limit
	if opts.Limit <= 0 || end > len(backups) {
		end = len(backups)
	}
	page := backups[start:end]

	items := make([]storedBackupResponse, len(page))
	for i, b := range page {
		items[i] = storedBackupToResponse(b)
	}

	resp := envelope{"items": items}
	if includeTotal(r) {
		resp["total"] = len(backups)
	}
	Ok(w, resp)
}

// DownloadBackup handles GET /automation/destinations/{id}/backups/download?backup_id&filename.
// It streams the artifact to the client and removes the temp copy once sent.
func (h *BackupHandler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	destID, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	backupID := r.URL.Query().Get("backup_id")
	if backupID == "" {
		ErrBadRequest(w, "backup_id is required")
		return
	}
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = filepath.Base(backupID)
	}

	provider, _, err := h.providerFor(r.Context(), destID)
	if err != nil {
		writeTargetError(w, h.logger, "download backup", err)
		return
	}
	if err := provider.ValidateBackupID(backupID); err != nil {
		ErrBadRequest(w, err.Error())
		return
	}

	tmp, err := os.CreateTemp(h.tempDir, "download-*.tmp")
	if err != nil {
		h.logger.Error("failed to create temp file", zap.Error(err))
		ErrInternal(w)
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if _, err := provider.DownloadBackup(r.Context(), backupID, tmpPath); err != nil {
		h.logger.Error("failed to download backup", zap.Error(err))
		ErrInternal(w)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, tmpPath)
}

// DeleteBackup handles DELETE /automation/destinations/{id}/backups/delete?backup_id&name.
func (h *BackupHandler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	destID, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	backupID := r.URL.Query().Get("backup_id")
	if backupID == "" {
		ErrBadRequest(w, "backup_id is required")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = filepath.Base(backupID)
	}

	provider, _, err := h.providerFor(r.Context(), destID)
	if err != nil {
		writeTargetError(w, h.logger, "delete backup", err)
		return
	}
	if err := provider.ValidateBackupID(backupID); err != nil {
		ErrBadRequest(w, err.Error())
		return
	}

	if err := provider.DeleteBackups(r.Context(), []retention.StoredBackup{{ID: backupID, Name: name}}); err != nil {
		h.logger.Error("failed to delete backup", zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}

// backupNowRequest is the JSON body for POST /automation/backup-now (§6.1).
// UseLocalStorage is a convenience that appends the built-in "local"
// destination to DestinationIDs; the pipeline itself has no notion of it.
type backupNowRequest struct {
	TargetID           string   `json:"target_id"`
	DestinationIDs     []string `json:"destination_ids"`
	UseLocalStorage    bool     `json:"use_local_storage"`
	EncryptionPassword string   `json:"encryption_password"`
}

// BackupNow handles POST /automation/backup-now.
func (h *BackupHandler) BackupNow(w http.ResponseWriter, r *http.Request) {
	var req backupNowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		ErrBadRequest(w, "invalid target_id: must be a valid UUID")
		return
	}

	destIDs, ok := parseUUIDList(w, req.DestinationIDs)
	if !ok {
		return
	}
	if req.UseLocalStorage {
		local, err := h.destinations.GetLocal(r.Context())
		if err != nil {
			h.logger.Error("failed to load local destination", zap.Error(err))
			ErrInternal(w)
			return
		}
		destIDs = append(destIDs, local.ID)
	}
	if len(destIDs) == 0 {
		ErrBadRequest(w, "destination_ids (or use_local_storage) is required")
		return
	}

	run, err := h.pipeline.ExecuteManual(r.Context(), pipeline.ManualRequest{
		TargetID:           targetID,
		DestinationIDs:     destIDs,
		EncryptionPassword: req.EncryptionPassword,
	})
	if err != nil {
		writeTargetError(w, h.logger, "backup-now", err)
		return
	}

	Ok(w, runToRunNowResponse(run))
}

// restoreNowRequest is the JSON body for POST /automation/restore-now (§6.1).
type restoreNowRequest struct {
	TargetID           string `json:"target_id"`
	DestinationID      string `json:"destination_id"`
	BackupID           string `json:"backup_id"`
	EncryptionPassword string `json:"encryption_password"`
	Confirmation       string `json:"confirmation"`
	UseLocalStorage    bool   `json:"use_local_storage"`
}

type restoreNowResponse struct {
	RunID    string           `json:"run_id"`
	Status   string           `json:"status"`
	Warnings []warningPayload `json:"warnings,omitempty"`
}

type warningPayload struct {
	Statement string `json:"statement,omitempty"`
	Message   string `json:"message"`
}

// RestoreNow handles POST /automation/restore-now.
func (h *BackupHandler) RestoreNow(w http.ResponseWriter, r *http.Request) {
	var req restoreNowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		ErrBadRequest(w, "invalid target_id: must be a valid UUID")
		return
	}

	destinationID := uuid.UUID{}
	if req.UseLocalStorage {
		local, err := h.destinations.GetLocal(r.Context())
		if err != nil {
			h.logger.Error("failed to load local destination", zap.Error(err))
			ErrInternal(w)
			return
		}
		destinationID = local.ID
	} else {
		destinationID, err = uuid.Parse(req.DestinationID)
		if err != nil {
			ErrBadRequest(w, "invalid destination_id: must be a valid UUID")
			return
		}
	}

	run, warnings, err := h.restore.Execute(r.Context(), restore.Request{
		TargetID:           targetID,
		DestinationID:      destinationID,
		BackupID:           req.BackupID,
		EncryptionPassword: req.EncryptionPassword,
		Confirmation:       req.Confirmation,
	})
	if err != nil {
		writeTargetError(w, h.logger, "restore-now", err)
		return
	}

	resp := restoreNowResponse{RunID: run.ID.String(), Status: run.Status}
	for _, warn := range warnings {
		resp.Warnings = append(resp.Warnings, warningPayload{Statement: warn.Statement, Message: warn.Message})
	}

	Ok(w, resp)
}

// RunDue handles POST /automation/runner/run-due: runs every schedule whose
// next_run_at is due as of now, mirroring the scheduler's own tick but
// triggerable on demand (§4.2). Returns {now, count, results[]}.
func (h *BackupHandler) RunDue(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	due, err := h.schedules.ListDue(r.Context(), now, 0)
	if err != nil {
		h.logger.Error("failed to list due schedules", zap.Error(err))
		ErrInternal(w)
		return
	}

	results := runSchedulesConcurrently(r.Context(), h.pipeline, due)
	Ok(w, envelope{"now": now.Format(time.RFC3339), "count": len(results), "results": results})
}

// progressResponse is §7's progress-query shape:
// {status, current, total, warnings[], is_locked, lock_operation}.
type progressResponse struct {
	Status        string           `json:"status"`
	Current       int              `json:"current"`
	Total         int              `json:"total"`
	Warnings      []warningPayload `json:"warnings,omitempty"`
	IsLocked      bool             `json:"is_locked"`
	LockOperation string           `json:"lock_operation,omitempty"`
}

// Progress handles GET /automation/runs/{id}/progress, reporting the run's
// terminal/in-flight status alongside whether any operation lock is
// currently held (§7). Since this engine executes synchronously per
// request rather than streaming incremental progress, current/total
// collapse to 0/1 (still started) or 1/1 (finished) — in-flight polling is
// expected to rely on is_locked rather than a fractional progress count.
func (h *BackupHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "progress", err)
		return
	}

	resp := progressResponse{Status: run.Status}
	if run.Status == "started" {
		resp.Current, resp.Total = 0, 1
	} else {
		resp.Current, resp.Total = 1, 1
	}

	if _, held := h.locks.AnyHeld(oplock.OpRestore); held {
		resp.IsLocked = true
		resp.LockOperation = string(oplock.OpRestore)
	} else if _, held := h.locks.AnyHeld(oplock.OpBackup); held {
		resp.IsLocked = true
		resp.LockOperation = string(oplock.OpBackup)
	}

	Ok(w, resp)
}

// Status handles GET /automation/status: the same §7 progress shape as
// Progress, but scoped to the engine as a whole rather than one run —
// "what is currently running", reporting the most recently started run
// alongside whether any operation lock is held.
func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := progressResponse{Status: "idle", Current: 0, Total: 0}

	runs, _, err := h.runs.List(r.Context(), repository.ListOptions{Limit: 1})
	if err != nil {
		h.logger.Error("failed to list runs for status", zap.Error(err))
		ErrInternal(w)
		return
	}
	if len(runs) > 0 {
		latest := runs[0]
		resp.Status = latest.Status
		if latest.Status == "started" {
			resp.Current, resp.Total = 0, 1
		} else {
			resp.Current, resp.Total = 1, 1
		}
	}

	if _, held := h.locks.AnyHeld(oplock.OpRestore); held {
		resp.IsLocked = true
		resp.LockOperation = string(oplock.OpRestore)
	} else if _, held := h.locks.AnyHeld(oplock.OpBackup); held {
		resp.IsLocked = true
		resp.LockOperation = string(oplock.OpBackup)
	}

	Ok(w, resp)
}
