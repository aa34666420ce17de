package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/repository"
)

// RunHandler groups the read/delete handlers for run history (§2 Run).
type RunHandler struct {
	repo   repository.RunRepository
	logger *zap.Logger
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(repo repository.RunRepository, logger *zap.Logger) *RunHandler {
	return &RunHandler{repo: repo, logger: logger.Named("run_handler")}
}

type runResponse struct {
	ID             string  `json:"id"`
	ScheduleID     *string `json:"schedule_id,omitempty"`
	Operation      string  `json:"operation"`
	Status         string  `json:"status"`
	StartedAt      string  `json:"started_at"`
	FinishedAt     *string `json:"finished_at"`
	BackupFilename string  `json:"backup_filename,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

func runToResponse(run *repository.Run) runResponse {
	resp := runResponse{
		ID:             run.ID.String(),
		Operation:      run.Operation,
		Status:         run.Status,
		StartedAt:      run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:     formatTimePtr(run.FinishedAt),
		BackupFilename: run.BackupFilename,
		ErrorMessage:   run.ErrorMessage,
	}
	if run.ScheduleID != nil {
		s := run.ScheduleID.String()
		resp.ScheduleID = &s
	}
	return resp
}

type listRunsResponse struct {
	Items []runResponse `json:"items"`
	Total int64         `json:"total,omitempty"`
}

// List handles GET /automation/runs.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, total, err := h.repo.List(r.Context(), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list runs", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]runResponse, len(runs))
	for i := range runs {
		items[i] = runToResponse(&runs[i])
	}

	resp := listRunsResponse{Items: items}
	if includeTotal(r) {
		resp.Total = total
	}
	Ok(w, resp)
}

// GetByID handles GET /automation/runs/{id}.
func (h *RunHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	run, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "get", err)
		return
	}

	Ok(w, runToResponse(run))
}

// Delete handles DELETE /automation/runs/{id}, removing the run from
// history; it does not affect any backup already uploaded to a destination.
func (h *RunHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		writeTargetError(w, h.logger, "delete", err)
		return
	}

	NoContent(w)
}
