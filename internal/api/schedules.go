package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/db"
	"github.com/vaultkeep/backupd/internal/pipeline"
	"github.com/vaultkeep/backupd/internal/repository"
	"github.com/vaultkeep/backupd/internal/retention"
	"github.com/vaultkeep/backupd/internal/scheduler"
)

// ScheduleHandler groups all schedule-related HTTP handlers (§6.1), plus
// the run-now/run-enabled-now manual triggers (§4.2/§4.3).
type ScheduleHandler struct {
	repo     repository.ScheduleRepository
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(repo repository.ScheduleRepository, p *pipeline.Pipeline, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{repo: repo, pipeline: p, logger: logger.Named("schedule_handler")}
}

type scheduleResponse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	TargetID        string   `json:"target_id"`
	Enabled         bool     `json:"enabled"`
	IntervalSeconds int64    `json:"interval_seconds"`
	NextRunAt       *string  `json:"next_run_at"`
	LastRunAt       *string  `json:"last_run_at"`
	Retention       string   `json:"retention"`
	DestinationIDs  []string `json:"destination_ids,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func scheduleToResponse(s *repository.Schedule) scheduleResponse {
	destIDs := make([]string, len(s.Destinations))
	for i, sd := range s.Destinations {
		destIDs[i] = sd.DestinationID.String()
	}
	return scheduleResponse{
		ID:              s.ID.String(),
		Name:            s.Name,
		TargetID:        s.TargetID.String(),
		Enabled:         s.Enabled,
		IntervalSeconds: s.IntervalSeconds,
		NextRunAt:       formatTimePtr(s.NextRunAt),
		LastRunAt:       formatTimePtr(s.LastRunAt),
		Retention:       s.Retention,
		DestinationIDs:  destIDs,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type listSchedulesResponse struct {
	Items []scheduleResponse `json:"items"`
	Total int64              `json:"total,omitempty"`
}

// List handles GET /automation/schedules.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, total, err := h.repo.List(r.Context(), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list schedules", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]scheduleResponse, len(schedules))
	for i := range schedules {
		items[i] = scheduleToResponse(&schedules[i])
	}

	resp := listSchedulesResponse{Items: items}
	if includeTotal(r) {
		resp.Total = total
	}
	Ok(w, resp)
}

// createScheduleRequest is the JSON body expected by POST /automation/schedules.
// Retention is the raw JSON retention.Policy document (§4.4); validated by
// unmarshaling it before the schedule is persisted.
type createScheduleRequest struct {
	Name               string   `json:"name"`
	TargetID           string   `json:"target_id"`
	Enabled            bool     `json:"enabled"`
	IntervalSeconds    int64    `json:"interval_seconds"`
	Retention          string   `json:"retention"`
	EncryptionPassword string   `json:"encryption_password"`
	DestinationIDs     []string `json:"destination_ids"`
}

// Create handles POST /automation/schedules. Computes the initial
// next_run_at per §4.2 when the schedule is created enabled.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		ErrBadRequest(w, "invalid target_id: must be a valid UUID")
		return
	}
	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}
	if req.IntervalSeconds <= 0 {
		ErrBadRequest(w, "interval_seconds must be positive")
		return
	}
	if req.Retention == "" {
		req.Retention = "{}"
	}

	var policy retention.Policy
	if err := json.Unmarshal([]byte(req.Retention), &policy); err != nil {
		ErrBadRequest(w, "invalid retention policy: "+err.Error())
		return
	}

	destIDs, ok := parseUUIDList(w, req.DestinationIDs)
	if !ok {
		return
	}

	sched := &db.Schedule{
		Name:             req.Name,
		TargetID:         targetID,
		Enabled:          req.Enabled,
		IntervalSeconds:  req.IntervalSeconds,
		Retention:        req.Retention,
		EncryptionSecret: db.Secret(req.EncryptionPassword),
	}
	if req.Enabled {
		next := scheduler.InitialFire(req.IntervalSeconds, policy, time.Now().UTC())
		sched.NextRunAt = &next
	}

	if err := h.repo.Create(r.Context(), sched); err != nil {
		writeTargetError(w, h.logger, "create", err)
		return
	}
	if len(destIDs) > 0 {
		if err := h.repo.SetDestinations(r.Context(), sched.ID, destIDs); err != nil {
			writeTargetError(w, h.logger, "set destinations", err)
			return
		}
	}

	loaded, err := h.repo.GetByIDWithDestinations(r.Context(), sched.ID)
	if err != nil {
		writeTargetError(w, h.logger, "reload", err)
		return
	}

	Created(w, scheduleToResponse(loaded))
}

// GetByID handles GET /automation/schedules/{id}.
func (h *ScheduleHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	sched, err := h.repo.GetByIDWithDestinations(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "get", err)
		return
	}

	Ok(w, scheduleToResponse(sched))
}

// updateScheduleRequest is the JSON body for PATCH /automation/schedules/{id}.
// Toggling Enabled recomputes next_run_at (true) or clears it (false),
// matching §8's "disabling a schedule leaves next_run_at = null; re-enabling
// recomputes it" invariant.
type updateScheduleRequest struct {
	Name               *string  `json:"name"`
	Enabled            *bool    `json:"enabled"`
	IntervalSeconds    *int64   `json:"interval_seconds"`
	Retention          *string  `json:"retention"`
	EncryptionPassword *string  `json:"encryption_password"`
	DestinationIDs     []string `json:"destination_ids"`
}

// Update handles PATCH /automation/schedules/{id}.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sched, err := h.repo.GetByIDWithDestinations(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "update", err)
		return
	}

	if req.Name != nil {
		sched.Name = *req.Name
	}
	if req.IntervalSeconds != nil {
		if *req.IntervalSeconds <= 0 {
			ErrBadRequest(w, "interval_seconds must be positive")
			return
		}
		sched.IntervalSeconds = *req.IntervalSeconds
	}
	if req.Retention != nil {
		sched.Retention = *req.Retention
	}
	if req.EncryptionPassword != nil {
		sched.EncryptionSecret = db.Secret(*req.EncryptionPassword)
	}

	var policy retention.Policy
	if sched.Retention != "" {
		if err := json.Unmarshal([]byte(sched.Retention), &policy); err != nil {
			ErrBadRequest(w, "invalid retention policy: "+err.Error())
			return
		}
	}

	if req.Enabled != nil {
		wasEnabled := sched.Enabled
		sched.Enabled = *req.Enabled
		if sched.Enabled && !wasEnabled {
			next := scheduler.InitialFire(sched.IntervalSeconds, policy, time.Now().UTC())
			sched.NextRunAt = &next
		} else if !sched.Enabled {
			sched.NextRunAt = nil
		}
	}

	if err := h.repo.Update(r.Context(), sched); err != nil {
		writeTargetError(w, h.logger, "update", err)
		return
	}

	if req.DestinationIDs != nil {
		destIDs, ok := parseUUIDList(w, req.DestinationIDs)
		if !ok {
			return
		}
		if err := h.repo.SetDestinations(r.Context(), sched.ID, destIDs); err != nil {
			writeTargetError(w, h.logger, "set destinations", err)
			return
		}
	}

	loaded, err := h.repo.GetByIDWithDestinations(r.Context(), sched.ID)
	if err != nil {
		writeTargetError(w, h.logger, "reload", err)
		return
	}

	Ok(w, scheduleToResponse(loaded))
}

// Delete handles DELETE /automation/schedules/{id}.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// runNowResponse reports a single run as {run_id, status, backup_filename,
// details}, nested under response.go's {"data": ...} wrapper.
type runNowResponse struct {
	RunID          string `json:"run_id"`
	Status         string `json:"status"`
	BackupFilename string `json:"backup_filename,omitempty"`
	Details        any    `json:"details,omitempty"`
}

func runToRunNowResponse(run *repository.Run) runNowResponse {
	resp := runNowResponse{
		RunID:          run.ID.String(),
		Status:         run.Status,
		BackupFilename: run.BackupFilename,
	}
	var details any
	if run.Details != "" {
		if err := json.Unmarshal([]byte(run.Details), &details); err == nil {
			resp.Details = details
		}
	}
	return resp
}

// RunNow handles POST /automation/schedules/{id}/run-now.
func (h *ScheduleHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	run, err := h.pipeline.RunScheduleNow(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "run-now", err)
		return
	}

	Ok(w, runToRunNowResponse(run))
}

// runResult pairs one schedule with its run-now outcome, used by
// run-enabled-now and the runner's run-due.
type runResult struct {
	ScheduleID string `json:"schedule_id"`
	RunID      string `json:"run_id,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// RunEnabledNow handles POST /automation/schedules/run-enabled-now: runs
// every currently enabled schedule immediately, concurrently, and reports
// per-schedule outcomes. Unlike the runner's drain loop, this ignores
// next_run_at entirely.
func (h *ScheduleHandler) RunEnabledNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	schedules, _, err := h.repo.List(ctx, repository.ListOptions{})
	if err != nil {
		h.logger.Error("failed to list schedules", zap.Error(err))
		ErrInternal(w)
		return
	}

	var enabled []repository.Schedule
	for _, s := range schedules {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	results := runSchedulesConcurrently(ctx, h.pipeline, enabled)
	Ok(w, envelope{"count": len(results), "results": results})
}

// runSchedulesConcurrently runs every given schedule through the pipeline
// in its own goroutine and waits for all to finish, mirroring
// scheduler.Scheduler.runBatch's per-tick concurrency shape (§1: "across
// schedules within one tick, executions may run in parallel").
func runSchedulesConcurrently(ctx context.Context, p *pipeline.Pipeline, schedules []repository.Schedule) []runResult {
	results := make([]runResult, len(schedules))
	var wg sync.WaitGroup
	for i := range schedules {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := p.RunScheduleNow(ctx, schedules[i].ID)
			result := runResult{ScheduleID: schedules[i].ID.String()}
			if err != nil {
				result.Status = "failed"
				result.Error = err.Error()
			} else {
				result.RunID = run.ID.String()
				result.Status = run.Status
			}
			results[i] = result
		}()
	}
	wg.Wait()
	return results
}

// parseUUIDList parses a slice of string UUIDs, writing a 400 and returning
// ok=false on the first malformed entry.
func parseUUIDList(w http.ResponseWriter, raw []string) ([]uuid.UUID, bool) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			ErrBadRequest(w, "invalid destination id: "+s)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
