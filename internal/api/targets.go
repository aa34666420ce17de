package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/apierr"
	"github.com/vaultkeep/backupd/internal/dbadapter"
	"github.com/vaultkeep/backupd/internal/db"
	"github.com/vaultkeep/backupd/internal/repository"
)

// validDBTypes lists the db_type values a target may declare (§6.4).
var validDBTypes = map[string]bool{
	"postgresql": true,
	"mysql":      true,
	"sqlite":     true,
	"neo4j":      true,
}

// TargetHandler groups all target-related HTTP handlers (§6.1).
type TargetHandler struct {
	repo   repository.TargetRepository
	logger *zap.Logger
}

// NewTargetHandler creates a new TargetHandler.
func NewTargetHandler(repo repository.TargetRepository, logger *zap.Logger) *TargetHandler {
	return &TargetHandler{repo: repo, logger: logger.Named("target_handler")}
}

// targetResponse is the JSON representation of a target. Secrets are
// write-only and never echoed back.
type targetResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DBType    string `json:"db_type"`
	Config    string `json:"config"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func targetToResponse(t *repository.Target) targetResponse {
	return targetResponse{
		ID:        t.ID.String(),
		Name:      t.Name,
		DBType:    t.DBType,
		Config:    t.Config,
		IsActive:  t.IsActive,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type listTargetsResponse struct {
	Items []targetResponse `json:"items"`
	Total int64            `json:"total,omitempty"`
}

// List handles GET /automation/targets.
func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	targets, total, err := h.repo.List(r.Context(), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list targets", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]targetResponse, len(targets))
	for i := range targets {
		items[i] = targetToResponse(&targets[i])
	}

	resp := listTargetsResponse{Items: items}
	if includeTotal(r) {
		resp.Total = total
	}
	Ok(w, resp)
}

// createTargetRequest is the JSON body expected by POST /automation/targets.
type createTargetRequest struct {
	Name    string `json:"name"`
	DBType  string `json:"db_type"`
	Config  string `json:"config"`  // JSON, not sensitive
	Secrets string `json:"secrets"` // JSON, encrypted at rest
}

// Create handles POST /automation/targets.
func (h *TargetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}
	if !validDBTypes[req.DBType] {
		ErrBadRequest(w, "db_type must be one of: postgresql, mysql, sqlite, neo4j")
		return
	}
	if req.Config == "" {
		req.Config = "{}"
	}

	target := &repository.Target{
		Name:     req.Name,
		DBType:   req.DBType,
		Config:   req.Config,
		Secrets:  db.Secret(req.Secrets),
		IsActive: true,
	}

	if err := h.repo.Create(r.Context(), target); err != nil {
		writeTargetError(w, h.logger, "create", err)
		return
	}

	Created(w, targetToResponse(target))
}

// GetByID handles GET /automation/targets/{id}.
func (h *TargetHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	target, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "get", err)
		return
	}

	Ok(w, targetToResponse(target))
}

// updateTargetRequest is the JSON body for PUT /automation/targets/{id}.
type updateTargetRequest struct {
	Name     *string `json:"name"`
	Config   *string `json:"config"`
	Secrets  *string `json:"secrets"`
	IsActive *bool   `json:"is_active"`
}

// Update handles PUT /automation/targets/{id}.
func (h *TargetHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateTargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	target, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "update", err)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			ErrBadRequest(w, "name cannot be empty")
			return
		}
		target.Name = *req.Name
	}
	if req.Config != nil {
		target.Config = *req.Config
	}
	if req.Secrets != nil {
		target.Secrets = db.Secret(*req.Secrets)
	}
	if req.IsActive != nil {
		target.IsActive = *req.IsActive
	}

	if err := h.repo.Update(r.Context(), target); err != nil {
		writeTargetError(w, h.logger, "update", err)
		return
	}

	Ok(w, targetToResponse(target))
}

// Delete handles DELETE /automation/targets/{id}. Cascade-deletes the
// target's schedules and run history (§3), enforced by the repository.
func (h *TargetHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// testConnectionRequest is the JSON body for POST /automation/targets/test-connection.
// The target need not already exist — this endpoint validates a candidate
// configuration before the caller commits to creating it.
type testConnectionRequest struct {
	DBType  string `json:"db_type"`
	Config  string `json:"config"`
	Secrets string `json:"secrets"`
}

// TestConnection handles POST /automation/targets/test-connection (§6.4:
// "must complete within 10s or fail").
func (h *TargetHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	adapter, ok := dbadapter.ForDBType(req.DBType)
	if !ok {
		ErrBadRequest(w, "unrecognized db_type: "+req.DBType)
		return
	}

	params, err := dbadapter.ParamsFromTarget(req.DBType, req.Config, req.Secrets)
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := adapter.TestConnection(ctx, params); err != nil {
		Ok(w, envelope{"status": "failed", "message": err.Error()})
		return
	}

	Ok(w, envelope{"status": "success", "message": "connection succeeded"})
}

// statsResponse is the JSON representation of dbadapter.Stats.
type statsResponse struct {
	TableCount        int      `json:"table_count,omitempty"`
	TotalRows         int64    `json:"total_rows,omitempty"`
	DatabaseSizeMB    float64  `json:"database_size_mb,omitempty"`
	Tables            []string `json:"tables,omitempty"`
	Labels            []string `json:"labels,omitempty"`
	RelationshipTypes []string `json:"relationship_types,omitempty"`
}

// Stats handles GET /automation/targets/{id}/stats: table/row counts and
// database size via the adapter's get_stats, used by the before/after
// comparison around a restore (§6.4).
func (h *TargetHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	target, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "stats", err)
		return
	}

	adapter, ok := dbadapter.ForDBType(target.DBType)
	if !ok {
		ErrBadRequest(w, "unrecognized db_type: "+target.DBType)
		return
	}
	params, err := dbadapter.ParamsFromTarget(target.DBType, target.Config, string(target.Secrets))
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}

	stats, err := adapter.GetStats(r.Context(), params)
	if err != nil {
		h.logger.Warn("get_stats failed", zap.String("target_id", id.String()), zap.Error(err))
		ErrServiceUnavailable(w, err.Error())
		return
	}

	Ok(w, statsResponse{
		TableCount:        stats.TableCount,
		TotalRows:         stats.TotalRows,
		DatabaseSizeMB:    stats.DatabaseSizeMB,
		Tables:            stats.Tables,
		Labels:            stats.Labels,
		RelationshipTypes: stats.RelationshipTypes,
	})
}

// writeTargetError maps a repository/apierr failure to the matching HTTP
// status, logging unexpected errors at Error level.
func writeTargetError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, apierr.ErrNotFound):
		ErrNotFound(w)
	case errors.Is(err, apierr.ErrConflict):
		ErrConflict(w, err.Error())
	case errors.Is(err, apierr.ErrValidation), errors.Is(err, apierr.ErrEncryptionNotConfigured):
		ErrUnprocessable(w, err.Error())
	default:
		logger.Error("target operation failed", zap.String("op", op), zap.Error(err))
		ErrInternal(w)
	}
}
