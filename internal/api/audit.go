package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/repository"
)

// AuditHandler groups the read handlers for the append-only audit log (§2
// AuditEvent, §6.1 GET /automation/audit). The log has no write/delete
// surface: audit events are created exclusively by the pipelines.
type AuditHandler struct {
	repo   repository.AuditEventRepository
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(repo repository.AuditEventRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{repo: repo, logger: logger.Named("audit_handler")}
}

type auditEventResponse struct {
	ID            string  `json:"id"`
	Operation     string  `json:"operation"`
	Trigger       string  `json:"trigger"`
	Status        string  `json:"status"`
	StartedAt     string  `json:"started_at"`
	FinishedAt    *string `json:"finished_at"`
	TargetID      *string `json:"target_id,omitempty"`
	DestinationID *string `json:"destination_id,omitempty"`
	ScheduleID    *string `json:"schedule_id,omitempty"`
	RunID         *string `json:"run_id,omitempty"`
	BackupID      string  `json:"backup_id,omitempty"`
	UserID        string  `json:"user_id,omitempty"`
	UserName      string  `json:"user_name,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

func uuidPtrToString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func auditEventToResponse(e *repository.AuditEvent) auditEventResponse {
	return auditEventResponse{
		ID:            e.ID.String(),
		Operation:     e.Operation,
		Trigger:       e.Trigger,
		Status:        e.Status,
		StartedAt:     e.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:    formatTimePtr(e.FinishedAt),
		TargetID:      uuidPtrToString(e.TargetID),
		DestinationID: uuidPtrToString(e.DestinationID),
		ScheduleID:    uuidPtrToString(e.ScheduleID),
		RunID:         uuidPtrToString(e.RunID),
		BackupID:      e.BackupID,
		UserID:        e.UserID,
		UserName:      e.UserName,
		ErrorMessage:  e.ErrorMessage,
	}
}

type listAuditResponse struct {
	Items []auditEventResponse `json:"items"`
	Total int64                `json:"total,omitempty"`
}

// List handles GET /automation/audit?target_id&operation&trigger&limit&offset&include_total.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter repository.AuditFilter

	if raw := r.URL.Query().Get("target_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			ErrBadRequest(w, "invalid target_id: must be a valid UUID")
			return
		}
		filter.TargetID = &id
	}
	filter.Operation = r.URL.Query().Get("operation")
	filter.Trigger = r.URL.Query().Get("trigger")

	events, total, err := h.repo.ListFiltered(r.Context(), filter, paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list audit events", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]auditEventResponse, len(events))
	for i := range events {
		items[i] = auditEventToResponse(&events[i])
	}

	resp := listAuditResponse{Items: items}
	if includeTotal(r) {
		resp.Total = total
	}
	Ok(w, resp)
}

// GetByID handles GET /automation/audit/{id}.
func (h *AuditHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	event, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "get", err)
		return
	}

	Ok(w, auditEventToResponse(event))
}
