package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/db"
	"github.com/vaultkeep/backupd/internal/repository"
)

// validDestinationTypes lists the destination_type values a destination may
// declare (§4.5).
var validDestinationTypes = map[string]bool{
	"local":        true,
	"sftp":         true,
	"google_drive": true,
}

// DestinationHandler groups all destination-related HTTP handlers (§6.1).
type DestinationHandler struct {
	repo   repository.DestinationRepository
	logger *zap.Logger
}

// NewDestinationHandler creates a new DestinationHandler.
func NewDestinationHandler(repo repository.DestinationRepository, logger *zap.Logger) *DestinationHandler {
	return &DestinationHandler{repo: repo, logger: logger.Named("destination_handler")}
}

// destinationResponse is the JSON representation of a destination.
// Credentials are write-only and never returned.
type destinationResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DestinationType string `json:"destination_type"`
	Config          string `json:"config"`
	IsActive        bool   `json:"is_active"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func destinationToResponse(d *repository.Destination) destinationResponse {
	return destinationResponse{
		ID:              d.ID.String(),
		Name:            d.Name,
		DestinationType: d.DestinationType,
		Config:          d.Config,
		IsActive:        d.IsActive,
		CreatedAt:       d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type listDestinationsResponse struct {
	Items []destinationResponse `json:"items"`
	Total int64                 `json:"total,omitempty"`
}

// List handles GET /automation/destinations.
func (h *DestinationHandler) List(w http.ResponseWriter, r *http.Request) {
	destinations, total, err := h.repo.List(r.Context(), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list destinations", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]destinationResponse, len(destinations))
	for i := range destinations {
		items[i] = destinationToResponse(&destinations[i])
	}

	resp := listDestinationsResponse{Items: items}
	if includeTotal(r) {
		resp.Total = total
	}
	Ok(w, resp)
}

// createDestinationRequest is the JSON body expected by POST /automation/destinations.
type createDestinationRequest struct {
	Name            string `json:"name"`
	DestinationType string `json:"destination_type"`
	Config          string `json:"config"`
	Secrets         string `json:"secrets"`
}

// Create handles POST /automation/destinations.
func (h *DestinationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDestinationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}
	if !validDestinationTypes[req.DestinationType] {
		ErrBadRequest(w, "destination_type must be one of: local, sftp, google_drive")
		return
	}
	if req.Config == "" {
		req.Config = "{}"
	}

	dest := &repository.Destination{
		Name:            req.Name,
		DestinationType: req.DestinationType,
		Config:          req.Config,
		Secrets:         db.Secret(req.Secrets),
		IsActive:        true,
	}

	if err := h.repo.Create(r.Context(), dest); err != nil {
		writeTargetError(w, h.logger, "create", err)
		return
	}

	Created(w, destinationToResponse(dest))
}

// GetByID handles GET /automation/destinations/{id}.
func (h *DestinationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	dest, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "get", err)
		return
	}

	Ok(w, destinationToResponse(dest))
}

// updateDestinationRequest is the JSON body for PUT /automation/destinations/{id}.
type updateDestinationRequest struct {
	Name     *string `json:"name"`
	Config   *string `json:"config"`
	Secrets  *string `json:"secrets"`
	IsActive *bool   `json:"is_active"`
}

// Update handles PUT /automation/destinations/{id}.
func (h *DestinationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateDestinationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	dest, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeTargetError(w, h.logger, "update", err)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			ErrBadRequest(w, "name cannot be empty")
			return
		}
		dest.Name = *req.Name
	}
	if req.Config != nil {
		dest.Config = *req.Config
	}
	if req.Secrets != nil {
		dest.Secrets = db.Secret(*req.Secrets)
	}
	if req.IsActive != nil {
		dest.IsActive = *req.IsActive
	}

	if err := h.repo.Update(r.Context(), dest); err != nil {
		writeTargetError(w, h.logger, "update", err)
		return
	}

	Ok(w, destinationToResponse(dest))
}

// Delete handles DELETE /automation/destinations/{id}. Rejects the built-in
// "local" destination and any destination still referenced by a schedule
// (§3), surfaced by the repository as apierr.ErrValidation.
func (h *DestinationHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
