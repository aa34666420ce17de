package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormAuditEventRepository struct {
	db *gorm.DB
}

// NewAuditEventRepository returns an AuditEventRepository backed by the provided *gorm.DB.
func NewAuditEventRepository(db *gorm.DB) AuditEventRepository {
	return &gormAuditEventRepository{db: db}
}

func (r *gormAuditEventRepository) Create(ctx context.Context, event *AuditEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("audit events: create: %w", err)
	}
	return nil
}

func (r *gormAuditEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*AuditEvent, error) {
	var event AuditEvent
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("audit events: get by id: %w", err)
	}
	return &event, nil
}

func (r *gormAuditEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, finishedAt *time.Time, details, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&AuditEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"finished_at":   finishedAt,
			"details":       details,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("audit events: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormAuditEventRepository) List(ctx context.Context, opts ListOptions) ([]AuditEvent, int64, error) {
	var events []AuditEvent
	var total int64

	if err := r.db.WithContext(ctx).Model(&AuditEvent{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit events: list count: %w", err)
	}

	query := r.db.WithContext(ctx).Order("started_at DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if err := query.Offset(opts.Offset).Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("audit events: list: %w", err)
	}

	return events, total, nil
}

func (r *gormAuditEventRepository) ListByTarget(ctx context.Context, targetID uuid.UUID, opts ListOptions) ([]AuditEvent, int64, error) {
	var events []AuditEvent
	var total int64

	if err := r.db.WithContext(ctx).Model(&AuditEvent{}).Where("target_id = ?", targetID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit events: list by target count: %w", err)
	}

	query := r.db.WithContext(ctx).Where("target_id = ?", targetID).Order("started_at DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if err := query.Offset(opts.Offset).Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("audit events: list by target: %w", err)
	}

	return events, total, nil
}

// ListFiltered applies AuditFilter's target_id/operation/trigger dimensions
// (§6.1 GET /automation/audit). An empty filter is equivalent to List.
func (r *gormAuditEventRepository) ListFiltered(ctx context.Context, filter AuditFilter, opts ListOptions) ([]AuditEvent, int64, error) {
	base := r.db.WithContext(ctx).Model(&AuditEvent{})
	base = applyAuditFilter(base, filter)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit events: list filtered count: %w", err)
	}

	query := applyAuditFilter(r.db.WithContext(ctx), filter).Order("started_at DESC")
	var events []AuditEvent
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if err := query.Offset(opts.Offset).Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("audit events: list filtered: %w", err)
	}

	return events, total, nil
}

func applyAuditFilter(q *gorm.DB, filter AuditFilter) *gorm.DB {
	if filter.TargetID != nil {
		q = q.Where("target_id = ?", *filter.TargetID)
	}
	if filter.Operation != "" {
		q = q.Where("operation = ?", filter.Operation)
	}
	switch filter.Trigger {
	case "":
		// no filter
	case "non_scheduled":
		q = q.Where("trigger <> ?", "scheduled")
	default:
		q = q.Where("trigger = ?", filter.Trigger)
	}
	return q
}
