package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormRunRepository struct {
	db *gorm.DB
}

// NewRunRepository returns a RunRepository backed by the provided *gorm.DB.
func NewRunRepository(db *gorm.DB) RunRepository {
	return &gormRunRepository{db: db}
}

func (r *gormRunRepository) Create(ctx context.Context, run *Run) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("runs: create: %w", err)
	}
	return nil
}

func (r *gormRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	var run Run
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("runs: get by id: %w", err)
	}
	return &run, nil
}

func (r *gormRunRepository) Update(ctx context.Context, run *Run) error {
	result := r.db.WithContext(ctx).Save(run)
	if result.Error != nil {
		return fmt.Errorf("runs: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus transitions a run from "started" to a terminal state. Called
// exactly once per run by the pipeline's final bookkeeping step (§4.3).
func (r *gormRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, finishedAt *time.Time, details, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"finished_at":   finishedAt,
			"details":       details,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("runs: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRunRepository) List(ctx context.Context, opts ListOptions) ([]Run, int64, error) {
	var runs []Run
	var total int64

	if err := r.db.WithContext(ctx).Model(&Run{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("runs: list count: %w", err)
	}

	query := r.db.WithContext(ctx).Order("started_at DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if err := query.Offset(opts.Offset).Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("runs: list: %w", err)
	}

	return runs, total, nil
}

// Delete removes a run from history without touching any uploaded backup.
func (r *gormRunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&Run{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("runs: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRunRepository) ListByScheduleID(ctx context.Context, scheduleID uuid.UUID, opts ListOptions) ([]Run, int64, error) {
	var runs []Run
	var total int64

	base := r.db.WithContext(ctx).Model(&Run{}).Where("schedule_id = ?", scheduleID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("runs: list by schedule count: %w", err)
	}

	query := r.db.WithContext(ctx).Where("schedule_id = ?", scheduleID).Order("started_at DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if err := query.Offset(opts.Offset).Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("runs: list by schedule: %w", err)
	}

	return runs, total, nil
}
