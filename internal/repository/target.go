package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep/backupd/internal/apierr"
	"github.com/vaultkeep/backupd/internal/db"
)

type gormTargetRepository struct {
	db *gorm.DB
}

// NewTargetRepository returns a TargetRepository backed by the provided *gorm.DB.
func NewTargetRepository(gdb *gorm.DB) TargetRepository {
	return &gormTargetRepository{db: gdb}
}

// Create rejects a target carrying secrets when no master encryption key
// has been configured (§7 EncryptionNotConfigured) — Secret would otherwise
// silently store the credential in plaintext.
func (r *gormTargetRepository) Create(ctx context.Context, target *Target) error {
	if target.Secrets != "" && !db.EncryptionConfigured() {
		return fmt.Errorf("targets: create: %w", apierr.ErrEncryptionNotConfigured)
	}
	if err := r.db.WithContext(ctx).Create(target).Error; err != nil {
		return fmt.Errorf("targets: create: %w", err)
	}
	return nil
}

func (r *gormTargetRepository) GetByID(ctx context.Context, id uuid.UUID) (*Target, error) {
	var target Target
	if err := r.db.WithContext(ctx).First(&target, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("targets: get by id: %w", err)
	}
	return &target, nil
}

func (r *gormTargetRepository) Update(ctx context.Context, target *Target) error {
	if target.Secrets != "" && !db.EncryptionConfigured() {
		return fmt.Errorf("targets: update: %w", apierr.ErrEncryptionNotConfigured)
	}
	result := r.db.WithContext(ctx).Save(target)
	if result.Error != nil {
		return fmt.Errorf("targets: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes the target. Its schedules, and those schedules' runs,
// are removed in the same transaction — §3's cascade note — since GORM's
// default foreign-key behavior does not cascade soft deletes.
func (r *gormTargetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scheduleIDs []uuid.UUID
		if err := tx.Model(&Schedule{}).Where("target_id = ?", id).Pluck("id", &scheduleIDs).Error; err != nil {
			return fmt.Errorf("targets: delete: collect schedules: %w", err)
		}

		if len(scheduleIDs) > 0 {
			if err := tx.Where("schedule_id IN ?", scheduleIDs).Delete(&Run{}).Error; err != nil {
				return fmt.Errorf("targets: delete: runs: %w", err)
			}
			if err := tx.Where("schedule_id IN ?", scheduleIDs).Delete(&ScheduleDestination{}).Error; err != nil {
				return fmt.Errorf("targets: delete: schedule destinations: %w", err)
			}
			if err := tx.Where("target_id = ?", id).Delete(&Schedule{}).Error; err != nil {
				return fmt.Errorf("targets: delete: schedules: %w", err)
			}
		}

		result := tx.Delete(&Target{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("targets: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *gormTargetRepository) List(ctx context.Context, opts ListOptions) ([]Target, int64, error) {
	var targets []Target
	var total int64

	if err := r.db.WithContext(ctx).Model(&Target{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("targets: list count: %w", err)
	}

	query := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if err := query.Offset(opts.Offset).Find(&targets).Error; err != nil {
		return nil, 0, fmt.Errorf("targets: list: %w", err)
	}

	return targets, total, nil
}
