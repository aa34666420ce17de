package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository returns a ScheduleRepository backed by the provided *gorm.DB.
func NewScheduleRepository(db *gorm.DB) ScheduleRepository {
	return &gormScheduleRepository{db: db}
}

func (r *gormScheduleRepository) Create(ctx context.Context, schedule *Schedule) error {
	if err := r.db.WithContext(ctx).Omit("Destinations").Create(schedule).Error; err != nil {
		return fmt.Errorf("schedules: create: %w", err)
	}
	return nil
}

func (r *gormScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	var schedule Schedule
	if err := r.db.WithContext(ctx).First(&schedule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schedules: get by id: %w", err)
	}
	return &schedule, nil
}

// GetByIDWithDestinations loads a schedule and manually populates its
// Destinations slice — GORM cannot auto-resolve the uuid.UUID foreign key
// on ScheduleDestination, the same limitation the teacher's PolicyRepository
// works around.
func (r *gormScheduleRepository) GetByIDWithDestinations(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	schedule, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var destinations []ScheduleDestination
	if err := r.db.WithContext(ctx).Where("schedule_id = ?", id).Find(&destinations).Error; err != nil {
		return nil, fmt.Errorf("schedules: get by id with destinations: %w", err)
	}
	schedule.Destinations = destinations
	return schedule, nil
}

func (r *gormScheduleRepository) Update(ctx context.Context, schedule *Schedule) error {
	result := r.db.WithContext(ctx).Omit("Destinations").Save(schedule)
	if result.Error != nil {
		return fmt.Errorf("schedules: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes the schedule and hard-deletes its destination
// associations and run history in the same transaction (§3's cascade note).
func (r *gormScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("schedule_id = ?", id).Delete(&Run{}).Error; err != nil {
			return fmt.Errorf("schedules: delete: runs: %w", err)
		}
		if err := tx.Where("schedule_id = ?", id).Delete(&ScheduleDestination{}).Error; err != nil {
			return fmt.Errorf("schedules: delete: destinations: %w", err)
		}
		result := tx.Delete(&Schedule{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("schedules: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *gormScheduleRepository) List(ctx context.Context, opts ListOptions) ([]Schedule, int64, error) {
	var schedules []Schedule
	var total int64

	if err := r.db.WithContext(ctx).Model(&Schedule{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("schedules: list count: %w", err)
	}

	query := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if err := query.Offset(opts.Offset).Find(&schedules).Error; err != nil {
		return nil, 0, fmt.Errorf("schedules: list: %w", err)
	}

	return schedules, total, nil
}

func (r *gormScheduleRepository) ListByTarget(ctx context.Context, targetID uuid.UUID) ([]Schedule, error) {
	var schedules []Schedule
	if err := r.db.WithContext(ctx).Where("target_id = ?", targetID).Order("created_at ASC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("schedules: list by target: %w", err)
	}
	return schedules, nil
}

// ListDue is the scheduler's batch-selection query (§4.2): enabled
// schedules whose next_run_at has arrived, earliest first, capped at limit
// so a single tick cannot unboundedly fan out.
func (r *gormScheduleRepository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]Schedule, error) {
	var schedules []Schedule
	query := r.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, asOf).
		Order("next_run_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("schedules: list due: %w", err)
	}
	return schedules, nil
}

func (r *gormScheduleRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&Schedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run_at": lastRunAt,
			"next_run_at": nextRunAt,
		})
	if result.Error != nil {
		return fmt.Errorf("schedules: update schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormScheduleRepository) AddDestination(ctx context.Context, scheduleID, destinationID uuid.UUID) error {
	sd := &ScheduleDestination{ScheduleID: scheduleID, DestinationID: destinationID}
	if err := r.db.WithContext(ctx).Create(sd).Error; err != nil {
		return fmt.Errorf("schedules: add destination: %w", err)
	}
	return nil
}

func (r *gormScheduleRepository) RemoveDestination(ctx context.Context, scheduleID, destinationID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("schedule_id = ? AND destination_id = ?", scheduleID, destinationID).
		Delete(&ScheduleDestination{})
	if result.Error != nil {
		return fmt.Errorf("schedules: remove destination: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDestinations replaces a schedule's full destination set atomically —
// used by the schedule update handler, which always submits the complete
// list rather than incremental add/remove calls.
func (r *gormScheduleRepository) SetDestinations(ctx context.Context, scheduleID uuid.UUID, destinationIDs []uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("schedule_id = ?", scheduleID).Delete(&ScheduleDestination{}).Error; err != nil {
			return fmt.Errorf("schedules: set destinations: clear: %w", err)
		}
		for _, destinationID := range destinationIDs {
			sd := &ScheduleDestination{ScheduleID: scheduleID, DestinationID: destinationID}
			if err := tx.Create(sd).Error; err != nil {
				return fmt.Errorf("schedules: set destinations: insert: %w", err)
			}
		}
		return nil
	})
}
