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

// localDestinationName is the built-in destination that always exists and
// cannot be deleted (§3).
const localDestinationName = "local"

type gormDestinationRepository struct {
	db *gorm.DB
}

// NewDestinationRepository returns a DestinationRepository backed by the provided *gorm.DB.
func NewDestinationRepository(gdb *gorm.DB) DestinationRepository {
	return &gormDestinationRepository{db: gdb}
}

// Create rejects a destination carrying secrets when no master encryption
// key has been configured (§7 EncryptionNotConfigured).
func (r *gormDestinationRepository) Create(ctx context.Context, destination *Destination) error {
	if destination.Secrets != "" && !db.EncryptionConfigured() {
		return fmt.Errorf("destinations: create: %w", apierr.ErrEncryptionNotConfigured)
	}
	if err := r.db.WithContext(ctx).Create(destination).Error; err != nil {
		return fmt.Errorf("destinations: create: %w", err)
	}
	return nil
}

func (r *gormDestinationRepository) GetByID(ctx context.Context, id uuid.UUID) (*Destination, error) {
	var destination Destination
	if err := r.db.WithContext(ctx).First(&destination, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("destinations: get by id: %w", err)
	}
	return &destination, nil
}

func (r *gormDestinationRepository) Update(ctx context.Context, destination *Destination) error {
	if destination.Secrets != "" && !db.EncryptionConfigured() {
		return fmt.Errorf("destinations: update: %w", apierr.ErrEncryptionNotConfigured)
	}
	result := r.db.WithContext(ctx).Save(destination)
	if result.Error != nil {
		return fmt.Errorf("destinations: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete rejects removal of the built-in local destination and of any
// destination still referenced by a schedule (§3).
func (r *gormDestinationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	var destination Destination
	if err := r.db.WithContext(ctx).First(&destination, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("destinations: delete: get: %w", err)
	}
	if destination.Name == localDestinationName {
		return fmt.Errorf("destinations: delete: %w: the local destination cannot be removed", apierr.ErrValidation)
	}

	var refCount int64
	if err := r.db.WithContext(ctx).Model(&ScheduleDestination{}).
		Where("destination_id = ?", id).Count(&refCount).Error; err != nil {
		return fmt.Errorf("destinations: delete: check references: %w", err)
	}
	if refCount > 0 {
		return fmt.Errorf("destinations: delete: %w: destination is referenced by %d schedule(s)", apierr.ErrValidation, refCount)
	}

	result := r.db.WithContext(ctx).Delete(&Destination{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("destinations: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormDestinationRepository) List(ctx context.Context, opts ListOptions) ([]Destination, int64, error) {
	var destinations []Destination
	var total int64

	if err := r.db.WithContext(ctx).Model(&Destination{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("destinations: list count: %w", err)
	}

	query := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if err := query.Offset(opts.Offset).Find(&destinations).Error; err != nil {
		return nil, 0, fmt.Errorf("destinations: list: %w", err)
	}

	return destinations, total, nil
}

// EnsureLocal is idempotent: it only creates the record the first time it
// observes no destination named "local".
func (r *gormDestinationRepository) EnsureLocal(ctx context.Context, basePath string) error {
	var existing Destination
	err := r.db.WithContext(ctx).First(&existing, "name = ?", localDestinationName).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("destinations: ensure local: %w", err)
	}

	local := &Destination{
		Name:            localDestinationName,
		DestinationType: "local",
		Config:          fmt.Sprintf(`{"base_path":%q}`, basePath),
		IsActive:        true,
	}
	if err := r.db.WithContext(ctx).Create(local).Error; err != nil {
		return fmt.Errorf("destinations: ensure local: create: %w", err)
	}
	return nil
}

// GetLocal returns the built-in "local" destination.
func (r *gormDestinationRepository) GetLocal(ctx context.Context) (*Destination, error) {
	var local Destination
	if err := r.db.WithContext(ctx).First(&local, "name = ?", localDestinationName).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("destinations: get local: %w", err)
	}
	return &local, nil
}
