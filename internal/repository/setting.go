package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type gormSettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository returns a SettingRepository backed by the provided *gorm.DB.
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &gormSettingRepository{db: db}
}

func (r *gormSettingRepository) Get(ctx context.Context, key string) (string, error) {
	var setting Setting
	if err := r.db.WithContext(ctx).First(&setting, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("settings: get: %w", err)
	}
	return string(setting.Value), nil
}

// Set upserts a key. Values are stored via Secret so that sensitive
// settings (SMTP password, Telegram bot token) are encrypted at rest the
// same way target/destination credentials are.
func (r *gormSettingRepository) Set(ctx context.Context, key, value string) error {
	setting := Setting{Key: key, Value: Secret(value)}
	if err := r.db.WithContext(ctx).Save(&setting).Error; err != nil {
		return fmt.Errorf("settings: set: %w", err)
	}
	return nil
}

func (r *gormSettingRepository) Delete(ctx context.Context, key string) error {
	result := r.db.WithContext(ctx).Delete(&Setting{}, "key = ?", key)
	if result.Error != nil {
		return fmt.Errorf("settings: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormSettingRepository) ListByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	var settings []Setting
	if err := r.db.WithContext(ctx).Where("key LIKE ?", prefix+"%").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("settings: list by prefix: %w", err)
	}

	out := make(map[string]string, len(settings))
	for _, s := range settings {
		if strings.HasPrefix(s.Key, prefix) {
			out[s.Key] = string(s.Value)
		}
	}
	return out, nil
}
