package notification

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/db"
	"github.com/vaultkeep/backupd/internal/repository"
)

func newTestSettings(t *testing.T) repository.SettingRepository {
	t.Helper()
	if err := db.InitEncryption(make([]byte, 32)); err != nil {
		t.Fatalf("InitEncryption: %v", err)
	}
	gdb, err := db.New(db.Config{Driver: "sqlite", DSN: ":memory:", Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	return repository.NewSettingRepository(gdb)
}

func TestLoadSMTPConfigMissing(t *testing.T) {
	settings := newTestSettings(t)
	if _, err := loadSMTPConfig(context.Background(), settings); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadSMTPConfigInvalidMissingPort(t *testing.T) {
	settings := newTestSettings(t)
	ctx := context.Background()
	if err := settings.Set(ctx, KeySMTPHost, "smtp.example.com"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := loadSMTPConfig(ctx, settings); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadSMTPConfigComplete(t *testing.T) {
	settings := newTestSettings(t)
	ctx := context.Background()
	for k, v := range map[string]string{
		KeySMTPHost:     "smtp.example.com",
		KeySMTPPort:     "587",
		KeySMTPUsername: "bot",
		KeySMTPPassword: "s3cret",
		KeySMTPFrom:     "bot@example.com",
		KeySMTPTLS:      "false",
	} {
		if err := settings.Set(ctx, k, v); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	cfg, err := loadSMTPConfig(ctx, settings)
	if err != nil {
		t.Fatalf("loadSMTPConfig: %v", err)
	}
	if cfg.Host != "smtp.example.com" || cfg.Port != 587 || cfg.From != "bot@example.com" || cfg.TLS {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadTelegramBotTokenMissing(t *testing.T) {
	settings := newTestSettings(t)
	if _, err := loadTelegramBotToken(context.Background(), settings); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadTelegramBotTokenPresent(t *testing.T) {
	settings := newTestSettings(t)
	ctx := context.Background()
	if err := settings.Set(ctx, KeyTelegramBotToken, "123:ABC"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	token, err := loadTelegramBotToken(ctx, settings)
	if err != nil {
		t.Fatalf("loadTelegramBotToken: %v", err)
	}
	if token != "123:ABC" {
		t.Fatalf("unexpected token %q", token)
	}
}
