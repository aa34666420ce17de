// Package notification delivers backup/restore run outcomes to the two
// channels this engine supports — SMTP email and a Telegram bot — filtered
// per schedule by outcome (on_success/on_failure/on_warning, see
// retention.Notifications). It implements pipeline.Notifier; no other
// package sends notifications.
package notification

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vaultkeep/backupd/internal/repository"
)

// Setting keys under which the global (instance-wide) channel credentials
// live. Per-schedule fields (recipient address, chat id, which outcomes to
// notify on) live in the schedule's retention.Notifications instead.
const (
	KeySMTPHost     = "smtp.host"
	KeySMTPPort     = "smtp.port"
	KeySMTPUsername = "smtp.username"
	KeySMTPPassword = "smtp.password" // encrypted at rest via db.Secret
	KeySMTPFrom     = "smtp.from"
	KeySMTPTLS      = "smtp.tls" // "true" or "false"

	KeyTelegramBotToken = "telegram.bot_token" // encrypted at rest via db.Secret
)

// SMTPConfig holds the configuration needed to send emails via SMTP.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool // true = implicit TLS (SMTPS); false = plaintext/STARTTLS
}

// loadSMTPConfig reads all "smtp.*" settings and assembles an SMTPConfig.
// Returns ErrConfigNotFound if no SMTP settings exist at all, ErrInvalidConfig
// if required fields are missing or malformed.
func loadSMTPConfig(ctx context.Context, settings repository.SettingRepository) (*SMTPConfig, error) {
	idx, err := settings.ListByPrefix(ctx, "smtp.")
	if err != nil {
		return nil, fmt.Errorf("notification: failed to load smtp settings: %w", err)
	}
	if len(idx) == 0 {
		return nil, ErrConfigNotFound
	}

	host := idx[KeySMTPHost]
	if host == "" {
		return nil, fmt.Errorf("%w: smtp.host is required", ErrInvalidConfig)
	}

	portStr := idx[KeySMTPPort]
	if portStr == "" {
		return nil, fmt.Errorf("%w: smtp.port is required", ErrInvalidConfig)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: smtp.port must be a valid port number", ErrInvalidConfig)
	}

	from := idx[KeySMTPFrom]
	if from == "" {
		return nil, fmt.Errorf("%w: smtp.from is required", ErrInvalidConfig)
	}

	return &SMTPConfig{
		Host:     host,
		Port:     port,
		Username: idx[KeySMTPUsername],
		Password: idx[KeySMTPPassword],
		From:     from,
		TLS:      idx[KeySMTPTLS] == "true",
	}, nil
}

// loadTelegramBotToken reads the single global telegram.bot_token setting.
// Returns ErrConfigNotFound if unset.
func loadTelegramBotToken(ctx context.Context, settings repository.SettingRepository) (string, error) {
	token, err := settings.Get(ctx, KeyTelegramBotToken)
	if err != nil || token == "" {
		return "", ErrConfigNotFound
	}
	return token, nil
}
