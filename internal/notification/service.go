package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/pipeline"
	"github.com/vaultkeep/backupd/internal/repository"
	"github.com/vaultkeep/backupd/internal/websocket"
)

// Service is the concrete pipeline.Notifier: it formats a run outcome into
// a human-readable message and fans it out to whichever of
// {telegram, email} the triggering schedule enabled for this outcome, and —
// unconditionally, independent of any channel configuration — publishes the
// outcome onto the websocket hub's "run:<id>" and "audit" topics (§1). This
// is the one collaborator internal/pipeline's Notifier interface was
// deliberately kept free of (see pipeline.Notifier's doc comment): the hub
// is a presentation-layer fan-out, not part of the pipeline's own
// bookkeeping.
//
// Config is reloaded from the settings repository on every send, the same
// way the teacher's notification service binds its senders to a loader
// closure rather than a snapshot — a credential rotated through the
// settings API takes effect on the very next run without a restart.
type Service struct {
	settings repository.SettingRepository
	telegram *telegramSender
	email    *emailSender
	hub      *websocket.Hub
	logger   *zap.Logger
}

var _ pipeline.Notifier = (*Service)(nil)

// NewService builds a Service. hub may be nil, in which case run/audit
// events are simply not published (useful for tests and for deployments
// with no WebSocket clients).
func NewService(settings repository.SettingRepository, hub *websocket.Hub, logger *zap.Logger) *Service {
	svc := &Service{settings: settings, hub: hub, logger: logger.Named("notification")}
	svc.telegram = newTelegramSender(func(ctx context.Context) (string, error) {
		return loadTelegramBotToken(ctx, settings)
	})
	svc.email = newEmailSender(func(ctx context.Context) (*SMTPConfig, error) {
		return loadSMTPConfig(ctx, settings)
	})
	return svc
}

// Notify implements pipeline.Notifier. It never returns an error — every
// delivery attempt (success or failure) is instead recorded as a
// pipeline.NotificationAttempt, since the in-app Run record is the
// authoritative history regardless of external delivery outcome.
func (s *Service) Notify(ctx context.Context, event pipeline.NotificationEvent) []pipeline.NotificationAttempt {
	s.publish(event)

	var attempts []pipeline.NotificationAttempt

	message := formatMessage(event)

	telegramCfg := event.Notifications.Telegram
	if telegramCfg.Notify(event.Status) {
		err := s.telegram.Send(ctx, telegramCfg.ChatID, message)
		attempts = append(attempts, s.record("telegram", telegramCfg.ChatID, err))
	}

	emailCfg := event.Notifications.Email
	if emailCfg.Notify(event.Status) {
		subject := fmt.Sprintf("Backup %s: %s", statusLabel(event.Status), event.TargetName)
		plain := strings.NewReplacer("<b>", "", "</b>", "").Replace(message)
		err := s.email.Send(ctx, []string{emailCfg.To}, subject, plain)
		attempts = append(attempts, s.record("email", emailCfg.To, err))
	}

	return attempts
}

// publish broadcasts a run's terminal state to the websocket hub. It is a
// no-op if no hub was configured.
func (s *Service) publish(event pipeline.NotificationEvent) {
	if s.hub == nil {
		return
	}
	s.hub.Publish("run:"+event.RunID, websocket.Message{
		Type:  websocket.MsgRunStatus,
		Topic: "run:" + event.RunID,
		Payload: websocket.RunStatusPayload{
			RunID:        event.RunID,
			Operation:    event.Operation,
			Status:       event.Status,
			ErrorMessage: event.ErrorMessage,
		},
	})
	s.hub.Publish("audit", websocket.Message{
		Type:  websocket.MsgAuditEvent,
		Topic: "audit",
		Payload: websocket.AuditEventPayload{
			Operation: event.Operation,
			Trigger:   event.Trigger,
			Status:    event.Status,
		},
	})
}

func (s *Service) record(channel, recipient string, err error) pipeline.NotificationAttempt {
	attempt := pipeline.NotificationAttempt{Channel: channel, Recipient: recipient, Success: err == nil}
	if err != nil {
		attempt.Error = err.Error()
		s.logger.Warn("notification delivery failed",
			zap.String("channel", channel),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
	}
	return attempt
}

func statusLabel(status string) string {
	switch status {
	case "success":
		return "Completed"
	case "failed":
		return "Failed"
	default:
		return "Warning"
	}
}

// formatMessage builds the HTML-ish body shared by both channels, grounded
// on the original automation service's emoji-prefixed template. Telegram
// renders the <b> tags via parse_mode=HTML; email strips them.
func formatMessage(event pipeline.NotificationEvent) string {
	emoji := "⚠️"
	switch event.Status {
	case "success":
		emoji = "✅"
	case "failed":
		emoji = "❌"
	}

	msg := fmt.Sprintf("%s <b>Backup %s</b>\n\n<b>Target:</b> %s\n<b>Trigger:</b> %s\n<b>Time:</b> %s\n",
		emoji, statusLabel(event.Status), event.TargetName, event.Trigger, time.Now().UTC().Format("2006-01-02 15:04:05"))
	if event.ErrorMessage != "" {
		msg += fmt.Sprintf("\n<b>Error:</b> %s", event.ErrorMessage)
	}
	return msg
}
