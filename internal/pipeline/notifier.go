package pipeline

import (
	"context"

	"github.com/vaultkeep/backupd/internal/retention"
)

// NotificationEvent carries the outcome of a finished run, handed to
// Notifier after terminal bookkeeping (§4.3 step 8).
type NotificationEvent struct {
	RunID         string
	Operation     string // "backup" or "restore"
	Trigger       string // "manual" or "scheduled"
	TargetName    string
	Status        string // "success" or "failed"
	ErrorMessage  string
	Notifications retention.Notifications
}

// NotificationAttempt records one per-recipient delivery outcome, persisted
// onto Run.Details so a run's notification history survives independent of
// the notification channel's own logs.
type NotificationAttempt struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Notifier fans a finished run out to configured recipients, filtered per
// channel by the run's outcome (success, failure, warning). Implemented by internal/notification.Service; declared
// here (the teacher's scheduler/notification boundary shape) so this
// package does not depend on notification's broader collaborator set
// (settings repository, websocket hub).
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) []NotificationAttempt
}

// noopNotifier is used when the pipeline is built without a Notifier —
// useful for tests and for deployments that configure no channels.
type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, NotificationEvent) []NotificationAttempt { return nil }
