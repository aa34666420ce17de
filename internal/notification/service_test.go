package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/pipeline"
	"github.com/vaultkeep/backupd/internal/retention"
)

func TestServiceNotifySendsOnlyEnabledChannelsForOutcome(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(telegramResponse{OK: true})
	}))
	defer server.Close()
	original := telegramAPIBase
	telegramAPIBase = server.URL + "/bot"
	defer func() { telegramAPIBase = original }()

	settings := newTestSettings(t)
	if err := settings.Set(context.Background(), KeyTelegramBotToken, "test-token"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	svc := NewService(settings, nil, zap.NewNop())

	notifications := retention.Notifications{
		Telegram: retention.TelegramChannel{
			ChannelRule: retention.ChannelRule{Enabled: true, OnFailure: true},
			ChatID:      "12345",
		},
	}

	// on_failure is set, but the run succeeded: no delivery attempt at all.
	attempts := svc.Notify(context.Background(), pipeline.NotificationEvent{
		Status:        "success",
		TargetName:    "pg-main",
		Trigger:       "scheduled",
		Notifications: notifications,
	})
	if len(attempts) != 0 {
		t.Fatalf("expected no attempts for a success outcome with only on_failure enabled, got %v", attempts)
	}
	if requests != 0 {
		t.Fatalf("expected no telegram request, got %d", requests)
	}

	// Now a failed run should fire telegram.
	attempts = svc.Notify(context.Background(), pipeline.NotificationEvent{
		Status:        "failed",
		TargetName:    "pg-main",
		Trigger:       "scheduled",
		ErrorMessage:  "adapter timed out",
		Notifications: notifications,
	})
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].Channel != "telegram" || !attempts[0].Success {
		t.Fatalf("unexpected attempt: %+v", attempts[0])
	}
	if requests != 1 {
		t.Fatalf("expected 1 telegram request, got %d", requests)
	}
}

func TestServiceNotifyUnconfiguredChannelRecordsSuccess(t *testing.T) {
	settings := newTestSettings(t) // no telegram token configured
	svc := NewService(settings, nil, zap.NewNop())

	notifications := retention.Notifications{
		Telegram: retention.TelegramChannel{
			ChannelRule: retention.ChannelRule{Enabled: true, OnSuccess: true},
			ChatID:      "12345",
		},
	}

	attempts := svc.Notify(context.Background(), pipeline.NotificationEvent{
		Status:        "success",
		TargetName:    "pg-main",
		Notifications: notifications,
	})
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if !attempts[0].Success {
		t.Fatalf("expected success since an unconfigured channel is skipped silently, got %+v", attempts[0])
	}
}
