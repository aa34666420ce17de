package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTelegramSenderSendSuccess(t *testing.T) {
	var captured telegramSendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(telegramResponse{OK: true})
	}))
	defer server.Close()

	original := telegramAPIBase
	telegramAPIBase = server.URL + "/bot"
	defer func() { telegramAPIBase = original }()

	sender := newTelegramSender(func(ctx context.Context) (string, error) { return "test-token", nil })
	if err := sender.Send(context.Background(), "12345", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if captured.ChatID != "12345" || captured.Text != "hello" {
		t.Fatalf("unexpected captured request: %+v", captured)
	}
}

func TestTelegramSenderSendAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(telegramResponse{OK: false, Description: "chat not found"})
	}))
	defer server.Close()

	original := telegramAPIBase
	telegramAPIBase = server.URL + "/bot"
	defer func() { telegramAPIBase = original }()

	sender := newTelegramSender(func(ctx context.Context) (string, error) { return "test-token", nil })
	err := sender.Send(context.Background(), "12345", "hello")
	if err == nil {
		t.Fatal("expected an error for a non-ok telegram response")
	}
}

func TestTelegramSenderSkipsWhenUnconfigured(t *testing.T) {
	sender := newTelegramSender(func(ctx context.Context) (string, error) { return "", ErrConfigNotFound })
	if err := sender.Send(context.Background(), "12345", "hello"); err != nil {
		t.Fatalf("expected silent skip, got %v", err)
	}
}

func TestTelegramSenderRequiresChatID(t *testing.T) {
	sender := newTelegramSender(func(ctx context.Context) (string, error) { return "test-token", nil })
	if err := sender.Send(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected an error for a missing chat_id")
	}
}
