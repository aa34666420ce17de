package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// telegramAPIBase is the Telegram Bot API endpoint root. Grounded on the
// original automation service's bot integration: one HTTPS POST per
// message, no long-lived connection. A var (not a const) so tests can
// redirect it at an httptest.Server.
var telegramAPIBase = "https://api.telegram.org/bot"

type telegramSendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// telegramSender delivers a single message to a Telegram chat via the bot
// API. The bot token is global (one bot per instance); the destination
// chat_id is supplied per send, since it is configured per schedule.
type telegramSender struct {
	client *http.Client
	loader func(ctx context.Context) (string, error)
}

func newTelegramSender(loader func(ctx context.Context) (string, error)) *telegramSender {
	return &telegramSender{
		client: &http.Client{Timeout: 10 * time.Second},
		loader: loader,
	}
}

// Send posts message (HTML-formatted) to chatID. If no bot token is
// configured the send is skipped silently, matching emailSender's
// optional-channel behavior.
func (s *telegramSender) Send(ctx context.Context, chatID, message string) error {
	if chatID == "" {
		return fmt.Errorf("%w: chat_id not configured", ErrInvalidConfig)
	}

	token, err := s.loader(ctx)
	if err != nil {
		if err == ErrConfigNotFound {
			return nil
		}
		return fmt.Errorf("%w: failed to load telegram config: %s", ErrSendFailed, err)
	}

	body, err := json.Marshal(telegramSendMessageRequest{
		ChatID:    chatID,
		Text:      message,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal telegram request: %s", ErrSendFailed, err)
	}

	url := telegramAPIBase + token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to build telegram request: %s", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: telegram request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	var parsed telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("%w: failed to decode telegram response: %s", ErrSendFailed, err)
	}
	if !parsed.OK {
		return fmt.Errorf("%w: %s", ErrSendFailed, parsed.Description)
	}
	return nil
}
