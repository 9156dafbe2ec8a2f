package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Send failures split into two classes. Rejected means the platform refused
// the message for this recipient (blocked bot, deleted chat): retrying is
// pointless and the recipient is skipped. Everything else is transient and
// eligible for redelivery.
var ErrRejected = errors.New("notify: recipient rejected the message")

// Channel delivers one rendered message to one chat.
type Channel interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramChannel sends messages through the Bot API. It holds no state
// beyond the HTTP client, so one instance serves all worker goroutines.
type TelegramChannel struct {
	base   string
	token  string
	client *http.Client
}

func NewTelegramChannel(baseURL, token string, client *http.Client) *TelegramChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TelegramChannel{base: baseURL, token: token, client: client}
}

func (t *TelegramChannel) Send(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("encode sendMessage: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.base, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var apiErr struct {
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)

	// 429 and 5xx are the platform's problem and worth a retry; the rest
	// mean this recipient will never take the message.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("send to chat %d: status %d: %s", chatID, resp.StatusCode, apiErr.Description)
	}
	return fmt.Errorf("send to chat %d: status %d: %s: %w", chatID, resp.StatusCode, apiErr.Description, ErrRejected)
}
