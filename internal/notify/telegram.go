package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const telegramAPIURL = "https://api.telegram.org"

// Telegram delivers messages through the Telegram bot API. It implements
// Transport for channel kind "telegram"; other kinds are skipped silently so
// mixed-channel projects degrade instead of erroring.
type Telegram struct {
	botToken   string
	baseURL    string
	httpClient *http.Client
}

// NewTelegram creates a Telegram transport.
func NewTelegram(botToken string) *Telegram {
	return &Telegram{
		botToken: botToken,
		baseURL:  telegramAPIURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NewTelegramWithBaseURL creates a transport against a custom API host (tests).
func NewTelegramWithBaseURL(botToken, baseURL string) *Telegram {
	t := NewTelegram(botToken)
	t.baseURL = baseURL
	return t
}

// Send posts one message to a chat.
func (t *Telegram) Send(ctx context.Context, channelID, channel, text string, opts SendOptions) error {
	if channel != "telegram" {
		return nil
	}

	payload := map[string]any{
		"chat_id": channelID,
		"text":    text,
	}
	if opts.Silent {
		payload["disable_notification"] = true
	}
	if opts.DisableLinkPreview {
		payload["disable_web_page_preview"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, data)
	}
	return nil
}

var _ Transport = (*Telegram)(nil)
