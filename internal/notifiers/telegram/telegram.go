package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/marlin-tools/eeprom-backup/internal/notification"
)

const defaultAPIURL = "https://api.telegram.org"

func init() {
	notification.Register(&TelegramType{})
}

// TelegramType implements NotifierType for Telegram
type TelegramType struct{}

// Name returns the notifier type identifier
func (t *TelegramType) Name() string {
	return "telegram"
}

// Create instantiates a Telegram notifier from options
func (t *TelegramType) Create(name string, options map[string]string) (notification.Notifier, error) {
	token, ok := options["token"]
	if !ok || token == "" {
		return nil, fmt.Errorf("telegram notifier %q requires 'token' option", name)
	}

	chatID, ok := options["chat-id"]
	if !ok || chatID == "" {
		return nil, fmt.Errorf("telegram notifier %q requires 'chat-id' option", name)
	}

	apiURL := strings.TrimSuffix(options["api-url"], "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	return &TelegramNotifier{
		name:   name,
		token:  token,
		chatID: chatID,
		apiURL: apiURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// TelegramNotifier sends notifications via Telegram Bot API
type TelegramNotifier struct {
	name   string
	token  string
	chatID string
	apiURL string
	client *http.Client
}

// Name returns the notifier instance name
func (t *TelegramNotifier) Name() string {
	return t.name
}

// Type returns the notifier type
func (t *TelegramNotifier) Type() string {
	return "telegram"
}

// Send sends a notification to Telegram
func (t *TelegramNotifier) Send(ctx context.Context, event notification.Event) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       formatMessage(event),
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// formatMessage renders an event as a Telegram HTML message
func formatMessage(event notification.Event) string {
	emoji := "✅"
	if event.Type.Failed() {
		emoji = "❌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", emoji, event.Type.Title())
	fmt.Fprintf(&b, "Job: <code>%s</code>\n", html.EscapeString(event.Job))

	if event.Storage != "" {
		fmt.Fprintf(&b, "Storage: <code>%s</code>\n", html.EscapeString(event.Storage))
	}

	switch event.Type {
	case notification.EventMirrorCompleted, notification.EventMirrorFailed:
		fmt.Fprintf(&b, "Backups: %d transferred, %d skipped, %d failed\n", event.Transferred, event.Skipped, event.Failed)
	case notification.EventRetentionCompleted:
		fmt.Fprintf(&b, "Deleted: %d\n", event.Deleted)
	}

	if event.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", event.Duration.Round(time.Millisecond))
	}

	if event.Error != nil {
		fmt.Fprintf(&b, "\nError: <code>%s</code>", html.EscapeString(event.Error.Error()))
	}

	return b.String()
}
