package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marlin-tools/eeprom-backup/internal/notification"
)

func init() {
	notification.Register(&DiscordType{})
}

// DiscordType implements NotifierType for Discord
type DiscordType struct{}

// Name returns the notifier type identifier
func (t *DiscordType) Name() string {
	return "discord"
}

// Create instantiates a Discord notifier from options
func (t *DiscordType) Create(name string, options map[string]string) (notification.Notifier, error) {
	webhookURL, ok := options["webhook-url"]
	if !ok || webhookURL == "" {
		return nil, fmt.Errorf("discord notifier %q requires 'webhook-url' option", name)
	}

	username := options["username"]
	if username == "" {
		username = "EEPROM Backup"
	}

	return &DiscordNotifier{
		name:       name,
		webhookURL: webhookURL,
		username:   username,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// DiscordNotifier sends notifications via Discord Webhooks
type DiscordNotifier struct {
	name       string
	webhookURL string
	username   string
	client     *http.Client
}

// Name returns the notifier instance name
func (d *DiscordNotifier) Name() string {
	return d.name
}

// Type returns the notifier type
func (d *DiscordNotifier) Type() string {
	return "discord"
}

type webhookPayload struct {
	Username string  `json:"username"`
	Embeds   []embed `json:"embeds"`
}

type embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields"`
	Timestamp string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Send posts the event to the Discord webhook
func (d *DiscordNotifier) Send(ctx context.Context, event notification.Event) error {
	body, err := json.Marshal(webhookPayload{
		Username: d.username,
		Embeds:   []embed{createEmbed(event)},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}

const (
	colorGreen = 3066993
	colorRed   = 15158332
)

func createEmbed(event notification.Event) embed {
	color := colorGreen
	if event.Type.Failed() {
		color = colorRed
	}

	fields := []embedField{
		{Name: "Job", Value: fmt.Sprintf("`%s`", event.Job), Inline: true},
	}

	if event.Storage != "" {
		fields = append(fields, embedField{Name: "Storage", Value: fmt.Sprintf("`%s`", event.Storage), Inline: true})
	}

	switch event.Type {
	case notification.EventMirrorCompleted, notification.EventMirrorFailed:
		fields = append(fields, embedField{
			Name:  "Backups",
			Value: fmt.Sprintf("%d transferred, %d skipped, %d failed", event.Transferred, event.Skipped, event.Failed),
		})
	case notification.EventRetentionCompleted:
		fields = append(fields, embedField{Name: "Deleted", Value: fmt.Sprintf("%d", event.Deleted), Inline: true})
	}

	if event.Duration > 0 {
		fields = append(fields, embedField{
			Name:   "Duration",
			Value:  event.Duration.Round(time.Millisecond).String(),
			Inline: true,
		})
	}

	if event.Error != nil {
		fields = append(fields, embedField{Name: "Error", Value: fmt.Sprintf("```%s```", event.Error.Error())})
	}

	e := embed{
		Title:  event.Type.Title(),
		Color:  color,
		Fields: fields,
	}
	if !event.Timestamp.IsZero() {
		e.Timestamp = event.Timestamp.Format(time.RFC3339)
	}

	return e
}
