package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marlin-tools/eeprom-backup/internal/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramType_Create(t *testing.T) {
	tt := &TelegramType{}
	assert.Equal(t, "telegram", tt.Name())

	_, err := tt.Create("tg", map[string]string{"chat-id": "1"})
	assert.Error(t, err, "token is required")

	_, err = tt.Create("tg", map[string]string{"token": "abc"})
	assert.Error(t, err, "chat-id is required")

	n, err := tt.Create("tg", map[string]string{"token": "abc", "chat-id": "1"})
	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, n.(*TelegramNotifier).apiURL)
}

func TestTelegramNotifier_Send(t *testing.T) {
	var received map[string]string
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := (&TelegramType{}).Create("tg", map[string]string{
		"token":   "secret",
		"chat-id": "42",
		"api-url": server.URL + "/",
	})
	require.NoError(t, err)

	err = n.Send(context.Background(), notification.Event{
		Type:    notification.EventRetentionCompleted,
		Job:     "retention",
		Deleted: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, "/botsecret/sendMessage", path)
	assert.Equal(t, "42", received["chat_id"])
	assert.Equal(t, "HTML", received["parse_mode"])
	assert.Contains(t, received["text"], "Retention Completed")
	assert.Contains(t, received["text"], "Deleted: 3")
}

func TestTelegramNotifier_Send_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	n, err := (&TelegramType{}).Create("tg", map[string]string{"token": "x", "chat-id": "1", "api-url": server.URL})
	require.NoError(t, err)

	assert.Error(t, n.Send(context.Background(), notification.Event{Type: notification.EventMirrorCompleted}))
}

func TestFormatMessage_EscapesHTML(t *testing.T) {
	msg := formatMessage(notification.Event{
		Type:    notification.EventMirrorFailed,
		Job:     "mirror:<pool>",
		Storage: "<pool>",
		Failed:  1,
		Error:   errors.New("a < b"),
	})

	assert.Contains(t, msg, "❌ <b>Mirror Failed</b>")
	assert.Contains(t, msg, "mirror:&lt;pool&gt;")
	assert.Contains(t, msg, "0 transferred, 0 skipped, 1 failed")
	assert.Contains(t, msg, "a &lt; b")
}
