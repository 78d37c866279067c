package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marlin-tools/eeprom-backup/internal/backup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNewLogHandler(t *testing.T) {
	var buf bytes.Buffer

	handler, err := newLogHandler(&buf, "info", "json")
	require.NoError(t, err)

	logger := slog.New(handler)
	logger.Debug("hidden")
	logger.Info("backup created", "name", "profile_a")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"backup created"`)
	assert.Contains(t, out, `"name":"profile_a"`)

	_, err = newLogHandler(&buf, "info", "xml")
	assert.Error(t, err)

	_, err = newLogHandler(&buf, "loud", "text")
	assert.Error(t, err)
}

func TestIsYes(t *testing.T) {
	for _, answer := range []string{"y", "Y", "yes", " YES\n", "y\r\n"} {
		assert.True(t, isYes(answer), "answer %q", answer)
	}
	for _, answer := range []string{"", "n", "no", "\n", "yep"} {
		assert.False(t, isYes(answer), "answer %q", answer)
	}
}

func TestAge(t *testing.T) {
	assert.Equal(t, "-", age("not a time"))

	hourAgo := backup.FormatTime(time.Now().Add(-time.Hour))
	assert.Equal(t, "1 hour ago", age(hourAgo))
}

func TestReadDataFile(t *testing.T) {
	data, err := readDataFile(strings.NewReader(`{"x":1}`), "-")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(data))

	_, err = readDataFile(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
