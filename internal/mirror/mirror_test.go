package mirror

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/marlin-tools/eeprom-backup/internal/backup"
	"github.com/marlin-tools/eeprom-backup/internal/storages/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) *backup.Handler {
	t.Helper()
	h, err := backup.New(t.TempDir(), discardLogger())
	require.NoError(t, err)
	return h
}

func newTestSyncer(t *testing.T, h *backup.Handler, remoteDir string) *Syncer {
	t.Helper()
	return New(h, local.New(remoteDir, "mirror"), "mirror", discardLogger())
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "profile_a.json.zst", ObjectKey("profile_a"))
}

func TestEncodeDecode(t *testing.T) {
	b := &backup.Backup{Version: 1, Name: "a", Time: "2024-01-01 00:00:00", Data: []byte(`{"steps":[80,80,400]}`)}

	payload, err := encode(b)
	require.NoError(t, err)

	decoded, err := decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, b.Name, decoded.Name)
	assert.Equal(t, b.Time, decoded.Time)
	assert.JSONEq(t, string(b.Data), string(decoded.Data))
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"not zstd", []byte("plain text")},
		{"not json", compress(t, []byte("{{{"))},
		{"missing data", compress(t, []byte(`{"version":1,"name":"a","time":"t"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(bytes.NewReader(tt.payload))
			assert.ErrorIs(t, err, backup.ErrBackupInvalid)
		})
	}
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	remoteDir := t.TempDir()
	h := newTestHandler(t)

	require.NoError(t, h.CreateBackup("profile_a", map[string]int{"x": 1}, "2024-01-01 00:00:00"))
	require.NoError(t, h.CreateBackup("profile_b", []int{1, 2}, "2024-02-01 00:00:00"))

	s := newTestSyncer(t, h, remoteDir)

	result, err := s.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Transferred: 2}, result)
	assert.FileExists(t, filepath.Join(remoteDir, "profile_a.json.zst"))
	assert.FileExists(t, filepath.Join(remoteDir, "profile_b.json.zst"))

	// Already mirrored backups are not uploaded again
	result, err = s.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 2}, result)
}

func TestPush_SkipsInvalidBackups(t *testing.T) {
	ctx := context.Background()
	remoteDir := t.TempDir()
	h := newTestHandler(t)

	require.NoError(t, h.CreateBackup("good", "payload", "2024-01-01 00:00:00"))
	require.NoError(t, h.CreateBackup("broken", "payload", "2024-01-01 00:00:00"))
	require.NoError(t, os.WriteFile(h.BackupPath("broken"), []byte(`{"version":1}`), 0644))

	result, err := newTestSyncer(t, h, remoteDir).Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Transferred: 1, Skipped: 1}, result)
	assert.NoFileExists(t, filepath.Join(remoteDir, "broken.json.zst"))
}

func TestPush_SkipsMalformedBackups(t *testing.T) {
	ctx := context.Background()
	remoteDir := t.TempDir()
	h := newTestHandler(t)

	require.NoError(t, h.CreateBackup("good", "payload", "2024-01-01 00:00:00"))
	require.NoError(t, h.CreateBackup("garbled", "payload", "2024-01-01 00:00:00"))
	require.NoError(t, os.WriteFile(h.BackupPath("garbled"), []byte(`not json{`), 0644))

	result, err := newTestSyncer(t, h, remoteDir).Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Transferred: 1, Skipped: 1}, result)
	assert.FileExists(t, filepath.Join(remoteDir, "good.json.zst"))
	assert.NoFileExists(t, filepath.Join(remoteDir, "garbled.json.zst"))
}

func TestPush_IncludesBackupsFromOtherHandlers(t *testing.T) {
	ctx := context.Background()
	remoteDir := t.TempDir()
	daemon := newTestHandler(t)
	s := newTestSyncer(t, daemon, remoteDir)

	// A second handler on the same directory, as a CLI process next to the daemon
	cli, err := backup.New(daemon.DataDir(), discardLogger())
	require.NoError(t, err)
	require.NoError(t, cli.CreateBackup("from_cli", 1, "2024-01-01 00:00:00"))

	result, err := s.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Transferred: 1}, result)
	assert.FileExists(t, filepath.Join(remoteDir, "from_cli.json.zst"))
}

func TestNameFromKey(t *testing.T) {
	tests := []struct {
		key  string
		name string
		ok   bool
	}{
		{"profile_a.json.zst", "profile_a", true},
		{"a.b.json.zst", "a.b", true},
		{".json.zst", "", false},
		{"nested/deep.json.zst", "", false},
		{"profile_a.json", "", false},
		{"readme.txt", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			name, ok := NameFromKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestPushThenPull(t *testing.T) {
	ctx := context.Background()
	remoteDir := t.TempDir()

	source := newTestHandler(t)
	require.NoError(t, source.CreateBackup("profile_a", map[string]any{"e_steps": 93.5}, "2024-01-01 10:00:00"))
	require.NoError(t, source.CreateBackup("profile_b", nil, "2024-01-02 10:00:00"))

	_, err := newTestSyncer(t, source, remoteDir).Push(ctx)
	require.NoError(t, err)

	target := newTestHandler(t)
	require.NoError(t, target.CreateBackup("profile_b", "local copy", "2025-01-01 00:00:00"))

	result, err := newTestSyncer(t, target, remoteDir).Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Transferred: 1, Skipped: 1}, result)

	restored, err := target.RequireValid("profile_a")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01 10:00:00", restored.Time)
	assert.JSONEq(t, `{"e_steps":93.5}`, string(restored.Data))

	tm, ok := target.BackupTime("profile_a")
	assert.True(t, ok)
	assert.Equal(t, "2024-01-01 10:00:00", tm)

	// Existing local backups are left alone
	kept, err := target.RequireValid("profile_b")
	require.NoError(t, err)
	assert.JSONEq(t, `"local copy"`, string(kept.Data))
}

func TestPull_SkipsForeignAndInvalidObjects(t *testing.T) {
	ctx := context.Background()
	remoteDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "readme.txt"), []byte("hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "corrupt.json.zst"), []byte("garbage"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(remoteDir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "nested", "deep.json.zst"),
		compress(t, []byte(`{"version":1,"name":"deep","time":"t","data":{}}`)), 0644))

	h := newTestHandler(t)
	result, err := newTestSyncer(t, h, remoteDir).Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, result)

	list, err := h.ListBackups(true)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPush_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newTestHandler(t)
	require.NoError(t, h.CreateBackup("a", 1, "2024-01-01 00:00:00"))

	_, err := newTestSyncer(t, h, t.TempDir()).Push(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
