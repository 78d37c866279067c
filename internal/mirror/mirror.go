// Package mirror copies backups between the local data directory and a
// storage pool.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/marlin-tools/eeprom-backup/internal/backup"
	"github.com/marlin-tools/eeprom-backup/internal/storage"
)

// ObjectExtension is appended to a backup name to form its object key
const ObjectExtension = backup.FileExtension + ".zst"

// Result counts the outcome of a Push or Pull
type Result struct {
	Transferred int
	Skipped     int
	Failed      int
}

// Syncer mirrors backups of one handler to one storage pool
type Syncer struct {
	handler  *backup.Handler
	store    storage.Storage
	poolName string
	logger   *slog.Logger
}

// New creates a syncer for the given pool
func New(handler *backup.Handler, store storage.Storage, poolName string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		handler:  handler,
		store:    store,
		poolName: poolName,
		logger:   logger.With("storage", poolName),
	}
}

// ObjectKey returns the object key for a backup name
func ObjectKey(name string) string {
	return name + ObjectExtension
}

// NameFromKey returns the backup name an object key was written for. Keys
// without ObjectExtension or inside a sub-prefix are not mirror objects.
func NameFromKey(key string) (string, bool) {
	name, ok := strings.CutSuffix(key, ObjectExtension)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// remoteNames returns the backup names present in the pool
func (s *Syncer) remoteNames(ctx context.Context) (map[string]bool, error) {
	objects, err := s.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list storage pool %s: %w", s.poolName, err)
	}

	names := make(map[string]bool, len(objects))
	for _, obj := range objects {
		name, ok := NameFromKey(obj.Key)
		if !ok {
			continue
		}
		names[name] = true
	}
	return names, nil
}

// Push uploads every valid local backup that the pool does not have yet
func (s *Syncer) Push(ctx context.Context) (Result, error) {
	var result Result

	remote, err := s.remoteNames(ctx)
	if err != nil {
		return result, err
	}

	// Re-read the index so backups created by other processes are included
	summaries, err := s.handler.ListBackups(false)
	if err != nil {
		return result, err
	}

	for _, summary := range summaries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if remote[summary.Name] {
			result.Skipped++
			continue
		}

		b, err := s.handler.RequireValid(summary.Name)
		if err != nil {
			if errors.Is(err, backup.ErrBackupInvalid) || errors.Is(err, backup.ErrBackupMissing) {
				s.logger.Warn("skipping backup that cannot be mirrored", "name", summary.Name, "error", err)
				result.Skipped++
				continue
			}
			return result, err
		}

		payload, err := encode(b)
		if err != nil {
			return result, err
		}

		if err := s.store.Store(ctx, ObjectKey(summary.Name), bytes.NewReader(payload)); err != nil {
			s.logger.Error("failed to upload backup", "name", summary.Name, "error", err)
			result.Failed++
			continue
		}

		remote[summary.Name] = true
		result.Transferred++
		s.logger.Info("backup uploaded", "name", summary.Name, "key", ObjectKey(summary.Name), "size", len(payload))
	}

	return result, nil
}

// Pull restores every backup from the pool that is not present locally.
// Restored backups keep the time they were created with.
func (s *Syncer) Pull(ctx context.Context) (Result, error) {
	var result Result

	remote, err := s.remoteNames(ctx)
	if err != nil {
		return result, err
	}

	for name := range remote {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if _, exists := s.handler.BackupTime(name); exists {
			result.Skipped++
			continue
		}

		if err := backup.ValidateName(name); err != nil {
			s.logger.Warn("skipping object with invalid backup name", "key", ObjectKey(name), "error", err)
			result.Skipped++
			continue
		}

		b, err := s.fetch(ctx, name)
		if err != nil {
			if errors.Is(err, backup.ErrBackupInvalid) {
				s.logger.Warn("skipping invalid mirrored backup", "name", name, "error", err)
				result.Skipped++
				continue
			}
			s.logger.Error("failed to download backup", "name", name, "error", err)
			result.Failed++
			continue
		}

		if err := s.handler.CreateBackup(name, b.Data, b.Time); err != nil {
			if errors.Is(err, backup.ErrNameTaken) {
				result.Skipped++
				continue
			}
			return result, err
		}

		result.Transferred++
		s.logger.Info("backup restored", "name", name, "time", b.Time)
	}

	return result, nil
}

func (s *Syncer) fetch(ctx context.Context, name string) (*backup.Backup, error) {
	rc, err := s.store.Get(ctx, ObjectKey(name))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()

	return decode(rc)
}

// encode serializes a backup record and compresses it with zstd
func encode(b *backup.Backup) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}

	var buf bytes.Buffer
	zstdWriter, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}

	if _, err := zstdWriter.Write(data); err != nil {
		_ = zstdWriter.Close()
		return nil, fmt.Errorf("failed to compress backup: %w", err)
	}
	if err := zstdWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress backup: %w", err)
	}

	return buf.Bytes(), nil
}

// decode reverses encode. Records missing required keys yield ErrBackupInvalid.
func decode(r io.Reader) (*backup.Backup, error) {
	zstdReader, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zstdReader.Close()

	data, err := io.ReadAll(zstdReader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decompress: %v", backup.ErrBackupInvalid, err)
	}

	var record backup.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", backup.ErrBackupInvalid, err)
	}

	return record.Decode()
}
