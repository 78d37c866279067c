package retention

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/marlin-tools/eeprom-backup/internal/backup"
	"github.com/marlin-tools/eeprom-backup/internal/mirror"
	"github.com/marlin-tools/eeprom-backup/internal/storage"
)

// Manager handles retention policy enforcement
type Manager struct {
	handler     *backup.Handler
	poolManager *storage.PoolManager
	logger      *slog.Logger
}

// New creates a new retention manager. poolManager may be nil when no
// storage pools are configured.
func New(handler *backup.Handler, poolManager *storage.PoolManager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		handler:     handler,
		poolManager: poolManager,
		logger:      logger,
	}
}

// Prune deletes the oldest local backups so that at most keepCount remain.
// Backups whose time cannot be parsed count as oldest. keepCount <= 0 keeps everything.
func (m *Manager) Prune(keepCount int) (int, error) {
	if keepCount <= 0 {
		return 0, nil
	}

	summaries, err := m.handler.ListBackups(false)
	if err != nil {
		return 0, err
	}

	if len(summaries) <= keepCount {
		return 0, nil // Nothing to delete
	}

	candidates := oldestFirst(summaries)

	deleted := 0
	for _, summary := range candidates[:len(candidates)-keepCount] {
		if err := m.handler.DeleteBackup(summary.Name); err != nil {
			if errors.Is(err, backup.ErrBackupMissing) {
				m.logger.Warn("backup file already gone, index entry kept", "name", summary.Name)
				continue
			}
			m.logger.Warn("failed to delete old backup",
				"name", summary.Name,
				"error", err,
			)
			continue
		}
		deleted++
		m.logger.Info("deleted old backup",
			"name", summary.Name,
			"time", summary.Time,
		)
	}

	return deleted, nil
}

// oldestFirst orders summaries by parsed time. Unparseable times sort first;
// equal times keep index order.
func oldestFirst(summaries []backup.Summary) []backup.Summary {
	type entry struct {
		summary backup.Summary
		time    time.Time
		valid   bool
	}

	entries := make([]entry, len(summaries))
	for i, s := range summaries {
		t, err := backup.ParseTime(s.Time)
		entries[i] = entry{summary: s, time: t, valid: err == nil}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].valid != entries[j].valid {
			return !entries[i].valid
		}
		return entries[i].time.Before(entries[j].time)
	})

	result := make([]backup.Summary, len(entries))
	for i, e := range entries {
		result[i] = e.summary
	}
	return result
}

// PruneRemote deletes the oldest mirror objects in a storage pool so that at
// most keepCount remain. Other objects in the pool are left alone.
// keepCount <= 0 keeps everything.
func (m *Manager) PruneRemote(ctx context.Context, storageName string, keepCount int) (int, error) {
	if keepCount <= 0 {
		return 0, nil
	}
	if m.poolManager == nil {
		return 0, errors.New("no storage pools configured")
	}

	store, err := m.poolManager.Resolve(storageName)
	if err != nil {
		return 0, err
	}

	objects, err := store.List(ctx, "")
	if err != nil {
		return 0, err
	}

	files := make([]storage.Object, 0, len(objects))
	for _, obj := range objects {
		if _, ok := mirror.NameFromKey(obj.Key); ok {
			files = append(files, obj)
		}
	}

	if len(files) <= keepCount {
		return 0, nil // Nothing to delete
	}

	// Sort by modification time (newest first)
	sort.Slice(files, func(i, j int) bool {
		return files[i].LastModified.After(files[j].LastModified)
	})

	deleted := 0
	for i := keepCount; i < len(files); i++ {
		file := files[i]
		if err := store.Delete(ctx, file.Key); err != nil {
			m.logger.Warn("failed to delete old mirror object",
				"storage", storageName,
				"key", file.Key,
				"error", err,
			)
			continue
		}
		deleted++
		m.logger.Info("deleted old mirror object",
			"storage", storageName,
			"key", file.Key,
			"age", file.LastModified,
		)
	}

	return deleted, nil
}
