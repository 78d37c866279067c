package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Handler is the entry point for all backup operations. It owns the store
// and the metadata index and keeps the two consistent.
//
// Several processes may share a data directory. Mutations hold an exclusive
// lock on LockFilename and reload the index file first, so entries written
// by another handler are never dropped.
type Handler struct {
	dataDir   string
	indexPath string
	store     *Store
	index     *Index
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	lock *flock.Flock
}

// New creates a handler for dataDir. It ensures the backup directory exists and
// loads the index, rebuilding it from the backup files if it is missing or invalid.
func New(dataDir string, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		dataDir:   dataDir,
		indexPath: filepath.Join(dataDir, IndexFilename),
		store:     NewStore(dataDir, logger),
		logger:    logger,
		now:       time.Now,
		lock:      flock.New(filepath.Join(dataDir, LockFilename)),
	}

	if err := h.store.EnsureDir(); err != nil {
		return nil, err
	}

	unlock, err := h.lockDataDir()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := h.syncIndex(); err != nil {
		return nil, err
	}

	logger.Info("backup index initialised", "path", h.indexPath, "backups", h.index.Len())

	return h, nil
}

// DataDir returns the data directory the handler was created with
func (h *Handler) DataDir() string {
	return h.dataDir
}

// IndexPath returns the path of the metadata index file
func (h *Handler) IndexPath() string {
	return h.indexPath
}

// BackupPath returns the file path a backup name maps to
func (h *Handler) BackupPath(name string) string {
	return h.store.Path(name)
}

// lockDataDir takes the cross-process lock on the data directory. The
// returned func releases it.
func (h *Handler) lockDataDir() (func(), error) {
	if err := h.lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock data directory %s: %w", h.dataDir, err)
	}
	return func() {
		if err := h.lock.Unlock(); err != nil {
			h.logger.Warn("failed to release data directory lock", "path", h.lock.Path(), "error", err)
		}
	}, nil
}

// loadIndex replaces the in-memory index with the contents of the index file.
// The file is not rewritten.
func (h *Handler) loadIndex() error {
	file, err := readIndexFile(h.indexPath)
	if err != nil {
		return err
	}

	h.index = &Index{
		path:    h.indexPath,
		version: file.Version,
		backups: file.Backups,
	}
	return nil
}

// syncIndex reloads the index file, rebuilding it from the backup files if it
// is missing or invalid. Callers hold the data directory lock.
func (h *Handler) syncIndex() error {
	err := h.loadIndex()
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrIndexMissing):
		h.logger.Warn("backup index missing, rebuilding from backup files", "path", h.indexPath, "error", err)
	case errors.Is(err, ErrIndexInvalid):
		h.logger.Warn("backup index invalid, rebuilding from backup files", "path", h.indexPath, "error", err)
	default:
		h.logger.Error("unknown error reading backup index", "path", h.indexPath, "error", err)
		return err
	}

	if err := h.rebuildIndex(); err != nil {
		return fmt.Errorf("failed to rebuild backup index: %w", err)
	}
	return nil
}

// rebuildIndex replaces the in-memory index with one built by scanning the store
func (h *Handler) rebuildIndex() error {
	summaries, err := scanBackups(h.store)
	if err != nil {
		return err
	}

	idx, err := NewIndex(h.indexPath, SchemaVersion, summaries)
	if err != nil {
		return err
	}

	h.index = idx
	return nil
}

// ListBackups returns the indexed backups in creation order. With useCache the
// in-memory index is returned; otherwise the index file is read again.
func (h *Handler) ListBackups(useCache bool) ([]Summary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if useCache && h.index != nil {
		return h.index.Backups(), nil
	}

	unlock, err := h.lockDataDir()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := h.loadIndex(); err != nil {
		return nil, err
	}

	return h.index.Backups(), nil
}

// Rescan rebuilds the index from the backup files and returns the result
func (h *Handler) Rescan() ([]Summary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	unlock, err := h.lockDataDir()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := h.rebuildIndex(); err != nil {
		return nil, err
	}

	h.logger.Info("backup index rebuilt", "path", h.indexPath, "backups", h.index.Len())
	return h.index.Backups(), nil
}

// BackupTime returns the indexed time of a backup
func (h *Handler) BackupTime(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.index.LookupTime(name)
}

// CreateBackup writes a new backup and indexes it. data must be JSON
// serializable. An empty backupTime means now.
func (h *Handler) CreateBackup(name string, data any, backupTime string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode backup data: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	unlock, err := h.lockDataDir()
	if err != nil {
		return err
	}
	defer unlock()

	if err := h.syncIndex(); err != nil {
		return err
	}

	if h.index.Contains(name) {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	if h.store.Exists(name) {
		h.logger.Warn("overwriting unindexed backup file", "name", name, "path", h.store.Path(name))
	}

	if backupTime == "" {
		backupTime = FormatTime(h.now())
	}

	if err := h.store.Write(&Backup{
		Version: SchemaVersion,
		Name:    name,
		Time:    backupTime,
		Data:    payload,
	}); err != nil {
		return err
	}

	return h.index.Add(name, backupTime)
}

// ReadBackup returns a backup's content without validating it
func (h *Handler) ReadBackup(name string) (Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.store.Read(name)
}

// ValidateBackup reports whether a backup has all required keys.
// A missing file is an error, not an invalid backup.
func (h *Handler) ValidateBackup(name string) (bool, error) {
	record, err := h.ReadBackup(name)
	if err != nil {
		return false, err
	}
	return ValidateRecord(record), nil
}

// RequireValid reads a backup and fails with ErrBackupInvalid unless it is well-formed
func (h *Handler) RequireValid(name string) (*Backup, error) {
	record, err := h.ReadBackup(name)
	if err != nil {
		if errors.Is(err, errMalformed) {
			return nil, fmt.Errorf("backup %q: %w: %w", name, ErrBackupInvalid, err)
		}
		return nil, err
	}

	b, err := record.Decode()
	if err != nil {
		return nil, fmt.Errorf("backup %q: %w", name, err)
	}
	return b, nil
}

// DeleteBackup removes a backup file and then its index entry
func (h *Handler) DeleteBackup(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	unlock, err := h.lockDataDir()
	if err != nil {
		return err
	}
	defer unlock()

	if err := h.syncIndex(); err != nil {
		return err
	}

	if err := h.store.Delete(name); err != nil {
		if !errors.Is(err, ErrBackupMissing) {
			h.logger.Error("failed to delete backup", "name", name, "path", h.store.Path(name), "error", err)
		}
		return err
	}

	return h.index.Remove(name)
}

// ValidateName rejects names that would not map to a single file inside the
// backup directory
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
