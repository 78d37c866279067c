package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/creachadair/atomicfile"
)

// errMalformed marks a backup file that exists but is not a JSON object
var errMalformed = errors.New("malformed backup file")

// Store handles the files of individual backups inside the backup directory.
// Names are joined into paths as given; callers must pass file-safe names.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at <dataDir>/backups
func NewStore(dataDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    filepath.Join(dataDir, BackupsDir),
		logger: logger,
	}
}

// Dir returns the backup directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path for a backup name
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+FileExtension)
}

// EnsureDir creates the backup directory if it does not exist yet
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	return nil
}

// Write serializes b and creates or replaces its file
func (s *Store) Write(b *Backup) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode backup %q: %w", b.Name, err)
	}

	if err := atomicfile.WriteData(s.Path(b.Name), data, 0644); err != nil {
		return fmt.Errorf("failed to write backup %q: %w", b.Name, err)
	}

	return nil
}

// Read returns the decoded top level of a backup file without validating it
func (s *Store) Read(name string) (Record, error) {
	path := s.Path(name)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBackupMissing, path)
		}
		return nil, fmt.Errorf("failed to read backup %q: %w", name, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w %s: %v", errMalformed, path, err)
	}
	if record == nil {
		record = Record{}
	}

	return record, nil
}

// Exists reports whether a file is present for name
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Delete removes a backup file
func (s *Store) Delete(name string) error {
	path := s.Path(name)

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBackupMissing, path)
		}
		return fmt.Errorf("failed to delete backup %q: %w", name, err)
	}

	return nil
}

// Scan lists the backup directory (one level) and returns the names of all
// backup files that pass ValidateRecord. Every candidate file is read.
func (s *Store) Scan() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list backup directory: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		fileName := entry.Name()
		if filepath.Ext(fileName) != FileExtension {
			s.logger.Debug("skipping non-backup file", "file", fileName)
			continue
		}
		name := strings.TrimSuffix(fileName, FileExtension)
		if err := ValidateName(name); err != nil {
			s.logger.Warn("skipping backup file with unusable name", "file", fileName, "error", err)
			continue
		}

		record, err := s.Read(name)
		if err != nil {
			if errors.Is(err, ErrBackupMissing) || errors.Is(err, errMalformed) {
				s.logger.Warn("skipping unreadable backup file", "file", fileName, "error", err)
				continue
			}
			return nil, err
		}

		if !ValidateRecord(record) {
			s.logger.Warn("skipping invalid backup file", "file", fileName)
			continue
		}

		names = append(names, name)
	}

	return names, nil
}
