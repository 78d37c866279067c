package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/creachadair/atomicfile"
)

// indexFile is the on-disk shape of the metadata index
type indexFile struct {
	Version int       `json:"version"`
	Backups []Summary `json:"backups"`
}

// Index is the cached list of backups, kept in sync with the index file.
// Every mutation is written to disk before returning.
type Index struct {
	path    string
	version int
	backups []Summary
}

// NewIndex creates an index and immediately persists it to path
func NewIndex(path string, version int, backups []Summary) (*Index, error) {
	idx := &Index{
		path:    path,
		version: version,
		backups: append([]Summary{}, backups...),
	}

	if err := idx.Save(); err != nil {
		return nil, err
	}

	return idx, nil
}

// Path returns the index file path
func (i *Index) Path() string {
	return i.path
}

// Version returns the schema version of the index
func (i *Index) Version() int {
	return i.version
}

// Backups returns a copy of the indexed summaries in insertion order
func (i *Index) Backups() []Summary {
	return append([]Summary{}, i.backups...)
}

// Len returns the number of indexed backups
func (i *Index) Len() int {
	return len(i.backups)
}

// Contains reports whether name is indexed
func (i *Index) Contains(name string) bool {
	_, ok := i.LookupTime(name)
	return ok
}

// LookupTime returns the time of the first entry with the given name
func (i *Index) LookupTime(name string) (string, bool) {
	for _, b := range i.backups {
		if b.Name == name {
			return b.Time, true
		}
	}
	return "", false
}

// Add appends an entry and saves. Uniqueness is the caller's concern.
// The in-memory list only changes once the file is written.
func (i *Index) Add(name, time string) error {
	backups := make([]Summary, 0, len(i.backups)+1)
	backups = append(backups, i.backups...)
	return i.commit(append(backups, Summary{Name: name, Time: time}))
}

// Remove drops every entry with the given name and saves
func (i *Index) Remove(name string) error {
	kept := make([]Summary, 0, len(i.backups))
	for _, b := range i.backups {
		if b.Name != name {
			kept = append(kept, b)
		}
	}
	return i.commit(kept)
}

// Save overwrites the index file with the in-memory state
func (i *Index) Save() error {
	return i.write(i.backups)
}

func (i *Index) commit(backups []Summary) error {
	if err := i.write(backups); err != nil {
		return err
	}
	i.backups = backups
	return nil
}

func (i *Index) write(backups []Summary) error {
	data, err := json.Marshal(indexFile{
		Version: i.version,
		Backups: backups,
	})
	if err != nil {
		return fmt.Errorf("failed to encode backup index: %w", err)
	}

	if err := atomicfile.WriteData(i.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write backup index: %w", err)
	}

	return nil
}

// readIndexFile loads and structurally validates the index file at path.
// It returns ErrIndexMissing or ErrIndexInvalid for the recoverable cases.
func readIndexFile(path string) (*indexFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexMissing, path)
		}
		return nil, fmt.Errorf("failed to read backup index: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexInvalid, path, err)
	}

	versionRaw, ok := raw["version"]
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing version", ErrIndexInvalid, path)
	}
	backupsRaw, ok := raw["backups"]
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing backups", ErrIndexInvalid, path)
	}

	file := &indexFile{}
	if err := json.Unmarshal(versionRaw, &file.Version); err != nil {
		return nil, fmt.Errorf("%w: %s: version: %v", ErrIndexInvalid, path, err)
	}
	// backups must be a list; null is rejected as well
	if err := json.Unmarshal(backupsRaw, &file.Backups); err != nil || file.Backups == nil {
		return nil, fmt.Errorf("%w: %s: backups is not a list", ErrIndexInvalid, path)
	}

	return file, nil
}
