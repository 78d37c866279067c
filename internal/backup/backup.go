package backup

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// SchemaVersion is written to both backup files and the index file
	SchemaVersion = 1

	// IndexFilename is the index file name relative to the data directory
	IndexFilename = "backup_metadata.json"

	// LockFilename guards index updates across processes sharing a data directory
	LockFilename = "backup_metadata.lock"

	// BackupsDir is the backup directory relative to the data directory
	BackupsDir = "backups"

	// FileExtension is appended to a backup name to form its file name
	FileExtension = ".json"

	// TimeLayout is the format of backup timestamps (local time)
	TimeLayout = "2006-01-02 15:04:05"
)

// requiredKeys must all be present for a backup file to be well-formed
var requiredKeys = []string{"version", "time", "name", "data"}

// Backup is a single backup file as written to disk.
// Field order matches the on-disk key order.
type Backup struct {
	Version int             `json:"version"`
	Name    string          `json:"name"`
	Time    string          `json:"time"`
	Data    json.RawMessage `json:"data"`
}

// Record is the decoded top level of a backup file. Values are kept raw so
// files that fail validation can still be inspected.
type Record map[string]json.RawMessage

// Has reports whether key is present in the record
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Name returns the record's name, or "" when absent or not a string
func (r Record) Name() string {
	return r.stringField("name")
}

// Time returns the record's time. Non-string values are returned as raw JSON text.
func (r Record) Time() string {
	return r.stringField("time")
}

// Data returns the raw payload
func (r Record) Data() json.RawMessage {
	return r["data"]
}

func (r Record) stringField(key string) string {
	raw, ok := r[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return s
}

// Decode converts a well-formed record into a Backup.
// It returns ErrBackupInvalid when keys are missing or have the wrong type.
func (r Record) Decode() (*Backup, error) {
	if !ValidateRecord(r) {
		return nil, ErrBackupInvalid
	}

	b := &Backup{Data: r.Data()}
	if err := json.Unmarshal(r["version"], &b.Version); err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrBackupInvalid, err)
	}
	if err := json.Unmarshal(r["name"], &b.Name); err != nil {
		return nil, fmt.Errorf("%w: name: %v", ErrBackupInvalid, err)
	}
	if err := json.Unmarshal(r["time"], &b.Time); err != nil {
		return nil, fmt.Errorf("%w: time: %v", ErrBackupInvalid, err)
	}
	return b, nil
}

// ValidateRecord reports whether all required keys are present.
// Value types are not checked.
func ValidateRecord(r Record) bool {
	for _, key := range requiredKeys {
		if !r.Has(key) {
			return false
		}
	}
	return true
}

// Summary is one entry of the metadata index
type Summary struct {
	Name string `json:"name"`
	Time string `json:"time"`
}

// ParseTime parses a backup timestamp in local time
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.Local)
}

// FormatTime formats t as a backup timestamp
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}
