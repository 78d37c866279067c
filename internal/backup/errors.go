package backup

import "errors"

var (
	// ErrIndexMissing is returned when the metadata index file does not exist
	ErrIndexMissing = errors.New("backup index missing")

	// ErrIndexInvalid is returned when the metadata index file cannot be parsed
	// or lacks the version/backups structure
	ErrIndexInvalid = errors.New("backup index invalid")

	// ErrBackupMissing is returned when a backup file does not exist
	ErrBackupMissing = errors.New("backup missing")

	// ErrBackupInvalid is returned by strict validation when a backup file lacks required keys
	ErrBackupInvalid = errors.New("backup invalid")

	// ErrNameTaken is returned when creating a backup whose name is already indexed
	ErrNameTaken = errors.New("backup name already taken")

	// ErrInvalidName is returned for names that cannot be used as a file name
	ErrInvalidName = errors.New("invalid backup name")
)
