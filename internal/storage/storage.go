package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Get when no object exists for a key
var ErrNotFound = errors.New("object not found")

// Object represents a stored mirror object
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage defines the interface for mirror storage backends
type Storage interface {
	// Store saves data under the given key, replacing any existing object
	Store(ctx context.Context, key string, reader io.Reader) error

	// List returns all objects whose key starts with prefix, newest first
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Get opens an object for reading. Missing keys yield ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// StorageType creates Storage instances from configuration.
// Each storage backend implements this interface to provide factory functionality.
type StorageType interface {
	// Name returns the type identifier ("local", "s3", etc.)
	Name() string

	// Create instantiates storage from pool configuration options
	Create(poolName string, options map[string]string) (Storage, error)
}
