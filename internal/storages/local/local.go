package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marlin-tools/eeprom-backup/internal/storage"
)

func init() {
	storage.Register(&LocalStorageType{})
}

// LocalStorageType is the factory for local storage
type LocalStorageType struct{}

// Name returns the storage type identifier
func (t *LocalStorageType) Name() string {
	return "local"
}

// Create instantiates a new local storage from options
func (t *LocalStorageType) Create(poolName string, options map[string]string) (storage.Storage, error) {
	path, ok := options["path"]
	if !ok || path == "" {
		return nil, fmt.Errorf("local storage requires 'path' option")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return New(path, poolName), nil
}

// LocalStorage implements Storage on a directory, e.g. a mounted NAS share
type LocalStorage struct {
	basePath string
	poolName string
}

// New creates a local storage rooted at basePath
func New(basePath, poolName string) *LocalStorage {
	return &LocalStorage{
		basePath: filepath.Clean(basePath),
		poolName: poolName,
	}
}

// Store writes data to the key's file, creating parent directories
func (l *LocalStorage) Store(ctx context.Context, key string, reader io.Reader) error {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(fullPath) // Clean up on failure
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// List returns all objects whose slash-separated key starts with prefix
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	var objects []storage.Object

	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relPath)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		objects = append(objects, storage.Object{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	// Newest first
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})

	return objects, nil
}

// Delete removes an object file and any parent directories left empty
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(key))

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	dir := filepath.Dir(fullPath)
	for dir != l.basePath && strings.HasPrefix(dir, l.basePath) {
		if err := os.Remove(dir); err != nil {
			break // Directory not empty or other error
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// Get opens an object file for reading
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(key))

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}
