package storage

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]StorageType)
)

// Register adds a storage type to the registry.
// This is typically called from init() functions in storage backend packages.
func Register(st StorageType) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := st.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("storage type %q already registered", name))
	}

	registry[name] = st
}

// Get returns a registered storage type by name
func Get(name string) (StorageType, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	st, ok := registry[name]
	return st, ok
}

// List returns all registered storage type names, sorted
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create instantiates a pool of the given storage type
func Create(typeName, poolName string, options map[string]string) (Storage, error) {
	st, ok := Get(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown storage type %q for pool %q (available: %v)", typeName, poolName, List())
	}

	s, err := st.Create(poolName, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage pool %q: %w", poolName, err)
	}
	return s, nil
}
