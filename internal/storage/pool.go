package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/marlin-tools/eeprom-backup/internal/config"
)

// PoolManager manages the named mirror pools
type PoolManager struct {
	pools       map[string]Storage
	defaultPool string
	mu          sync.RWMutex
}

// NewPoolManager creates a pool manager from storage pool configurations
func NewPoolManager(pools map[string]*config.StoragePool, defaultPool string) (*PoolManager, error) {
	pm := &PoolManager{
		pools:       make(map[string]Storage),
		defaultPool: defaultPool,
	}

	for name, poolCfg := range pools {
		s, err := Create(poolCfg.Type, name, poolCfg.Options)
		if err != nil {
			return nil, err
		}
		pm.pools[name] = s
	}

	return pm, nil
}

// Add registers an already constructed pool
func (pm *PoolManager) Add(name string, s Storage) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.pools[name] = s
}

// Get returns a storage pool by name
func (pm *PoolManager) Get(name string) (Storage, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	s, ok := pm.pools[name]
	if !ok {
		return nil, fmt.Errorf("storage pool %q not found", name)
	}

	return s, nil
}

// Resolve returns the named pool, or the default pool when name is empty
func (pm *PoolManager) Resolve(name string) (Storage, error) {
	if name != "" {
		return pm.Get(name)
	}

	if pm.defaultPool == "" {
		return nil, fmt.Errorf("no storage pool given and no default storage pool configured")
	}
	return pm.Get(pm.defaultPool)
}

// Names returns all pool names, sorted
func (pm *PoolManager) Names() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.pools))
	for name := range pm.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PoolCount returns the number of storage pools
func (pm *PoolManager) PoolCount() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.pools)
}
