package notification

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/marlin-tools/eeprom-backup/internal/config"
)

var (
	notifierTypes = make(map[string]NotifierType)
	mu            sync.RWMutex
)

// Register adds a notifier type to the registry
func Register(nt NotifierType) {
	mu.Lock()
	defer mu.Unlock()
	notifierTypes[nt.Name()] = nt
}

// Get retrieves a notifier type by name
func Get(name string) (NotifierType, bool) {
	mu.RLock()
	defer mu.RUnlock()
	nt, ok := notifierTypes[name]
	return nt, ok
}

// List returns all registered notifier type names, sorted
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(notifierTypes))
	for name := range notifierTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateNotifier creates a notifier instance from type and options
func CreateNotifier(typeName, name string, options map[string]string) (Notifier, error) {
	nt, ok := Get(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown notifier type: %s (available: %v)", typeName, List())
	}
	return nt.Create(name, options)
}

// NewManagerFromConfig creates a manager holding one notifier per configured provider
func NewManagerFromConfig(configs map[string]*config.NotifyConfig, logger *slog.Logger) (*Manager, error) {
	m := NewManager(logger)
	for name, notifyCfg := range configs {
		notifier, err := CreateNotifier(notifyCfg.Type, name, notifyCfg.Options)
		if err != nil {
			return nil, fmt.Errorf("notification provider %q: %w", name, err)
		}
		m.AddNotifier(name, notifier)
	}
	return m, nil
}
