package notification

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Manager manages multiple notifiers and dispatches events
type Manager struct {
	notifiers map[string]Notifier
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewManager creates a new notification manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		notifiers: make(map[string]Notifier),
		logger:    logger,
	}
}

// AddNotifier adds a notifier to the manager
func (m *Manager) AddNotifier(name string, notifier Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers[name] = notifier
}

// Notify sends an event to the named notifiers and waits for all sends.
// Failed sends are logged.
func (m *Manager) Notify(ctx context.Context, event Event, providers []string) {
	if len(providers) == 0 {
		return
	}

	m.mu.RLock()
	notifiers := make(map[string]Notifier)
	for _, name := range providers {
		if notifier, ok := m.notifiers[name]; ok {
			notifiers[name] = notifier
		} else {
			m.logger.Warn("notification provider not found",
				"provider", name,
				"job", event.Job,
			)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for name, notifier := range notifiers {
		wg.Add(1)
		go func(n string, notif Notifier) {
			defer wg.Done()
			if err := notif.Send(ctx, event); err != nil {
				m.logger.Warn("notification failed",
					"notifier", n,
					"event", event.Type,
					"job", event.Job,
					"error", err,
				)
			}
		}(name, notifier)
	}
	wg.Wait()
}

// NotifyAll sends an event to every registered notifier
func (m *Manager) NotifyAll(ctx context.Context, event Event) {
	m.Notify(ctx, event, m.Names())
}

// Names returns the names of all registered notifiers, sorted
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.notifiers))
	for name := range m.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NotifierCount returns the number of registered notifiers
func (m *Manager) NotifierCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifiers)
}

// NotifierInfo contains information about a notifier for display
type NotifierInfo struct {
	Name string
	Type string
}

// ListNotifiers returns information about all registered notifiers
func (m *Manager) ListNotifiers() []NotifierInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]NotifierInfo, 0, len(m.notifiers))
	for name, notifier := range m.notifiers {
		result = append(result, NotifierInfo{
			Name: name,
			Type: notifier.Type(),
		})
	}
	return result
}
