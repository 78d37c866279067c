package notification

import (
	"context"
	"time"
)

// Event represents a daemon job outcome that can be notified
type Event struct {
	Type        EventType
	Job         string
	Storage     string
	Transferred int
	Skipped     int
	Failed      int
	Deleted     int
	Duration    time.Duration
	Error       error
	Timestamp   time.Time
}

// EventType represents the type of event
type EventType string

const (
	EventMirrorCompleted    EventType = "mirror_completed"
	EventMirrorFailed       EventType = "mirror_failed"
	EventRetentionCompleted EventType = "retention_completed"
	EventRetentionFailed    EventType = "retention_failed"
)

// Failed reports whether the event describes a failure
func (t EventType) Failed() bool {
	return t == EventMirrorFailed || t == EventRetentionFailed
}

// Title returns a human readable title for the event type
func (t EventType) Title() string {
	switch t {
	case EventMirrorCompleted:
		return "Mirror Completed"
	case EventMirrorFailed:
		return "Mirror Failed"
	case EventRetentionCompleted:
		return "Retention Completed"
	case EventRetentionFailed:
		return "Retention Failed"
	default:
		return string(t)
	}
}

// Notifier defines the interface for notification providers
type Notifier interface {
	// Name returns the notifier instance name
	Name() string

	// Type returns the notifier type (e.g., "telegram", "discord")
	Type() string

	// Send sends a notification for the given event
	Send(ctx context.Context, event Event) error
}

// NotifierType creates Notifier instances from configuration
type NotifierType interface {
	// Name returns the type identifier ("telegram", "discord", etc.)
	Name() string

	// Create instantiates a notifier from configuration options
	Create(name string, options map[string]string) (Notifier, error)
}
