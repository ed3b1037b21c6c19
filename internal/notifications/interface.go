package notifications

import (
	"context"
	"time"

	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Sink is the notification surface the alert dispatcher reports to
type Sink interface {
	Notify(ctx context.Context, notification Notification) error
}

// Notification is a user-facing alert message
type Notification struct {
	Severity types.AlertSeverity `json:"severity"`
	Title    string              `json:"title"`
	Message  string              `json:"message"`
	Module   string              `json:"module,omitempty"`
	// Duration is how long a transient surface should keep it visible
	Duration time.Duration `json:"duration"`
	Action   *Action       `json:"action,omitempty"`
}

// Action is an optional call to action attached to a notification
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ChannelHandler delivers notifications to one destination
type ChannelHandler interface {
	Send(ctx context.Context, notification Notification) error
	Name() string
}

// DisplayDuration returns how long a notification of the given severity
// stays visible
func DisplayDuration(severity types.AlertSeverity) time.Duration {
	switch severity {
	case types.AlertSeverityCritical:
		return 15 * time.Second
	case types.AlertSeverityHigh:
		return 10 * time.Second
	case types.AlertSeverityMedium:
		return 6 * time.Second
	default:
		return 4 * time.Second
	}
}
