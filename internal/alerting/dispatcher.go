// Package alerting deduplicates alerts by module and title, notifies the
// sink and persists them.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/internal/notifications"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// AlertSpec describes an alert a rule wants raised
type AlertSpec struct {
	Title        string
	Message      string
	Severity     types.AlertSeverity
	Module       string
	SuggestedFix string
	Actionable   bool
	AutoFix      bool
}

// Fixer runs module remediation for auto-fixable alerts
type Fixer interface {
	AttemptFix(ctx context.Context, module string) bool
}

// Config holds dispatcher configuration
type Config struct {
	Cooldown time.Duration `json:"cooldown"`
	// DetailsBaseURL, when set, adds a "View details" action to
	// actionable alerts
	DetailsBaseURL string `json:"details_base_url"`
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() *Config {
	return &Config{
		Cooldown: 5 * time.Minute,
	}
}

// Dispatcher turns alert specs into notifications and persisted alerts
type Dispatcher struct {
	config  *Config
	sink    notifications.Sink
	gateway gateway.Gateway
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	sent  map[string]time.Time
	fixer Fixer
}

// NewDispatcher creates a dispatcher
func NewDispatcher(config *Config, sink notifications.Sink, gw gateway.Gateway, clk clock.Clock, logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Dispatcher{
		config:  config,
		sink:    sink,
		gateway: gw,
		clock:   clock.OrReal(clk),
		logger:  logger,
		metrics: m,
		sent:    make(map[string]time.Time),
	}
}

// SetFixer installs the remediator invoked for auto-fixable alerts
func (d *Dispatcher) SetFixer(f Fixer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fixer = f
}

// alertKey identifies alerts that share a cooldown
func alertKey(module, title string) string {
	return module + "|" + title
}

// reserve registers key unless it was dispatched within the cooldown
func (d *Dispatcher) reserve(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.sent[key]; ok && now.Sub(last) < d.config.Cooldown {
		return false
	}
	d.sent[key] = now
	return true
}

// CreateAlert dispatches spec unless an alert with the same module and
// title went out within the cooldown. It reports whether the alert was
// dispatched. Sink and gateway failures are logged, never returned.
func (d *Dispatcher) CreateAlert(ctx context.Context, spec AlertSpec) bool {
	now := d.clock.Now()
	if !d.reserve(alertKey(spec.Module, spec.Title), now) {
		d.metrics.RecordAlert(spec.Module, string(spec.Severity), true)
		d.logger.Debug("Alert suppressed by cooldown", "module", spec.Module, "title", spec.Title)
		return false
	}

	d.metrics.RecordAlert(spec.Module, string(spec.Severity), false)
	log := d.logger.WithComponent("alerting").WithFields(logging.Fields{
		"module":   spec.Module,
		"title":    spec.Title,
		"severity": spec.Severity,
	})

	if err := d.notify(ctx, spec); err != nil {
		log.WithError(err).Error("Failed to notify alert")
	}

	alert := types.Alert{
		ID:           uuid.New(),
		Title:        spec.Title,
		Message:      spec.Message,
		Severity:     spec.Severity,
		Module:       spec.Module,
		SuggestedFix: spec.SuggestedFix,
		Status:       types.AlertStatusActive,
		Actionable:   spec.Actionable,
		AutoFix:      spec.AutoFix,
		CreatedAt:    now,
	}
	if err := d.gateway.InsertAlert(ctx, alert); err != nil {
		log.WithError(err).Error("Failed to persist alert")
	} else {
		log.WithField("alert_id", alert.ID.String()).Warn("Alert triggered")
	}

	if spec.AutoFix {
		d.mu.Lock()
		fixer := d.fixer
		d.mu.Unlock()
		if fixer != nil {
			fixer.AttemptFix(ctx, spec.Module)
		}
	}

	return true
}

func (d *Dispatcher) notify(ctx context.Context, spec AlertSpec) (err error) {
	if d.sink == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordPanic("notification_sink")
			err = fmt.Errorf("notification sink panicked: %v", r)
		}
	}()

	n := notifications.Notification{
		Severity: spec.Severity,
		Title:    spec.Title,
		Message:  spec.Message,
		Module:   spec.Module,
		Duration: notifications.DisplayDuration(spec.Severity),
	}
	if spec.Actionable && d.config.DetailsBaseURL != "" {
		n.Action = &notifications.Action{
			Label: "View details",
			URL:   strings.TrimRight(d.config.DetailsBaseURL, "/") + "/" + spec.Module,
		}
	}
	return d.sink.Notify(ctx, n)
}

// Prune forgets cooldown entries that have expired and returns how many
// were removed
func (d *Dispatcher) Prune() int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, last := range d.sent {
		if now.Sub(last) >= d.config.Cooldown {
			delete(d.sent, key)
			removed++
		}
	}
	return removed
}
