// Package remediation applies bounded corrective actions for failing
// modules and pattern-keyed auto-fixes for critical records.
package remediation

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/errwatch/internal/cache"
	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/pkg/errors"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/tracing"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Strategy is a module remediation action
type Strategy string

const (
	StrategyClearClientState    Strategy = "clear_client_state"
	StrategyPurgeResourceCache  Strategy = "purge_resource_cache"
	StrategyIntensifyMonitoring Strategy = "intensify_monitoring"
)

// Config selects strategies by module name. A module matches a list when
// it contains any entry as a substring.
type Config struct {
	StateModules    []string `json:"state_modules"`
	ResourceModules []string `json:"resource_modules"`
}

// DefaultConfig returns the stock module lists
func DefaultConfig() *Config {
	return &Config{
		StateModules:    []string{"global", "ui", "state", "react", "store"},
		ResourceModules: []string{"resource", "asset", "chunk", "import"},
	}
}

// SessionRefresher renews the session of the monitored client
type SessionRefresher interface {
	RefreshSession(ctx context.Context) error
}

// Remediator implements module remediation and pattern auto-fixes
type Remediator struct {
	config    *Config
	gateway   gateway.Gateway
	store     cache.Store
	refresher SessionRefresher
	clock     clock.Clock
	logger    *logging.Logger
	metrics   *metrics.Metrics
	tracer    *tracing.TracingService

	// fixMu serializes the read-modify-write of auto-fix statistics
	fixMu sync.Mutex
}

// NewRemediator creates a remediator. store and refresher may be nil, in
// which case the strategies needing them report a failed outcome.
func NewRemediator(config *Config, gw gateway.Gateway, store cache.Store, refresher SessionRefresher, clk clock.Clock, logger *logging.Logger, m *metrics.Metrics, tracer *tracing.TracingService) *Remediator {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &Remediator{
		config:    config,
		gateway:   gw,
		store:     store,
		refresher: refresher,
		clock:     clock.OrReal(clk),
		logger:    logger,
		metrics:   m,
		tracer:    tracer,
	}
}

// StrategyFor returns the strategy used for module
func (r *Remediator) StrategyFor(module string) Strategy {
	lower := strings.ToLower(module)
	switch {
	case containsAny(lower, r.config.StateModules):
		return StrategyClearClientState
	case containsAny(lower, r.config.ResourceModules):
		return StrategyPurgeResourceCache
	default:
		return StrategyIntensifyMonitoring
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// AttemptFix remediates module. It always returns true: the real outcome
// goes to the remediation metric and a warn log when the strategy failed.
// A resolved error record and a resolved alert are persisted either way,
// and the module's active alerts are resolved.
func (r *Remediator) AttemptFix(ctx context.Context, module string) bool {
	ctx, span := r.tracer.StartRemediationSpan(ctx, "attempt_fix", module)
	defer span.End()

	strategy := r.StrategyFor(module)
	detail, err := r.apply(ctx, strategy, module)
	applied := err == nil

	fields := logging.Fields{"detail": detail}
	if err != nil {
		fields["error"] = err.Error()
		r.tracer.RecordError(span, err)
	}
	r.metrics.RecordRemediation(module, string(strategy), applied)
	r.logger.LogRemediation(ctx, module, string(strategy), applied, fields)

	r.recordOutcome(ctx, module, detail)
	return true
}

// apply runs strategy, converting a panic into an error
func (r *Remediator) apply(ctx context.Context, strategy Strategy, module string) (detail string, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.RecordPanic("remediation")
			r.logger.Error("Remediation strategy panicked", "module", module, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			detail = "remediation attempted"
			err = errors.NewRemediationError(module, fmt.Sprintf("strategy %s panicked: %v", strategy, p))
		}
	}()

	switch strategy {
	case StrategyClearClientState:
		return r.clearClientState(ctx, module)
	case StrategyPurgeResourceCache:
		return r.purgeResourceCache(ctx, module)
	default:
		return "monitoring intensified", nil
	}
}

func (r *Remediator) clearClientState(ctx context.Context, module string) (string, error) {
	if r.store == nil {
		return "client state cache unavailable", errors.NewRemediationError(module, "no cache store configured")
	}

	var cleared int64
	for _, prefix := range []string{cache.PrefixClientState, cache.PrefixUIState} {
		n, err := r.store.DeletePrefix(ctx, prefix+":")
		cleared += n
		if err != nil {
			return fmt.Sprintf("cleared %d client state entries", cleared),
				errors.NewRemediationError(module, "failed to clear client state").WithCause(err)
		}
	}
	return fmt.Sprintf("cleared %d client state entries", cleared), nil
}

func (r *Remediator) purgeResourceCache(ctx context.Context, module string) (string, error) {
	if r.store == nil {
		return "resource cache unavailable", errors.NewRemediationError(module, "no cache store configured")
	}

	purged, err := r.store.DeletePrefix(ctx, cache.PrefixResource+":")
	if err != nil {
		return "resource cache purge failed", errors.NewRemediationError(module, "failed to purge resource cache").WithCause(err)
	}
	version, err := r.store.Incr(ctx, cache.KeyCacheVersion)
	if err != nil {
		return fmt.Sprintf("purged %d resource entries", purged),
			errors.NewRemediationError(module, "failed to bump cache version").WithCause(err)
	}
	return fmt.Sprintf("purged %d resource entries, cache version %d", purged, version), nil
}

// recordOutcome persists the remediation trail. Failures are logged only.
func (r *Remediator) recordOutcome(ctx context.Context, module, detail string) {
	now := r.clock.Now()
	description := fmt.Sprintf("Auto-fix applied for %s: %s", module, detail)
	log := r.logger.WithComponent("remediation").WithField("module", module)

	record := types.ErrorRecord{
		ID:             uuid.New(),
		Module:         module,
		ErrorType:      types.ErrorTypeAutoFix,
		Message:        description,
		Severity:       types.SeverityMinor,
		Metadata:       types.Metadata{Timestamp: now},
		Status:         types.ErrorStatusResolved,
		FixApplied:     true,
		FixDescription: detail,
		FixedAt:        &now,
		CreatedAt:      now,
	}
	if err := r.gateway.InsertErrorBatch(ctx, []types.ErrorRecord{record}); err != nil {
		log.WithError(err).Error("Failed to persist remediation record")
	}

	if err := r.gateway.ResolveAlerts(ctx, module, now); err != nil {
		log.WithError(err).Error("Failed to resolve module alerts")
	}

	alert := types.Alert{
		ID:         uuid.New(),
		Title:      "Auto-fix applied",
		Message:    description,
		Severity:   types.AlertSeverityLow,
		Module:     module,
		Status:     types.AlertStatusResolved,
		CreatedAt:  now,
		ResolvedAt: &now,
	}
	if err := r.gateway.InsertAlert(ctx, alert); err != nil {
		log.WithError(err).Error("Failed to persist remediation alert")
	}
}
