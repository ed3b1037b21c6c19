// Package engine wires capture, deduplication, batching, rules, alerting,
// remediation and stats into one monitoring engine with an explicit
// Init/Dispose lifecycle.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NikhilSetiya/errwatch/internal/alerting"
	"github.com/NikhilSetiya/errwatch/internal/batch"
	"github.com/NikhilSetiya/errwatch/internal/cache"
	"github.com/NikhilSetiya/errwatch/internal/capture"
	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/internal/dedup"
	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/internal/notifications"
	"github.com/NikhilSetiya/errwatch/internal/remediation"
	"github.com/NikhilSetiya/errwatch/internal/rules"
	"github.com/NikhilSetiya/errwatch/internal/stats"
	"github.com/NikhilSetiya/errwatch/pkg/config"
	"github.com/NikhilSetiya/errwatch/pkg/errors"
	"github.com/NikhilSetiya/errwatch/pkg/health"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/resilience"
	"github.com/NikhilSetiya/errwatch/pkg/tracing"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// finalFlushTimeout bounds the best-effort flush run by Dispose
const finalFlushTimeout = 5 * time.Second

// Config holds engine configuration
type Config struct {
	Queue       batch.Config
	DedupTTL    time.Duration
	Rules       rules.Config
	Thresholds  rules.Thresholds
	Alerting    alerting.Config
	Remediation remediation.Config
	Stats       stats.Config

	// GatewayTimeout bounds each gateway call. Zero disables it.
	GatewayTimeout time.Duration
	// BreakerFailures consecutive gateway failures open the breaker for
	// BreakerReset. Zero disables the breaker.
	BreakerFailures int
	BreakerReset    time.Duration

	CriticalPatterns  []string
	IgnorablePatterns []string
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		Queue:             *batch.DefaultConfig(),
		DedupTTL:          dedup.DefaultTTL,
		Rules:             *rules.DefaultConfig(),
		Thresholds:        *rules.DefaultThresholds(),
		Alerting:          *alerting.DefaultConfig(),
		Remediation:       *remediation.DefaultConfig(),
		Stats:             *stats.DefaultConfig(),
		GatewayTimeout:    10 * time.Second,
		BreakerFailures:   5,
		BreakerReset:      30 * time.Second,
		CriticalPatterns:  capture.DefaultCriticalPatterns,
		IgnorablePatterns: capture.DefaultIgnorablePatterns,
	}
}

// ConfigFromApp derives engine configuration from the application config
func ConfigFromApp(cfg *config.Config) *Config {
	c := DefaultConfig()
	m := cfg.Monitor

	c.Queue.FlushInterval = m.FlushInterval
	c.Queue.MaxQueueSize = m.MaxQueueSize
	c.DedupTTL = m.DedupTTL
	c.Rules.PollInterval = m.RulePollInterval
	c.Rules.Lookback = m.RuleLookback
	c.Alerting.Cooldown = m.AlertCooldown
	c.Alerting.DetailsBaseURL = cfg.Notifications.DetailsBaseURL
	if len(m.CriticalModules) > 0 {
		c.Thresholds.CriticalModules = m.CriticalModules
	}
	if m.ModuleThreshold > 0 {
		c.Thresholds.ModuleThreshold = m.ModuleThreshold
	}
	if m.RejectionThreshold > 0 {
		c.Thresholds.RejectionThreshold = m.RejectionThreshold
	}
	if m.RejectionWindow > 0 {
		c.Thresholds.RejectionWindow = m.RejectionWindow
	}
	if m.StatsFallbackWindow > 0 {
		c.Stats.FallbackWindow = m.StatsFallbackWindow
	}
	c.GatewayTimeout = m.GatewayTimeout
	c.BreakerFailures = m.BreakerFailureLimit
	c.BreakerReset = m.BreakerResetInterval
	return c
}

// Dependencies are the adapters the engine runs against. Gateway and
// Source are required.
type Dependencies struct {
	Source    capture.EventSource
	Gateway   gateway.Gateway
	Sink      notifications.Sink
	Store     cache.Store
	Refresher remediation.SessionRefresher
	Clock     clock.Clock
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Tracer    *tracing.TracingService
}

// discardSink is used when no notification sink is configured
type discardSink struct{}

func (discardSink) Notify(context.Context, notifications.Notification) error { return nil }

// Engine is the monitoring engine
type Engine struct {
	config  *Config
	source  capture.EventSource
	gateway gateway.Gateway
	breaker *resilience.CircuitBreaker
	logger  *logging.Logger
	metrics *metrics.Metrics

	capturer   *capture.Capturer
	dedup      *dedup.Deduplicator
	queue      *batch.Queue
	rules      *rules.Engine
	dispatcher *alerting.Dispatcher
	remediator *remediation.Remediator
	stats      *stats.Aggregator

	mu          sync.Mutex
	initialized bool
	disposed    bool
	detach      func()
	teardown    func()
	cancel      context.CancelFunc
}

// New builds an engine. Nothing runs until Init.
func New(config *Config, deps Dependencies) (*Engine, error) {
	if deps.Gateway == nil {
		return nil, errors.NewValidationError("engine needs a persistence gateway")
	}
	if deps.Source == nil {
		return nil, errors.NewValidationError("engine needs an event source")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = logging.GetLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.Noop()
	}
	if deps.Sink == nil {
		deps.Sink = discardSink{}
	}
	clk := clock.OrReal(deps.Clock)

	gw := deps.Gateway
	var breaker *resilience.CircuitBreaker
	if config.BreakerFailures > 0 || config.GatewayTimeout > 0 {
		if config.BreakerFailures > 0 {
			breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:        "gateway",
				Timeout:     config.BreakerReset,
				ReadyToTrip: resilience.ConsecutiveFailures(uint32(config.BreakerFailures)),
				Clock:       clk,
				Logger:      deps.Logger,
			})
		}
		gw = gateway.NewProtected(gw, breaker, config.GatewayTimeout, deps.Logger, deps.Metrics)
	}

	e := &Engine{
		config:  config,
		source:  deps.Source,
		gateway: gw,
		breaker: breaker,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}

	classifier := capture.NewClassifier(config.CriticalPatterns, config.IgnorablePatterns)
	e.capturer = capture.NewCapturer(classifier, clk, deps.Logger, deps.Metrics)
	e.dedup = dedup.New(config.DedupTTL, clk)

	queueConfig := config.Queue
	e.queue = batch.NewQueue(&queueConfig, gw, deps.Logger, deps.Metrics, deps.Tracer)

	alertConfig := config.Alerting
	e.dispatcher = alerting.NewDispatcher(&alertConfig, deps.Sink, gw, clk, deps.Logger, deps.Metrics)

	remediationConfig := config.Remediation
	e.remediator = remediation.NewRemediator(&remediationConfig, gw, deps.Store, deps.Refresher, clk, deps.Logger, deps.Metrics, deps.Tracer)
	e.dispatcher.SetFixer(e.remediator)

	ruleConfig := config.Rules
	e.rules = rules.NewEngine(&ruleConfig, gw, clk, deps.Logger, deps.Metrics, deps.Tracer)
	thresholds := config.Thresholds
	for _, rule := range rules.DefaultRules(&thresholds, e.dispatcher) {
		if err := e.rules.Add(rule); err != nil {
			return nil, err
		}
	}

	statsConfig := config.Stats
	e.stats = stats.NewAggregator(&statsConfig, gw, clk, deps.Logger)

	e.queue.SetOnTick(e.sweep)
	e.queue.SetAfterFlush(e.afterFlush)
	return e, nil
}

// Init attaches the listeners and the teardown hook and starts both
// timers. Calling Init again is a no-op; Init after Dispose fails.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return errors.NewValidationError("engine has been disposed")
	}
	if e.initialized {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.detach = e.capturer.Attach(e.source, e.ingest)
	e.teardown = e.source.OnTeardown(func() { e.Dispose() })

	e.queue.Start(ctx)
	e.rules.Start(ctx)
	e.initialized = true

	e.logger.WithComponent("engine").WithFields(logging.Fields{
		"flush_interval": e.config.Queue.FlushInterval.String(),
		"rule_interval":  e.config.Rules.PollInterval.String(),
		"rules":          len(e.rules.List()),
	}).Info("Monitoring engine started")
	return nil
}

// Dispose stops both timers, unregisters every listener and runs one final
// best-effort flush. It is idempotent and is also run by the teardown hook.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	detach, teardown, cancel := e.detach, e.teardown, e.cancel
	e.mu.Unlock()

	e.queue.Stop()
	e.rules.Stop()
	if detach != nil {
		detach()
	}
	if teardown != nil {
		teardown()
	}

	ctx, done := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer done()
	if err := e.queue.Flush(ctx, batch.TriggerDispose); err != nil {
		e.logger.WithComponent("engine").WithError(err).Debug("Final flush failed")
	}
	if cancel != nil {
		cancel()
	}
	e.logger.WithComponent("engine").Info("Monitoring engine disposed")
}

// ingest deduplicates and queues a captured record
func (e *Engine) ingest(record *types.ErrorRecord) {
	e.Submit(context.Background(), record)
}

// Submit deduplicates and queues record. It reports whether the record was
// accepted. Flush failures are logged, not returned.
func (e *Engine) Submit(ctx context.Context, record *types.ErrorRecord) bool {
	if e.dedup.IsDuplicate(record) {
		e.metrics.RecordDeduplicated(record.Module)
		return false
	}
	if err := e.queue.Enqueue(ctx, record); err != nil {
		e.logger.WithComponent("engine").WithError(err).Debug("Synchronous flush failed")
	}
	return true
}

// Report captures an event raised by a business domain. It returns the
// record and true when the event was accepted for persistence.
func (e *Engine) Report(ctx context.Context, ev capture.Event) (*types.ErrorRecord, bool) {
	record := e.capturer.Capture(ev)
	if record == nil {
		return nil, false
	}
	if !e.Submit(ctx, record) {
		return record, false
	}
	return record, true
}

func (e *Engine) sweep() {
	e.dedup.Sweep()
	e.dispatcher.Prune()
}

// afterFlush re-checks the rules against the fresh batch and tries the
// pattern auto-fixes on its critical records
func (e *Engine) afterFlush(ctx context.Context, records []types.ErrorRecord) {
	if err := e.rules.Evaluate(ctx); err != nil {
		e.logger.WithComponent("engine").WithError(err).Debug("Post-flush rule check failed")
	}
	for _, r := range records {
		if r.Severity == types.SeverityCritical {
			e.remediator.TryAutoFix(ctx, r)
		}
	}
}

// Flush persists the queued records now
func (e *Engine) Flush(ctx context.Context) error {
	return e.queue.Flush(ctx, batch.TriggerManual)
}

// Stats returns the current error statistics
func (e *Engine) Stats(ctx context.Context) (types.Stats, error) {
	return e.stats.GetStats(ctx)
}

// HealthReport builds the health report
func (e *Engine) HealthReport(ctx context.Context, maxRecords int) (*stats.Report, error) {
	return e.stats.Report(ctx, maxRecords)
}

// ActiveAlerts returns up to limit unresolved alerts, newest first
func (e *Engine) ActiveAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	return e.gateway.QueryActiveAlerts(ctx, limit)
}

// Rules returns the rule engine for administration
func (e *Engine) Rules() *rules.Engine {
	return e.rules
}

// Remediate runs module remediation on demand
func (e *Engine) Remediate(ctx context.Context, module string) bool {
	return e.remediator.AttemptFix(ctx, module)
}

// Gateway returns the protected gateway the engine writes through
func (e *Engine) Gateway() gateway.Gateway {
	return e.gateway
}

// QueueLen returns the number of records waiting to be flushed
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// BreakerState returns the gateway circuit state. ok is false when no
// breaker is configured.
func (e *Engine) BreakerState() (state resilience.CircuitState, ok bool) {
	if e.breaker == nil {
		return resilience.StateClosed, false
	}
	return e.breaker.State(), true
}

// HealthCheck reports the engine for the health endpoint. An open gateway
// breaker is unhealthy; a degraded or critical session is degraded.
func (e *Engine) HealthCheck(ctx context.Context) (health.Status, string, error) {
	if state, ok := e.BreakerState(); ok && state == resilience.StateOpen {
		return health.StatusUnhealthy, "gateway circuit open", nil
	}

	s, err := e.Stats(ctx)
	if err != nil {
		return health.StatusDegraded, "statistics unavailable", err
	}

	msg := fmt.Sprintf("session %s, %d pending, %d queued", s.Health, s.Pending, e.QueueLen())
	if s.Health != types.HealthHealthy {
		return health.StatusDegraded, msg, nil
	}
	return health.StatusHealthy, msg, nil
}
