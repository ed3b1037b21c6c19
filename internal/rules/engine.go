// Package rules evaluates time-windowed alert rules over recently persisted
// error records.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/pkg/errors"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/tracing"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Predicate decides over a window of records, newest first
type Predicate func(records []types.ErrorRecord) bool

// Action runs once per tick when its rule's predicate holds
type Action func(ctx context.Context, records []types.ErrorRecord)

// Rule is an alert rule. A zero Window uses the engine lookback.
type Rule struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Severity  types.AlertSeverity `json:"severity"`
	Enabled   bool                `json:"enabled"`
	Window    time.Duration       `json:"window"`
	Predicate Predicate           `json:"-"`
	Action    Action              `json:"-"`
}

// Config holds rule engine configuration
type Config struct {
	PollInterval time.Duration `json:"poll_interval"`
	Lookback     time.Duration `json:"lookback"`
}

// DefaultConfig returns default rule engine configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 30 * time.Second,
		Lookback:     time.Minute,
	}
}

// Engine owns the rule list and the poll loop
type Engine struct {
	config  *Config
	gateway gateway.Gateway
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  *tracing.TracingService

	mu    sync.RWMutex
	rules []*Rule

	// evalMu serializes Evaluate between the poll loop and flush re-checks
	evalMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine creates a rule engine reading from gw
func NewEngine(config *Config, gw gateway.Gateway, clk clock.Clock, logger *logging.Logger, m *metrics.Metrics, tracer *tracing.TracingService) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.Lookback <= 0 {
		config.Lookback = DefaultConfig().Lookback
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &Engine{
		config:  config,
		gateway: gw,
		clock:   clock.OrReal(clk),
		logger:  logger,
		metrics: m,
		tracer:  tracer,
		stopCh:  make(chan struct{}),
	}
}

// Add appends a rule. IDs must be unique.
func (e *Engine) Add(rule Rule) error {
	if rule.ID == "" {
		return errors.NewValidationError("rule id is required")
	}
	if rule.Predicate == nil || rule.Action == nil {
		return errors.NewValidationError(fmt.Sprintf("rule %s needs a predicate and an action", rule.ID))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.ID == rule.ID {
			return errors.NewValidationError(fmt.Sprintf("rule %s already exists", rule.ID))
		}
	}
	e.rules = append(e.rules, &rule)
	return nil
}

// Remove deletes the rule with id and reports whether it existed
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled toggles a rule
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.ID == id {
			r.Enabled = enabled
			return nil
		}
	}
	return errors.NewNotFoundError("rule " + id)
}

// List returns a copy of every rule in evaluation order
func (e *Engine) List() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	return out
}

// enabled snapshots the enabled rules and the widest window among them
func (e *Engine) enabled() ([]Rule, time.Duration) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Rule
	widest := time.Duration(0)
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		rule := *r
		if rule.Window <= 0 {
			rule.Window = e.config.Lookback
		}
		if rule.Window > widest {
			widest = rule.Window
		}
		out = append(out, rule)
	}
	return out, widest
}

// Evaluate fetches the trailing window once and runs the action of every
// enabled rule whose predicate holds, at most once each.
func (e *Engine) Evaluate(ctx context.Context) error {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	rules, widest := e.enabled()
	if len(rules) == 0 {
		return nil
	}

	ctx, span := e.tracer.StartRuleSpan(ctx, len(rules))
	defer span.End()

	now := e.clock.Now()
	records, err := e.gateway.QueryRecentErrors(ctx, now.Add(-widest))
	if err != nil {
		e.metrics.RecordRuleEvaluation(false)
		e.tracer.RecordError(span, err)
		e.logger.WithComponent("rules").WithError(err).Warn("Failed to fetch recent errors")
		return err
	}
	e.metrics.RecordRuleEvaluation(true)

	fired := 0
	for _, rule := range rules {
		window := within(records, now.Add(-rule.Window))
		if !e.holds(rule, window) {
			continue
		}
		fired++
		e.metrics.RecordRuleFire(rule.ID)
		e.run(ctx, rule, window)
	}

	e.logger.Debug("Rules evaluated", "rules", len(rules), "records", len(records), "fired", fired)
	return nil
}

// within keeps the errors created at or after since. Remediation trail
// records are not errors and never count toward a rule.
func within(records []types.ErrorRecord, since time.Time) []types.ErrorRecord {
	out := make([]types.ErrorRecord, 0, len(records))
	for _, r := range records {
		if r.ErrorType == types.ErrorTypeAutoFix {
			continue
		}
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) holds(rule Rule, window []types.ErrorRecord) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.RecordPanic("rule_predicate")
			e.logger.Error("Rule predicate panicked", "rule", rule.ID, "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	return rule.Predicate(window)
}

func (e *Engine) run(ctx context.Context, rule Rule, window []types.ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.RecordPanic("rule_action")
			e.logger.Error("Rule action panicked", "rule", rule.ID, "panic", fmt.Sprint(r))
		}
	}()
	rule.Action(ctx, window)
}

// Start begins polling
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop halts polling and waits for an in-flight evaluation to finish
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			_ = e.Evaluate(ctx)
		}
	}
}
