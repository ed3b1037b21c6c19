package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/errwatch/pkg/errors"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Memory is an in-process Gateway. It backs the memory store driver and the
// tests of every component above the gateway.
type Memory struct {
	mu        sync.RWMutex
	errors    []types.ErrorRecord
	alerts    []types.Alert
	autoFixes []types.AutoFixDefinition
	failures  map[string]error
	calls     map[string]int

	// Aggregates enables the server-side summary fast path
	Aggregates bool
}

// NewMemory creates an empty in-memory gateway with aggregates enabled
func NewMemory() *Memory {
	return &Memory{
		failures:   make(map[string]error),
		calls:      make(map[string]int),
		Aggregates: true,
	}
}

// Fail makes every call to op return err until cleared with a nil err
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op was invoked
func (m *Memory) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// SeedAutoFixes installs auto-fix definitions
func (m *Memory) SeedAutoFixes(defs ...types.AutoFixDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoFixes = append(m.autoFixes, defs...)
}

// EnsureAutoFixes installs defs when none are stored
func (m *Memory) EnsureAutoFixes(ctx context.Context, defs []types.AutoFixDefinition) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(m.autoFixes) > 0 {
		return 0, nil
	}
	m.autoFixes = append(m.autoFixes, defs...)
	return len(defs), nil
}

// SeedErrors stores records directly, bypassing failure injection
func (m *Memory) SeedErrors(records ...types.ErrorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, records...)
}

// Errors returns a snapshot of stored error records
func (m *Memory) Errors() []types.ErrorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.ErrorRecord(nil), m.errors...)
}

// Alerts returns a snapshot of stored alerts
func (m *Memory) Alerts() []types.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Alert(nil), m.alerts...)
}

// AutoFixes returns a snapshot of stored auto-fix definitions
func (m *Memory) AutoFixes() []types.AutoFixDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.AutoFixDefinition(nil), m.autoFixes...)
}

// begin records the call and returns the injected failure, if any.
// Caller must hold the write lock.
func (m *Memory) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return errors.NewGatewayError(op, err)
	}
	if err, ok := m.failures[op]; ok {
		return errors.NewGatewayError(op, err)
	}
	return nil
}

func (m *Memory) InsertErrorBatch(ctx context.Context, records []types.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpInsertErrorBatch); err != nil {
		return err
	}
	m.errors = append(m.errors, records...)
	return nil
}

func (m *Memory) InsertAlert(ctx context.Context, alert types.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpInsertAlert); err != nil {
		return err
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *Memory) QueryActiveAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpQueryActiveAlerts); err != nil {
		return nil, err
	}

	var out []types.Alert
	for _, a := range m.alerts {
		if a.Status == types.AlertStatusActive {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QueryRecentErrors returns records created at or after since, newest first
func (m *Memory) QueryRecentErrors(ctx context.Context, since time.Time) ([]types.ErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpQueryRecentErrors); err != nil {
		return nil, err
	}

	var out []types.ErrorRecord
	for _, r := range m.errors {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) QueryActiveAutoFixes(ctx context.Context) ([]types.AutoFixDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpQueryActiveAutoFixes); err != nil {
		return nil, err
	}

	var out []types.AutoFixDefinition
	for _, def := range m.autoFixes {
		if def.Active {
			out = append(out, def)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAutoFixStats(ctx context.Context, id uuid.UUID, timesApplied int, successRate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpUpdateAutoFixStats); err != nil {
		return err
	}

	for i := range m.autoFixes {
		if m.autoFixes[i].ID == id {
			m.autoFixes[i].TimesApplied = timesApplied
			m.autoFixes[i].SuccessRate = successRate
			return nil
		}
	}
	return errors.NewNotFoundError("auto fix " + id.String())
}

func (m *Memory) QueryAggregateStats(ctx context.Context, since time.Time) (*types.AggregateStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpQueryAggregateStats); err != nil {
		return nil, err
	}
	if !m.Aggregates {
		return nil, nil
	}

	stats := &types.AggregateStats{}
	for _, r := range m.errors {
		if r.CreatedAt.Before(since) {
			continue
		}
		switch r.Severity {
		case types.SeverityCritical:
			stats.CriticalErrors++
		case types.SeverityModerate:
			stats.ModerateErrors++
		case types.SeverityMinor:
			stats.MinorErrors++
		}
		if r.IsResolved() {
			stats.FixedErrors++
		} else {
			stats.PendingErrors++
		}
	}
	return stats, nil
}

func (m *Memory) ResolveAlerts(ctx context.Context, module string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpResolveAlerts); err != nil {
		return err
	}

	for i := range m.alerts {
		if m.alerts[i].Module == module && m.alerts[i].Status == types.AlertStatusActive {
			resolvedAt := at
			m.alerts[i].Status = types.AlertStatusResolved
			m.alerts[i].ResolvedAt = &resolvedAt
		}
	}
	return nil
}

func (m *Memory) MarkErrorFixed(ctx context.Context, id uuid.UUID, description string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpMarkErrorFixed); err != nil {
		return err
	}

	for i := range m.errors {
		if m.errors[i].ID == id {
			fixedAt := at
			m.errors[i].FixApplied = true
			m.errors[i].FixDescription = description
			m.errors[i].Status = types.ErrorStatusResolved
			m.errors[i].FixedAt = &fixedAt
			return nil
		}
	}
	return errors.NewNotFoundError("error " + id.String())
}

func (m *Memory) ResolveMinorErrors(ctx context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	for i := range m.errors {
		r := &m.errors[i]
		if r.Severity == types.SeverityMinor && r.Status == types.ErrorStatusDetected {
			fixedAt := at
			r.Status = types.ErrorStatusResolved
			r.FixApplied = true
			r.FixDescription = MinorResolutionDescription
			r.FixedAt = &fixedAt
			n++
		}
	}
	return n, nil
}

func (m *Memory) CleanupResolvedErrors(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	kept := m.errors[:0]
	var n int64
	for _, r := range m.errors {
		if r.IsResolved() && r.FixedAt != nil && r.FixedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.errors = kept
	return n, nil
}

var (
	_ Gateway    = (*Memory)(nil)
	_ Maintainer = (*Memory)(nil)
	_ Seeder     = (*Memory)(nil)
)
