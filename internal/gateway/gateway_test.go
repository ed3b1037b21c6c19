package gateway

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/pkg/errors"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/resilience"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rec(module string, severity types.Severity, at time.Time) types.ErrorRecord {
	return types.ErrorRecord{
		ID:        uuid.New(),
		Module:    module,
		ErrorType: types.ErrorTypeUncaught,
		Message:   "boom",
		Severity:  severity,
		Status:    types.ErrorStatusDetected,
		CreatedAt: at,
	}
}

func TestMemory_QueryRecentErrors(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.InsertErrorBatch(ctx, []types.ErrorRecord{
		rec("a", types.SeverityMinor, base.Add(-2*time.Minute)),
		rec("b", types.SeverityMinor, base.Add(-30*time.Second)),
		rec("c", types.SeverityMinor, base),
	}))

	got, err := m.QueryRecentErrors(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Module)
	assert.Equal(t, "b", got[1].Module)
}

func TestMemory_FailureInjection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Fail(OpInsertErrorBatch, assert.AnError)
	err := m.InsertErrorBatch(ctx, []types.ErrorRecord{rec("a", types.SeverityMinor, base)})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
	assert.Empty(t, m.Errors())

	m.Fail(OpInsertErrorBatch, nil)
	require.NoError(t, m.InsertErrorBatch(ctx, []types.ErrorRecord{rec("a", types.SeverityMinor, base)}))
	assert.Equal(t, 2, m.Calls(OpInsertErrorBatch))
}

func TestMemory_AutoFixLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	active := types.AutoFixDefinition{ID: uuid.New(), ErrorPattern: "jwt expired", FixType: types.FixTypeSessionRefresh, Active: true}
	inactive := types.AutoFixDefinition{ID: uuid.New(), ErrorPattern: "timeout", FixType: types.FixTypeSuggestRetry}
	m.SeedAutoFixes(active, inactive)

	defs, err := m.QueryActiveAutoFixes(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, active.ID, defs[0].ID)

	require.NoError(t, m.UpdateAutoFixStats(ctx, active.ID, 3, 66.5))
	assert.Equal(t, 3, m.AutoFixes()[0].TimesApplied)
	assert.Equal(t, 66.5, m.AutoFixes()[0].SuccessRate)

	err = m.UpdateAutoFixStats(ctx, uuid.New(), 1, 100)
	assert.True(t, errors.IsNotFound(err))
}

func TestMemory_ResolveAndMarkFixed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	r := rec("payment", types.SeverityCritical, base)
	m.SeedErrors(r)
	require.NoError(t, m.InsertAlert(ctx, types.Alert{ID: uuid.New(), Module: "payment", Status: types.AlertStatusActive}))
	require.NoError(t, m.InsertAlert(ctx, types.Alert{ID: uuid.New(), Module: "orders", Status: types.AlertStatusActive}))

	require.NoError(t, m.ResolveAlerts(ctx, "payment", base))
	alerts := m.Alerts()
	assert.Equal(t, types.AlertStatusResolved, alerts[0].Status)
	require.NotNil(t, alerts[0].ResolvedAt)
	assert.Equal(t, types.AlertStatusActive, alerts[1].Status)

	require.NoError(t, m.MarkErrorFixed(ctx, r.ID, "session refreshed", base))
	stored := m.Errors()[0]
	assert.True(t, stored.FixApplied)
	assert.Equal(t, types.ErrorStatusResolved, stored.Status)
	assert.Equal(t, "session refreshed", stored.FixDescription)
}

func TestMemory_AggregateStats(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	resolved := rec("a", types.SeverityMinor, base)
	resolved.Status = types.ErrorStatusResolved
	stale := rec("a", types.SeverityCritical, base.Add(-48*time.Hour))
	stale.Status = types.ErrorStatusResolved
	m.SeedErrors(rec("a", types.SeverityCritical, base), rec("a", types.SeverityModerate, base), resolved, stale)

	stats, err := m.QueryAggregateStats(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, &types.AggregateStats{CriticalErrors: 1, ModerateErrors: 1, MinorErrors: 1, FixedErrors: 1, PendingErrors: 2}, stats)

	stats, err = m.QueryAggregateStats(ctx, base.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CriticalErrors)
	assert.Equal(t, 2, stats.FixedErrors)

	m.Aggregates = false
	stats, err = m.QueryAggregateStats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestMemory_Maintenance(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	old := rec("a", types.SeverityModerate, base.Add(-10*24*time.Hour))
	old.Status = types.ErrorStatusResolved
	fixedAt := base.Add(-8 * 24 * time.Hour)
	old.FixedAt = &fixedAt
	m.SeedErrors(old, rec("b", types.SeverityMinor, base), rec("c", types.SeverityModerate, base))

	n, err := m.ResolveMinorErrors(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.CleanupResolvedErrors(ctx, base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left := m.Errors()
	require.Len(t, left, 2)
	assert.Equal(t, MinorResolutionDescription, left[0].FixDescription)
}

func TestProtected_OpensAfterFailures(t *testing.T) {
	mem := NewMemory()
	mem.Fail(OpInsertAlert, assert.AnError)

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "gateway",
		Timeout:     time.Minute,
		ReadyToTrip: resilience.ConsecutiveFailures(2),
		Clock:       clock.NewFake(base),
		Logger:      logging.NewTestLogger(&bytes.Buffer{}),
	})
	p := NewProtected(mem, breaker, time.Second, logging.NewTestLogger(&bytes.Buffer{}), nil)
	ctx := context.Background()

	require.Error(t, p.InsertAlert(ctx, types.Alert{}))
	require.Error(t, p.InsertAlert(ctx, types.Alert{}))

	err := p.InsertAlert(ctx, types.Alert{})
	require.Error(t, err)
	assert.True(t, resilience.IsCircuitBreakerError(err))
	assert.Equal(t, 2, mem.Calls(OpInsertAlert))
}

func TestProtected_PassesResults(t *testing.T) {
	mem := NewMemory()
	mem.SeedErrors(rec("a", types.SeverityMinor, base))
	p := NewProtected(mem, nil, 0, nil, nil)

	got, err := p.QueryRecentErrors(context.Background(), base.Add(-time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Same(t, mem, p.Unwrap())
}

func TestMemory_EnsureAutoFixes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	defs := []types.AutoFixDefinition{{ID: uuid.New(), ErrorPattern: "timeout", FixType: types.FixTypeSuggestRetry, Active: true}}

	n, err := m.EnsureAutoFixes(ctx, defs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.EnsureAutoFixes(ctx, defs)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, m.AutoFixes(), 1)
}

func TestMemory_QueryActiveAlerts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	older := types.Alert{ID: uuid.New(), Module: "orders", Status: types.AlertStatusActive, CreatedAt: base.Add(-time.Hour)}
	newer := types.Alert{ID: uuid.New(), Module: "wallet", Status: types.AlertStatusActive, CreatedAt: base}
	closed := types.Alert{ID: uuid.New(), Module: "wallet", Status: types.AlertStatusResolved, CreatedAt: base}
	for _, a := range []types.Alert{older, closed, newer} {
		require.NoError(t, m.InsertAlert(ctx, a))
	}

	alerts, err := m.QueryActiveAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, newer.ID, alerts[0].ID)
	assert.Equal(t, older.ID, alerts[1].ID)

	alerts, err = m.QueryActiveAlerts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	require.NoError(t, m.ResolveAlerts(ctx, "wallet", base))
	alerts, err = m.QueryActiveAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "orders", alerts[0].Module)
}
