package rules

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/errwatch/internal/alerting"
	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/pkg/errors"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingCreator struct {
	mu    sync.Mutex
	specs []alerting.AlertSpec
}

func (c *recordingCreator) CreateAlert(_ context.Context, spec alerting.AlertSpec) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs = append(c.specs, spec)
	return true
}

func (c *recordingCreator) titles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.specs {
		out = append(out, s.Title)
	}
	return out
}

func record(module, errorType, message string, severity types.Severity, at time.Time) types.ErrorRecord {
	return types.ErrorRecord{
		ID:        uuid.New(),
		Module:    module,
		ErrorType: errorType,
		Message:   message,
		Severity:  severity,
		Status:    types.ErrorStatusDetected,
		CreatedAt: at,
	}
}

func newTestEngine() (*Engine, *gateway.Memory, *clock.Fake) {
	mem := gateway.NewMemory()
	clk := clock.NewFake(start)
	e := NewEngine(&Config{PollInterval: time.Hour, Lookback: time.Minute}, mem, clk,
		logging.NewTestLogger(&bytes.Buffer{}), nil, nil)
	return e, mem, clk
}

func TestEngine_OneActionPerTick(t *testing.T) {
	e, mem, _ := newTestEngine()
	for i := 0; i < 3; i++ {
		mem.SeedErrors(record("m", types.ErrorTypeUnhandledRejection, "boom", types.SeverityModerate, start.Add(-time.Duration(i)*time.Second)))
	}

	calls := 0
	require.NoError(t, e.Add(Rule{
		ID:      "rejections",
		Enabled: true,
		Predicate: func(records []types.ErrorRecord) bool {
			return len(matching(records, isRejection)) >= 3
		},
		Action: func(context.Context, []types.ErrorRecord) { calls++ },
	}))

	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, mem.Calls(gateway.OpQueryRecentErrors))
}

func TestEngine_PerRuleWindows(t *testing.T) {
	e, mem, _ := newTestEngine()
	mem.SeedErrors(record("m", types.ErrorTypeUncaught, "old", types.SeverityModerate, start.Add(-10*time.Minute)))

	var shortSeen, longSeen int
	require.NoError(t, e.Add(Rule{
		ID: "short", Enabled: true,
		Predicate: func(r []types.ErrorRecord) bool { shortSeen = len(r); return false },
		Action:    func(context.Context, []types.ErrorRecord) {},
	}))
	require.NoError(t, e.Add(Rule{
		ID: "long", Enabled: true, Window: time.Hour,
		Predicate: func(r []types.ErrorRecord) bool { longSeen = len(r); return false },
		Action:    func(context.Context, []types.ErrorRecord) {},
	}))

	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 0, shortSeen)
	assert.Equal(t, 1, longSeen)
}

func TestEngine_DisabledRulesSkipped(t *testing.T) {
	e, mem, _ := newTestEngine()
	mem.SeedErrors(record("m", types.ErrorTypeUncaught, "x", types.SeverityCritical, start))

	fired := false
	require.NoError(t, e.Add(Rule{
		ID: "r", Enabled: true,
		Predicate: func([]types.ErrorRecord) bool { return true },
		Action:    func(context.Context, []types.ErrorRecord) { fired = true },
	}))
	require.NoError(t, e.SetEnabled("r", false))

	require.NoError(t, e.Evaluate(context.Background()))
	assert.False(t, fired)
	assert.Equal(t, 0, mem.Calls(gateway.OpQueryRecentErrors))

	assert.True(t, errors.IsNotFound(e.SetEnabled("missing", true)))
}

func TestEngine_ActionPanicDoesNotStopOtherRules(t *testing.T) {
	e, _, _ := newTestEngine()

	fired := false
	require.NoError(t, e.Add(Rule{
		ID: "panics", Enabled: true,
		Predicate: func([]types.ErrorRecord) bool { return true },
		Action:    func(context.Context, []types.ErrorRecord) { panic("boom") },
	}))
	require.NoError(t, e.Add(Rule{
		ID: "after", Enabled: true,
		Predicate: func([]types.ErrorRecord) bool { return true },
		Action:    func(context.Context, []types.ErrorRecord) { fired = true },
	}))

	require.NotPanics(t, func() { _ = e.Evaluate(context.Background()) })
	assert.True(t, fired)
}

func TestEngine_QueryFailure(t *testing.T) {
	e, mem, _ := newTestEngine()
	mem.Fail(gateway.OpQueryRecentErrors, assert.AnError)

	fired := false
	require.NoError(t, e.Add(Rule{
		ID: "r", Enabled: true,
		Predicate: func([]types.ErrorRecord) bool { return true },
		Action:    func(context.Context, []types.ErrorRecord) { fired = true },
	}))

	assert.ErrorIs(t, e.Evaluate(context.Background()), assert.AnError)
	assert.False(t, fired)
}

func TestEngine_AddRemoveList(t *testing.T) {
	e, _, _ := newTestEngine()
	noop := Rule{
		ID: "a", Enabled: true,
		Predicate: func([]types.ErrorRecord) bool { return false },
		Action:    func(context.Context, []types.ErrorRecord) {},
	}

	require.NoError(t, e.Add(noop))
	err := e.Add(noop)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Error(t, e.Add(Rule{ID: "incomplete"}))

	b := noop
	b.ID = "b"
	require.NoError(t, e.Add(b))

	ids := func() []string {
		var out []string
		for _, r := range e.List() {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a", "b"}, ids())
	assert.True(t, e.Remove("a"))
	assert.False(t, e.Remove("a"))
	assert.Equal(t, []string{"b"}, ids())
}

func TestEngine_StartStop(t *testing.T) {
	mem := gateway.NewMemory()
	e := NewEngine(&Config{PollInterval: 5 * time.Millisecond, Lookback: time.Minute}, mem, nil,
		logging.NewTestLogger(&bytes.Buffer{}), nil, nil)

	var mu sync.Mutex
	ticks := 0
	require.NoError(t, e.Add(Rule{
		ID: "r", Enabled: true,
		Predicate: func([]types.ErrorRecord) bool { return true },
		Action: func(context.Context, []types.ErrorRecord) {
			mu.Lock()
			ticks++
			mu.Unlock()
		},
	}))

	e.Start(context.Background())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks > 0
	}, time.Second, 5*time.Millisecond)
	e.Stop()
	e.Stop()
}

func TestDefaultRules(t *testing.T) {
	tests := []struct {
		name    string
		records []types.ErrorRecord
		want    []string
	}{
		{
			name: "reference error also trips the critical rule",
			records: []types.ErrorRecord{
				record("frontend_global", types.ErrorTypeUncaught, "ReferenceError: foo is not defined", types.SeverityCritical, start),
			},
			want: []string{"Critical errors detected", "Reference error detected"},
		},
		{
			name: "temporal dead zone",
			records: []types.ErrorRecord{
				record("frontend_global", types.ErrorTypeUncaught, "Cannot access 'x' before initialization", types.SeverityModerate, start),
			},
			want: []string{"Reference error detected"},
		},
		{
			name: "critical module threshold",
			records: []types.ErrorRecord{
				record("orders", types.ErrorTypeUncaught, "a", types.SeverityModerate, start),
				record("orders", types.ErrorTypeUncaught, "b", types.SeverityModerate, start),
				record("orders", types.ErrorTypeUncaught, "c", types.SeverityModerate, start),
				record("delivery", types.ErrorTypeUncaught, "d", types.SeverityModerate, start),
				record("delivery", types.ErrorTypeUncaught, "e", types.SeverityModerate, start),
				record("delivery", types.ErrorTypeUncaught, "f", types.SeverityModerate, start),
			},
			want: []string{"Critical module failing"},
		},
		{
			name: "remediation trail is not counted",
			records: func() []types.ErrorRecord {
				var out []types.ErrorRecord
				for i := 0; i < 3; i++ {
					trail := record("wallet", types.ErrorTypeAutoFix, "Auto-fix applied for wallet: monitoring intensified",
						types.SeverityMinor, start)
					trail.Status = types.ErrorStatusResolved
					trail.FixApplied = true
					out = append(out, trail)
				}
				return append(out, record("wallet", types.ErrorTypeUncaught, "a", types.SeverityModerate, start))
			}(),
			want: nil,
		},
		{
			name: "below module threshold",
			records: []types.ErrorRecord{
				record("orders", types.ErrorTypeUncaught, "a", types.SeverityModerate, start),
				record("orders", types.ErrorTypeUncaught, "b", types.SeverityModerate, start),
			},
			want: nil,
		},
		{
			name: "chunk load failure",
			records: []types.ErrorRecord{
				record("frontend_resource", types.ErrorTypeResource, "Failed to load script: https://cdn.example.com/app.js", types.SeverityMinor, start),
			},
			want: []string{"Resource loading failures"},
		},
		{
			name: "rejections across the hour window",
			records: func() []types.ErrorRecord {
				var out []types.ErrorRecord
				for i := 0; i < 5; i++ {
					out = append(out, record("frontend_promise", types.ErrorTypeUnhandledRejection, "timeout",
						types.SeverityModerate, start.Add(-time.Duration(i*10)*time.Minute)))
				}
				return out
			}(),
			want: []string{"Repeated unhandled rejections"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mem, _ := newTestEngine()
			mem.SeedErrors(tt.records...)

			creator := &recordingCreator{}
			for _, rule := range DefaultRules(nil, creator) {
				require.NoError(t, e.Add(rule))
			}

			require.NoError(t, e.Evaluate(context.Background()))
			assert.Equal(t, tt.want, creator.titles())
		})
	}
}

func TestDefaultRules_ReferenceErrorIsAutoFixable(t *testing.T) {
	e, mem, _ := newTestEngine()
	mem.SeedErrors(record("frontend_global", types.ErrorTypeUncaught, "bar is not defined", types.SeverityCritical, start))

	creator := &recordingCreator{}
	for _, rule := range DefaultRules(nil, creator) {
		require.NoError(t, e.Add(rule))
	}
	require.NoError(t, e.Evaluate(context.Background()))

	var ref *alerting.AlertSpec
	for i := range creator.specs {
		if creator.specs[i].Title == "Reference error detected" {
			ref = &creator.specs[i]
		}
	}
	require.NotNil(t, ref)
	assert.Equal(t, types.AlertSeverityCritical, ref.Severity)
	assert.True(t, ref.AutoFix)
	assert.Equal(t, "frontend_global", ref.Module)
}

func TestDominantModule(t *testing.T) {
	records := []types.ErrorRecord{
		record("a", "", "", types.SeverityMinor, start),
		record("b", "", "", types.SeverityMinor, start),
		record("b", "", "", types.SeverityMinor, start),
		record("a", "", "", types.SeverityMinor, start),
		record("c", "", "", types.SeverityMinor, start),
	}
	assert.Equal(t, "a", dominantModule(records))
	assert.Equal(t, "", dominantModule(nil))
}
