// Package gateway defines the persistence boundary of the monitoring engine
// and the in-process implementations of it.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Operation names, used for logging, metrics and failure injection
const (
	OpInsertErrorBatch     = "insert_error_batch"
	OpInsertAlert          = "insert_alert"
	OpQueryRecentErrors    = "query_recent_errors"
	OpQueryActiveAutoFixes = "query_active_auto_fixes"
	OpUpdateAutoFixStats   = "update_auto_fix_stats"
	OpQueryAggregateStats  = "query_aggregate_stats"
	OpResolveAlerts        = "resolve_alerts"
	OpMarkErrorFixed       = "mark_error_fixed"
	OpQueryActiveAlerts    = "query_active_alerts"
)

// Gateway is the durable store used by the engine. Implementations must be
// safe for concurrent use.
type Gateway interface {
	InsertErrorBatch(ctx context.Context, records []types.ErrorRecord) error
	InsertAlert(ctx context.Context, alert types.Alert) error
	QueryRecentErrors(ctx context.Context, since time.Time) ([]types.ErrorRecord, error)
	QueryActiveAutoFixes(ctx context.Context) ([]types.AutoFixDefinition, error)
	UpdateAutoFixStats(ctx context.Context, id uuid.UUID, timesApplied int, successRate float64) error
	// QueryAggregateStats summarizes records created at or after since. It
	// may return (nil, nil) when the store has no server-side summary.
	QueryAggregateStats(ctx context.Context, since time.Time) (*types.AggregateStats, error)
	ResolveAlerts(ctx context.Context, module string, at time.Time) error
	MarkErrorFixed(ctx context.Context, id uuid.UUID, description string, at time.Time) error
	// QueryActiveAlerts returns up to limit active alerts, newest first
	QueryActiveAlerts(ctx context.Context, limit int) ([]types.Alert, error)
}

// Maintainer is implemented by stores that support housekeeping
type Maintainer interface {
	// ResolveMinorErrors marks every detected minor error resolved
	ResolveMinorErrors(ctx context.Context, at time.Time) (int64, error)
	// CleanupResolvedErrors deletes resolved errors fixed before cutoff
	CleanupResolvedErrors(ctx context.Context, before time.Time) (int64, error)
}

// Seeder is implemented by stores that can install the stock auto-fix
// definitions
type Seeder interface {
	// EnsureAutoFixes writes defs only when no definition exists yet and
	// returns how many were written
	EnsureAutoFixes(ctx context.Context, defs []types.AutoFixDefinition) (int, error)
}

// MinorResolutionDescription is recorded on errors closed by ResolveMinorErrors
const MinorResolutionDescription = "Minor error resolved automatically"
