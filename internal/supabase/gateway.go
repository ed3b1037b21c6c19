// Package supabase implements the persistence gateway on a managed
// Supabase project through its PostgREST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	supa "github.com/supabase-community/supabase-go"
	"github.com/supabase-community/postgrest-go"

	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/pkg/config"
	"github.com/NikhilSetiya/errwatch/pkg/errors"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Table and function names
const (
	TableErrors    = "system_errors"
	TableAlerts    = "system_alerts"
	TableAutoFixes = "auto_fixes"
	FuncErrorStats = "get_error_stats"
)

const maxRecentRows = 1000

// errorRow is the PostgREST representation of an ErrorRecord
type errorRow struct {
	ID             uuid.UUID         `json:"id"`
	Module         string            `json:"module"`
	ErrorType      string            `json:"error_type"`
	ErrorMessage   string            `json:"error_message"`
	StackTrace     string            `json:"stack_trace"`
	Severity       types.Severity    `json:"severity"`
	Metadata       types.Metadata    `json:"metadata"`
	Status         types.ErrorStatus `json:"status"`
	FixApplied     bool              `json:"fix_applied"`
	FixDescription string            `json:"fix_description"`
	FixedAt        *time.Time        `json:"fixed_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

func toErrorRow(r types.ErrorRecord) errorRow {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return errorRow{
		ID: r.ID, Module: r.Module, ErrorType: r.ErrorType, ErrorMessage: r.Message,
		StackTrace: r.StackTrace, Severity: r.Severity, Metadata: r.Metadata, Status: r.Status,
		FixApplied: r.FixApplied, FixDescription: r.FixDescription, FixedAt: r.FixedAt, CreatedAt: r.CreatedAt,
	}
}

func (r errorRow) record() types.ErrorRecord {
	return types.ErrorRecord{
		ID: r.ID, Module: r.Module, ErrorType: r.ErrorType, Message: r.ErrorMessage,
		StackTrace: r.StackTrace, Severity: r.Severity, Metadata: r.Metadata, Status: r.Status,
		FixApplied: r.FixApplied, FixDescription: r.FixDescription, FixedAt: r.FixedAt, CreatedAt: r.CreatedAt,
	}
}

type autoFixRow struct {
	ID             uuid.UUID     `json:"id"`
	ErrorPattern   string        `json:"error_pattern"`
	FixType        types.FixType `json:"fix_type"`
	FixDescription string        `json:"fix_description"`
	SuccessRate    float64       `json:"success_rate"`
	TimesApplied   int           `json:"times_applied"`
	IsActive       bool          `json:"is_active"`
}

type idRow struct {
	ID uuid.UUID `json:"id"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Gateway stores monitoring data in Supabase tables
type Gateway struct {
	client *supa.Client
	logger *logging.Logger
}

// New creates a gateway from the Supabase credentials in cfg.
//
// The client takes no context and no http.Client, so every call honors ctx
// by returning as soon as it is done. An abandoned request keeps running in
// the background until the client returns.
func New(cfg *config.SupabaseConfig, logger *logging.Logger) (*Gateway, error) {
	if cfg == nil || cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, errors.NewValidationError("supabase url and service role key are required")
	}

	client, err := supa.NewClient(cfg.URL, cfg.ServiceRoleKey, &supa.ClientOptions{
		Headers: map[string]string{
			"X-Client-Info": "errwatch@1.0.0",
		},
	})
	if err != nil {
		return nil, errors.NewExternalError("supabase", "failed to create client").WithCause(err)
	}
	return NewFromClient(client, logger), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *supa.Client, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Gateway{client: client, logger: logger}
}

// call runs fn unless ctx is done first. fn must not touch state the caller
// reads after a cancellation.
func call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) InsertErrorBatch(ctx context.Context, records []types.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]errorRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, toErrorRow(r))
	}
	err := call(ctx, func() error {
		_, _, err := g.client.From(TableErrors).Insert(rows, false, "", "minimal", "").Execute()
		return err
	})
	if err != nil {
		return errors.NewGatewayError(gateway.OpInsertErrorBatch, err)
	}
	return nil
}

func (g *Gateway) InsertAlert(ctx context.Context, alert types.Alert) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	err := call(ctx, func() error {
		_, _, err := g.client.From(TableAlerts).Insert(alert, false, "", "minimal", "").Execute()
		return err
	})
	if err != nil {
		return errors.NewGatewayError(gateway.OpInsertAlert, err)
	}
	return nil
}

// QueryRecentErrors returns records created at or after since, newest first
func (g *Gateway) QueryRecentErrors(ctx context.Context, since time.Time) ([]types.ErrorRecord, error) {
	var rows []errorRow
	err := call(ctx, func() error {
		_, err := g.client.From(TableErrors).
			Select("*", "", false).
			Gte("created_at", timestamp(since)).
			Order("created_at", &postgrest.OrderOpts{Ascending: false}).
			Limit(maxRecentRows, "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, errors.NewGatewayError(gateway.OpQueryRecentErrors, err)
	}

	records := make([]types.ErrorRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records, nil
}

func (g *Gateway) QueryActiveAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	if limit <= 0 || limit > maxRecentRows {
		limit = maxRecentRows
	}

	var alerts []types.Alert
	err := call(ctx, func() error {
		_, err := g.client.From(TableAlerts).
			Select("*", "", false).
			Eq("status", string(types.AlertStatusActive)).
			Order("created_at", &postgrest.OrderOpts{Ascending: false}).
			Limit(limit, "").
			ExecuteTo(&alerts)
		return err
	})
	if err != nil {
		return nil, errors.NewGatewayError(gateway.OpQueryActiveAlerts, err)
	}
	return alerts, nil
}

func (g *Gateway) QueryActiveAutoFixes(ctx context.Context) ([]types.AutoFixDefinition, error) {
	var rows []autoFixRow
	err := call(ctx, func() error {
		_, err := g.client.From(TableAutoFixes).
			Select("*", "", false).
			Eq("is_active", "true").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, errors.NewGatewayError(gateway.OpQueryActiveAutoFixes, err)
	}

	defs := make([]types.AutoFixDefinition, 0, len(rows))
	for _, r := range rows {
		defs = append(defs, types.AutoFixDefinition{
			ID: r.ID, ErrorPattern: r.ErrorPattern, FixType: r.FixType, Description: r.FixDescription,
			SuccessRate: r.SuccessRate, TimesApplied: r.TimesApplied, Active: r.IsActive,
		})
	}
	return defs, nil
}

// update patches the rows matched by filter and returns how many changed
func (g *Gateway) update(ctx context.Context, table string, patch map[string]interface{}, filter func(*postgrest.FilterBuilder) *postgrest.FilterBuilder) (int, error) {
	var changed []idRow
	err := call(ctx, func() error {
		q := g.client.From(table).Update(patch, "representation", "")
		_, err := filter(q).ExecuteTo(&changed)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}

func (g *Gateway) UpdateAutoFixStats(ctx context.Context, id uuid.UUID, timesApplied int, successRate float64) error {
	n, err := g.update(ctx, TableAutoFixes, map[string]interface{}{
		"times_applied": timesApplied,
		"success_rate":  successRate,
	}, func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Eq("id", id.String())
	})
	if err != nil {
		return errors.NewGatewayError(gateway.OpUpdateAutoFixStats, err)
	}
	if n == 0 {
		return errors.NewNotFoundError("auto fix " + id.String())
	}
	return nil
}

// QueryAggregateStats calls the get_error_stats function for records
// created at or after since. A response that is not a stats document yields
// (nil, nil) so callers fall back to a scan.
func (g *Gateway) QueryAggregateStats(ctx context.Context, since time.Time) (*types.AggregateStats, error) {
	var raw string
	err := call(ctx, func() error {
		raw = g.client.Rpc(FuncErrorStats, "", map[string]string{"since": timestamp(since)})
		return nil
	})
	if err != nil {
		return nil, errors.NewGatewayError(gateway.OpQueryAggregateStats, err)
	}

	body := bytes.TrimSpace([]byte(raw))
	if len(body) > 0 && body[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
			return nil, nil
		}
		body = rows[0]
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, nil
	}
	if _, ok := fields["critical_errors"]; !ok {
		g.logger.WithComponent("supabase").Debug("Aggregate stats function unavailable")
		return nil, nil
	}

	var stats types.AggregateStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, errors.NewGatewayError(gateway.OpQueryAggregateStats, err)
	}
	return &stats, nil
}

func (g *Gateway) ResolveAlerts(ctx context.Context, module string, at time.Time) error {
	_, err := g.update(ctx, TableAlerts, map[string]interface{}{
		"status":      types.AlertStatusResolved,
		"resolved_at": timestamp(at),
	}, func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Eq("module", module).Eq("status", string(types.AlertStatusActive))
	})
	if err != nil {
		return errors.NewGatewayError(gateway.OpResolveAlerts, err)
	}
	return nil
}

func (g *Gateway) MarkErrorFixed(ctx context.Context, id uuid.UUID, description string, at time.Time) error {
	n, err := g.update(ctx, TableErrors, resolvedPatch(description, at), func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Eq("id", id.String())
	})
	if err != nil {
		return errors.NewGatewayError(gateway.OpMarkErrorFixed, err)
	}
	if n == 0 {
		return errors.NewNotFoundError("error " + id.String())
	}
	return nil
}

func resolvedPatch(description string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":          types.ErrorStatusResolved,
		"fix_applied":     true,
		"fix_description": description,
		"fixed_at":        timestamp(at),
	}
}

// ResolveMinorErrors closes every detected minor error
func (g *Gateway) ResolveMinorErrors(ctx context.Context, at time.Time) (int64, error) {
	n, err := g.update(ctx, TableErrors, resolvedPatch(gateway.MinorResolutionDescription, at), func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Eq("severity", string(types.SeverityMinor)).Eq("status", string(types.ErrorStatusDetected))
	})
	if err != nil {
		return 0, errors.NewGatewayError("resolve_minor_errors", err)
	}
	return int64(n), nil
}

// CleanupResolvedErrors deletes resolved errors fixed before cutoff
func (g *Gateway) CleanupResolvedErrors(ctx context.Context, before time.Time) (int64, error) {
	var deleted []idRow
	err := call(ctx, func() error {
		_, err := g.client.From(TableErrors).
			Delete("representation", "").
			Eq("status", string(types.ErrorStatusResolved)).
			Lt("fixed_at", timestamp(before)).
			ExecuteTo(&deleted)
		return err
	})
	if err != nil {
		return 0, errors.NewGatewayError("cleanup_resolved_errors", err)
	}
	return int64(len(deleted)), nil
}

// EnsureAutoFixes inserts defs when the definition table is empty
func (g *Gateway) EnsureAutoFixes(ctx context.Context, defs []types.AutoFixDefinition) (int, error) {
	var existing []idRow
	err := call(ctx, func() error {
		_, err := g.client.From(TableAutoFixes).Select("id", "", false).Limit(1, "").ExecuteTo(&existing)
		return err
	})
	if err != nil {
		return 0, errors.NewGatewayError("ensure_auto_fixes", err)
	}
	if len(existing) > 0 || len(defs) == 0 {
		return 0, nil
	}

	rows := make([]autoFixRow, 0, len(defs))
	for _, d := range defs {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		rows = append(rows, autoFixRow{
			ID: d.ID, ErrorPattern: d.ErrorPattern, FixType: d.FixType, FixDescription: d.Description,
			SuccessRate: d.SuccessRate, TimesApplied: d.TimesApplied, IsActive: d.Active,
		})
	}
	err = call(ctx, func() error {
		_, _, err := g.client.From(TableAutoFixes).Insert(rows, false, "", "minimal", "").Execute()
		return err
	})
	if err != nil {
		return 0, errors.NewGatewayError("ensure_auto_fixes", err)
	}

	g.logger.WithComponent("supabase").WithField("count", len(rows)).Info("Seeded auto-fix definitions")
	return len(rows), nil
}

var (
	_ gateway.Gateway    = (*Gateway)(nil)
	_ gateway.Maintainer = (*Gateway)(nil)
	_ gateway.Seeder     = (*Gateway)(nil)
)
