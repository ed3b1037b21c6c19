package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/pkg/errors"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Table names
const (
	TableErrors    = "system_errors"
	TableAlerts    = "system_alerts"
	TableAutoFixes = "auto_fixes"
)

// maxRecentRows caps a single QueryRecentErrors scan
const maxRecentRows = 1000

var errorColumns = []string{
	"id", "module", "error_type", "error_message", "stack_trace", "severity",
	"metadata", "status", "fix_applied", "fix_description", "fixed_at", "created_at",
}

var autoFixColumns = []string{
	"id", "error_pattern", "fix_type", "fix_description", "success_rate", "times_applied", "is_active",
}

// errorRow is the stored shape of an ErrorRecord. Metadata is kept as a
// JSON document.
type errorRow struct {
	types.ErrorRecord
	MetadataJSON string `db:"metadata"`
}

func (r errorRow) record() types.ErrorRecord {
	rec := r.ErrorRecord
	if r.MetadataJSON != "" {
		// A corrupt document degrades to empty metadata
		_ = json.Unmarshal([]byte(r.MetadataJSON), &rec.Metadata)
	}
	return rec
}

// Repository is the SQL implementation of the persistence gateway
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a repository on db
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Repository{db: db, logger: logger}
}

func errorValues(r types.ErrorRecord) ([]interface{}, error) {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return []interface{}{
		r.ID, r.Module, r.ErrorType, r.Message, r.StackTrace, string(r.Severity),
		string(metadata), string(r.Status), r.FixApplied, r.FixDescription, r.FixedAt, r.CreatedAt,
	}, nil
}

// InsertErrorBatch writes records in one transaction
func (r *Repository) InsertErrorBatch(ctx context.Context, records []types.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		row, err := errorValues(rec)
		if err != nil {
			return errors.NewGatewayError(gateway.OpInsertErrorBatch, err)
		}
		values = append(values, row)
	}

	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		return r.db.BatchInsert(ctx, tx, TableErrors, errorColumns, values, 0)
	})
	if err != nil {
		return errors.NewGatewayError(gateway.OpInsertErrorBatch, err)
	}
	return nil
}

func (r *Repository) InsertAlert(ctx context.Context, alert types.Alert) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, message, severity, module, suggested_fix, status, actionable, auto_fix, created_at, resolved_at)
		VALUES (:id, :title, :message, :severity, :module, :suggested_fix, :status, :actionable, :auto_fix, :created_at, :resolved_at)`,
		TableAlerts)

	if _, err := r.db.NamedExecContext(ctx, query, alert); err != nil {
		return errors.NewGatewayError(gateway.OpInsertAlert, err)
	}
	return nil
}

// QueryActiveAlerts returns up to limit active alerts, newest first
func (r *Repository) QueryActiveAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	if limit <= 0 || limit > maxRecentRows {
		limit = maxRecentRows
	}
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT id, title, message, severity, module, suggested_fix, status, actionable, auto_fix, created_at, resolved_at
		FROM %s
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT %d`, TableAlerts, limit))

	var alerts []types.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, string(types.AlertStatusActive)); err != nil {
		return nil, errors.NewGatewayError(gateway.OpQueryActiveAlerts, err)
	}
	return alerts, nil
}

// QueryRecentErrors returns records created at or after since, newest first
func (r *Repository) QueryRecentErrors(ctx context.Context, since time.Time) ([]types.ErrorRecord, error) {
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT id, module, error_type, error_message, stack_trace, severity, metadata,
		       status, fix_applied, fix_description, fixed_at, created_at
		FROM %s
		WHERE created_at >= ?
		ORDER BY created_at DESC
		LIMIT %d`, TableErrors, maxRecentRows))

	var rows []errorRow
	if err := r.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, errors.NewGatewayError(gateway.OpQueryRecentErrors, err)
	}

	records := make([]types.ErrorRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (r *Repository) QueryActiveAutoFixes(ctx context.Context) ([]types.AutoFixDefinition, error) {
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT id, error_pattern, fix_type, fix_description, success_rate, times_applied, is_active
		FROM %s
		WHERE is_active = ?
		ORDER BY error_pattern`, TableAutoFixes))

	var defs []types.AutoFixDefinition
	if err := r.db.SelectContext(ctx, &defs, query, true); err != nil {
		return nil, errors.NewGatewayError(gateway.OpQueryActiveAutoFixes, err)
	}
	return defs, nil
}

func (r *Repository) UpdateAutoFixStats(ctx context.Context, id uuid.UUID, timesApplied int, successRate float64) error {
	query := r.db.Rebind(fmt.Sprintf(`UPDATE %s SET times_applied = ?, success_rate = ? WHERE id = ?`, TableAutoFixes))

	result, err := r.db.ExecContext(ctx, query, timesApplied, successRate, id)
	if err != nil {
		return errors.NewGatewayError(gateway.OpUpdateAutoFixStats, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("auto fix " + id.String())
	}
	return nil
}

// QueryAggregateStats computes the summary server-side over the same
// created_at window as QueryRecentErrors
func (r *Repository) QueryAggregateStats(ctx context.Context, since time.Time) (*types.AggregateStats, error) {
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT
			COUNT(CASE WHEN severity = 'critical' THEN 1 END) AS critical_errors,
			COUNT(CASE WHEN severity = 'moderate' THEN 1 END) AS moderate_errors,
			COUNT(CASE WHEN severity = 'minor' THEN 1 END) AS minor_errors,
			COUNT(CASE WHEN status = 'resolved' THEN 1 END) AS fixed_errors,
			COUNT(CASE WHEN status <> 'resolved' THEN 1 END) AS pending_errors
		FROM %s
		WHERE created_at >= ?`, TableErrors))

	var stats types.AggregateStats
	if err := r.db.GetContext(ctx, &stats, query, since); err != nil {
		return nil, errors.NewGatewayError(gateway.OpQueryAggregateStats, err)
	}
	return &stats, nil
}

func (r *Repository) ResolveAlerts(ctx context.Context, module string, at time.Time) error {
	query := r.db.Rebind(fmt.Sprintf(`
		UPDATE %s SET status = ?, resolved_at = ?
		WHERE module = ? AND status = ?`, TableAlerts))

	if _, err := r.db.ExecContext(ctx, query, string(types.AlertStatusResolved), at, module, string(types.AlertStatusActive)); err != nil {
		return errors.NewGatewayError(gateway.OpResolveAlerts, err)
	}
	return nil
}

func (r *Repository) MarkErrorFixed(ctx context.Context, id uuid.UUID, description string, at time.Time) error {
	query := r.db.Rebind(fmt.Sprintf(`
		UPDATE %s SET status = ?, fix_applied = ?, fix_description = ?, fixed_at = ?
		WHERE id = ?`, TableErrors))

	result, err := r.db.ExecContext(ctx, query, string(types.ErrorStatusResolved), true, description, at, id)
	if err != nil {
		return errors.NewGatewayError(gateway.OpMarkErrorFixed, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("error " + id.String())
	}
	return nil
}

// ResolveMinorErrors closes every detected minor error
func (r *Repository) ResolveMinorErrors(ctx context.Context, at time.Time) (int64, error) {
	query := r.db.Rebind(fmt.Sprintf(`
		UPDATE %s SET status = ?, fix_applied = ?, fix_description = ?, fixed_at = ?
		WHERE severity = ? AND status = ?`, TableErrors))

	result, err := r.db.ExecContext(ctx, query,
		string(types.ErrorStatusResolved), true, gateway.MinorResolutionDescription, at,
		string(types.SeverityMinor), string(types.ErrorStatusDetected))
	if err != nil {
		return 0, errors.NewGatewayError("resolve_minor_errors", err)
	}
	return result.RowsAffected()
}

// CleanupResolvedErrors deletes resolved errors fixed before cutoff
func (r *Repository) CleanupResolvedErrors(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE status = ? AND fixed_at < ?`, TableErrors))

	result, err := r.db.ExecContext(ctx, query, string(types.ErrorStatusResolved), before)
	if err != nil {
		return 0, errors.NewGatewayError("cleanup_resolved_errors", err)
	}
	return result.RowsAffected()
}

// EnsureAutoFixes inserts defs when the definition table is empty and
// returns how many were written
func (r *Repository) EnsureAutoFixes(ctx context.Context, defs []types.AutoFixDefinition) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, TableAutoFixes)); err != nil {
		return 0, errors.NewGatewayError("ensure_auto_fixes", err)
	}
	if count > 0 || len(defs) == 0 {
		return 0, nil
	}

	values := make([][]interface{}, 0, len(defs))
	for _, d := range defs {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		values = append(values, []interface{}{d.ID, d.ErrorPattern, string(d.FixType), d.Description, d.SuccessRate, d.TimesApplied, d.Active})
	}
	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		return r.db.BatchInsert(ctx, tx, TableAutoFixes, autoFixColumns, values, 0)
	})
	if err != nil {
		return 0, errors.NewGatewayError("ensure_auto_fixes", err)
	}

	r.logger.WithComponent("database").WithField("count", len(defs)).Info("Seeded auto-fix definitions")
	return len(defs), nil
}

var (
	_ gateway.Gateway    = (*Repository)(nil)
	_ gateway.Maintainer = (*Repository)(nil)
	_ gateway.Seeder     = (*Repository)(nil)
)
