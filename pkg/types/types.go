package types

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a captured error
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
)

// ErrorStatus tracks the lifecycle of a persisted error record
type ErrorStatus string

const (
	ErrorStatusDetected ErrorStatus = "detected"
	ErrorStatusResolved ErrorStatus = "resolved"
)

// Error types produced by the capture layer
const (
	ErrorTypeUncaught           = "uncaught_error"
	ErrorTypeUnhandledRejection = "unhandled_rejection"
	ErrorTypeResource           = "resource_error"
	ErrorTypeAutoFix            = "auto_fix_applied"
)

// Metadata carries the context captured alongside an error. Free-form keys
// land in Extra.
type Metadata struct {
	URL       string            `json:"url,omitempty"`
	Line      int               `json:"line,omitempty"`
	Column    int               `json:"column,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	UserAgent string            `json:"user_agent,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// ErrorRecord is a normalized, classified runtime failure
type ErrorRecord struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	Module         string      `json:"module" db:"module"`
	ErrorType      string      `json:"error_type" db:"error_type"`
	Message        string      `json:"message" db:"error_message"`
	StackTrace     string      `json:"stack_trace,omitempty" db:"stack_trace"`
	Severity       Severity    `json:"severity" db:"severity"`
	Metadata       Metadata    `json:"metadata" db:"-"`
	Status         ErrorStatus `json:"status" db:"status"`
	FixApplied     bool        `json:"fix_applied" db:"fix_applied"`
	FixDescription string      `json:"fix_description,omitempty" db:"fix_description"`
	FixedAt        *time.Time  `json:"fixed_at,omitempty" db:"fixed_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// IsResolved reports whether the record has been marked resolved
func (r ErrorRecord) IsResolved() bool {
	return r.Status == ErrorStatusResolved
}

// AlertSeverity is the urgency of a dispatched alert
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityLow      AlertSeverity = "low"
)

// AlertStatus tracks whether an alert is still open
type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusResolved AlertStatus = "resolved"
)

// Alert is a persisted, user-facing alert
type Alert struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Title        string        `json:"title" db:"title"`
	Message      string        `json:"message" db:"message"`
	Severity     AlertSeverity `json:"severity" db:"severity"`
	Module       string        `json:"module" db:"module"`
	SuggestedFix string        `json:"suggested_fix,omitempty" db:"suggested_fix"`
	Status       AlertStatus   `json:"status" db:"status"`
	Actionable   bool          `json:"actionable" db:"actionable"`
	AutoFix      bool          `json:"auto_fix" db:"auto_fix"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// FixType names a pattern-keyed remediation action
type FixType string

const (
	FixTypeSessionRefresh   FixType = "session_refresh"
	FixTypeSuggestRetry     FixType = "suggest_retry"
	FixTypeSuggestNullCheck FixType = "suggest_null_check"
	FixTypePolicyCheck      FixType = "policy_check"
)

// AutoFixDefinition is a stored remediation keyed by message pattern
type AutoFixDefinition struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ErrorPattern string    `json:"error_pattern" db:"error_pattern"`
	FixType      FixType   `json:"fix_type" db:"fix_type"`
	Description  string    `json:"description" db:"fix_description"`
	SuccessRate  float64   `json:"success_rate" db:"success_rate"`
	TimesApplied int       `json:"times_applied" db:"times_applied"`
	Active       bool      `json:"active" db:"is_active"`
}

// Health is the rolled-up state of the monitored session
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// Stats summarizes persisted errors
type Stats struct {
	Total    int    `json:"total"`
	Critical int    `json:"critical"`
	Moderate int    `json:"moderate"`
	Minor    int    `json:"minor"`
	Fixed    int    `json:"fixed"`
	Pending  int    `json:"pending"`
	Health   Health `json:"health"`
}

// AggregateStats is the server-side summary returned by the fast path
type AggregateStats struct {
	CriticalErrors int `json:"critical_errors" db:"critical_errors"`
	ModerateErrors int `json:"moderate_errors" db:"moderate_errors"`
	MinorErrors    int `json:"minor_errors" db:"minor_errors"`
	FixedErrors    int `json:"fixed_errors" db:"fixed_errors"`
	PendingErrors  int `json:"pending_errors" db:"pending_errors"`
}
