package remediation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// ErrorPattern is a coarse error family derived from a message
type ErrorPattern string

const (
	PatternDynamicImport     ErrorPattern = "dynamic_import_failed"
	PatternResourceLoad      ErrorPattern = "resource_load_error"
	PatternNetworkTimeout    ErrorPattern = "network_timeout"
	PatternUndefinedProperty ErrorPattern = "undefined_property"
	PatternRLSViolation      ErrorPattern = "rls_violation"
	PatternGeneric           ErrorPattern = "generic_error"
)

// DetectPattern maps a message to its error family. Checks run in order
// and the first match wins.
func DetectPattern(message string) ErrorPattern {
	switch {
	case strings.Contains(message, "dynamically imported module"),
		strings.Contains(message, "Importing a module script failed"):
		return PatternDynamicImport
	case strings.Contains(message, "Failed to load"),
		strings.Contains(message, "Failed to fetch"):
		return PatternResourceLoad
	case strings.Contains(message, "timeout"),
		strings.Contains(message, "Timeout"),
		strings.Contains(message, "ECONNREFUSED"):
		return PatternNetworkTimeout
	case strings.Contains(message, "Cannot read propert"),
		strings.Contains(message, "undefined is not"):
		return PatternUndefinedProperty
	case strings.Contains(message, "violates row-level security"),
		strings.Contains(message, "RLS"):
		return PatternRLSViolation
	default:
		return PatternGeneric
	}
}

// NextSuccessRate folds one outcome into a running success percentage
func NextSuccessRate(oldRate float64, oldCount int, success bool) float64 {
	outcome := 0.0
	if success {
		outcome = 100
	}
	return (oldRate*float64(oldCount) + outcome) / float64(oldCount+1)
}

// DefaultAutoFixes returns the stock auto-fix definitions used to seed
// stores that have none
func DefaultAutoFixes() []types.AutoFixDefinition {
	def := func(pattern string, fixType types.FixType, description string) types.AutoFixDefinition {
		return types.AutoFixDefinition{
			ID:           uuid.New(),
			ErrorPattern: pattern,
			FixType:      fixType,
			Description:  description,
			Active:       true,
		}
	}
	return []types.AutoFixDefinition{
		def("jwt expired", types.FixTypeSessionRefresh, "Session token expired, refreshing session"),
		def("session expired", types.FixTypeSessionRefresh, "Session expired, refreshing session"),
		def("failed to fetch", types.FixTypeSuggestRetry, "Network request failed, retry suggested"),
		def("timeout", types.FixTypeSuggestRetry, "Request timed out, retry suggested"),
		def("cannot read properties of undefined", types.FixTypeSuggestNullCheck, "Undefined property access, add a null check"),
		def("undefined is not", types.FixTypeSuggestNullCheck, "Undefined value used, add a null check"),
		def("row-level security", types.FixTypePolicyCheck, "Row-level security violation, policy check needed"),
	}
}

// FixResult describes what TryAutoFix did
type FixResult struct {
	Pattern      ErrorPattern  `json:"pattern"`
	Matched      bool          `json:"matched"`
	DefinitionID uuid.UUID     `json:"definition_id,omitempty"`
	FixType      types.FixType `json:"fix_type,omitempty"`
	// Reported is false when the fix type is unknown and the match was
	// skipped
	Reported bool   `json:"reported"`
	Success  bool   `json:"success"`
	Note     string `json:"note,omitempty"`
}

// TryAutoFix applies the first active definition whose pattern occurs in
// the record message, case-insensitively. A reported outcome updates the
// definition statistics exactly once; a success also marks the record
// fixed. Failures are logged, never returned.
func (r *Remediator) TryAutoFix(ctx context.Context, record types.ErrorRecord) FixResult {
	result := FixResult{Pattern: DetectPattern(record.Message)}

	ctx, span := r.tracer.StartRemediationSpan(ctx, "try_auto_fix", record.Module)
	defer span.End()

	log := r.logger.WithComponent("remediation").WithFields(logging.Fields{
		"module":    record.Module,
		"record_id": record.ID.String(),
		"pattern":   string(result.Pattern),
	})

	r.fixMu.Lock()
	defer r.fixMu.Unlock()

	defs, err := r.gateway.QueryActiveAutoFixes(ctx)
	if err != nil {
		r.tracer.RecordError(span, err)
		log.WithError(err).Warn("Failed to load auto-fix definitions")
		return result
	}

	message := strings.ToLower(record.Message)
	var def *types.AutoFixDefinition
	for i := range defs {
		if defs[i].Active && defs[i].ErrorPattern != "" && strings.Contains(message, strings.ToLower(defs[i].ErrorPattern)) {
			def = &defs[i]
			break
		}
	}
	if def == nil {
		log.Debug("No auto-fix definition matched")
		return result
	}

	result.Matched = true
	result.DefinitionID = def.ID
	result.FixType = def.FixType

	success, note, known := r.runFix(ctx, def.FixType)
	if !known {
		log.WithField("fix_type", string(def.FixType)).Warn("Unknown auto-fix type, skipping")
		return result
	}
	result.Reported = true
	result.Success = success
	result.Note = note
	r.metrics.RecordAutoFix(string(def.FixType), success)

	rate := NextSuccessRate(def.SuccessRate, def.TimesApplied, success)
	if err := r.gateway.UpdateAutoFixStats(ctx, def.ID, def.TimesApplied+1, rate); err != nil {
		log.WithError(err).Error("Failed to update auto-fix statistics")
	}

	if success {
		if err := r.gateway.MarkErrorFixed(ctx, record.ID, def.Description, r.clock.Now()); err != nil {
			log.WithError(err).Error("Failed to mark error fixed")
		}
	}

	log.WithFields(logging.Fields{
		"fix_type": string(def.FixType),
		"success":  success,
		"note":     note,
	}).Info("Auto-fix attempted")
	return result
}

// runFix executes a fix type. known is false for unrecognized types.
func (r *Remediator) runFix(ctx context.Context, fixType types.FixType) (success bool, note string, known bool) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.RecordPanic("auto_fix")
			success, note, known = false, fmt.Sprintf("fix panicked: %v", p), true
		}
	}()

	switch fixType {
	case types.FixTypeSessionRefresh:
		if r.refresher == nil {
			return false, "no session refresher configured", true
		}
		if err := r.refresher.RefreshSession(ctx); err != nil {
			return false, "session refresh failed: " + err.Error(), true
		}
		return true, "session refreshed", true
	case types.FixTypeSuggestRetry:
		return true, "retry suggested", true
	case types.FixTypeSuggestNullCheck:
		return false, "code change needed: add a null check", true
	case types.FixTypePolicyCheck:
		return false, "policy check needed", true
	default:
		return false, "", false
	}
}
