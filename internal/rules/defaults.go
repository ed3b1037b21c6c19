package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NikhilSetiya/errwatch/internal/alerting"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Built-in rule IDs
const (
	RuleCriticalErrors          = "critical-errors"
	RuleReferenceErrors         = "reference-errors"
	RuleCriticalModuleThreshold = "critical-module-threshold"
	RuleResourceLoading         = "resource-loading"
	RuleUnhandledRejections     = "unhandled-rejections"
)

// AlertCreator receives the alerts raised by rule actions
type AlertCreator interface {
	CreateAlert(ctx context.Context, spec alerting.AlertSpec) bool
}

// Thresholds parameterizes the built-in rules
type Thresholds struct {
	CriticalModules    []string
	ModuleThreshold    int
	RejectionThreshold int
	RejectionWindow    time.Duration
}

// DefaultThresholds returns the stock thresholds
func DefaultThresholds() *Thresholds {
	return &Thresholds{
		CriticalModules:    []string{"wallet", "payment", "auth", "orders"},
		ModuleThreshold:    3,
		RejectionThreshold: 5,
		RejectionWindow:    time.Hour,
	}
}

var referenceErrorPatterns = []string{
	"referenceerror",
	"is not defined",
	"cannot access",
	"before initialization",
}

var resourceLoadingPatterns = []string{
	"failed to load",
	"loading chunk",
	"loading css chunk",
	"dynamically imported module",
	"importing a module script failed",
	"failed to fetch dynamically",
}

func containsAny(message string, patterns []string) bool {
	lower := strings.ToLower(message)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func matching(records []types.ErrorRecord, keep func(types.ErrorRecord) bool) []types.ErrorRecord {
	var out []types.ErrorRecord
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// dominantModule returns the most frequent module, ties going to the
// module seen first
func dominantModule(records []types.ErrorRecord) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, r := range records {
		counts[r.Module]++
	}
	for _, r := range records {
		if c := counts[r.Module]; c > bestCount {
			best, bestCount = r.Module, c
		}
	}
	return best
}

func isCritical(r types.ErrorRecord) bool {
	return r.Severity == types.SeverityCritical || strings.Contains(strings.ToLower(r.Message), "is not defined")
}

func isReferenceError(r types.ErrorRecord) bool {
	return containsAny(r.Message, referenceErrorPatterns)
}

func isResourceLoading(r types.ErrorRecord) bool {
	return containsAny(r.Message, resourceLoadingPatterns)
}

func isRejection(r types.ErrorRecord) bool {
	return r.ErrorType == types.ErrorTypeUnhandledRejection
}

func anyRecord(keep func(types.ErrorRecord) bool) Predicate {
	return func(records []types.ErrorRecord) bool {
		for _, r := range records {
			if keep(r) {
				return true
			}
		}
		return false
	}
}

// DefaultRules builds the stock rules. Every rule starts enabled.
func DefaultRules(cfg *Thresholds, creator AlertCreator) []Rule {
	if cfg == nil {
		cfg = DefaultThresholds()
	}
	criticalModules := make(map[string]bool, len(cfg.CriticalModules))
	for _, m := range cfg.CriticalModules {
		criticalModules[m] = true
	}

	moduleCounts := func(records []types.ErrorRecord) map[string]int {
		counts := make(map[string]int)
		for _, r := range records {
			if criticalModules[r.Module] {
				counts[r.Module]++
			}
		}
		return counts
	}

	return []Rule{
		{
			ID:        RuleCriticalErrors,
			Name:      "Critical errors",
			Severity:  types.AlertSeverityHigh,
			Enabled:   true,
			Predicate: anyRecord(isCritical),
			Action: func(ctx context.Context, records []types.ErrorRecord) {
				hits := matching(records, isCritical)
				creator.CreateAlert(ctx, alerting.AlertSpec{
					Title:        "Critical errors detected",
					Message:      fmt.Sprintf("%d critical errors in the last window. Latest: %s", len(hits), hits[0].Message),
					Severity:     types.AlertSeverityHigh,
					Module:       dominantModule(hits),
					SuggestedFix: "Inspect the latest stack traces for this module",
					Actionable:   true,
				})
			},
		},
		{
			ID:        RuleReferenceErrors,
			Name:      "Reference errors",
			Severity:  types.AlertSeverityCritical,
			Enabled:   true,
			Predicate: anyRecord(isReferenceError),
			Action: func(ctx context.Context, records []types.ErrorRecord) {
				hits := matching(records, isReferenceError)
				creator.CreateAlert(ctx, alerting.AlertSpec{
					Title:        "Reference error detected",
					Message:      hits[0].Message,
					Severity:     types.AlertSeverityCritical,
					Module:       dominantModule(hits),
					SuggestedFix: "Check variable declarations and import order",
					Actionable:   true,
					AutoFix:      true,
				})
			},
		},
		{
			ID:       RuleCriticalModuleThreshold,
			Name:     "Critical module error threshold",
			Severity: types.AlertSeverityHigh,
			Enabled:  true,
			Predicate: func(records []types.ErrorRecord) bool {
				for _, n := range moduleCounts(records) {
					if n >= cfg.ModuleThreshold {
						return true
					}
				}
				return false
			},
			Action: func(ctx context.Context, records []types.ErrorRecord) {
				counts := moduleCounts(records)
				for _, module := range cfg.CriticalModules {
					if counts[module] < cfg.ModuleThreshold {
						continue
					}
					creator.CreateAlert(ctx, alerting.AlertSpec{
						Title:        "Critical module failing",
						Message:      fmt.Sprintf("%d errors in %s within the last window", counts[module], module),
						Severity:     types.AlertSeverityHigh,
						Module:       module,
						SuggestedFix: "Review recent changes to this module",
						Actionable:   true,
					})
				}
			},
		},
		{
			ID:        RuleResourceLoading,
			Name:      "Resource loading failures",
			Severity:  types.AlertSeverityMedium,
			Enabled:   true,
			Predicate: anyRecord(isResourceLoading),
			Action: func(ctx context.Context, records []types.ErrorRecord) {
				hits := matching(records, isResourceLoading)
				creator.CreateAlert(ctx, alerting.AlertSpec{
					Title:        "Resource loading failures",
					Message:      fmt.Sprintf("%d resources failed to load. Latest: %s", len(hits), hits[0].Message),
					Severity:     types.AlertSeverityMedium,
					Module:       dominantModule(hits),
					SuggestedFix: "Clear the asset cache or redeploy missing chunks",
				})
			},
		},
		{
			ID:       RuleUnhandledRejections,
			Name:     "Repeated unhandled rejections",
			Severity: types.AlertSeverityMedium,
			Enabled:  true,
			Window:   cfg.RejectionWindow,
			Predicate: func(records []types.ErrorRecord) bool {
				return len(matching(records, isRejection)) >= cfg.RejectionThreshold
			},
			Action: func(ctx context.Context, records []types.ErrorRecord) {
				hits := matching(records, isRejection)
				creator.CreateAlert(ctx, alerting.AlertSpec{
					Title:        "Repeated unhandled rejections",
					Message:      fmt.Sprintf("%d unhandled promise rejections within the last window", len(hits)),
					Severity:     types.AlertSeverityMedium,
					Module:       dominantModule(hits),
					SuggestedFix: "Add rejection handling to the failing async calls",
				})
			},
		},
	}
}
