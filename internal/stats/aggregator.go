// Package stats derives severity counts and a health roll-up from the
// persistence gateway.
package stats

import (
	"context"
	"time"

	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Config holds aggregator configuration
type Config struct {
	// FallbackWindow bounds the raw scan used when aggregates fail
	FallbackWindow time.Duration `json:"fallback_window"`
	// Pending thresholds for the health roll-up
	DegradedPending int `json:"degraded_pending"`
	CriticalPending int `json:"critical_pending"`
}

// DefaultConfig returns default aggregator configuration
func DefaultConfig() *Config {
	return &Config{
		FallbackWindow:  24 * time.Hour,
		DegradedPending: 10,
		CriticalPending: 20,
	}
}

// Aggregator computes Stats
type Aggregator struct {
	config  *Config
	gateway gateway.Gateway
	clock   clock.Clock
	logger  *logging.Logger
}

// NewAggregator creates an aggregator reading from gw
func NewAggregator(config *Config, gw gateway.Gateway, clk clock.Clock, logger *logging.Logger) *Aggregator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.FallbackWindow <= 0 {
		config.FallbackWindow = DefaultConfig().FallbackWindow
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Aggregator{
		config:  config,
		gateway: gw,
		clock:   clock.OrReal(clk),
		logger:  logger,
	}
}

// GetStats prefers the server-side aggregate and falls back to a raw scan
// when it fails or is unavailable. Both paths count the fallback window. If
// both fail the zero Stats is returned with the scan error.
func (a *Aggregator) GetStats(ctx context.Context) (types.Stats, error) {
	since := a.clock.Now().Add(-a.config.FallbackWindow)
	agg, err := a.gateway.QueryAggregateStats(ctx, since)
	if err == nil && agg != nil {
		s := types.Stats{
			Critical: agg.CriticalErrors,
			Moderate: agg.ModerateErrors,
			Minor:    agg.MinorErrors,
			Fixed:    agg.FixedErrors,
			Pending:  agg.PendingErrors,
		}
		s.Total = s.Critical + s.Moderate + s.Minor
		s.Health = a.Health(s)
		return s, nil
	}
	if err != nil {
		a.logger.WithComponent("stats").WithError(err).Warn("Aggregate stats unavailable, scanning raw records")
	}

	records, err := a.gateway.QueryRecentErrors(ctx, since)
	if err != nil {
		a.logger.WithComponent("stats").WithError(err).Error("Failed to scan recent errors")
		return types.Stats{Health: types.HealthHealthy}, err
	}

	s := Count(records)
	s.Health = a.Health(s)
	return s, nil
}

// Count tallies records. A record is fixed when resolved and pending
// otherwise, never both.
func Count(records []types.ErrorRecord) types.Stats {
	var s types.Stats
	for _, r := range records {
		s.Total++
		switch r.Severity {
		case types.SeverityCritical:
			s.Critical++
		case types.SeverityModerate:
			s.Moderate++
		case types.SeverityMinor:
			s.Minor++
		}
		if r.IsResolved() {
			s.Fixed++
		} else {
			s.Pending++
		}
	}
	return s
}

// Health rolls stats up into one status
func (a *Aggregator) Health(s types.Stats) types.Health {
	switch {
	case s.Pending > a.config.CriticalPending:
		return types.HealthCritical
	case s.Pending > a.config.DegradedPending, s.Critical > 0 && s.Pending > 0:
		return types.HealthDegraded
	default:
		return types.HealthHealthy
	}
}

// Report gathers the data for an exported health report
func (a *Aggregator) Report(ctx context.Context, maxRecords int) (*Report, error) {
	s, err := a.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	records, err := a.gateway.QueryRecentErrors(ctx, now.Add(-a.config.FallbackWindow))
	if err != nil {
		// the report still carries the counts
		a.logger.WithComponent("stats").WithError(err).Warn("Report without recent errors")
		records = nil
	}
	if maxRecords > 0 && len(records) > maxRecords {
		records = records[:maxRecords]
	}

	return &Report{
		GeneratedAt: now,
		Window:      a.config.FallbackWindow,
		Stats:       s,
		Recent:      records,
	}, nil
}
