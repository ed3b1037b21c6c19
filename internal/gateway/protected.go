package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/resilience"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Protected bounds every call to the wrapped gateway with a timeout and a
// circuit breaker, and counts failures.
type Protected struct {
	next    Gateway
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewProtected wraps next. A nil breaker disables short-circuiting and a
// non-positive timeout disables the deadline.
func NewProtected(next Gateway, breaker *resilience.CircuitBreaker, timeout time.Duration, logger *logging.Logger, m *metrics.Metrics) *Protected {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Protected{
		next:    next,
		breaker: breaker,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// Unwrap returns the wrapped gateway
func (p *Protected) Unwrap() Gateway {
	return p.next
}

func (p *Protected) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var err error
	if p.breaker != nil {
		err = p.breaker.Do(ctx, fn)
	} else {
		err = fn(ctx)
	}

	if err != nil {
		p.metrics.RecordGatewayError(op)
		p.logger.WithComponent("gateway").WithError(err).WithField("operation", op).Debug("Gateway call failed")
	}
	return err
}

func (p *Protected) InsertErrorBatch(ctx context.Context, records []types.ErrorRecord) error {
	return p.call(ctx, OpInsertErrorBatch, func(ctx context.Context) error {
		return p.next.InsertErrorBatch(ctx, records)
	})
}

func (p *Protected) InsertAlert(ctx context.Context, alert types.Alert) error {
	return p.call(ctx, OpInsertAlert, func(ctx context.Context) error {
		return p.next.InsertAlert(ctx, alert)
	})
}

func (p *Protected) QueryRecentErrors(ctx context.Context, since time.Time) ([]types.ErrorRecord, error) {
	var out []types.ErrorRecord
	err := p.call(ctx, OpQueryRecentErrors, func(ctx context.Context) error {
		var err error
		out, err = p.next.QueryRecentErrors(ctx, since)
		return err
	})
	return out, err
}

func (p *Protected) QueryActiveAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	var out []types.Alert
	err := p.call(ctx, OpQueryActiveAlerts, func(ctx context.Context) error {
		var err error
		out, err = p.next.QueryActiveAlerts(ctx, limit)
		return err
	})
	return out, err
}

func (p *Protected) QueryActiveAutoFixes(ctx context.Context) ([]types.AutoFixDefinition, error) {
	var out []types.AutoFixDefinition
	err := p.call(ctx, OpQueryActiveAutoFixes, func(ctx context.Context) error {
		var err error
		out, err = p.next.QueryActiveAutoFixes(ctx)
		return err
	})
	return out, err
}

func (p *Protected) UpdateAutoFixStats(ctx context.Context, id uuid.UUID, timesApplied int, successRate float64) error {
	return p.call(ctx, OpUpdateAutoFixStats, func(ctx context.Context) error {
		return p.next.UpdateAutoFixStats(ctx, id, timesApplied, successRate)
	})
}

func (p *Protected) QueryAggregateStats(ctx context.Context, since time.Time) (*types.AggregateStats, error) {
	var out *types.AggregateStats
	err := p.call(ctx, OpQueryAggregateStats, func(ctx context.Context) error {
		var err error
		out, err = p.next.QueryAggregateStats(ctx, since)
		return err
	})
	return out, err
}

func (p *Protected) ResolveAlerts(ctx context.Context, module string, at time.Time) error {
	return p.call(ctx, OpResolveAlerts, func(ctx context.Context) error {
		return p.next.ResolveAlerts(ctx, module, at)
	})
}

func (p *Protected) MarkErrorFixed(ctx context.Context, id uuid.UUID, description string, at time.Time) error {
	return p.call(ctx, OpMarkErrorFixed, func(ctx context.Context) error {
		return p.next.MarkErrorFixed(ctx, id, description, at)
	})
}

var _ Gateway = (*Protected)(nil)
