package channels

import (
	"context"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/errwatch/internal/notifications"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// LogHandler writes notifications to a zap logger. It is the default
// surface when no webhook is configured.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates a log notification handler
func NewLogHandler(logger *zap.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

// Send logs the notification at a level matching its severity
func (h *LogHandler) Send(ctx context.Context, n notifications.Notification) error {
	fields := []zap.Field{
		zap.String("severity", string(n.Severity)),
		zap.String("module", n.Module),
		zap.String("message", n.Message),
		zap.Duration("duration", n.Duration),
	}
	if n.Action != nil {
		fields = append(fields, zap.String("action_url", n.Action.URL))
	}

	switch n.Severity {
	case types.AlertSeverityCritical, types.AlertSeverityHigh:
		h.logger.Error(n.Title, fields...)
	case types.AlertSeverityMedium:
		h.logger.Warn(n.Title, fields...)
	default:
		h.logger.Info(n.Title, fields...)
	}
	return nil
}

// Name returns the channel name
func (h *LogHandler) Name() string {
	return "log"
}
