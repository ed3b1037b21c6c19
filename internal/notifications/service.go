package notifications

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/errwatch/pkg/metrics"
)

// Service fans a notification out to every registered channel handler
type Service struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	channels []ChannelHandler
	mu       sync.RWMutex
}

// NewService creates a new notification service
func NewService(logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:  logger,
		metrics: m,
	}
}

// RegisterChannelHandler adds a destination
func (s *Service) RegisterChannelHandler(handler ChannelHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, handler)
}

// Channels returns the names of registered handlers
func (s *Service) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.channels))
	for _, h := range s.channels {
		names = append(names, h.Name())
	}
	return names
}

// Notify sends to every channel. A failing or panicking channel does not
// prevent delivery to the others.
func (s *Service) Notify(ctx context.Context, notification Notification) error {
	s.mu.RLock()
	channels := append([]ChannelHandler(nil), s.channels...)
	s.mu.RUnlock()

	s.logger.Debug("Dispatching notification",
		zap.String("title", notification.Title),
		zap.String("severity", string(notification.Severity)),
		zap.Int("channels", len(channels)))

	var errors []error
	for _, channel := range channels {
		if err := s.send(ctx, channel, notification); err != nil {
			s.logger.Error("Failed to send notification",
				zap.String("channel", channel.Name()),
				zap.Error(err))
			s.metrics.RecordNotificationFailure(channel.Name())
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("failed to send to %d channels: %v", len(errors), errors)
	}

	return nil
}

func (s *Service) send(ctx context.Context, channel ChannelHandler, notification Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", channel.Name(), r)
		}
	}()
	return channel.Send(ctx, notification)
}

var _ Sink = (*Service)(nil)
