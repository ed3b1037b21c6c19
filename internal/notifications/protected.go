package notifications

import (
	"context"

	"github.com/NikhilSetiya/errwatch/pkg/resilience"
)

// protectedChannel routes sends through a circuit breaker
type protectedChannel struct {
	next    ChannelHandler
	breaker *resilience.CircuitBreaker
}

// Protect wraps handler so that repeated failures open breaker and later
// sends fail fast until it resets
func Protect(handler ChannelHandler, breaker *resilience.CircuitBreaker) ChannelHandler {
	if breaker == nil {
		return handler
	}
	return &protectedChannel{next: handler, breaker: breaker}
}

func (p *protectedChannel) Name() string { return p.next.Name() }

func (p *protectedChannel) Send(ctx context.Context, n Notification) error {
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.next.Send(ctx, n)
	})
}
