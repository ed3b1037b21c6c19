// Package resilience protects the engine from a failing persistence layer
// or notification surface.
//
// A CircuitBreaker counts failures of the calls it wraps. Once ReadyToTrip
// reports true the breaker opens and rejects calls with a *CircuitBreakerError
// until Timeout elapses, after which MaxRequests trial calls decide whether
// it closes again.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:        "gateway",
//		MaxRequests: 1,
//		Timeout:     30 * time.Second,
//	})
//
//	err := cb.Do(ctx, func(ctx context.Context) error {
//		return store.InsertErrorBatch(ctx, batch)
//	})
//
// Failed calls are never retried here; callers decide what a rejected call
// means.
package resilience
