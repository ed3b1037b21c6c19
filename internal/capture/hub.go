package capture

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/NikhilSetiya/errwatch/pkg/logging"
)

// EventSource is the host runtime's failure signal surface. Each On* call
// returns a func that unregisters the listener.
type EventSource interface {
	OnUncaughtException(fn func(*ExceptionEvent)) func()
	OnUnhandledRejection(fn func(*RejectionEvent)) func()
	OnResourceError(fn func(*ResourceEvent)) func()
	OnTeardown(fn func()) func()
}

// Hub is an in-process EventSource. Host code reports failures to it
// directly or through Guard and Go.
type Hub struct {
	mu        sync.RWMutex
	nextID    int
	exception map[int]func(*ExceptionEvent)
	rejection map[int]func(*RejectionEvent)
	resource  map[int]func(*ResourceEvent)
	teardown  map[int]func()
	logger    *logging.Logger
	wg        sync.WaitGroup
}

// NewHub creates an empty hub
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Hub{
		exception: make(map[int]func(*ExceptionEvent)),
		rejection: make(map[int]func(*RejectionEvent)),
		resource:  make(map[int]func(*ResourceEvent)),
		teardown:  make(map[int]func()),
		logger:    logger,
	}
}

// OnUncaughtException registers an exception listener
func (h *Hub) OnUncaughtException(fn func(*ExceptionEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.id()
	h.exception[id] = fn
	return h.remover(func() { delete(h.exception, id) })
}

// OnUnhandledRejection registers a rejection listener
func (h *Hub) OnUnhandledRejection(fn func(*RejectionEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.id()
	h.rejection[id] = fn
	return h.remover(func() { delete(h.rejection, id) })
}

// OnResourceError registers a resource failure listener
func (h *Hub) OnResourceError(fn func(*ResourceEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.id()
	h.resource[id] = fn
	return h.remover(func() { delete(h.resource, id) })
}

// OnTeardown registers a listener invoked when the session ends
func (h *Hub) OnTeardown(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.id()
	h.teardown[id] = fn
	return h.remover(func() { delete(h.teardown, id) })
}

// EmitException delivers an exception event to every listener
func (h *Hub) EmitException(ev *ExceptionEvent) {
	h.mu.RLock()
	listeners := make([]func(*ExceptionEvent), 0, len(h.exception))
	for _, fn := range h.exception {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		h.safely("exception", func() { fn(ev) })
	}
}

// EmitRejection delivers a rejection event. Unless a listener prevents the
// default, the hub logs the rejection itself.
func (h *Hub) EmitRejection(ev *RejectionEvent) {
	h.mu.RLock()
	listeners := make([]func(*RejectionEvent), 0, len(h.rejection))
	for _, fn := range h.rejection {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		h.safely("rejection", func() { fn(ev) })
	}

	if !ev.DefaultPrevented() {
		h.logger.WithComponent("hub").WithField("reason", fmt.Sprintf("%v", ev.Reason)).Warn("Unhandled rejection")
	}
}

// EmitResource delivers a resource failure event
func (h *Hub) EmitResource(ev *ResourceEvent) {
	h.mu.RLock()
	listeners := make([]func(*ResourceEvent), 0, len(h.resource))
	for _, fn := range h.resource {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		h.safely("resource", func() { fn(ev) })
	}
}

// Teardown signals the end of the session to every teardown listener
func (h *Hub) Teardown() {
	h.mu.RLock()
	listeners := make([]func(), 0, len(h.teardown))
	for _, fn := range h.teardown {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		h.safely("teardown", fn)
	}
}

// Guard runs fn and reports a panic as an uncaught exception instead of
// crashing the caller.
func (h *Hub) Guard(module string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			ev := &ExceptionEvent{
				Module: module,
				Stack:  string(debug.Stack()),
			}
			if err, ok := r.(error); ok {
				ev.Err = err
			} else {
				ev.Message = fmt.Sprintf("%v", r)
			}
			h.EmitException(ev)
		}
	}()
	fn()
}

// Go runs fn on its own goroutine. A returned error is reported as an
// unhandled rejection and a panic as an uncaught exception.
func (h *Hub) Go(module string, fn func() error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.Guard(module, func() {
			if err := fn(); err != nil {
				h.EmitRejection(&RejectionEvent{Module: module, Reason: err})
			}
		})
	}()
}

// Wait blocks until every goroutine started with Go has returned
func (h *Hub) Wait() {
	h.wg.Wait()
}

func (h *Hub) id() int {
	h.nextID++
	return h.nextID
}

func (h *Hub) remover(del func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			del()
		})
	}
}

// safely keeps a misbehaving listener from taking down the host
func (h *Hub) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithComponent("hub").WithFields(logging.Fields{
				"listener": kind,
				"panic":    fmt.Sprintf("%v", r),
			}).Error("Listener panicked")
		}
	}()
	fn()
}
