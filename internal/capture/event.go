package capture

import "sync/atomic"

// Default modules assigned when an event carries none
const (
	ModuleGlobal   = "frontend_global"
	ModulePromise  = "frontend_promise"
	ModuleResource = "frontend_resource"
)

// Context is the session information attached to every event
type Context struct {
	PageURL   string
	UserAgent string
	UserID    string
	Extra     map[string]string
}

// Event is one of ExceptionEvent, RejectionEvent or ResourceEvent
type Event interface {
	event()
}

// ExceptionEvent is an uncaught exception or a recovered panic
type ExceptionEvent struct {
	Context
	Module  string
	Message string
	Source  string
	Line    int
	Column  int
	Stack   string
	Err     error
}

// RejectionEvent is an unhandled asynchronous failure. Reason may be of
// any shape.
type RejectionEvent struct {
	Context
	Module string
	Reason interface{}

	prevented atomic.Bool
}

// PreventDefault suppresses the host's default logging of the rejection
func (e *RejectionEvent) PreventDefault() { e.prevented.Store(true) }

// DefaultPrevented reports whether PreventDefault was called
func (e *RejectionEvent) DefaultPrevented() bool { return e.prevented.Load() }

// ResourceEvent is a failed load of an external resource
type ResourceEvent struct {
	Context
	Module string
	Tag    string
	URL    string
}

func (*ExceptionEvent) event() {}
func (*RejectionEvent) event() {}
func (*ResourceEvent) event()  {}
