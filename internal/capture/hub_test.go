package capture

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/errwatch/pkg/logging"
)

func TestHub_GuardRecoversPanic(t *testing.T) {
	hub := NewHub(logging.NewTestLogger(&bytes.Buffer{}))

	var got *ExceptionEvent
	hub.OnUncaughtException(func(e *ExceptionEvent) { got = e })

	assert.NotPanics(t, func() {
		hub.Guard("checkout", func() { panic("nil map write") })
	})

	require.NotNil(t, got)
	assert.Equal(t, "checkout", got.Module)
	assert.Equal(t, "nil map write", got.Message)
	assert.NotEmpty(t, got.Stack)
}

func TestHub_GuardPanicWithError(t *testing.T) {
	hub := NewHub(logging.NewTestLogger(&bytes.Buffer{}))

	var got *ExceptionEvent
	hub.OnUncaughtException(func(e *ExceptionEvent) { got = e })

	sentinel := errors.New("index out of range")
	hub.Guard("", func() { panic(sentinel) })

	require.NotNil(t, got)
	assert.ErrorIs(t, got.Err, sentinel)
}

func TestHub_GoReportsReturnedError(t *testing.T) {
	hub := NewHub(logging.NewTestLogger(&bytes.Buffer{}))

	var mu sync.Mutex
	var reasons []interface{}
	hub.OnUnhandledRejection(func(e *RejectionEvent) {
		e.PreventDefault()
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, e.Reason)
	})

	hub.Go("sync", func() error { return errors.New("sync failed") })
	hub.Go("sync", func() error { return nil })
	hub.Wait()

	require.Len(t, reasons, 1)
	assert.EqualError(t, reasons[0].(error), "sync failed")
}

func TestHub_UnpreventedRejectionIsLogged(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(logging.NewTestLogger(&buf))

	hub.EmitRejection(&RejectionEvent{Reason: "nobody listening"})
	assert.Contains(t, buf.String(), "Unhandled rejection")

	buf.Reset()
	hub.OnUnhandledRejection(func(e *RejectionEvent) { e.PreventDefault() })
	hub.EmitRejection(&RejectionEvent{Reason: "handled"})
	assert.False(t, strings.Contains(buf.String(), "Unhandled rejection"))
}

func TestHub_ListenerPanicIsContained(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(logging.NewTestLogger(&buf))

	calls := 0
	hub.OnResourceError(func(*ResourceEvent) { panic("bad listener") })
	hub.OnResourceError(func(*ResourceEvent) { calls++ })

	assert.NotPanics(t, func() {
		hub.EmitResource(&ResourceEvent{Tag: "img", URL: "x"})
	})
	assert.Equal(t, 1, calls)
	assert.Contains(t, buf.String(), "Listener panicked")
}

func TestHub_TeardownAndUnregister(t *testing.T) {
	hub := NewHub(logging.NewTestLogger(&bytes.Buffer{}))

	calls := 0
	remove := hub.OnTeardown(func() { calls++ })

	hub.Teardown()
	remove()
	remove()
	hub.Teardown()

	assert.Equal(t, 1, calls)
}
