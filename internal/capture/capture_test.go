package capture

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

type stackErr struct{ msg, stack string }

func (e stackErr) Error() string { return e.msg }
func (e stackErr) Stack() string { return e.stack }

func newTestCapturer() (*Capturer, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	return NewCapturer(nil, clk, logging.NewTestLogger(&bytes.Buffer{}), nil), clk
}

func TestClassifier_Classify(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		name    string
		message string
		url     string
		want    Verdict
	}{
		{name: "plain error", message: "Cannot read properties of undefined", want: VerdictReportable},
		{name: "reference error", message: "ReferenceError: foo is not defined", want: VerdictCritical},
		{name: "analytics url", message: "Script failed", url: "https://www.google-analytics.com/analytics.js", want: VerdictIgnored},
		{name: "resize observer", message: "ResizeObserver loop limit exceeded", want: VerdictIgnored},
		{name: "extension origin", message: "boom", url: "chrome-extension://abcdef/content.js", want: VerdictIgnored},
		{name: "critical beats ignorable", message: "payment widget: Load failed", want: VerdictCritical},
		{name: "case insensitive", message: "STRIPE checkout crashed", want: VerdictCritical},
		{name: "fetch failure stays reportable", message: "Failed to fetch dynamically imported module", want: VerdictReportable},
		{name: "cross origin script error", message: "Script error.", want: VerdictIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.message, tt.url))
		})
	}
}

func TestCapture_Exception(t *testing.T) {
	c, clk := newTestCapturer()

	record := c.Capture(&ExceptionEvent{
		Context: Context{UserAgent: "test-agent", UserID: "user-1"},
		Message: "Cannot read properties of null",
		Source:  "https://app.example.com/main.js",
		Line:    10,
		Column:  4,
		Stack:   "at main.js:10:4",
	})
	require.NotNil(t, record)

	assert.Equal(t, ModuleGlobal, record.Module)
	assert.Equal(t, types.ErrorTypeUncaught, record.ErrorType)
	assert.Equal(t, types.SeverityModerate, record.Severity)
	assert.Equal(t, types.ErrorStatusDetected, record.Status)
	assert.Equal(t, "https://app.example.com/main.js", record.Metadata.URL)
	assert.Equal(t, 10, record.Metadata.Line)
	assert.Equal(t, 4, record.Metadata.Column)
	assert.Equal(t, "user-1", record.Metadata.UserID)
	assert.Equal(t, clk.Now(), record.CreatedAt)
	assert.NotEqual(t, [16]byte{}, [16]byte(record.ID))
}

func TestCapture_CriticalPatternForcesSeverity(t *testing.T) {
	c, _ := newTestCapturer()

	record := c.Capture(&ResourceEvent{Tag: "script", URL: "https://js.stripe.com/v3"})
	require.NotNil(t, record)
	assert.Equal(t, types.SeverityCritical, record.Severity)
}

func TestCapture_IgnorableReturnsNil(t *testing.T) {
	c, _ := newTestCapturer()

	assert.Nil(t, c.Capture(&ExceptionEvent{Message: "ResizeObserver loop completed with undelivered notifications"}))
	assert.Nil(t, c.Capture(&ResourceEvent{Tag: "img", URL: "https://www.googletagmanager.com/pixel.gif"}))
}

func TestCapture_ResourceTags(t *testing.T) {
	c, _ := newTestCapturer()

	for _, tag := range []string{"script", "LINK", "img"} {
		record := c.Capture(&ResourceEvent{Tag: tag, URL: "https://cdn.example.com/asset"})
		require.NotNil(t, record, tag)
		assert.Equal(t, types.ErrorTypeResource, record.ErrorType)
		assert.Equal(t, types.SeverityMinor, record.Severity)
		assert.Equal(t, ModuleResource, record.Module)
	}

	for _, tag := range []string{"audio", "video", "source", "track", "iframe"} {
		assert.Nil(t, c.Capture(&ResourceEvent{Tag: tag, URL: "https://cdn.example.com/media"}), tag)
	}
}

func TestCapture_RejectionReasons(t *testing.T) {
	c, _ := newTestCapturer()

	tests := []struct {
		name      string
		reason    interface{}
		wantMsg   string
		wantStack string
	}{
		{name: "error", reason: errors.New("request timed out"), wantMsg: "request timed out"},
		{name: "error with stack", reason: stackErr{msg: "boom", stack: "at x"}, wantMsg: "boom", wantStack: "at x"},
		{name: "string", reason: "plain reason", wantMsg: "plain reason"},
		{name: "map with message", reason: map[string]interface{}{"message": "from map", "stack": "s"}, wantMsg: "from map", wantStack: "s"},
		{name: "map without message", reason: map[string]interface{}{"code": 42}, wantMsg: `{"code":42}`},
		{name: "number", reason: 42, wantMsg: "Promise rejected with value: 42"},
		{name: "nil", reason: nil, wantMsg: "Promise rejected with value: <nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := c.Capture(&RejectionEvent{Reason: tt.reason})
			require.NotNil(t, record)
			assert.Equal(t, tt.wantMsg, record.Message)
			assert.Equal(t, tt.wantStack, record.StackTrace)
			assert.Equal(t, types.ErrorTypeUnhandledRejection, record.ErrorType)
			assert.Equal(t, ModulePromise, record.Module)
		})
	}
}

func TestCapture_EventModuleOverridesDefault(t *testing.T) {
	c, _ := newTestCapturer()

	record := c.Capture(&ExceptionEvent{Module: "orders", Message: "order total mismatch"})
	require.NotNil(t, record)
	assert.Equal(t, "orders", record.Module)
}

func TestCapturer_AttachAndDetach(t *testing.T) {
	c, _ := newTestCapturer()
	hub := NewHub(logging.NewTestLogger(&bytes.Buffer{}))

	var mu sync.Mutex
	var got []*types.ErrorRecord
	detach := c.Attach(hub, func(r *types.ErrorRecord) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
	})

	rejection := &RejectionEvent{Reason: "async failure"}
	hub.EmitException(&ExceptionEvent{Message: "sync failure"})
	hub.EmitRejection(rejection)
	hub.EmitResource(&ResourceEvent{Tag: "video", URL: "https://cdn.example.com/clip.mp4"})

	assert.True(t, rejection.DefaultPrevented())
	require.Len(t, got, 2)

	detach()
	hub.EmitException(&ExceptionEvent{Message: "after detach"})
	assert.Len(t, got, 2)
}
