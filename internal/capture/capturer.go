package capture

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// capturedTags are the only resource elements whose failures are recorded.
// Media elements (audio, video, source, track) are excluded.
var capturedTags = map[string]bool{
	"script": true,
	"link":   true,
	"img":    true,
}

// stackTracer is implemented by errors that carry their own stack
type stackTracer interface {
	Stack() string
}

// Capturer normalizes raw events into classified error records
type Capturer struct {
	classifier *Classifier
	clock      clock.Clock
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// NewCapturer creates a capturer. A nil classifier uses the defaults.
func NewCapturer(classifier *Classifier, clk clock.Clock, logger *logging.Logger, m *metrics.Metrics) *Capturer {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Capturer{
		classifier: classifier,
		clock:      clock.OrReal(clk),
		logger:     logger,
		metrics:    m,
	}
}

// Capture converts an event into a record, or returns nil when the event is
// noise or an excluded resource type.
func (c *Capturer) Capture(ev Event) *types.ErrorRecord {
	var record *types.ErrorRecord

	switch e := ev.(type) {
	case *ExceptionEvent:
		record = c.fromException(e)
	case *RejectionEvent:
		record = c.fromRejection(e)
	case *ResourceEvent:
		record = c.fromResource(e)
	default:
		return nil
	}

	if record == nil {
		return nil
	}

	switch c.classifier.Classify(record.Message, record.Metadata.URL) {
	case VerdictIgnored:
		c.metrics.RecordIgnored(record.ErrorType)
		c.logger.WithComponent("capture").WithField("error_type", record.ErrorType).Debug("Ignoring noise")
		return nil
	case VerdictCritical:
		record.Severity = types.SeverityCritical
	}

	c.metrics.RecordCaptured(record.Module, record.ErrorType, string(record.Severity))
	return record
}

func (c *Capturer) fromException(e *ExceptionEvent) *types.ErrorRecord {
	message := e.Message
	if message == "" && e.Err != nil {
		message = e.Err.Error()
	}

	stack := e.Stack
	if st, ok := e.Err.(stackTracer); ok && stack == "" {
		stack = st.Stack()
	}

	url := e.Source
	if url == "" {
		url = e.PageURL
	}

	record := c.newRecord(e.Context, orDefault(e.Module, ModuleGlobal), types.ErrorTypeUncaught, message, types.SeverityModerate)
	record.StackTrace = stack
	record.Metadata.URL = url
	record.Metadata.Line = e.Line
	record.Metadata.Column = e.Column
	return record
}

func (c *Capturer) fromRejection(e *RejectionEvent) *types.ErrorRecord {
	message, stack := describeReason(e.Reason)

	record := c.newRecord(e.Context, orDefault(e.Module, ModulePromise), types.ErrorTypeUnhandledRejection, message, types.SeverityModerate)
	record.StackTrace = stack
	record.Metadata.URL = e.PageURL
	return record
}

func (c *Capturer) fromResource(e *ResourceEvent) *types.ErrorRecord {
	tag := strings.ToLower(e.Tag)
	if !capturedTags[tag] {
		return nil
	}

	message := fmt.Sprintf("Failed to load %s: %s", tag, e.URL)
	record := c.newRecord(e.Context, orDefault(e.Module, ModuleResource), types.ErrorTypeResource, message, types.SeverityMinor)
	record.Metadata.URL = e.URL
	if record.Metadata.Extra == nil {
		record.Metadata.Extra = map[string]string{}
	}
	record.Metadata.Extra["element"] = tag
	return record
}

func (c *Capturer) newRecord(ctx Context, module, errorType, message string, severity types.Severity) *types.ErrorRecord {
	now := c.clock.Now()

	var extra map[string]string
	if len(ctx.Extra) > 0 {
		extra = make(map[string]string, len(ctx.Extra))
		for k, v := range ctx.Extra {
			extra[k] = v
		}
	}

	return &types.ErrorRecord{
		ID:        uuid.New(),
		Module:    module,
		ErrorType: errorType,
		Message:   message,
		Severity:  severity,
		Status:    types.ErrorStatusDetected,
		Metadata: types.Metadata{
			Timestamp: now,
			UserAgent: ctx.UserAgent,
			UserID:    ctx.UserID,
			Extra:     extra,
		},
		CreatedAt: now,
	}
}

// describeReason extracts a message and stack from a rejection reason
func describeReason(reason interface{}) (string, string) {
	switch r := reason.(type) {
	case error:
		stack := ""
		if st, ok := r.(stackTracer); ok {
			stack = st.Stack()
		}
		return r.Error(), stack
	case string:
		return r, ""
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			stack, _ := r["stack"].(string)
			return msg, stack
		}
		if data, err := json.Marshal(r); err == nil {
			return string(data), ""
		}
	case map[string]string:
		if msg, ok := r["message"]; ok {
			return msg, r["stack"]
		}
		if data, err := json.Marshal(r); err == nil {
			return string(data), ""
		}
	}
	return fmt.Sprintf("Promise rejected with value: %v", reason), ""
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Attach subscribes to every failure signal of src and hands each captured
// record to sink. Rejections are marked handled. The returned func
// unregisters all listeners.
func (c *Capturer) Attach(src EventSource, sink func(*types.ErrorRecord)) func() {
	deliver := func(ev Event) {
		if record := c.Capture(ev); record != nil {
			sink(record)
		}
	}

	removers := []func(){
		src.OnUncaughtException(func(e *ExceptionEvent) { deliver(e) }),
		src.OnUnhandledRejection(func(e *RejectionEvent) {
			e.PreventDefault()
			deliver(e)
		}),
		src.OnResourceError(func(e *ResourceEvent) { deliver(e) }),
	}

	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}
