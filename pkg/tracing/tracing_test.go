package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingService(t *testing.T) (*TracingService, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewWithProvider(&Config{ServiceName: "errwatch-test", Enabled: true}, tp), recorder
}

func TestNewTracingService_DisabledIsNoop(t *testing.T) {
	ts, err := NewTracingService(&Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := ts.StartFlushSpan(context.Background(), "timer", 3)
	span.End()

	assert.Empty(t, GetTraceID(ctx))
	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestTraceableFunction_RecordsError(t *testing.T) {
	ts, recorder := newRecordingService(t)

	err := ts.TraceableFunction(context.Background(), "gateway.insert", func(ctx context.Context) error {
		assert.NotEmpty(t, GetTraceID(ctx))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "gateway.insert", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestStartRemediationSpan_Attributes(t *testing.T) {
	ts, recorder := newRecordingService(t)

	_, span := ts.StartRemediationSpan(context.Background(), "attempt_fix", "frontend_global")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "remediation.attempt_fix", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "frontend_global", attrs["remediation.target"])
}
