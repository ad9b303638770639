package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceSignalMessage_RecordsAttributesAndErrors(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := TraceSignalMessage(context.Background(), "produce", "conn-1")
	AddSpanAttributes(ctx, RoomIDKey.String("R"))
	RecordError(ctx, errors.New("transport not found"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	got := spans[0]
	assert.Equal(t, "signal.produce", got.Name())
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Contains(t, got.Attributes(), ConnIDKey.String("conn-1"))
	assert.Contains(t, got.Attributes(), RoomIDKey.String("R"))
	assert.Contains(t, got.Attributes(), attribute.String("signal.message_type", "produce"))
}

func TestTraceEngineCall_NestsUnderParent(t *testing.T) {
	rec := installRecorder(t)

	ctx, parent := TraceSignalMessage(context.Background(), "join", "conn-2")
	_, child := TraceEngineCall(ctx, "create_router")
	child.End()
	parent.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "media.create_router", spans[0].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestRecordError_NilIsNoop(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "noop")
	RecordError(ctx, nil)
	span.End()

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, codes.Unset, rec.Ended()[0].Status().Code)
}
