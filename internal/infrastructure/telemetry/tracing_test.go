package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTestTracer installs a tracer provider backed by an in-memory recorder
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestStartServiceSpan(t *testing.T) {
	sr := setupTestTracer(t)

	runID := uuid.New()
	ctx, span := telemetry.StartServiceSpan(context.Background(), "reconciler", "reconcile",
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, "account"),
		telemetry.WithAttribute(telemetry.SpanAttrRunID, runID),
		telemetry.WithAttribute("pages", 3),
		telemetry.WithSpanKind(trace.SpanKindConsumer),
	)
	assert.NotEmpty(t, telemetry.GetTraceID(ctx))
	telemetry.SetOK(span)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "reconciler.reconcile", spans[0].Name())
	assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "account", attrs["entity_type"].AsString())
	assert.Equal(t, runID.String(), attrs["run_id"].AsString())
	assert.Equal(t, int64(3), attrs["pages"].AsInt64())
}

func TestRecordError(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "projection.apply")
	telemetry.RecordError(span, errors.New("bad patch"))
	telemetry.RecordError(span, nil)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "bad patch", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestSetAttributesAndEvents(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "ledger.commit")
	telemetry.SetAttributes(span, "changes", 12, 42, "skipped", "ok", true, "ratio", 0.5)
	telemetry.AddEvent(span, "batch committed", "last_event_id", int64(99))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, int64(12), attrs["changes"].AsInt64())
	assert.True(t, attrs["ok"].AsBool())
	assert.Equal(t, 0.5, attrs["ratio"].AsFloat64())
	assert.NotContains(t, attrs, "skipped")

	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "batch committed", spans[0].Events()[0].Name)
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, telemetry.GetTraceID(context.Background()))
}
