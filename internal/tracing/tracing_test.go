package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracing_Disabled(t *testing.T) {
	tracer, err := InitTracing(Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.StartSpan(context.Background(), "test")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.Same(t, tracer, GetTracer())
}

func TestInitTracing_InvalidSampleRatio(t *testing.T) {
	_, err := InitTracing(Config{Enabled: true, SampleRatio: 1.5})
	assert.Error(t, err)
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	tracer := &Tracer{tracer: tp.Tracer("test")}

	_, ok := tracer.StartSpan(context.Background(), "ok")
	RecordError(ok, nil)
	ok.End()

	_, failed := tracer.StartSpan(context.Background(), "failed")
	RecordError(failed, errors.New("ledger down"))
	failed.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "ledger down", spans[1].Status().Description)
	assert.Len(t, spans[1].Events(), 1)
}
