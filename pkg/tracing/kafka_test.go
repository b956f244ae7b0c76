package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"mailflow/pkg/logging"
)

func TestSpoolHeadersCarryTraceAcrossTopics(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, parent := tp.Tracer("test").Start(context.Background(), "submit")
	defer parent.End()

	headers := SpoolHeaders(ctx, "m1", "root")
	assert.Equal(t, "m1", HeaderValue(headers, MailIDHeader))
	assert.Equal(t, "root", HeaderValue(headers, MailStateHeader))
	require.NotEmpty(t, HeaderValue(headers, "traceparent"))

	consumed, span := StartConsumeSpan(context.Background(), "mail_spool", headers)
	defer span.End()

	traceID := parent.SpanContext().TraceID()
	assert.Equal(t, traceID, trace.SpanContextFromContext(consumed).TraceID())
	assert.Equal(t, traceID.String(), logging.GetTraceID(consumed))
}

func TestSpoolHeadersWithoutTrace(t *testing.T) {
	headers := SpoolHeaders(context.Background(), "", "")
	assert.Empty(t, headers)
	assert.Empty(t, HeaderValue(headers, MailIDHeader))
}

func TestWithLogTraceIDKeepsExisting(t *testing.T) {
	ctx := logging.WithTraceID(context.Background(), "upstream")
	assert.Equal(t, "upstream", logging.GetTraceID(WithLogTraceID(ctx)))
}
