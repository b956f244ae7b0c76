package tracing

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Spool headers set next to the propagated trace context. Consumers can
// route or drop a message without decoding its body.
const (
	MailIDHeader    = "mail-id"
	MailStateHeader = "mail-state"
)

// headerCarrier adapts kafka message headers to the otel propagator.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// SpoolHeaders builds the headers of a spool message: the trace context of
// ctx plus the mail id and state when known.
func SpoolHeaders(ctx context.Context, mailID, state string) []kafka.Header {
	headers := make([]kafka.Header, 0, 4)
	carrier := headerCarrier{headers: &headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if mailID != "" {
		carrier.Set(MailIDHeader, mailID)
	}
	if state != "" {
		carrier.Set(MailStateHeader, state)
	}
	return headers
}

// HeaderValue returns the value of a spool header, or "".
func HeaderValue(headers []kafka.Header, key string) string {
	return headerCarrier{headers: &headers}.Get(key)
}

// StartConsumeSpan continues the producer's trace for a consumed message.
func StartConsumeSpan(ctx context.Context, topic string, headers []kafka.Header) (context.Context, trace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &headers})

	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination.name", topic),
	}
	if id := HeaderValue(headers, MailIDHeader); id != "" {
		attrs = append(attrs, attribute.String("mail.id", id))
	}
	if state := HeaderValue(headers, MailStateHeader); state != "" {
		attrs = append(attrs, attribute.String("mail.state", state))
	}

	ctx, span := GetTracer(spoolTracer).Start(ctx, "spool receive "+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)
	return WithLogTraceID(ctx), span
}
