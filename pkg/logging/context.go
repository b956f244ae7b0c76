package logging

import (
	"context"
)

type ctxKey string

const (
	TraceIDKey     = "trace_id"
	MailIDKey      = "mail_id"
	ProcessorKey   = "processor"
	ServiceNameKey = "service_name"
	RequestIDKey   = "request_id"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

func WithMailID(ctx context.Context, mailID string) context.Context {
	return context.WithValue(ctx, ctxKey(MailIDKey), mailID)
}

func WithProcessor(ctx context.Context, processor string) context.Context {
	return context.WithValue(ctx, ctxKey(ProcessorKey), processor)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey(RequestIDKey), requestID)
}

func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

func GetMailID(ctx context.Context) string {
	return getString(ctx, MailIDKey)
}

func GetProcessor(ctx context.Context) string {
	return getString(ctx, ProcessorKey)
}

func GetServiceName(ctx context.Context) string {
	return getString(ctx, ServiceNameKey)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func getString(ctx context.Context, key string) string {
	if value, ok := ctx.Value(ctxKey(key)).(string); ok {
		return value
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	for _, key := range []string{TraceIDKey, RequestIDKey, MailIDKey, ProcessorKey, ServiceNameKey} {
		if value := getString(ctx, key); value != "" {
			fields = append(fields, key, value)
		}
	}

	return fields
}
