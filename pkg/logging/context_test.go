package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithMailID(ctx, "mail-1")
	ctx = WithProcessor(ctx, "transport")
	ctx = WithTraceID(ctx, "trace-1")

	assert.Equal(t, []interface{}{
		"trace_id", "trace-1",
		"mail_id", "mail-1",
		"processor", "transport",
	}, GetLogFields(ctx))
	assert.Equal(t, "transport", GetProcessor(ctx))
	assert.Equal(t, "", GetServiceName(ctx))
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(WithMailID(context.Background(), "mail-1"), "req-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, []interface{}{"request_id", "req-1", "mail_id", "mail-1"}, GetLogFields(ctx))
}
