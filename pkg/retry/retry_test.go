package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "mailflow/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnFatalError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(errors.New("550 mailbox unavailable"))
	})

	assert.EqualError(t, err, "550 mailbox unavailable")
	assert.Equal(t, 1, calls)
}

func TestRetryWithCallbackReportsAttempts(t *testing.T) {
	var attempts []int
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("always")
	}, func(attempt int, err error, nextDelay time.Duration) {
		attempts = append(attempts, attempt)
		assert.LessOrEqual(t, nextDelay, 5*time.Millisecond)
	})

	assert.EqualError(t, err, "always")
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastPolicy(10), func() error {
		calls++
		cancel()
		return errors.New("temporary")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"plain", errors.New("timeout"), false},
		{"fatal", NewFatalError(errors.New("550")), true},
		{"wrapped fatal", fmt.Errorf("relay: %w", NewFatalError(errors.New("550"))), true},
		{"coded permanent", apperrors.ErrValidation, true},
		{"coded transient", apperrors.ErrServiceUnavailable, false},
		{"retryable over fatal", NewRetryableError(apperrors.RecoverPanic("boom")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, Permanent(tt.err))
		})
	}
}
