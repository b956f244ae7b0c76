package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/config"
	"mailflow/internal/logger"
	"mailflow/pkg/models"
)

func testMail(id string) *models.Mail {
	return models.NewMailBuilder().
		WithID(id).
		WithSender("alice@remote.org").
		WithRecipients("bob@example.com").
		WithText("hello", "body").
		WithState("root").
		Build()
}

func fastRetry(attempts int) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	}
}

func newBroker(t *testing.T, cfg config.MemoryConfig) *MemoryBroker {
	t.Helper()
	b := NewMemoryBroker(cfg, logger.NopLogger())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// consume runs a consumer until the test ends. Cleanups run in reverse, so
// every consumer stops before the broker closes.
func consume(t *testing.T, b *MemoryBroker, topic string, handler HandlerFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Consume(ctx, topic, handler)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMemoryBrokerDelivers(t *testing.T) {
	b := newBroker(t, config.MemoryConfig{QueueSize: 4})
	received := make(chan models.Envelope, 1)
	consume(t, b, "spool", func(_ context.Context, msg models.Envelope) error {
		received <- msg
		return nil
	})

	mail := testMail("m1")
	require.NoError(t, b.Publish(context.Background(), "spool", models.NewMailEnvelope(mail)))

	select {
	case msg := <-received:
		require.NotNil(t, msg.Mail)
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, "hello", msg.Mail.Content.Subject())
		assert.NotSame(t, mail, msg.Mail)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestMemoryBrokerRetriesThenDeadLetters(t *testing.T) {
	b := newBroker(t, config.MemoryConfig{
		QueueSize: 4,
		DLQTopic:  "spool.dlq",
		Retry:     fastRetry(3),
	})

	var attempts int32
	consume(t, b, "spool", func(context.Context, models.Envelope) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("router unavailable")
	})
	dead := make(chan models.Envelope, 1)
	consume(t, b, "spool.dlq", func(_ context.Context, msg models.Envelope) error {
		dead <- msg
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "spool", models.NewMailEnvelope(testMail("m1"))))

	select {
	case msg := <-dead:
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, "router unavailable", msg.Metadata.DLQReason)
		assert.Equal(t, "spool", msg.Metadata.DLQSourceTopic)
		assert.NotNil(t, msg.Metadata.DLQTimestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not dead-lettered")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestMemoryBrokerRecoversPanics(t *testing.T) {
	b := newBroker(t, config.MemoryConfig{QueueSize: 4, Retry: fastRetry(2)})

	var calls int32
	handled := make(chan struct{})
	consume(t, b, "spool", func(context.Context, models.Envelope) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
		close(handled)
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "spool", models.NewMailEnvelope(testMail("m1"))))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not retried after panic")
	}
}

func TestMemoryBrokerRequeuesInterruptedEnvelope(t *testing.T) {
	b := NewMemoryBroker(config.MemoryConfig{QueueSize: 4}, logger.NopLogger())

	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Consume(ctx, "spool", func(ctx context.Context, _ models.Envelope) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	require.NoError(t, b.Publish(context.Background(), "spool", models.NewMailEnvelope(testMail("m1"))))
	<-started
	cancel()
	<-done

	assert.Eventually(t, func() bool { return b.Len("spool") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Close())
}

func TestMemoryBrokerPublishHonoursContext(t *testing.T) {
	b := NewMemoryBroker(config.MemoryConfig{QueueSize: 1}, logger.NopLogger())
	require.NoError(t, b.Publish(context.Background(), "spool", models.NewMailEnvelope(testMail("m1"))))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, "spool", models.NewMailEnvelope(testMail("m2")))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "spool", models.NewMailEnvelope(testMail("m3"))), ErrBrokerClosed)
}

func TestNewBroker(t *testing.T) {
	p, c, err := New(config.BrokerConfig{Type: "memory"}, logger.NopLogger())
	require.NoError(t, err)
	assert.Same(t, p, c)

	_, _, err = New(config.BrokerConfig{Type: "nats"}, logger.NopLogger())
	assert.Error(t, err)
}
