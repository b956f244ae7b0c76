package broker

import (
	"context"
	"errors"
	"sync"

	"mailflow/internal/config"
	"mailflow/internal/logger"
	"mailflow/pkg/logging"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

var ErrBrokerClosed = errors.New("broker closed")

// MemoryBroker is an in-process spool over buffered channels, one per
// topic. Consumers of the same topic compete for envelopes.
type MemoryBroker struct {
	mu        sync.Mutex
	topics    map[string]chan models.Envelope
	queueSize int
	workers   int
	closed    bool
	wg        sync.WaitGroup
	delivery  *delivery
	logger    logger.Logger
}

func NewMemoryBroker(cfg config.MemoryConfig, log logger.Logger) *MemoryBroker {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	b := &MemoryBroker{
		topics:    make(map[string]chan models.Envelope),
		queueSize: size,
		workers:   workers,
		logger:    log,
	}
	var dlq Producer
	if cfg.DLQTopic != "" {
		dlq = b
	}
	b.delivery = newDelivery(cfg.Retry, dlq, cfg.DLQTopic, log)
	return b
}

func (b *MemoryBroker) topic(name string) (chan models.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan models.Envelope, b.queueSize)
		b.topics[name] = ch
	}
	return ch, nil
}

// Publish blocks while the topic is full.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, msg models.Envelope) error {
	ch, err := b.topic(topic)
	if err != nil {
		return err
	}
	if msg.Mail != nil {
		msg.Mail = msg.Mail.Duplicate(msg.Mail.ID)
	}
	if msg.Metadata.TraceID == "" {
		msg.Metadata.TraceID = logging.GetTraceID(ctx)
	}

	select {
	case ch <- msg:
		metrics.SetSpoolQueueSize(topic, len(ch))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	ch, err := b.topic(topic)
	if err != nil {
		return err
	}

	b.logger.Infow("Started consuming", "topic", topic, "workers", b.workers)
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.loop(ctx, ch, topic, handler)
		}()
	}

	<-ctx.Done()
	b.logger.Infow("Stopped consuming", "topic", topic, "reason", "context canceled")
	return ctx.Err()
}

func (b *MemoryBroker) loop(ctx context.Context, ch chan models.Envelope, topic string, handler HandlerFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-ch:
			metrics.SetSpoolQueueSize(topic, len(ch))

			msgCtx := logging.WithMailID(ctx, envelope.ID)
			if envelope.Metadata.TraceID != "" {
				msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
			}
			if err := b.delivery.run(msgCtx, envelope, handler, topic); err != nil {
				b.requeue(ch, envelope, topic)
				return
			}
		}
	}
}

// requeue puts an unacknowledged envelope back for the next consumer.
func (b *MemoryBroker) requeue(ch chan models.Envelope, envelope models.Envelope, topic string) {
	select {
	case ch <- envelope:
	default:
		b.logger.Errorw("Spool full, unacknowledged message lost", "topic", topic, "id", envelope.ID)
	}
}

// Len reports the number of envelopes waiting on the topic.
func (b *MemoryBroker) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func (b *MemoryBroker) SetServiceName(name string) {
	b.delivery.serviceName = name
}

// Close stops accepting envelopes and waits for the consumers, whose
// contexts must already be cancelled. Queued envelopes are dropped.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
