package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"mailflow/internal/config"
	"mailflow/internal/constants"
	"mailflow/internal/logger"
	"mailflow/pkg/logging"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
	"mailflow/pkg/tracing"
)

type KafkaProducer struct {
	writer      *kafka.Writer
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaProducer{writer: w, logger: log, serviceName: "mailflow"}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.Envelope) error {
	if msg.Metadata.TraceID == "" {
		msg.Metadata.TraceID = logging.GetTraceID(ctx)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var state string
	if msg.Mail != nil {
		state = msg.Mail.State
	}
	headers := tracing.SpoolHeaders(ctx, msg.ID, state)

	start := time.Now()
	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(msg.ID),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	metrics.ObserveKafkaMessageSize(p.serviceName, topic, "out", len(body))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	groupID     string
	wg          sync.WaitGroup
	mu          sync.Mutex
	readers     []*kafka.Reader
	logger      logger.Logger
	delivery    *delivery
	dlqProducer *KafkaProducer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		groupID:     cfg.GroupID,
		logger:      log,
		serviceName: "unknown",
	}

	var dlq Producer
	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
		dlq = consumer.dlqProducer
	}
	consumer.delivery = newDelivery(cfg.Retry, dlq, cfg.DLQTopic, log)

	return consumer
}

// WithGroupID overrides the consumer group. Control topics use a group per
// instance so that every instance sees every event.
func (c *KafkaConsumer) WithGroupID(groupID string) *KafkaConsumer {
	c.groupID = groupID
	return c
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
	c.delivery.serviceName = name
}

// Consume runs cfg.Workers fetch loops over one reader. Offsets are
// committed after the handler returns; an envelope whose handler was
// interrupted by ctx is left uncommitted and redelivered.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.groupID,
		"service_name", c.serviceName,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	workers := c.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic, "workers", workers)

	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.fetchLoop(ctx, reader, topic, handler)
		}()
	}

	<-ctx.Done()
	c.logger.InfowCtx(consumeCtx, "Stopped consuming",
		"topic", topic,
		"reason", "context canceled",
	)
	return ctx.Err()
}

func (c *KafkaConsumer) fetchLoop(ctx context.Context, reader *kafka.Reader, topic string, handler HandlerFunc) {
	for {
		start := time.Now()
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.logger.ErrorwCtx(ctx, "Error fetching kafka message",
				"error", err,
				"topic", topic,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		metrics.IncKafkaMessagesRead(c.serviceName, topic)
		metrics.ObserveKafkaReadDuration(c.serviceName, topic, time.Since(start))
		metrics.ObserveKafkaMessageSize(c.serviceName, topic, "in", len(m.Value))
		metrics.SetKafkaConsumerLag(c.serviceName, topic, m.Partition, m.HighWaterMark-m.Offset-1)

		var envelope models.Envelope
		if err := json.Unmarshal(m.Value, &envelope); err != nil {
			c.logger.ErrorwCtx(ctx, "Failed to unmarshal message",
				"error", err,
				"topic", topic,
				"service_name", c.serviceName,
			)
			_ = reader.CommitMessages(ctx, m)
			continue
		}

		if c.process(ctx, envelope, m.Headers, handler, topic) != nil {
			return
		}
		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(ctx, "Failed to commit message",
				"error", err,
				"topic", topic,
			)
		}
	}
}

func (c *KafkaConsumer) process(ctx context.Context, envelope models.Envelope, headers []kafka.Header, handler HandlerFunc, topic string) error {
	msgCtx, span := tracing.StartConsumeSpan(ctx, topic, headers)
	defer span.End()

	if envelope.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	}
	msgCtx = logging.WithMailID(msgCtx, envelope.ID)
	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)

	return c.delivery.run(msgCtx, envelope, handler, topic)
}

func (c *KafkaConsumer) Close() error {
	var err error
	c.mu.Lock()
	for _, r := range c.readers {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.readers = nil
	c.mu.Unlock()

	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}
