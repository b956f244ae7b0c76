package broker

import (
	"context"
	"fmt"
	"time"

	"mailflow/internal/config"
	"mailflow/internal/logger"
	"mailflow/pkg/errors"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
	"mailflow/pkg/retry"
)

// delivery runs a handler with retries and panic recovery and parks
// envelopes that keep failing on the dead letter topic.
type delivery struct {
	policy      retry.Policy
	dlq         Producer
	dlqTopic    string
	logger      logger.Logger
	serviceName string
}

func newDelivery(cfg config.RetryConfig, dlq Producer, dlqTopic string, log logger.Logger) *delivery {
	return &delivery{
		policy:      cfg.Policy(),
		dlq:         dlq,
		dlqTopic:    dlqTopic,
		logger:      log,
		serviceName: "unknown",
	}
}

// run returns an error only when the envelope must not be acknowledged,
// which happens when ctx was cancelled before the handler finished.
func (d *delivery) run(ctx context.Context, envelope models.Envelope, handler HandlerFunc, topic string) error {
	err := retry.RetryWithCallback(ctx, d.policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				d.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", r,
					"topic", topic,
				)
				// A panicking handler gets the same attempts as a failing one.
				err = retry.NewRetryableError(errors.RecoverPanic(r))
			}
		}()
		return handler(ctx, envelope)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(d.serviceName, topic).Inc()
		d.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", d.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	d.logger.ErrorwCtx(ctx, "Failed to process message after retries",
		"error", err,
		"topic", topic,
	)
	if d.dlq == nil || d.dlqTopic == "" {
		d.logger.WarnwCtx(ctx, "No DLQ configured, dropping message to avoid blocking",
			"topic", topic,
		)
		return nil
	}
	if dlqErr := d.sendToDLQ(ctx, envelope, err, topic); dlqErr != nil {
		d.logger.ErrorwCtx(ctx, "Failed to send message to DLQ",
			"error", dlqErr,
			"topic", topic,
		)
	}
	return nil
}

func (d *delivery) sendToDLQ(ctx context.Context, envelope models.Envelope, originalErr error, sourceTopic string) error {
	now := time.Now()
	envelope.Metadata.DLQReason = originalErr.Error()
	envelope.Metadata.DLQSourceTopic = sourceTopic
	envelope.Metadata.DLQTimestamp = &now

	if err := d.dlq.Publish(ctx, d.dlqTopic, envelope); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(d.serviceName, sourceTopic, "max_retries_exceeded").Inc()
	d.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", d.dlqTopic,
		"reason", originalErr.Error(),
	)
	return nil
}
