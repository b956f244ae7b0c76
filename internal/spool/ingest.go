// Package spool accepts mails into the spool and dispatches spooled mails
// through the processing router.
package spool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailflow/internal/broker"
	"mailflow/internal/constants"
	"mailflow/internal/logger"
	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/logging"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

// Ingester is the single entry point for new mails, whichever front-end
// received them.
type Ingester struct {
	producer broker.Producer
	topic    string
	source   string
	logger   logger.Logger
}

func NewIngester(producer broker.Producer, topic string, log logger.Logger) *Ingester {
	if topic == "" {
		topic = constants.DefaultSpoolTopic
	}
	return &Ingester{
		producer: producer,
		topic:    topic,
		source:   "api",
		logger:   log,
	}
}

// ForSource returns an ingester labelling its submissions with source.
func (i *Ingester) ForSource(source string) *Ingester {
	cp := *i
	cp.source = source
	return &cp
}

// Submit assigns an id when the mail has none, validates it and enqueues
// it. Nothing is enqueued when it returns an error.
func (i *Ingester) Submit(ctx context.Context, mail *models.Mail) (string, error) {
	if mail.ID == "" {
		mail.ID = uuid.NewString()
	}
	if mail.State == "" {
		mail.State = constants.StateRoot
	}
	if mail.ReceivedAt.IsZero() {
		mail.ReceivedAt = time.Now()
	}
	mail.LastUpdated = time.Now()

	if err := models.ValidateMail(mail); err != nil {
		metrics.IncMailsSubmitted(i.source, "invalid")
		return "", apperrors.ErrValidation.WithCause(err).WithDetail("message", err.Error())
	}
	if mail.State == constants.StateGhost {
		metrics.IncMailsSubmitted(i.source, "invalid")
		return "", apperrors.ErrValidation.WithDetail("message", "cannot submit a ghosted mail")
	}

	if err := i.producer.Publish(ctx, i.topic, models.NewMailEnvelope(mail)); err != nil {
		metrics.IncMailsSubmitted(i.source, "error")
		return "", apperrors.ErrServiceUnavailable.WithCause(fmt.Errorf("failed to spool mail %s: %w", mail.ID, err))
	}

	metrics.IncMailsSubmitted(i.source, "accepted")
	i.logger.InfowCtx(mailContext(ctx, mail.ID), "Mail spooled",
		append(originFields(ctx, mail.ID),
			"source", i.source,
			"sender", mail.SenderString(),
			"recipients", len(mail.Recipients),
			"state", mail.State,
		)...,
	)
	return mail.ID, nil
}

// Mailets submit new mails (bounces) while another mail is being
// dispatched. The new mail gets its own log context and the dispatched
// mail is recorded as its origin.
func mailContext(ctx context.Context, mailID string) context.Context {
	return logging.WithProcessor(logging.WithMailID(ctx, mailID), "")
}

func originFields(ctx context.Context, mailID string) []interface{} {
	parent := logging.GetMailID(ctx)
	if parent == "" || parent == mailID {
		return nil
	}
	return []interface{}{"parent_mail_id", parent, "parent_processor", logging.GetProcessor(ctx)}
}
