package management

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailflow/internal/broker"
	"mailflow/pkg/models"
)

// ConfigEventProducer announces pipeline changes to every engine instance
// listening on the config topic.
type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
	}
}

func (p *ConfigEventProducer) PublishPipelineReload(ctx context.Context, changedBy string) error {
	return p.publishEvent(ctx, &models.ConfigUpdateEvent{
		EventType: models.EventTypePipelineUpdated,
		Action:    models.ActionReload,
		Timestamp: time.Now(),
		ChangedBy: changedBy,
	})
}

func (p *ConfigEventProducer) PublishRepositoryEvent(ctx context.Context, action, repository, mailID, changedBy string) error {
	return p.publishEvent(ctx, &models.ConfigUpdateEvent{
		EventType: models.EventTypeRepositoryUpdated,
		Action:    action,
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Metadata: map[string]interface{}{
			"repository": repository,
			"mail_id":    mailID,
		},
	})
}

func (p *ConfigEventProducer) publishEvent(ctx context.Context, event *models.ConfigUpdateEvent) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}
	return p.producer.Publish(ctx, p.topic, models.NewEventEnvelope(uuid.New().String(), event))
}
