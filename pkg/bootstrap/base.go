package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"mailflow/internal/broker"
	"mailflow/internal/config"
	"mailflow/internal/constants"
	"mailflow/internal/logger"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
	// Control carries config events. With Kafka it has its own consumer
	// group so every instance sees every event.
	Control broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitBroker(serviceName string) error {
	producer, consumer, err := broker.New(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}

	if serviceName != "" {
		consumer.SetServiceName(serviceName)
	}

	b.Producer = producer
	b.Consumer = consumer
	return nil
}

// InitControlConsumer prepares the config event consumer for this
// instance. The memory broker shares its single consumer.
func (b *Base) InitControlConsumer(serviceName, instanceID string) error {
	if b.Consumer == nil {
		return fmt.Errorf("broker not initialized")
	}

	if b.Config.Broker.Type != constants.BrokerKafka {
		b.Control = b.Consumer
		return nil
	}

	groupID := fmt.Sprintf("%s-control-%s", b.Config.Broker.Kafka.GroupID, instanceID)
	control := broker.NewKafkaConsumer(b.Config.Broker.Kafka, b.Logger).WithGroupID(groupID)
	control.SetServiceName(serviceName)
	b.Control = control
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Control != nil && b.Control != b.Consumer {
		if err := b.Control.Close(); err != nil {
			errs = append(errs, fmt.Errorf("control consumer close error: %w", err))
		}
	}

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)

	if err := errors.Join(errs...); err != nil {
		b.Logger.Errorw("Shutdown incomplete", "failures", len(errs), "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
