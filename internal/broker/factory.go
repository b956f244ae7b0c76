package broker

import (
	"fmt"

	"mailflow/internal/config"
	"mailflow/internal/constants"
	"mailflow/internal/logger"
)

// New returns the producer and consumer of the configured broker. The
// memory broker returns the same value twice.
func New(cfg config.BrokerConfig, log logger.Logger) (Producer, Consumer, error) {
	switch cfg.Type {
	case constants.BrokerKafka:
		return NewKafkaProducer(cfg.Kafka, log), NewKafkaConsumer(cfg.Kafka, log), nil
	case constants.BrokerMemory, "":
		m := NewMemoryBroker(cfg.Memory, log)
		return m, m, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
