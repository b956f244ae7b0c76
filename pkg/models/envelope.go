package models

import "time"

// Envelope is what travels on the spool and control topics. Exactly one of
// Mail and Event is set.
type Envelope struct {
	ID       string             `json:"id"`
	Mail     *Mail              `json:"mail,omitempty"`
	Event    *ConfigUpdateEvent `json:"event,omitempty"`
	Metadata EnvelopeMetadata   `json:"metadata"`
}

type EnvelopeMetadata struct {
	TraceID    string    `json:"trace_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	DLQReason      string     `json:"dlq_reason,omitempty"`
	DLQSourceTopic string     `json:"dlq_source_topic,omitempty"`
	DLQTimestamp   *time.Time `json:"dlq_timestamp,omitempty"`
}

func NewMailEnvelope(mail *Mail) Envelope {
	return Envelope{
		ID:       mail.ID,
		Mail:     mail,
		Metadata: EnvelopeMetadata{EnqueuedAt: time.Now()},
	}
}

func NewEventEnvelope(id string, event *ConfigUpdateEvent) Envelope {
	return Envelope{
		ID:       id,
		Event:    event,
		Metadata: EnvelopeMetadata{EnqueuedAt: time.Now()},
	}
}
