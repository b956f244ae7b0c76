package models

import "time"

type ConfigUpdateEvent struct {
	EventType string                 `json:"event_type"` // "pipeline_updated", "repository_updated"
	Action    string                 `json:"action"`     // "reload", "reprocess"
	Timestamp time.Time              `json:"timestamp"`
	ChangedBy string                 `json:"changed_by,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypePipelineUpdated   = "pipeline_updated"
	EventTypeRepositoryUpdated = "repository_updated"
)

const (
	ActionReload    = "reload"
	ActionReprocess = "reprocess"
	ActionDelete    = "delete"
)
