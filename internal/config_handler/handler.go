// Package config_handler reacts to control events published on the config
// update topic.
package config_handler

import (
	"context"

	"mailflow/internal/logger"
	"mailflow/pkg/models"
)

type PipelineReloader interface {
	Reload(ctx context.Context) error
}

type Handler struct {
	reloader PipelineReloader
	logger   logger.Logger
}

func NewHandler(reloader PipelineReloader, log logger.Logger) *Handler {
	return &Handler{
		reloader: reloader,
		logger:   log,
	}
}

// HandleConfigUpdateEvent reloads the pipeline on pipeline_updated/reload
// events and ignores everything else. A failed reload is not retried: the
// event is acknowledged and the current pipeline keeps running.
func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.Envelope) error {
	event := envelope.Event
	if event == nil {
		h.logger.WarnwCtx(ctx, "Config topic envelope without event", "id", envelope.ID)
		return nil
	}
	if event.EventType != models.EventTypePipelineUpdated || event.Action != models.ActionReload {
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"changed_by", event.ChangedBy,
	)

	if err := h.reloader.Reload(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload pipeline after config update", "error", err)
		return nil
	}
	h.logger.InfowCtx(ctx, "Pipeline reloaded after config update", "action", event.Action)
	return nil
}
