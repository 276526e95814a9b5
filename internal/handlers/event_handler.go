package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/zatomos/krab-relay/internal/widget"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

// WidgetRegistry tracks which widgets exist per provider
type WidgetRegistry interface {
	Register(ctx context.Context, provider string, id int) error
	Unregister(ctx context.Context, provider string, id int) (bool, error)
}

// EventHandler dispatches host widget events to the widget service
type EventHandler struct {
	service   *widget.Service
	registry  WidgetRegistry
	pin       *widget.PinFlow
	validator *RequestValidator
	logger    *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(service *widget.Service, registry WidgetRegistry, pin *widget.PinFlow, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		service:   service,
		registry:  registry,
		pin:       pin,
		validator: NewRequestValidator(),
		logger:    logger,
	}
}

// Handle processes one widget event
func (h *EventHandler) Handle(ctx context.Context, event *models.WidgetEvent) error {
	h.logger.Info("Processing widget event",
		zap.String("type", event.Type),
		zap.String("provider", event.Provider),
		zap.Ints("widget_ids", eventWidgetIDs(event)))

	if err := h.validator.Validate(event); err != nil {
		return fmt.Errorf("invalid widget event: %w", err)
	}

	// Events without a provider only make sense for image broadcasts
	if event.Type == models.EventSaveImage {
		return h.service.SaveImage(ctx, widget.ImageDescriptor{
			Locator:     event.Locator,
			Description: event.Description,
			Sender:      event.Sender,
		})
	}
	if event.Type == models.EventImageUpdated && event.Provider == "" {
		return h.service.UpdateAll(ctx)
	}

	c, err := h.service.Coordinator(event.Provider)
	if err != nil {
		return err
	}
	ids := eventWidgetIDs(event)

	switch event.Type {
	case models.EventUpdate:
		if len(ids) == 0 {
			return c.UpdateAll(ctx)
		}
		return c.RequestUpdate(ctx, ids...)

	case models.EventImageUpdated:
		return c.UpdateAll(ctx)

	case models.EventAdded:
		for _, id := range ids {
			if err := h.registry.Register(ctx, event.Provider, id); err != nil {
				return err
			}
		}
		return c.RequestUpdate(ctx, ids...)

	case models.EventDeleted:
		var errs []error
		for _, id := range ids {
			if _, err := h.registry.Unregister(ctx, event.Provider, id); err != nil {
				errs = append(errs, err)
			}
		}
		errs = append(errs, c.Delete(ctx, ids...))
		return errors.Join(errs...)

	case models.EventSetShowText:
		if event.WidgetID == widget.InvalidWidgetID {
			return fmt.Errorf("set_show_text requires widget_id")
		}
		return c.SetShowText(ctx, event.WidgetID, event.ShowText)

	case models.EventPinned:
		// Without an ID the widget must already be registered to be inferred
		if event.WidgetID != widget.InvalidWidgetID {
			if err := h.registry.Register(ctx, event.Provider, event.WidgetID); err != nil {
				return err
			}
		}
		_, err := h.pin.OnPinned(ctx, event.Provider, event.WidgetID)
		return err
	}

	return fmt.Errorf("unsupported event type: %s", event.Type)
}

// eventWidgetIDs merges the single and list ID fields
func eventWidgetIDs(event *models.WidgetEvent) []int {
	ids := make([]int, 0, len(event.WidgetIDs)+1)
	if event.WidgetID != widget.InvalidWidgetID {
		ids = append(ids, event.WidgetID)
	}
	for _, id := range event.WidgetIDs {
		if id != widget.InvalidWidgetID && id != event.WidgetID {
			ids = append(ids, id)
		}
	}
	return ids
}
