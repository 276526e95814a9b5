package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

// ErrWidgetUnresolved is returned when a pin callback carries no widget ID
// and none can be inferred
var ErrWidgetUnresolved = errors.New("pinned widget ID could not be resolved")

const (
	pendingShowTextPrefix = "pending_showText_"
	oldWidgetIDsPrefix    = "old_widget_ids_"
)

// AppNotifier delivers events back to the application
type AppNotifier interface {
	PublishAppEvent(ctx context.Context, event models.AppEvent) error
}

// PinFlow handles app-initiated widget pinning
type PinFlow struct {
	service  *Service
	notifier AppNotifier
	logger   *zap.Logger
}

// NewPinFlow creates a pin flow. notifier may be nil.
func NewPinFlow(service *Service, notifier AppNotifier, logger *zap.Logger) *PinFlow {
	return &PinFlow{
		service:  service,
		notifier: notifier,
		logger:   logger,
	}
}

// RequestPin records the overlay choice for the widget about to be pinned
// and snapshots the currently registered IDs.
func (p *PinFlow) RequestPin(ctx context.Context, provider string, showText bool) error {
	if _, err := p.service.Coordinator(provider); err != nil {
		return err
	}

	store := p.service.Store()
	if err := store.SetBool(ctx, pendingShowTextPrefix+provider, showText); err != nil {
		return fmt.Errorf("failed to store pending show text: %w", err)
	}

	ids, err := p.service.Host().WidgetIDs(ctx, provider)
	if err != nil {
		return hostError(err)
	}

	snapshot, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode widget IDs: %w", err)
	}
	if err := store.SetString(ctx, oldWidgetIDsPrefix+provider, string(snapshot)); err != nil {
		return fmt.Errorf("failed to store widget ID snapshot: %w", err)
	}

	p.logger.Info("Widget pin requested",
		zap.String("provider", provider),
		zap.Bool("show_text", showText),
		zap.Int("existing_widgets", len(ids)))
	return nil
}

// OnPinned completes a pin request. When widgetID is InvalidWidgetID the
// new widget is inferred as the smallest ID registered since RequestPin;
// concurrent pin requests can make that guess wrong.
func (p *PinFlow) OnPinned(ctx context.Context, provider string, widgetID int) (int, error) {
	c, err := p.service.Coordinator(provider)
	if err != nil {
		return InvalidWidgetID, err
	}

	if widgetID == InvalidWidgetID {
		widgetID, err = p.inferWidgetID(ctx, provider)
		if err != nil {
			return InvalidWidgetID, err
		}
	}

	logger := p.logger.With(zap.String("provider", provider), zap.Int("widget_id", widgetID))
	store := p.service.Store()

	showText, err := store.GetBool(ctx, pendingShowTextPrefix+provider)
	if err != nil {
		return widgetID, fmt.Errorf("failed to read pending show text: %w", err)
	}

	if err := c.SetShowText(ctx, widgetID, showText); err != nil {
		return widgetID, err
	}

	for _, key := range []string{pendingShowTextPrefix + provider, oldWidgetIDsPrefix + provider} {
		if err := store.Remove(ctx, key); err != nil {
			logger.Warn("Failed to clear pin state", zap.String("key", key), zap.Error(err))
		}
	}

	if p.notifier != nil {
		event := models.AppEvent{
			Type:     "widget_pinned",
			Provider: provider,
			WidgetID: widgetID,
			SentAt:   time.Now().UTC(),
		}
		if err := p.notifier.PublishAppEvent(ctx, event); err != nil {
			logger.Warn("Failed to notify app of pinned widget", zap.Error(err))
		}
	}

	logger.Info("Widget pinned", zap.Bool("show_text", showText))
	return widgetID, nil
}

func (p *PinFlow) inferWidgetID(ctx context.Context, provider string) (int, error) {
	current, err := p.service.Host().WidgetIDs(ctx, provider)
	if err != nil {
		return InvalidWidgetID, hostError(err)
	}

	var old []int
	raw, ok, err := p.service.Store().GetString(ctx, oldWidgetIDsPrefix+provider)
	if err != nil {
		return InvalidWidgetID, fmt.Errorf("failed to read widget ID snapshot: %w", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &old); err != nil {
			return InvalidWidgetID, fmt.Errorf("failed to decode widget ID snapshot: %w", err)
		}
	}

	added := newWidgetIDs(old, current)
	if len(added) == 0 {
		return InvalidWidgetID, ErrWidgetUnresolved
	}
	if len(added) > 1 {
		p.logger.Warn("Several widgets appeared since pin request, picking the smallest ID",
			zap.String("provider", provider),
			zap.Ints("candidates", added))
	}
	return added[0], nil
}

// newWidgetIDs returns the sorted IDs in current that are absent from old
func newWidgetIDs(old, current []int) []int {
	seen := make(map[int]struct{}, len(old))
	for _, id := range old {
		seen[id] = struct{}{}
	}

	var added []int
	for _, id := range current {
		if _, ok := seen[id]; !ok && id != InvalidWidgetID {
			added = append(added, id)
		}
	}
	sort.Ints(added)
	return added
}
