// Package host is the rendering target for the widget pipeline. It keeps
// the widget ID registry, rasterizes view models and publishes frames.
package host

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zatomos/krab-relay/internal/display"
	"github.com/zatomos/krab-relay/internal/prefs"
	"github.com/zatomos/krab-relay/internal/widget"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

const widgetIDsPrefix = "widgetIds_"

// ErrInvalidWidgetID is returned when registering the reserved ID
var ErrInvalidWidgetID = errors.New("invalid widget ID")

// FramePublisher delivers rendered frames to display clients
type FramePublisher interface {
	PublishFrame(ctx context.Context, frame *models.FrameResult) error
}

// Frame is the latest render of one widget
type Frame struct {
	Provider    string
	WidgetID    int
	State       widget.RenderState
	OverlayText string
	PNG         []byte
	RenderedAt  time.Time
}

type frameID struct {
	provider string
	widgetID int
}

// Host implements widget.Host
type Host struct {
	store      prefs.Store
	providers  *models.ProviderRegistry
	rasterizer *display.Rasterizer
	publisher  FramePublisher
	logger     *zap.Logger

	// guards registry read-modify-write cycles
	registryMu sync.Mutex

	framesMu sync.RWMutex
	frames   map[frameID]Frame
}

// New creates a host. publisher may be nil when frames are only served locally.
func New(store prefs.Store, providers *models.ProviderRegistry, rasterizer *display.Rasterizer, publisher FramePublisher, logger *zap.Logger) *Host {
	return &Host{
		store:      store,
		providers:  providers,
		rasterizer: rasterizer,
		publisher:  publisher,
		logger:     logger,
		frames:     make(map[frameID]Frame),
	}
}

// Register adds a widget to the provider's registry
func (h *Host) Register(ctx context.Context, provider string, id int) error {
	if id == widget.InvalidWidgetID {
		return ErrInvalidWidgetID
	}
	if _, ok := h.providers.GetProvider(provider); !ok {
		return fmt.Errorf("%w: %s", widget.ErrUnknownProvider, provider)
	}

	h.registryMu.Lock()
	defer h.registryMu.Unlock()

	ids, err := h.readIDs(ctx, provider)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}

	ids = append(ids, id)
	if err := h.writeIDs(ctx, provider, ids); err != nil {
		return err
	}

	h.logger.Info("Widget registered",
		zap.String("provider", provider),
		zap.Int("widget_id", id))
	return nil
}

// Unregister removes a widget and drops its latest frame. It reports whether
// the widget was registered.
func (h *Host) Unregister(ctx context.Context, provider string, id int) (bool, error) {
	h.registryMu.Lock()
	defer h.registryMu.Unlock()

	ids, err := h.readIDs(ctx, provider)
	if err != nil {
		return false, err
	}

	kept := ids[:0]
	found := false
	for _, existing := range ids {
		if existing == id {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		return false, nil
	}

	if err := h.writeIDs(ctx, provider, kept); err != nil {
		return false, err
	}

	h.framesMu.Lock()
	delete(h.frames, frameID{provider, id})
	h.framesMu.Unlock()

	h.logger.Info("Widget unregistered",
		zap.String("provider", provider),
		zap.Int("widget_id", id))
	return true, nil
}

// WidgetIDs returns the registered IDs of provider in ascending order
func (h *Host) WidgetIDs(ctx context.Context, provider string) ([]int, error) {
	h.registryMu.Lock()
	defer h.registryMu.Unlock()
	return h.readIDs(ctx, provider)
}

// Render rasterizes vm, keeps it as the widget's latest frame and publishes it
func (h *Host) Render(ctx context.Context, vm widget.ViewModel) error {
	if !widget.IsForeground(ctx) {
		return fmt.Errorf("%w: render outside the foreground executor", widget.ErrHostUnavailable)
	}

	manifest, ok := h.providers.GetProvider(vm.Provider)
	if !ok {
		return fmt.Errorf("%w: unknown provider %s", widget.ErrHostUnavailable, vm.Provider)
	}

	data, err := h.rasterizer.EncodePNG(vm, manifest.FrameWidth, manifest.FrameHeight)
	if err != nil {
		return fmt.Errorf("%w: %v", widget.ErrHostUnavailable, err)
	}

	frame := Frame{
		Provider:   vm.Provider,
		WidgetID:   vm.WidgetID,
		State:      vm.State,
		PNG:        data,
		RenderedAt: time.Now().UTC(),
	}
	if vm.OverlayVisible {
		frame.OverlayText = vm.OverlayText
	}

	h.framesMu.Lock()
	h.frames[frameID{vm.Provider, vm.WidgetID}] = frame
	h.framesMu.Unlock()

	h.logger.Debug("Widget rendered",
		zap.String("provider", vm.Provider),
		zap.Int("widget_id", vm.WidgetID),
		zap.String("state", vm.State.String()),
		zap.Int("frame_bytes", len(data)))

	if h.publisher == nil {
		return nil
	}

	result := &models.FrameResult{
		Provider:    frame.Provider,
		WidgetID:    frame.WidgetID,
		State:       frame.State.String(),
		OverlayText: frame.OverlayText,
		Frame:       base64.StdEncoding.EncodeToString(data),
		RenderedAt:  frame.RenderedAt,
	}
	if err := h.publisher.PublishFrame(ctx, result); err != nil {
		return fmt.Errorf("%w: %v", widget.ErrHostUnavailable, err)
	}
	return nil
}

// Frame returns the latest frame of a widget
func (h *Host) Frame(provider string, id int) (Frame, bool) {
	h.framesMu.RLock()
	defer h.framesMu.RUnlock()
	f, ok := h.frames[frameID{provider, id}]
	return f, ok
}

func (h *Host) readIDs(ctx context.Context, provider string) ([]int, error) {
	raw, ok, err := h.store.GetString(ctx, widgetIDsPrefix+provider)
	if err != nil {
		return nil, fmt.Errorf("failed to read widget registry: %w", err)
	}
	if !ok || raw == "" {
		return []int{}, nil
	}

	var ids []int
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode widget registry for %s: %w", provider, err)
	}
	sort.Ints(ids)
	return ids, nil
}

func (h *Host) writeIDs(ctx context.Context, provider string, ids []int) error {
	sort.Ints(ids)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode widget registry: %w", err)
	}
	if err := h.store.SetString(ctx, widgetIDsPrefix+provider, string(data)); err != nil {
		return fmt.Errorf("failed to write widget registry: %w", err)
	}
	return nil
}
