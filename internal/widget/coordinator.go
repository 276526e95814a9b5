package widget

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/zatomos/krab-relay/internal/prefs"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

// ErrHostUnavailable means the host rejected a render or could not list widgets
var ErrHostUnavailable = errors.New("widget host unavailable")

// Host is the rendering target widgets are displayed on
type Host interface {
	// Render displays vm. It is always called on the foreground executor.
	Render(ctx context.Context, vm ViewModel) error
	// WidgetIDs lists the widgets currently registered for provider.
	WidgetIDs(ctx context.Context, provider string) ([]int, error)
}

// Outcome is the terminal state of one update run
type Outcome int

const (
	// OutcomePlaceholder: no image configured, placeholder is final
	OutcomePlaceholder Outcome = iota
	// OutcomeCached: rendered from the cache
	OutcomeCached
	// OutcomeLoaded: loaded, cached and rendered
	OutcomeLoaded
	// OutcomeMissing: source missing, placeholder kept
	OutcomeMissing
	// OutcomeError: load failed, error state rendered
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomePlaceholder:
		return "placeholder"
	case OutcomeCached:
		return "cached"
	case OutcomeLoaded:
		return "loaded"
	case OutcomeMissing:
		return "missing"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Dependencies are the collaborators shared by every coordinator
type Dependencies struct {
	Store      prefs.Store
	Loader     Loader
	Host       Host
	Foreground *ForegroundExecutor
	Pool       *WorkerPool
	Logger     *zap.Logger
}

// Coordinator runs the update pipeline for one provider
type Coordinator struct {
	provider models.ProviderManifest
	cache    *ImageCache
	store    prefs.Store
	loader   Loader
	host     Host
	fg       *ForegroundExecutor
	pool     *WorkerPool
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator owning a fresh cache for provider
func NewCoordinator(provider models.ProviderManifest, deps Dependencies) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		provider: provider,
		cache:    NewImageCache(provider.CacheByDescription),
		store:    deps.Store,
		loader:   deps.Loader,
		host:     deps.Host,
		fg:       deps.Foreground,
		pool:     deps.Pool,
		logger:   logger.With(zap.String("provider", provider.ID)),
	}
}

// Provider returns the provider this coordinator serves
func (c *Coordinator) Provider() models.ProviderManifest {
	return c.provider
}

// Cache exposes the coordinator's image cache
func (c *Coordinator) Cache() *ImageCache {
	return c.cache
}

// Update refreshes one widget. A placeholder is rendered before any
// blocking work; the final render, if any, follows it.
func (c *Coordinator) Update(ctx context.Context, id int) (Outcome, error) {
	logger := c.logger.With(zap.Int("widget_id", id))

	desc, err := readDescriptor(ctx, c.store)
	if err != nil {
		logger.Error("Failed to read image descriptor", zap.Error(err))
		return OutcomePlaceholder, err
	}

	w, err := c.widget(ctx, id)
	if err != nil {
		logger.Error("Failed to read widget preferences", zap.Error(err))
		return OutcomePlaceholder, err
	}

	if err := c.emit(ctx, StatePlaceholder, w, desc, nil); err != nil {
		logger.Error("Placeholder render failed", zap.Error(err))
		return OutcomePlaceholder, err
	}

	if desc.Locator == "" {
		logger.Debug("No image configured")
		return OutcomePlaceholder, nil
	}

	key := CacheKey{
		Locator:     desc.Locator,
		ModTime:     c.loader.ModTime(desc.Locator),
		Description: desc.Description,
	}

	if img, ok := c.cache.Lookup(key); ok {
		logger.Debug("Image cache hit", zap.String("locator", key.Locator))
		if err := c.emit(ctx, StateImage, w, desc, img); err != nil {
			logger.Error("Image render failed", zap.Error(err))
			return OutcomeCached, err
		}
		return OutcomeCached, nil
	}

	img, err := c.loader.Load(ctx, desc.Locator)
	switch {
	case err == nil:
	case errors.Is(err, ErrSourceMissing):
		logger.Warn("Image source missing, keeping placeholder",
			zap.String("locator", desc.Locator),
			zap.Error(err))
		return OutcomeMissing, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomePlaceholder, err
	default:
		logger.Error("Failed to load image",
			zap.String("locator", desc.Locator),
			zap.Error(err))
		if rerr := c.emit(ctx, StateError, w, desc, nil); rerr != nil {
			logger.Error("Error render failed", zap.Error(rerr))
			return OutcomeError, rerr
		}
		return OutcomeError, nil
	}

	c.cache.Store(key, img)
	logger.Debug("Image loaded",
		zap.String("locator", key.Locator),
		zap.Int64("mod_time", key.ModTime))

	if err := c.emit(ctx, StateImage, w, desc, img); err != nil {
		logger.Error("Image render failed", zap.Error(err))
		return OutcomeLoaded, err
	}
	return OutcomeLoaded, nil
}

// UpdateNow runs an update on the widget's worker and waits for its outcome
func (c *Coordinator) UpdateNow(ctx context.Context, id int) (Outcome, error) {
	var outcome Outcome
	ch, err := c.pool.Submit(ctx, id, func(jobCtx context.Context) error {
		var err error
		outcome, err = c.Update(jobCtx, id)
		return err
	})
	if err != nil {
		return OutcomePlaceholder, err
	}

	select {
	case err := <-ch:
		return outcome, err
	case <-ctx.Done():
		return OutcomePlaceholder, ctx.Err()
	}
}

// RequestUpdate queues an update per widget on the background pool
func (c *Coordinator) RequestUpdate(ctx context.Context, ids ...int) error {
	_, err := c.submit(ctx, ids...)
	return err
}

// submit queues updates and returns their result channels
func (c *Coordinator) submit(ctx context.Context, ids ...int) ([]<-chan error, error) {
	results := make([]<-chan error, 0, len(ids))
	var errs []error

	for _, id := range ids {
		id := id
		ch, err := c.pool.Submit(ctx, id, func(jobCtx context.Context) error {
			_, err := c.Update(jobCtx, id)
			return err
		})
		if err != nil {
			c.logger.Error("Failed to queue widget update",
				zap.Int("widget_id", id),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("widget %d: %w", id, err))
			continue
		}
		results = append(results, ch)
	}

	return results, errors.Join(errs...)
}

// UpdateAll queues an update for every registered widget of the provider
func (c *Coordinator) UpdateAll(ctx context.Context) error {
	_, err := c.updateAll(ctx)
	return err
}

func (c *Coordinator) updateAll(ctx context.Context) ([]<-chan error, error) {
	ids, err := c.host.WidgetIDs(ctx, c.provider.ID)
	if err != nil {
		return nil, hostError(err)
	}

	c.logger.Debug("Broadcasting image update", zap.Int("widgets", len(ids)))
	return c.submit(ctx, ids...)
}

// SaveImage persists a new descriptor, invalidates the cache and updates
// every registered widget.
func (c *Coordinator) SaveImage(ctx context.Context, d ImageDescriptor) error {
	if err := writeDescriptor(ctx, c.store, d); err != nil {
		return err
	}
	return c.imageSaved(ctx)
}

// imageSaved must run synchronously after the descriptor is overwritten
func (c *Coordinator) imageSaved(ctx context.Context) error {
	c.cache.Invalidate()
	return c.UpdateAll(ctx)
}

// SetShowText persists the widget's overlay flag and queues an update
func (c *Coordinator) SetShowText(ctx context.Context, id int, show bool) error {
	if err := c.store.SetBool(ctx, ShowTextKey(id), show); err != nil {
		return fmt.Errorf("failed to store show text for widget %d: %w", id, err)
	}
	return c.RequestUpdate(ctx, id)
}

// Delete drops the per-widget preferences of removed widgets
func (c *Coordinator) Delete(ctx context.Context, ids ...int) error {
	var errs []error
	for _, id := range ids {
		if err := c.store.Remove(ctx, ShowTextKey(id)); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove preferences of widget %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) widget(ctx context.Context, id int) (WidgetDescriptor, error) {
	if c.provider.AlwaysShowText {
		return WidgetDescriptor{ID: id, ShowOverlayText: true}, nil
	}

	show, err := c.store.GetBool(ctx, ShowTextKey(id))
	if err != nil {
		return WidgetDescriptor{}, err
	}
	return WidgetDescriptor{ID: id, ShowOverlayText: show}, nil
}

// emit renders on the foreground executor
func (c *Coordinator) emit(ctx context.Context, state RenderState, w WidgetDescriptor, d ImageDescriptor, img image.Image) error {
	vm := Render(state, c.provider.ID, w, d, img)
	err := c.fg.Do(ctx, func(fctx context.Context) error {
		return c.host.Render(fctx, vm)
	})
	if err != nil {
		return hostError(err)
	}
	return nil
}

func hostError(err error) error {
	if errors.Is(err, ErrHostUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrHostUnavailable, err)
}
