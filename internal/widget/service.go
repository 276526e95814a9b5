package widget

import (
	"context"
	"errors"
	"fmt"

	"github.com/zatomos/krab-relay/internal/prefs"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

// ErrUnknownProvider is returned for provider IDs missing from the registry
var ErrUnknownProvider = errors.New("unknown widget provider")

// Service owns one coordinator per provider. All coordinators share the
// preference store, the background pool and the foreground executor.
type Service struct {
	store        prefs.Store
	host         Host
	fg           *ForegroundExecutor
	pool         *WorkerPool
	coordinators map[string]*Coordinator
	order        []string
	logger       *zap.Logger
}

// NewService builds coordinators for every provider in the registry
func NewService(registry *models.ProviderRegistry, store prefs.Store, loader Loader, host Host, workers int, logger *zap.Logger) *Service {
	fg := NewForegroundExecutor(logger)
	pool := NewWorkerPool(workers, logger)

	deps := Dependencies{
		Store:      store,
		Loader:     loader,
		Host:       host,
		Foreground: fg,
		Pool:       pool,
		Logger:     logger,
	}

	s := &Service{
		store:        store,
		host:         host,
		fg:           fg,
		pool:         pool,
		coordinators: make(map[string]*Coordinator),
		logger:       logger,
	}

	for _, p := range registry.GetProvidersList() {
		s.coordinators[p.ID] = NewCoordinator(*p, deps)
		s.order = append(s.order, p.ID)
	}

	return s
}

// Start launches the executors
func (s *Service) Start() {
	s.fg.Start()
	s.pool.Start()
}

// Stop drains the background pool, then the foreground executor
func (s *Service) Stop() {
	s.pool.Stop()
	s.fg.Stop()
}

// Coordinator returns the coordinator for provider
func (s *Service) Coordinator(provider string) (*Coordinator, error) {
	c, ok := s.coordinators[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return c, nil
}

// Providers lists provider IDs in registry order
func (s *Service) Providers() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Host returns the rendering host
func (s *Service) Host() Host {
	return s.host
}

// Store returns the preference store
func (s *Service) Store() prefs.Store {
	return s.store
}

// Descriptor reads the current shared image descriptor
func (s *Service) Descriptor(ctx context.Context) (ImageDescriptor, error) {
	return readDescriptor(ctx, s.store)
}

// SaveImage writes the shared descriptor once, then invalidates and
// refreshes every provider since all of them display it.
func (s *Service) SaveImage(ctx context.Context, d ImageDescriptor) error {
	if err := writeDescriptor(ctx, s.store, d); err != nil {
		return err
	}

	s.logger.Info("Image saved",
		zap.String("locator", d.Locator),
		zap.Bool("has_description", d.Description != ""),
		zap.Bool("has_sender", d.Sender != ""))

	var errs []error
	for _, id := range s.order {
		if err := s.coordinators[id].imageSaved(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// UpdateAll broadcasts an image update to every provider
func (s *Service) UpdateAll(ctx context.Context) error {
	var errs []error
	for _, id := range s.order {
		if err := s.coordinators[id].UpdateAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
