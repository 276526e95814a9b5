package widget

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/zatomos/krab-relay/internal/prefs"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

type fakeHost struct {
	mu            sync.Mutex
	renders       []ViewModel
	offForeground int
	ids           map[string][]int
	renderErr     error
	idsErr        error
}

func newFakeHost() *fakeHost {
	return &fakeHost{ids: make(map[string][]int)}
}

func (h *fakeHost) Render(ctx context.Context, vm ViewModel) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !IsForeground(ctx) {
		h.offForeground++
	}
	if h.renderErr != nil {
		return h.renderErr
	}
	h.renders = append(h.renders, vm)
	return nil
}

func (h *fakeHost) WidgetIDs(_ context.Context, provider string) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.idsErr != nil {
		return nil, h.idsErr
	}
	return append([]int(nil), h.ids[provider]...), nil
}

func (h *fakeHost) setIDs(provider string, ids ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids[provider] = ids
}

func (h *fakeHost) rendersFor(provider string, id int) []ViewModel {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []ViewModel
	for _, vm := range h.renders {
		if vm.Provider == provider && vm.WidgetID == id {
			out = append(out, vm)
		}
	}
	return out
}

func (h *fakeHost) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.renders = nil
}

type fakeLoader struct {
	mu       sync.Mutex
	images   map[string]image.Image
	errs     map[string]error
	modTimes map[string]int64
	loads    map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		images:   make(map[string]image.Image),
		errs:     make(map[string]error),
		modTimes: make(map[string]int64),
		loads:    make(map[string]int),
	}
}

func (l *fakeLoader) put(locator string, modTime int64, img image.Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.images[locator] = img
	l.modTimes[locator] = modTime
	delete(l.errs, locator)
}

func (l *fakeLoader) fail(locator string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[locator] = err
	delete(l.images, locator)
}

func (l *fakeLoader) Load(_ context.Context, locator string) (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads[locator]++
	if err, ok := l.errs[locator]; ok {
		return nil, err
	}
	img, ok := l.images[locator]
	if !ok {
		return nil, ErrSourceMissing
	}
	return img, nil
}

func (l *fakeLoader) ModTime(locator string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.images[locator]; !ok {
		return 0
	}
	return l.modTimes[locator]
}

func (l *fakeLoader) loadCount(locator string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[locator]
}

type testEnv struct {
	store  *prefs.MemoryStore
	loader *fakeLoader
	host   *fakeHost
	deps   Dependencies
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	fg := NewForegroundExecutor(logger)
	pool := NewWorkerPool(2, logger)
	fg.Start()
	pool.Start()
	t.Cleanup(func() {
		pool.Stop()
		fg.Stop()
	})

	env := &testEnv{
		store:  prefs.NewMemoryStore(),
		loader: newFakeLoader(),
		host:   newFakeHost(),
	}
	env.deps = Dependencies{
		Store:      env.store,
		Loader:     env.loader,
		Host:       env.host,
		Foreground: fg,
		Pool:       pool,
		Logger:     logger,
	}
	return env
}

func (e *testEnv) coordinator(provider models.ProviderManifest) *Coordinator {
	return NewCoordinator(provider, e.deps)
}

func (e *testEnv) setDescriptor(t *testing.T, d ImageDescriptor) {
	t.Helper()
	if err := writeDescriptor(context.Background(), e.store, d); err != nil {
		t.Fatalf("writeDescriptor: %v", err)
	}
}

func plainProvider() models.ProviderManifest {
	return *models.DefaultProviders()[0]
}

func textProvider() models.ProviderManifest {
	return *models.DefaultProviders()[1]
}

// solid returns a distinct 2x2 image
func solid(v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitAll(t *testing.T, results []<-chan error) {
	t.Helper()
	for _, ch := range results {
		select {
		case err := <-ch:
			if err != nil && !errors.Is(err, ErrHostUnavailable) {
				t.Fatalf("background update failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for background update")
		}
	}
}
