package widget

import (
	"context"
	"errors"
	"testing"

	"github.com/zatomos/krab-relay/pkg/models"
)

func TestServiceSaveImage(t *testing.T) {
	ctx := context.Background()
	svc, host, loader, _ := newTestService(t)

	imgA := solid(1)
	imgB := solid(2)
	loader.put("/img/a.png", 100, imgA)
	loader.put("/img/b.png", 200, imgB)

	host.setIDs(models.ProviderImage, 1)
	host.setIDs(models.ProviderImageWithText, 2)

	if err := svc.SaveImage(ctx, ImageDescriptor{Locator: "/img/a.png", Description: "hi", Sender: "bob"}); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	waitFor(t, "first image on both providers", func() bool {
		return lastImage(host, models.ProviderImage, 1) == imgA &&
			lastImage(host, models.ProviderImageWithText, 2) == imgA
	})

	if err := svc.SaveImage(ctx, ImageDescriptor{Locator: "/img/b.png", Description: "new", Sender: "carol"}); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	for _, p := range svc.Providers() {
		c, _ := svc.Coordinator(p)
		if img, ok := c.Cache().Lookup(CacheKey{Locator: "/img/a.png", ModTime: 100, Description: "hi"}); ok && img == imgA {
			t.Errorf("%s still serves the stale image", p)
		}
	}

	waitFor(t, "new image on both providers", func() bool {
		return lastImage(host, models.ProviderImage, 1) == imgB &&
			lastImage(host, models.ProviderImageWithText, 2) == imgB
	})

	d, err := svc.Descriptor(ctx)
	if err != nil {
		t.Fatalf("Descriptor failed: %v", err)
	}
	if d.Locator != "/img/b.png" {
		t.Errorf("descriptor = %+v", d)
	}

	renders := host.rendersFor(models.ProviderImageWithText, 2)
	if last := renders[len(renders)-1]; last.OverlayText != "carol: new" {
		t.Errorf("overlay text = %q", last.OverlayText)
	}
}

func TestServiceCoordinatorLookup(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if got := svc.Providers(); len(got) != 2 || got[0] != models.ProviderImage || got[1] != models.ProviderImageWithText {
		t.Errorf("Providers = %v", got)
	}
	if _, err := svc.Coordinator("missing"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
	c, err := svc.Coordinator(models.ProviderImageWithText)
	if err != nil {
		t.Fatalf("Coordinator failed: %v", err)
	}
	if !c.Provider().CacheByDescription {
		t.Error("text provider should use a description-sensitive cache")
	}
}

func TestServiceUpdateAllReportsHostErrors(t *testing.T) {
	svc, host, _, _ := newTestService(t)
	host.idsErr = errors.New("offline")

	if err := svc.UpdateAll(context.Background()); !errors.Is(err, ErrHostUnavailable) {
		t.Errorf("expected ErrHostUnavailable, got %v", err)
	}
}

func lastImage(h *fakeHost, provider string, id int) interface{} {
	renders := h.rendersFor(provider, id)
	if len(renders) == 0 {
		return nil
	}
	return renders[len(renders)-1].Image
}
