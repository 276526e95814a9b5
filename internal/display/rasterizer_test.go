package display

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/zatomos/krab-relay/internal/widget"
	"golang.org/x/image/font/basicfont"
)

func red(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	return img
}

func TestRasterize(t *testing.T) {
	r, err := NewRasterizer(8)
	if err != nil {
		t.Fatalf("NewRasterizer failed: %v", err)
	}

	t.Run("Image is fitted and centered", func(t *testing.T) {
		vm := widget.ViewModel{State: widget.StateImage, Image: red(200, 100)}
		frame := r.Rasterize(vm, 100, 100)

		if frame.Bounds() != image.Rect(0, 0, 100, 100) {
			t.Fatalf("bounds = %v", frame.Bounds())
		}
		// 200x100 scales to 100x50, centered vertically
		if c := frame.RGBAAt(50, 50); c.R < 200 {
			t.Errorf("center pixel = %v, want red", c)
		}
		if c := frame.RGBAAt(50, 5); c != backgroundColor {
			t.Errorf("top pixel = %v, want background", c)
		}
	})

	t.Run("Placeholder and error differ", func(t *testing.T) {
		placeholder := r.Rasterize(widget.ViewModel{State: widget.StatePlaceholder}, 64, 64)
		failed := r.Rasterize(widget.ViewModel{State: widget.StateError}, 64, 64)

		if placeholder.RGBAAt(1, 1) != placeholderColor {
			t.Errorf("placeholder corner = %v", placeholder.RGBAAt(1, 1))
		}
		if failed.RGBAAt(1, 1) != errorColor {
			t.Errorf("error corner = %v", failed.RGBAAt(1, 1))
		}
	})

	t.Run("Overlay darkens the bottom bar", func(t *testing.T) {
		plain := r.Rasterize(widget.ViewModel{State: widget.StatePlaceholder}, 64, 64)
		withText := r.Rasterize(widget.ViewModel{
			State:          widget.StatePlaceholder,
			OverlayVisible: true,
			OverlayText:    "bob: hi",
		}, 64, 64)

		if withText.RGBAAt(63, 63) == plain.RGBAAt(63, 63) {
			t.Error("expected overlay bar at the bottom edge")
		}
		if withText.RGBAAt(1, 1) != plain.RGBAAt(1, 1) {
			t.Error("overlay should only touch the bottom bar")
		}
	})
}

func TestEncodePNGMemoizes(t *testing.T) {
	r, err := NewRasterizer(4)
	if err != nil {
		t.Fatalf("NewRasterizer failed: %v", err)
	}

	img := red(10, 10)
	vm := widget.ViewModel{State: widget.StateImage, Image: img, OverlayVisible: true, OverlayText: "a: b"}

	first, err := r.EncodePNG(vm, 32, 32)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	second, err := r.EncodePNG(vm, 32, 32)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("memoized frame differs")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	decoded, err := png.Decode(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("frame is not a PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 32 {
		t.Errorf("width = %d", decoded.Bounds().Dx())
	}

	vm.OverlayText = "a: c"
	if _, err := r.EncodePNG(vm, 32, 32); err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("overlay change should produce a new frame, Len = %d", r.Len())
	}

	other := red(10, 10)
	vm.Image = other
	if _, err := r.EncodePNG(vm, 32, 32); err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("new image should produce a new frame, Len = %d", r.Len())
	}
}

func TestTruncate(t *testing.T) {
	face := basicfont.Face7x13

	if got := truncate(face, "short", 100); got != "short" {
		t.Errorf("truncate = %q", got)
	}

	got := truncate(face, "a rather long caption that will not fit", 70)
	if len(got) == 0 || got[len(got)-len(ellipsis):] != ellipsis {
		t.Fatalf("truncate = %q, want ellipsis suffix", got)
	}
	if width := len(got) * face.Advance; width > 70 {
		t.Errorf("truncated text is %dpx wide", width)
	}

	if got := truncate(face, "abcdef", 5); got != "" {
		t.Errorf("truncate = %q, want empty", got)
	}
}
