package widget

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLoader(t *testing.T) {
	tempDir := t.TempDir()
	loader := NewFileLoader()
	ctx := context.Background()

	pngPath := filepath.Join(tempDir, "a.png")
	f, err := os.Create(pngPath)
	if err != nil {
		t.Fatalf("Failed to create image file: %v", err)
	}
	if err := png.Encode(f, solid(200)); err != nil {
		t.Fatalf("Failed to encode image: %v", err)
	}
	f.Close()

	garbagePath := filepath.Join(tempDir, "broken.png")
	if err := os.WriteFile(garbagePath, []byte("definitely not an image"), 0644); err != nil {
		t.Fatalf("Failed to write garbage file: %v", err)
	}

	t.Run("Loads existing image", func(t *testing.T) {
		img, err := loader.Load(ctx, pngPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
			t.Errorf("Unexpected bounds %v", img.Bounds())
		}
	})

	t.Run("Accepts file URLs", func(t *testing.T) {
		if _, err := loader.Load(ctx, "file://"+pngPath); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	})

	t.Run("Missing source", func(t *testing.T) {
		_, err := loader.Load(ctx, filepath.Join(tempDir, "nope.png"))
		if !errors.Is(err, ErrSourceMissing) {
			t.Fatalf("Expected ErrSourceMissing, got %v", err)
		}
		if errors.Is(err, ErrDecode) {
			t.Error("missing source must not be a decode failure")
		}
	})

	t.Run("Undecodable source", func(t *testing.T) {
		_, err := loader.Load(ctx, garbagePath)
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("Expected ErrDecode, got %v", err)
		}
	})

	t.Run("Cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := loader.Load(cctx, pngPath); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})

	t.Run("ModTime", func(t *testing.T) {
		if got := loader.ModTime(pngPath); got == 0 {
			t.Error("expected non-zero modification time for existing file")
		}
		if got := loader.ModTime(filepath.Join(tempDir, "nope.png")); got != 0 {
			t.Errorf("expected 0 for missing file, got %d", got)
		}
		if got := loader.ModTime(tempDir); got != 0 {
			t.Errorf("expected 0 for directory, got %d", got)
		}
	})

	t.Run("ModTime follows rewrites", func(t *testing.T) {
		before := loader.ModTime(pngPath)
		later := before + 5000
		if err := os.Chtimes(pngPath, time.UnixMilli(later), time.UnixMilli(later)); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
		if got := loader.ModTime(pngPath); got != later {
			t.Errorf("ModTime = %d, want %d", got, later)
		}
	})
}
