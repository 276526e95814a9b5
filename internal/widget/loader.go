package widget

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"

	// Decoders registered with image.Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrSourceMissing means the locator does not point at a readable source
	ErrSourceMissing = errors.New("image source missing")
	// ErrDecode means the source exists but is not a decodable image
	ErrDecode = errors.New("image decode failed")
)

// maxImageBytes bounds how much of a source is read
const maxImageBytes = 32 * 1024 * 1024

// Loader produces decoded images from locators. Implementations must not
// cache: every Load performs a fresh read.
type Loader interface {
	Load(ctx context.Context, locator string) (image.Image, error)
	// ModTime returns the source modification time in milliseconds, or 0
	// when the source cannot be read.
	ModTime(locator string) int64
}

// FileLoader loads images from the local filesystem
type FileLoader struct{}

// NewFileLoader creates a filesystem loader
func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

// Load opens and decodes the file behind locator
func (l *FileLoader) Load(ctx context.Context, locator string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := localPath(locator)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(io.LimitReader(f, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}

	return img, nil
}

// ModTime stats the file behind locator
func (l *FileLoader) ModTime(locator string) int64 {
	info, err := os.Stat(localPath(locator))
	if err != nil || info.IsDir() {
		return 0
	}
	return info.ModTime().UnixMilli()
}

// localPath strips a file:// scheme if present
func localPath(locator string) string {
	return strings.TrimPrefix(locator, "file://")
}
