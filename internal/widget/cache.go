package widget

import (
	"image"
	"sync"
)

// CacheKey identifies the source a cached image was decoded from
type CacheKey struct {
	Locator     string
	ModTime     int64
	Description string
}

type cacheEntry struct {
	key   CacheKey
	image image.Image
}

// ImageCache is a single-slot cache holding the last decoded image.
// Lookup, Store and Invalidate share one lock so an entry is never torn;
// concurrent stores resolve as last-store-wins.
type ImageCache struct {
	mu                   sync.Mutex
	descriptionSensitive bool
	entry                *cacheEntry
}

// NewImageCache creates an empty cache. When descriptionSensitive is set the
// description participates in the freshness check.
func NewImageCache(descriptionSensitive bool) *ImageCache {
	return &ImageCache{descriptionSensitive: descriptionSensitive}
}

// Lookup returns the cached image iff it was stored for the same locator and
// modification time (and description, when description-sensitive).
func (c *ImageCache) Lookup(key CacheKey) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil || key.Locator == "" {
		return nil, false
	}
	if !c.matches(c.entry.key, key) {
		return nil, false
	}
	return c.entry.image, true
}

// Store replaces the slot unconditionally
func (c *ImageCache) Store(key CacheKey, img image.Image) {
	if img == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = &cacheEntry{key: key, image: img}
}

// Invalidate clears the slot
func (c *ImageCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

// Key returns the key of the current entry, if any
func (c *ImageCache) Key() (CacheKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return CacheKey{}, false
	}
	return c.entry.key, true
}

func (c *ImageCache) matches(cached, want CacheKey) bool {
	if cached.Locator != want.Locator || cached.ModTime != want.ModTime {
		return false
	}
	return !c.descriptionSensitive || cached.Description == want.Description
}
