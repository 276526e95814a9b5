// Package widget implements the widget refresh pipeline: preference reads,
// the single-slot freshness cache, image loading, view-model rendering and
// the update coordinator that ties them together.
package widget

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zatomos/krab-relay/internal/prefs"
)

// Preference keys shared with the application
const (
	KeyImageURL         = "recentImageUrl"
	KeyImageDescription = "recentImageDescription"
	KeyImageSender      = "recentImageSender"

	showTextPrefix = "showText_"
)

// InvalidWidgetID marks an absent widget ID
const InvalidWidgetID = 0

// ShowTextKey returns the per-widget overlay preference key
func ShowTextKey(id int) string {
	return showTextPrefix + strconv.Itoa(id)
}

// ImageDescriptor is the process-wide "current image" record
type ImageDescriptor struct {
	Locator     string
	Description string
	Sender      string
}

// HasOverlayText reports whether both caption parts are present
func (d ImageDescriptor) HasOverlayText() bool {
	return d.Description != "" && d.Sender != ""
}

// WidgetDescriptor identifies one widget instance
type WidgetDescriptor struct {
	ID              int
	ShowOverlayText bool
}

// readDescriptor loads the shared image descriptor from the store
func readDescriptor(ctx context.Context, store prefs.Store) (ImageDescriptor, error) {
	var d ImageDescriptor

	fields := []struct {
		key string
		dst *string
	}{
		{KeyImageURL, &d.Locator},
		{KeyImageDescription, &d.Description},
		{KeyImageSender, &d.Sender},
	}

	for _, f := range fields {
		v, _, err := store.GetString(ctx, f.key)
		if err != nil {
			return ImageDescriptor{}, fmt.Errorf("failed to read %s: %w", f.key, err)
		}
		*f.dst = v
	}

	return d, nil
}

// writeDescriptor persists the shared image descriptor. Empty optional
// fields are removed rather than stored as empty strings.
func writeDescriptor(ctx context.Context, store prefs.Store, d ImageDescriptor) error {
	if err := store.SetString(ctx, KeyImageURL, d.Locator); err != nil {
		return fmt.Errorf("failed to write %s: %w", KeyImageURL, err)
	}

	optional := map[string]string{
		KeyImageDescription: d.Description,
		KeyImageSender:      d.Sender,
	}
	for key, value := range optional {
		var err error
		if value == "" {
			err = store.Remove(ctx, key)
		} else {
			err = store.SetString(ctx, key, value)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}

	return nil
}
