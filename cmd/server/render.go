package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/zatomos/krab-relay/internal/display"
	"github.com/zatomos/krab-relay/internal/widget"
	"github.com/zatomos/krab-relay/pkg/models"
)

// RenderCmd rasterizes a single widget offline, without the daemon
type RenderCmd struct {
	Image       string `arg:"" help:"Image locator (path or file:// URL)."`
	Output      string `short:"o" help:"Output PNG path." default:"frame.png"`
	Provider    string `help:"Widget provider ID." default:"home_screen_widget"`
	Providers   string `help:"Provider manifest file." type:"path"`
	Description string `help:"Image description."`
	Sender      string `help:"Image sender."`
	ShowText    bool   `help:"Show the overlay text."`
	WidgetID    int    `help:"Widget ID used for the click target." default:"1"`
}

// Run renders the frame and writes it to Output
func (r *RenderCmd) Run() error {
	providers, err := models.LoadProviderRegistry(r.Providers)
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}
	manifest, ok := providers.GetProvider(r.Provider)
	if !ok {
		return fmt.Errorf("%w: %s", widget.ErrUnknownProvider, r.Provider)
	}

	desc := widget.ImageDescriptor{
		Locator:     r.Image,
		Description: r.Description,
		Sender:      r.Sender,
	}
	w := widget.WidgetDescriptor{
		ID:              r.WidgetID,
		ShowOverlayText: r.ShowText || manifest.AlwaysShowText,
	}

	state := widget.StateImage
	img, err := widget.NewFileLoader().Load(context.Background(), r.Image)
	switch {
	case errors.Is(err, widget.ErrSourceMissing):
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		state = widget.StatePlaceholder
	case err != nil:
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		state = widget.StateError
	}
	vm := widget.Render(state, manifest.ID, w, desc, img)

	rasterizer, err := display.NewRasterizer(1)
	if err != nil {
		return err
	}
	data, err := rasterizer.EncodePNG(vm, manifest.FrameWidth, manifest.FrameHeight)
	if err != nil {
		return err
	}

	if err := os.WriteFile(r.Output, data, 0644); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	fmt.Printf("%s frame written to %s (%dx%d)\n", vm.State, r.Output, manifest.FrameWidth, manifest.FrameHeight)
	return nil
}
