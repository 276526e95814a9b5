// Package display turns widget view models into pixel frames.
package display

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"reflect"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nfnt/resize"
	"github.com/zatomos/krab-relay/internal/widget"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	backgroundColor  = color.RGBA{R: 0x12, G: 0x12, B: 0x14, A: 0xff}
	placeholderColor = color.RGBA{R: 0x2c, G: 0x2c, B: 0x30, A: 0xff}
	errorColor       = color.RGBA{R: 0x4a, G: 0x16, B: 0x16, A: 0xff}
	glyphColor       = color.RGBA{R: 0x9a, G: 0x9a, B: 0xa0, A: 0xff}
	overlayColor     = color.RGBA{A: 0xa0}
	textColor        = color.White
)

const (
	overlayPadding = 6
	ellipsis       = "..."
)

type frameKey struct {
	state   widget.RenderState
	image   uintptr
	overlay string
	width   int
	height  int
}

// encodedFrame pins its source image so the identity in frameKey is not reused
type encodedFrame struct {
	source image.Image
	data   []byte
}

// Rasterizer draws view models and memoizes their PNG encodings
type Rasterizer struct {
	frames *lru.Cache
}

// NewRasterizer creates a rasterizer keeping up to size encoded frames
func NewRasterizer(size int) (*Rasterizer, error) {
	if size <= 0 {
		size = 64
	}
	frames, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}
	return &Rasterizer{frames: frames}, nil
}

// Rasterize draws vm into a width x height frame
func (r *Rasterizer) Rasterize(vm widget.ViewModel, width, height int) *image.RGBA {
	bounds := image.Rect(0, 0, width, height)
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	switch vm.State {
	case widget.StateImage:
		drawFitted(dst, vm.Image)
	case widget.StateError:
		draw.Draw(dst, bounds, image.NewUniform(errorColor), image.Point{}, draw.Src)
		drawCross(dst)
	default:
		draw.Draw(dst, bounds, image.NewUniform(placeholderColor), image.Point{}, draw.Src)
		drawFrameGlyph(dst)
	}

	if vm.OverlayVisible && vm.OverlayText != "" {
		drawOverlay(dst, vm.OverlayText)
	}

	return dst
}

// EncodePNG rasterizes vm and returns its PNG encoding
func (r *Rasterizer) EncodePNG(vm widget.ViewModel, width, height int) ([]byte, error) {
	key := frameKey{
		state:  vm.State,
		image:  identity(vm.Image),
		width:  width,
		height: height,
	}
	if vm.OverlayVisible {
		key.overlay = vm.OverlayText
	}

	if cached, ok := r.frames.Get(key); ok {
		return cached.(*encodedFrame).data, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Rasterize(vm, width, height)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	data := buf.Bytes()
	// Images without pointer identity cannot be told apart, skip memoization
	if vm.Image == nil || key.image != 0 {
		r.frames.Add(key, &encodedFrame{source: vm.Image, data: data})
	}
	return data, nil
}

// Len returns the number of memoized frames
func (r *Rasterizer) Len() int {
	return r.frames.Len()
}

func identity(img image.Image) uintptr {
	if img == nil {
		return 0
	}
	v := reflect.ValueOf(img)
	if v.Kind() != reflect.Ptr {
		return 0
	}
	return v.Pointer()
}

// drawFitted scales src to fit dst, preserving aspect ratio, and centers it
func drawFitted(dst *image.RGBA, src image.Image) {
	if src == nil {
		return
	}
	b := dst.Bounds()
	scaled := resize.Thumbnail(uint(b.Dx()), uint(b.Dy()), src, resize.Lanczos3)

	sb := scaled.Bounds()
	offset := image.Pt((b.Dx()-sb.Dx())/2, (b.Dy()-sb.Dy())/2)
	target := image.Rectangle{Min: offset, Max: offset.Add(sb.Size())}
	draw.Draw(dst, target, scaled, sb.Min, draw.Over)
}

// drawFrameGlyph draws a hollow square in the center
func drawFrameGlyph(dst *image.RGBA) {
	b := dst.Bounds()
	side := min(b.Dx(), b.Dy()) / 4
	if side < 4 {
		return
	}
	stroke := max(side/12, 1)
	c := image.Pt(b.Dx()/2, b.Dy()/2)
	outer := image.Rect(c.X-side/2, c.Y-side/2, c.X+side/2, c.Y+side/2)
	fill := image.NewUniform(glyphColor)

	draw.Draw(dst, image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, outer.Min.Y+stroke), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(outer.Min.X, outer.Max.Y-stroke, outer.Max.X, outer.Max.Y), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(outer.Min.X, outer.Min.Y, outer.Min.X+stroke, outer.Max.Y), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(outer.Max.X-stroke, outer.Min.Y, outer.Max.X, outer.Max.Y), fill, image.Point{}, draw.Src)
}

// drawCross draws two diagonals in the center
func drawCross(dst *image.RGBA) {
	b := dst.Bounds()
	side := min(b.Dx(), b.Dy()) / 4
	stroke := max(side/12, 1)
	c := image.Pt(b.Dx()/2, b.Dy()/2)

	for i := -side / 2; i <= side/2; i++ {
		for s := 0; s < stroke; s++ {
			dst.SetRGBA(c.X+i+s, c.Y+i, glyphColor)
			dst.SetRGBA(c.X+i+s, c.Y-i, glyphColor)
		}
	}
}

// drawOverlay draws a translucent bar along the bottom edge with text
func drawOverlay(dst *image.RGBA, text string) {
	face := basicfont.Face7x13
	b := dst.Bounds()
	barHeight := face.Height + 2*overlayPadding
	if barHeight > b.Dy() {
		barHeight = b.Dy()
	}
	bar := image.Rect(b.Min.X, b.Max.Y-barHeight, b.Max.X, b.Max.Y)
	draw.Draw(dst, bar, image.NewUniform(overlayColor), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(bar.Min.X+overlayPadding, bar.Max.Y-overlayPadding-face.Descent),
	}
	d.DrawString(truncate(face, text, b.Dx()-2*overlayPadding))
}

// truncate shortens text with an ellipsis until it fits maxWidth pixels
func truncate(face font.Face, text string, maxWidth int) string {
	limit := fixed.I(maxWidth)
	if font.MeasureString(face, text) <= limit {
		return text
	}

	runes := []rune(text)
	for n := len(runes) - 1; n > 0; n-- {
		candidate := string(runes[:n]) + ellipsis
		if font.MeasureString(face, candidate) <= limit {
			return candidate
		}
	}
	return ""
}
