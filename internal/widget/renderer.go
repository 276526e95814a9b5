package widget

import (
	"fmt"
	"image"
)

// RenderState is the image slot state of a view model
type RenderState int

const (
	StatePlaceholder RenderState = iota
	StateImage
	StateError
)

func (s RenderState) String() string {
	switch s {
	case StatePlaceholder:
		return "placeholder"
	case StateImage:
		return "image"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("RenderState(%d)", int(s))
	}
}

// ClickTarget describes the intent launched when the widget is tapped
type ClickTarget struct {
	Action      string
	Category    string
	Flags       []string
	RequestCode int
}

// ViewModel is the displayable result handed to the host
type ViewModel struct {
	Provider       string
	WidgetID       int
	State          RenderState
	Image          image.Image // set only for StateImage
	OverlayVisible bool
	OverlayText    string
	Click          ClickTarget
}

// launchAppTarget opens the main application, one pending intent per widget
func launchAppTarget(widgetID int) ClickTarget {
	return ClickTarget{
		Action:      "android.intent.action.MAIN",
		Category:    "android.intent.category.LAUNCHER",
		Flags:       []string{"FLAG_ACTIVITY_NEW_TASK", "FLAG_ACTIVITY_SINGLE_TOP"},
		RequestCode: widgetID,
	}
}

// Render builds the view model for a widget. It has no side effects; equal
// inputs always yield equal view models.
func Render(state RenderState, provider string, w WidgetDescriptor, d ImageDescriptor, img image.Image) ViewModel {
	vm := ViewModel{
		Provider: provider,
		WidgetID: w.ID,
		State:    state,
		Click:    launchAppTarget(w.ID),
	}

	if state == StateImage && img != nil {
		vm.Image = img
	} else if state == StateImage {
		vm.State = StatePlaceholder
	}

	if w.ShowOverlayText && d.HasOverlayText() {
		vm.OverlayVisible = true
		vm.OverlayText = d.Sender + ": " + d.Description
	}

	return vm
}
