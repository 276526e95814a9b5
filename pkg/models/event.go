package models

import (
	"encoding/json"
	"time"
)

// Widget event types delivered by the widget host
const (
	EventUpdate       = "update"
	EventDeleted      = "deleted"
	EventAdded        = "added"
	EventImageUpdated = "image_updated"
	EventSaveImage    = "save_image"
	EventSetShowText  = "set_show_text"
	EventPinned       = "pinned"
)

// WidgetEvent represents a host event targeting one provider's widgets
type WidgetEvent struct {
	Type        string `json:"type" validate:"required,oneof=update deleted added image_updated save_image set_show_text pinned"`
	Provider    string `json:"provider"`
	WidgetIDs   []int  `json:"widget_ids,omitempty"`
	WidgetID    int    `json:"widget_id,omitempty"`
	ShowText    bool   `json:"show_text,omitempty"`
	Locator     string `json:"locator,omitempty"`
	Description string `json:"description,omitempty"`
	Sender      string `json:"sender,omitempty"`
}

// FrameResult represents a rendered widget frame published to display clients
type FrameResult struct {
	Provider    string    `json:"provider"`
	WidgetID    int       `json:"widget_id"`
	State       string    `json:"state"`
	OverlayText string    `json:"overlay_text,omitempty"`
	Frame       string    `json:"frame"` // base64 encoded PNG
	RenderedAt  time.Time `json:"rendered_at"`
}

// AppEvent represents a notification sent back to the application
type AppEvent struct {
	Type     string    `json:"type"`
	Provider string    `json:"provider"`
	WidgetID int       `json:"widget_id"`
	SentAt   time.Time `json:"sent_at"`
}

// WebhookPayload is the database change payload posted by the webhook trigger
type WebhookPayload struct {
	Type      string          `json:"type" validate:"required"`
	Table     string          `json:"table" validate:"required"`
	Schema    string          `json:"schema"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

// ImageGroupRecord is a row of the image/group association table
type ImageGroupRecord struct {
	ID      string `json:"id"`
	ImageID string `json:"image_id" validate:"required"`
	GroupID string `json:"group_id" validate:"required"`
}

// CommentRecord is a row of the Comments table
type CommentRecord struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id" validate:"required"`
	ImageID   string `json:"image_id" validate:"required"`
	GroupID   string `json:"group_id" validate:"required"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}
