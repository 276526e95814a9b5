package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/zatomos/krab-relay/internal/notify"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

const (
	changeInsert  = "INSERT"
	commentsTable = "Comments"
)

// Notifier runs the notification webhooks
type Notifier interface {
	NewImage(ctx context.Context, rec models.ImageGroupRecord, logger *zap.Logger) (notify.Outcome, error)
	NewComment(ctx context.Context, rec models.CommentRecord, logger *zap.Logger) (notify.Outcome, error)
}

// WebhookHandler handles the database webhook triggers
type WebhookHandler struct {
	notifier Notifier
	secret   string
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler. A nil notifier answers 503.
func NewWebhookHandler(notifier Notifier, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		notifier: notifier,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes registers the webhook routes
func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/webhooks", h.authorize)
	g.POST("/new-image", h.NewImage)
	g.POST("/new-comment", h.NewComment)
}

// authorize checks the shared secret when one is configured
func (h *WebhookHandler) authorize(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.secret == "" {
			return next(c)
		}

		token := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(c)
	}
}

// NewImage handles POST /webhooks/new-image
func (h *WebhookHandler) NewImage(c echo.Context) error {
	logger := h.requestLogger(c, "new-image")

	payload, err := h.payload(c)
	if err != nil {
		return err
	}
	if payload.Type != changeInsert {
		logger.Debug("Ignoring non-insert change", zap.String("type", payload.Type))
		return c.JSON(http.StatusOK, map[string]string{"message": "Ignored"})
	}

	var rec models.ImageGroupRecord
	if err := decodeRecord(c, payload.Record, &rec); err != nil {
		return err
	}

	if h.notifier == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Notifications are not configured"})
	}

	out, err := h.notifier.NewImage(c.Request().Context(), rec, logger)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if out.Skipped != "" {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Notifications sent",
		"sent":    out.Sent,
		"failed":  out.Failed,
	})
}

// NewComment handles POST /webhooks/new-comment
func (h *WebhookHandler) NewComment(c echo.Context) error {
	logger := h.requestLogger(c, "new-comment")

	payload, err := h.payload(c)
	if err != nil {
		return err
	}
	if payload.Table != commentsTable || payload.Type != changeInsert {
		logger.Debug("Ignoring change",
			zap.String("table", payload.Table),
			zap.String("type", payload.Type))
		return c.JSON(http.StatusOK, map[string]string{"message": "Ignored"})
	}

	var rec models.CommentRecord
	if err := decodeRecord(c, payload.Record, &rec); err != nil {
		return err
	}

	if h.notifier == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Notifications are not configured"})
	}

	out, err := h.notifier.NewComment(c.Request().Context(), rec, logger)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if out.Skipped != "" {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Notification sent"})
}

func (h *WebhookHandler) payload(c echo.Context) (*models.WebhookPayload, error) {
	var payload models.WebhookPayload
	if err := bindAndValidate(c, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// decodeRecord unmarshals and validates the changed row
func decodeRecord(c echo.Context, raw json.RawMessage, rec interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "Missing record"})
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "Invalid record"})
	}
	if err := c.Validate(rec); err != nil {
		return validationError(err)
	}
	return nil
}

func (h *WebhookHandler) requestLogger(c echo.Context, hook string) *zap.Logger {
	return h.logger.With(
		zap.String("webhook", hook),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
}
