package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/zatomos/krab-relay/internal/host"
	"github.com/zatomos/krab-relay/internal/widget"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

// FrameSource serves the latest rendered frame of a widget
type FrameSource interface {
	Frame(provider string, id int) (host.Frame, bool)
}

// WidgetHost is the host surface the HTTP API needs
type WidgetHost interface {
	WidgetRegistry
	FrameSource
	WidgetIDs(ctx context.Context, provider string) ([]int, error)
}

type saveImageRequest struct {
	Locator     string `json:"locator" validate:"required"`
	Description string `json:"description"`
	Sender      string `json:"sender"`
}

type registerRequest struct {
	WidgetID int `json:"widget_id" validate:"required,gt=0"`
}

type showTextRequest struct {
	Show *bool `json:"show" validate:"required"`
}

type pinRequest struct {
	ShowText bool `json:"show_text"`
}

type pinCallbackRequest struct {
	WidgetID int `json:"widget_id" validate:"omitempty,gt=0"`
}

// WidgetHandler handles HTTP requests for widget management
type WidgetHandler struct {
	service   *widget.Service
	host      WidgetHost
	pin       *widget.PinFlow
	providers *models.ProviderRegistry
	logger    *zap.Logger
}

// NewWidgetHandler creates a new widget handler
func NewWidgetHandler(service *widget.Service, host WidgetHost, pin *widget.PinFlow, providers *models.ProviderRegistry, logger *zap.Logger) *WidgetHandler {
	return &WidgetHandler{
		service:   service,
		host:      host,
		pin:       pin,
		providers: providers,
		logger:    logger,
	}
}

// RegisterRoutes registers the widget routes
func (h *WidgetHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/providers", h.ListProviders)

	g := e.Group("/widgets")
	g.POST("/image", h.SaveImage)
	g.GET("/:provider", h.ListWidgets)
	g.POST("/:provider", h.RegisterWidget)
	g.POST("/:provider/pin", h.RequestPin)
	g.POST("/:provider/pin/callback", h.PinCallback)
	g.DELETE("/:provider/:id", h.DeleteWidget)
	g.POST("/:provider/:id/update", h.UpdateWidget)
	g.PUT("/:provider/:id/show-text", h.SetShowText)
	g.GET("/:provider/:id/frame.png", h.GetFrame)
}

// Health handles GET /health
func (h *WidgetHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "krab-relay",
	})
}

// ListProviders handles GET /providers
func (h *WidgetHandler) ListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, h.providers.GetProvidersList())
}

// SaveImage handles POST /widgets/image
func (h *WidgetHandler) SaveImage(c echo.Context) error {
	var req saveImageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.service.SaveImage(c.Request().Context(), widget.ImageDescriptor{
		Locator:     req.Locator,
		Description: req.Description,
		Sender:      req.Sender,
	})
	if err != nil {
		return h.widgetError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message": "Image saved"})
}

// ListWidgets handles GET /widgets/:provider
func (h *WidgetHandler) ListWidgets(c echo.Context) error {
	provider := c.Param("provider")
	if _, err := h.service.Coordinator(provider); err != nil {
		return h.widgetError(c, err)
	}

	ids, err := h.host.WidgetIDs(c.Request().Context(), provider)
	if err != nil {
		return h.widgetError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"provider":   provider,
		"widget_ids": ids,
	})
}

// RegisterWidget handles POST /widgets/:provider
func (h *WidgetHandler) RegisterWidget(c echo.Context) error {
	provider := c.Param("provider")
	coordinator, err := h.service.Coordinator(provider)
	if err != nil {
		return h.widgetError(c, err)
	}

	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := h.host.Register(ctx, provider, req.WidgetID); err != nil {
		return h.widgetError(c, err)
	}
	if err := coordinator.RequestUpdate(ctx, req.WidgetID); err != nil {
		return h.widgetError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"provider":  provider,
		"widget_id": req.WidgetID,
	})
}

// DeleteWidget handles DELETE /widgets/:provider/:id
func (h *WidgetHandler) DeleteWidget(c echo.Context) error {
	coordinator, id, err := h.target(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	found, err := h.host.Unregister(ctx, coordinator.Provider().ID, id)
	if err != nil {
		return h.widgetError(c, err)
	}
	if err := coordinator.Delete(ctx, id); err != nil {
		return h.widgetError(c, err)
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "widget not registered"})
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateWidget handles POST /widgets/:provider/:id/update
func (h *WidgetHandler) UpdateWidget(c echo.Context) error {
	coordinator, id, err := h.target(c)
	if err != nil {
		return err
	}

	outcome, err := coordinator.UpdateNow(c.Request().Context(), id)
	if err != nil {
		return h.widgetError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"provider":  coordinator.Provider().ID,
		"widget_id": id,
		"outcome":   outcome.String(),
	})
}

// SetShowText handles PUT /widgets/:provider/:id/show-text
func (h *WidgetHandler) SetShowText(c echo.Context) error {
	coordinator, id, err := h.target(c)
	if err != nil {
		return err
	}

	var req showTextRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := coordinator.SetShowText(c.Request().Context(), id, *req.Show); err != nil {
		return h.widgetError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"widget_id": id,
		"show":      *req.Show,
	})
}

// GetFrame handles GET /widgets/:provider/:id/frame.png
func (h *WidgetHandler) GetFrame(c echo.Context) error {
	coordinator, id, err := h.target(c)
	if err != nil {
		return err
	}

	frame, ok := h.host.Frame(coordinator.Provider().ID, id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no frame rendered yet"})
	}

	c.Response().Header().Set("X-Widget-State", frame.State.String())
	c.Response().Header().Set("Last-Modified", frame.RenderedAt.Format(http.TimeFormat))
	return c.Blob(http.StatusOK, "image/png", frame.PNG)
}

// RequestPin handles POST /widgets/:provider/pin
func (h *WidgetHandler) RequestPin(c echo.Context) error {
	var req pinRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.pin.RequestPin(c.Request().Context(), c.Param("provider"), req.ShowText); err != nil {
		return h.widgetError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message": "Pin requested"})
}

// PinCallback handles POST /widgets/:provider/pin/callback
func (h *WidgetHandler) PinCallback(c echo.Context) error {
	var req pinCallbackRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	provider := c.Param("provider")
	ctx := c.Request().Context()
	if req.WidgetID != widget.InvalidWidgetID {
		if err := h.host.Register(ctx, provider, req.WidgetID); err != nil {
			return h.widgetError(c, err)
		}
	}

	id, err := h.pin.OnPinned(ctx, provider, req.WidgetID)
	if err != nil {
		return h.widgetError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"provider":  provider,
		"widget_id": id,
	})
}

// target resolves the provider and widget ID path parameters
func (h *WidgetHandler) target(c echo.Context) (*widget.Coordinator, int, error) {
	coordinator, err := h.service.Coordinator(c.Param("provider"))
	if err != nil {
		return nil, 0, h.widgetError(c, err)
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id == widget.InvalidWidgetID {
		return nil, 0, echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid widget ID"})
	}
	return coordinator, id, nil
}

// widgetError maps pipeline errors to HTTP errors
func (h *WidgetHandler) widgetError(c echo.Context, err error) *echo.HTTPError {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, widget.ErrUnknownProvider):
		status = http.StatusNotFound
	case errors.Is(err, host.ErrInvalidWidgetID):
		status = http.StatusBadRequest
	case errors.Is(err, widget.ErrWidgetUnresolved):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, widget.ErrHostUnavailable),
		errors.Is(err, widget.ErrPoolStopped),
		errors.Is(err, widget.ErrExecutorStopped):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Widget request failed",
			zap.String("path", c.Path()),
			zap.String("provider", c.Param("provider")),
			zap.Error(err))
	}
	return echo.NewHTTPError(status, map[string]string{"error": err.Error()})
}

// bindAndValidate decodes the body and runs the echo validator. Failures
// come back as 400 HTTP errors rendered by echo's error handler.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(req); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) *echo.HTTPError {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{"errors": verrs})
	}
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": err.Error()})
}
