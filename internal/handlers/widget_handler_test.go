package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatomos/krab-relay/internal/display"
	"github.com/zatomos/krab-relay/internal/host"
	"github.com/zatomos/krab-relay/internal/prefs"
	"github.com/zatomos/krab-relay/internal/widget"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

type nopNotifier struct{}

func (nopNotifier) PublishAppEvent(context.Context, models.AppEvent) error { return nil }

type testServer struct {
	e       *echo.Echo
	service *widget.Service
	host    *host.Host
	store   prefs.Store
}

func newTestServer(t *testing.T, notifier Notifier, secret string) *testServer {
	t.Helper()

	registry, err := models.LoadProviderRegistry("")
	require.NoError(t, err)
	rasterizer, err := display.NewRasterizer(16)
	require.NoError(t, err)

	logger := zap.NewNop()
	store := prefs.NewMemoryStore()
	h := host.New(store, registry, rasterizer, nil, logger)
	service := widget.NewService(registry, store, widget.NewFileLoader(), h, 2, logger)
	service.Start()
	t.Cleanup(service.Stop)

	pin := widget.NewPinFlow(service, nopNotifier{}, logger)
	e := NewRouter(
		NewWidgetHandler(service, h, pin, registry, logger),
		NewWebhookHandler(notifier, secret, logger),
		logger,
	)
	return &testServer{e: e, service: service, host: h, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func writeTestPNG(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "recent.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAndProviders(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = s.do(t, http.MethodGet, "/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var providers []models.ProviderManifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	assert.Len(t, providers, 2)
}

func TestWidgetLifecycle(t *testing.T) {
	s := newTestServer(t, nil, "")
	base := "/widgets/" + models.ProviderImage

	rec := s.do(t, http.MethodPost, base, map[string]int{"widget_id": 7})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{float64(7)}, decodeBody(t, rec)["widget_ids"])

	rec = s.do(t, http.MethodPost, "/widgets/image", map[string]string{
		"locator":     writeTestPNG(t),
		"description": "sunset",
		"sender":      "alice",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, base+"/7/update", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, []string{"loaded", "cached"}, decodeBody(t, rec)["outcome"])

	rec = s.do(t, http.MethodGet, base+"/7/frame.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "image", rec.Header().Get("X-Widget-State"))
	_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	assert.NoError(t, err)

	rec = s.do(t, http.MethodPut, base+"/7/show-text", map[string]bool{"show": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	show, err := s.store.GetBool(context.Background(), widget.ShowTextKey(7))
	require.NoError(t, err)
	assert.True(t, show)

	rec = s.do(t, http.MethodDelete, base+"/7", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	show, err = s.store.GetBool(context.Background(), widget.ShowTextKey(7))
	require.NoError(t, err)
	assert.False(t, show)

	rec = s.do(t, http.MethodDelete, base+"/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateWithoutImage(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec := s.do(t, http.MethodPost, "/widgets/"+models.ProviderImage+"/3/update", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "placeholder", decodeBody(t, rec)["outcome"])

	frame, ok := s.host.Frame(models.ProviderImage, 3)
	require.True(t, ok)
	assert.Equal(t, widget.StatePlaceholder, frame.State)
}

func TestWidgetRequestErrors(t *testing.T) {
	s := newTestServer(t, nil, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown provider", http.MethodPost, "/widgets/nope/1/update", nil, http.StatusNotFound},
		{"non numeric id", http.MethodPost, "/widgets/" + models.ProviderImage + "/abc/update", nil, http.StatusBadRequest},
		{"reserved id", http.MethodPost, "/widgets/" + models.ProviderImage + "/0/update", nil, http.StatusBadRequest},
		{"missing widget id", http.MethodPost, "/widgets/" + models.ProviderImage, map[string]int{}, http.StatusBadRequest},
		{"negative widget id", http.MethodPost, "/widgets/" + models.ProviderImage, map[string]int{"widget_id": -4}, http.StatusBadRequest},
		{"missing locator", http.MethodPost, "/widgets/image", map[string]string{"sender": "bob"}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/widgets/image", "{not json", http.StatusBadRequest},
		{"missing show flag", http.MethodPut, "/widgets/" + models.ProviderImage + "/2/show-text", map[string]string{}, http.StatusBadRequest},
		{"no frame yet", http.MethodGet, "/widgets/" + models.ProviderImage + "/42/frame.png", nil, http.StatusNotFound},
		{"pin unknown provider", http.MethodPost, "/widgets/nope/pin", map[string]bool{"show_text": true}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestValidationErrorBody(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec := s.do(t, http.MethodPost, "/widgets/image", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Errors []ValidationError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "locator", body.Errors[0].Field)
	assert.Equal(t, "required", body.Errors[0].Code)
}

func TestPinRoutes(t *testing.T) {
	s := newTestServer(t, nil, "")
	base := "/widgets/" + models.ProviderImageWithText

	rec := s.do(t, http.MethodPost, base+"/pin", map[string]bool{"show_text": true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	t.Run("Unresolved without new widgets", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, base+"/pin/callback", map[string]int{})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	})

	t.Run("Explicit widget ID", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, base+"/pin", map[string]bool{"show_text": true})
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = s.do(t, http.MethodPost, base+"/pin/callback", map[string]int{"widget_id": 12})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, float64(12), decodeBody(t, rec)["widget_id"])

		ids, err := s.host.WidgetIDs(context.Background(), models.ProviderImageWithText)
		require.NoError(t, err)
		assert.Equal(t, []int{12}, ids)

		show, err := s.store.GetBool(context.Background(), widget.ShowTextKey(12))
		require.NoError(t, err)
		assert.True(t, show)
	})
}

func TestRequestIDPropagates(t *testing.T) {
	s := newTestServer(t, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/health", strings.NewReader(""))
	req.Header.Set(echo.HeaderXRequestID, "req-123")
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestFrameLastModified(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec := s.do(t, http.MethodPost, "/widgets/"+models.ProviderImage+"/5/update", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/widgets/"+models.ProviderImage+"/5/frame.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	modified, err := http.ParseTime(rec.Header().Get("Last-Modified"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), modified, time.Minute)
}
