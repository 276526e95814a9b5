package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	messagingScope  = "https://www.googleapis.com/auth/firebase.messaging"
	endpointPattern = "https://fcm.googleapis.com/v1/projects/%s/messages:send"
)

// Message is one push notification addressed to a single device token
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers push notifications
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendError is returned when the messaging endpoint rejects a message
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("fcm send failed with status %d: %s", e.StatusCode, e.Body)
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// FCMClient sends messages through the FCM HTTP v1 API
type FCMClient struct {
	httpClient *http.Client
	endpoint   string
	logger     *zap.Logger
}

// NewFCMClient authenticates with a service-account JSON key. endpoint
// overrides the URL derived from the key's project ID when set.
func NewFCMClient(ctx context.Context, serviceAccount []byte, endpoint string, logger *zap.Logger) (*FCMClient, error) {
	creds, err := google.CredentialsFromJSON(ctx, serviceAccount, messagingScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account: %w", err)
	}

	if endpoint == "" {
		if creds.ProjectID == "" {
			return nil, fmt.Errorf("service account has no project_id")
		}
		endpoint = fmt.Sprintf(endpointPattern, creds.ProjectID)
	}

	return NewFCMClientWithTokenSource(ctx, creds.TokenSource, endpoint, logger), nil
}

// NewFCMClientWithTokenSource builds a client around an existing token source
func NewFCMClientWithTokenSource(ctx context.Context, ts oauth2.TokenSource, endpoint string, logger *zap.Logger) *FCMClient {
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = 10 * time.Second

	return &FCMClient{
		httpClient: httpClient,
		endpoint:   endpoint,
		logger:     logger,
	}
}

// Send posts one message
func (c *FCMClient) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(fcmRequest{
		Message: fcmMessage{
			Token:        msg.Token,
			Notification: fcmNotification{Title: msg.Title, Body: msg.Body},
			Data:         msg.Data,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	c.logger.Debug("FCM message sent", zap.Int("status", resp.StatusCode))
	return nil
}
