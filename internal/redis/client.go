package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zatomos/krab-relay/internal/config"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

// Stream and channel names
const (
	WidgetEventsStream = "krab:widget_events"
	AppEventsChannel   = "krab:app_events"
)

// FrameChannel returns the pub/sub channel a widget's frames are published on
func FrameChannel(provider string, widgetID int) string {
	return fmt.Sprintf("widget:%s:%d", provider, widgetID)
}

// Client wraps the Redis client for stream and pub/sub operations
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
}

// NewClient connects to Redis and makes sure the event consumer group exists
func NewClient(cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = defaultConsumerName()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	c := &Client{client: rdb, config: cfg, logger: logger}
	if err := c.initializeConsumerGroup(ctx); err != nil {
		logger.Warn("Failed to initialize consumer group", zap.Error(err))
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("consumer_name", cfg.ConsumerName))
	return c, nil
}

// defaultConsumerName is unique per process so replicas share the group
func defaultConsumerName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "krab-relay"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Raw exposes the underlying connection for components sharing it
func (c *Client) Raw() *redis.Client {
	return c.client
}

// PublishFrame publishes a rendered frame to the widget's channel
func (c *Client) PublishFrame(ctx context.Context, frame *models.FrameResult) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	channel := FrameChannel(frame.Provider, frame.WidgetID)
	if err := c.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}

	c.logger.Debug("Published frame",
		zap.String("channel", channel),
		zap.String("state", frame.State))

	return nil
}

// PublishAppEvent notifies the application
func (c *Client) PublishAppEvent(ctx context.Context, event models.AppEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal app event: %w", err)
	}

	if err := c.client.Publish(ctx, AppEventsChannel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", AppEventsChannel, err)
	}

	c.logger.Debug("Published app event",
		zap.String("type", event.Type),
		zap.String("provider", event.Provider),
		zap.Int("widget_id", event.WidgetID))

	return nil
}

// EnqueueEvent appends a widget event to the stream
func (c *Client) EnqueueEvent(ctx context.Context, event *models.WidgetEvent) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal widget event: %w", err)
	}

	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: WidgetEventsStream,
		Values: map[string]interface{}{"payload": string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add widget event: %w", err)
	}
	return id, nil
}

// initializeConsumerGroup creates the consumer group for the widget events stream
func (c *Client) initializeConsumerGroup(ctx context.Context) error {
	// "0" delivers events queued before the first start
	err := c.client.XGroupCreateMkStream(ctx, WidgetEventsStream, c.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Consumer group initialized",
		zap.String("stream", WidgetEventsStream),
		zap.String("group", c.config.ConsumerGroup))

	return nil
}

// ReadFromStream reads undelivered widget events for this consumer
func (c *Client) ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{WidgetEventsStream, ">"},
		Count:    count,
		Block:    block,
		NoAck:    false,
	}).Result()

	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	return streams, nil
}

// AcknowledgeMessage acknowledges a message from the stream
func (c *Client) AcknowledgeMessage(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, WidgetEventsStream, c.config.ConsumerGroup, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", messageID, err)
	}

	return nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
