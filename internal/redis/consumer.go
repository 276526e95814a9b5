package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

const (
	batchSize      = 10
	blockTimeout   = 5 * time.Second
	readErrorDelay = time.Second
	reconnectDelay = 5 * time.Second
)

var errUnhealthy = errors.New("redis connection unhealthy")

// EventHandler processes one widget event
type EventHandler interface {
	Handle(ctx context.Context, event *models.WidgetEvent) error
}

// Consumer feeds widget events from the stream to an EventHandler
type Consumer struct {
	client  *Client
	handler EventHandler
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewConsumer creates a consumer; call Start to begin reading
func NewConsumer(client *Client, handler EventHandler, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger.With(zap.String("stream", WidgetEventsStream)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start blocks reading the stream until Stop is called. An unhealthy
// connection pauses reading for reconnectDelay.
func (c *Consumer) Start() error {
	c.logger.Info("Widget event consumer started")

	for c.ctx.Err() == nil {
		err := c.poll()
		switch {
		case err == nil:
		case errors.Is(err, errUnhealthy):
			c.logger.Error("Stream read failed, waiting before reconnect",
				zap.Error(err),
				zap.Duration("retry_delay", reconnectDelay))
			c.wait(reconnectDelay)
		default:
			c.logger.Error("Error reading from stream", zap.Error(err))
			c.wait(readErrorDelay)
		}
	}

	c.logger.Info("Widget event consumer stopped")
	return nil
}

// Stop cancels the read loop and any event in progress
func (c *Consumer) Stop() {
	c.logger.Info("Stopping widget event consumer")
	c.cancel()
}

// poll reads one batch and dispatches it
func (c *Consumer) poll() error {
	streams, err := c.client.ReadFromStream(c.ctx, batchSize, blockTimeout)
	if err != nil {
		if c.ctx.Err() != nil {
			return nil
		}
		if !c.client.IsHealthy(c.ctx) {
			return fmt.Errorf("%w: %v", errUnhealthy, err)
		}
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.dispatch(msg)
			c.ack(msg.ID)
		}
	}
	return nil
}

// dispatch runs one event. Malformed and failed events are logged and
// still acknowledged; nothing is redelivered.
func (c *Consumer) dispatch(msg redis.XMessage) {
	logger := c.logger.With(zap.String("message_id", msg.ID))

	event, err := decodeEvent(msg)
	if err != nil {
		logger.Error("Dropping malformed widget event", zap.Error(err))
		return
	}

	logger = logger.With(
		zap.String("type", event.Type),
		zap.String("provider", event.Provider))
	logger.Debug("Widget event received")

	if err := c.handler.Handle(c.ctx, event); err != nil {
		logger.Error("Failed to handle widget event", zap.Error(err))
		return
	}
	logger.Debug("Widget event processed")
}

func (c *Consumer) ack(id string) {
	// Acks must survive Stop so the last batch is not redelivered
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 3*time.Second)
	defer cancel()

	if err := c.client.AcknowledgeMessage(ctx, id); err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.String("message_id", id),
			zap.Error(err))
	}
}

func (c *Consumer) wait(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.ctx.Done():
	}
}

// decodeEvent extracts the JSON payload field of a stream message
func decodeEvent(msg redis.XMessage) (*models.WidgetEvent, error) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, errors.New("message has no payload field")
	}

	var event models.WidgetEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal widget event: %w", err)
	}
	return &event, nil
}
