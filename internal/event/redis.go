package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/civicflow/civicflow/pkg/models"
)

// EventChannel is the Redis pub/sub channel carrying workflow events to
// out-of-process consumers (dashboards, audit tailers).
const EventChannel = "civicflow:events"

// RedisPublisher mirrors every published event onto Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a Redis event mirror. Attach it to a bus with
// AttachTo.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// AttachTo subscribes the publisher to every event type on the bus.
func (p *RedisPublisher) AttachTo(bus *Bus) {
	bus.RegisterSink(p.Handle)
}

// Handle publishes one event to the Redis channel.
func (p *RedisPublisher) Handle(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}
	if err := p.client.Publish(ctx, EventChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s to redis: %w", event.ID, err)
	}
	return nil
}

// Tail subscribes to the event channel and feeds decoded events to the
// handler until ctx ends. Malformed payloads are skipped.
func (p *RedisPublisher) Tail(ctx context.Context, handler func(*models.Event) error) error {
	pubsub := p.client.Subscribe(ctx, EventChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", EventChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			if err := handler(&event); err != nil {
				continue
			}
		}
	}
}
