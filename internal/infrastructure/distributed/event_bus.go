package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"roomrec/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type EventType string

const (
	EventRecordingChanged EventType = "recording.changed"
)

// Event is what replicas exchange over the redis channel. It never carries
// participant tokens.
type Event struct {
	Type       EventType               `json:"type"`
	InstanceID string                  `json:"instance_id"`
	Timestamp  time.Time               `json:"timestamp"`
	SessionID  domain.SessionID        `json:"session_id"`
	Previous   domain.RecordingStatus  `json:"previous"`
	Recording  domain.RecordingSession `json:"recording"`
}

// EventBus publishes recording events to other replicas and receives theirs.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

func NewEventBus(client redis.UniversalClient, keyPrefix, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    keyPrefix + ":events",
		logger:     logger,
	}
}

func (eb *EventBus) Channel() string { return eb.channel }

func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"session_id", event.SessionID,
		"status", event.Recording.Status,
	)
	return nil
}

// PublishRecordingChanged implements ports.EventPublisher.
func (eb *EventBus) PublishRecordingChanged(ctx context.Context, id domain.SessionID, prev, next domain.RecordingSession) error {
	return eb.Publish(ctx, &Event{
		Type:      EventRecordingChanged,
		SessionID: id,
		Previous:  prev.Status,
		Recording: next,
	})
}

// Subscribe delivers events from other instances to handler until ctx is
// done. ready, when non-nil, is closed once the subscription is active.
func (eb *EventBus) Subscribe(ctx context.Context, ready chan<- struct{}, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	if ready != nil {
		close(ready)
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
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}
