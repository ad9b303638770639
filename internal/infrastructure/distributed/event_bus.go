package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is the message published for every room lifecycle event.
type Event struct {
	Type       domain.RoomEventType `json:"type"`
	InstanceID string               `json:"instance_id"`
	Timestamp  time.Time            `json:"timestamp"`
	RoomID     domain.RoomID        `json:"room_id"`
	PeerID     domain.PeerID        `json:"peer_id,omitempty"`
	Room       domain.RoomInfo      `json:"room"`
}

// EventBus fans room lifecycle events out over Redis pub/sub so other
// instances and external consumers can follow room state.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

var _ ports.RoomEventPublisher = (*EventBus)(nil)

func NewEventBus(client redis.UniversalClient, channel, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

func (eb *EventBus) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	data, err := json.Marshal(eb.envelope(event))
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish room event: %w", err)
	}

	eb.logger.Debugw("published room event",
		"type", event.Type,
		"room_id", event.RoomID,
		"peer_id", event.PeerID,
	)
	return nil
}

// HandleRoomEvent publishes with a bounded deadline. It is subscribed as a
// room event hook; a failure surfaces on the dispatcher's error channel.
func (eb *EventBus) HandleRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return eb.PublishRoomEvent(ctx, event)
}

func (eb *EventBus) envelope(event domain.RoomEvent) Event {
	ts := event.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		Type:       event.Type,
		InstanceID: eb.instanceID,
		Timestamp:  ts,
		RoomID:     event.RoomID,
		PeerID:     event.PeerID,
		Room:       event.Room,
	}
}

// Subscribe delivers events published by other instances to handler until
// ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("event bus subscription closed")
			}
			eb.deliver(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) deliver(payload string, handler func(*Event) error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("failed to unmarshal room event", "error", err, "payload", utils.TruncateString(payload, 256))
		return
	}
	if event.InstanceID == eb.instanceID {
		return
	}
	if err := handler(&event); err != nil {
		eb.logger.Warnw("error handling remote room event",
			"type", event.Type,
			"room_id", event.RoomID,
			"instance_id", event.InstanceID,
			"error", err,
		)
	}
}
