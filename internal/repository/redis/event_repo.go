package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"callsession-backend/internal/database"
	"callsession-backend/internal/domain"
)

// EventRepository fans call events out over Redis Pub/Sub, one channel per room
type EventRepository struct {
	client *database.RedisClient
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(client *database.RedisClient) *EventRepository {
	return &EventRepository{client: client}
}

// RoomChannel returns the Pub/Sub channel carrying a room's call events
func RoomChannel(roomID uuid.UUID) string {
	return "call-events:room:" + roomID.String()
}

// Publish sends an event to the room channel
func (r *EventRepository) Publish(ctx context.Context, event *domain.CallEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal call event: %w", err)
	}

	if err := r.client.SafePublish(ctx, RoomChannel(event.RoomID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish call event: %w", err)
	}
	return nil
}

// Subscribe streams the raw payloads published to a room channel until ctx
// is cancelled, then closes the returned channel.
func (r *EventRepository) Subscribe(ctx context.Context, roomID uuid.UUID) (<-chan []byte, error) {
	pubsub := r.client.SafeSubscribe(ctx, RoomChannel(roomID))
	if pubsub == nil {
		return nil, database.ErrDegraded
	}

	// Wait for the subscription confirmation so callers learn about a dead link now
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to call events: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
