package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	EventNotification = "notification"
	EventBroadcast    = "broadcast"
)

var (
	ErrNoSubscribers   = errors.New("no_subscribers")
	ErrBackpressure    = errors.New("subscriber_backpressure")
	ErrHubUnavailable  = errors.New("hub_unavailable")
	ErrInvalidReceiver = errors.New("invalid_receiver")
)

// Event is one frame delivered to connected sessions.
type Event struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sent_at"`
}

func NewEvent(eventType string, data any, sentAt time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw, SentAt: sentAt.UTC()}, nil
}

// Pusher delivers frames to connected sessions. Delivery is advisory: the
// durable notification row is the source of truth.
type Pusher interface {
	PushToUser(ctx context.Context, userID snowflake.ID, event Event) error
	Broadcast(ctx context.Context, event Event) error
}
