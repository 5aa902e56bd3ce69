package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel carries every frame published by RedisPusher.
const DefaultChannel = "smajobb:notifications"

type envelope struct {
	UserID    snowflake.ID `json:"user_id,omitempty"`
	Broadcast bool         `json:"broadcast,omitempty"`
	Event     Event        `json:"event"`
}

// RedisPusher publishes frames so that every API instance can deliver them to
// its own sessions through a RedisRelay.
type RedisPusher struct {
	client  *redis.Client
	channel string
}

func NewRedisPusher(client *redis.Client, channel string) *RedisPusher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPusher{client: client, channel: channel}
}

func (p *RedisPusher) PushToUser(ctx context.Context, userID snowflake.ID, event Event) error {
	if userID == 0 {
		return ErrInvalidReceiver
	}
	return p.publish(ctx, envelope{UserID: userID, Event: event})
}

func (p *RedisPusher) Broadcast(ctx context.Context, event Event) error {
	return p.publish(ctx, envelope{Broadcast: true, Event: event})
}

func (p *RedisPusher) publish(ctx context.Context, env envelope) error {
	if p == nil || p.client == nil {
		return ErrHubUnavailable
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// RedisRelay feeds frames published on the channel into the local hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     *zap.Logger
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, log *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		log:     log.Named("notification.relay"),
	}
}

// Run blocks until ctx is cancelled or the subscription closes.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	var err error
	if env.Broadcast {
		err = r.hub.Broadcast(ctx, env.Event)
	} else {
		err = r.hub.PushToUser(ctx, env.UserID, env.Event)
	}
	if err != nil && !errors.Is(err, ErrNoSubscribers) {
		r.log.Debug("relay delivery incomplete",
			zap.String("user_id", env.UserID.String()),
			zap.String("type", env.Event.Type),
			zap.Error(err),
		)
	}
}
