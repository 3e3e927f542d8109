package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the Redis channel room publications travel on.
const DefaultChannel = "giftline:rooms"

// RedisPublisher relays room publications through Redis pub/sub so every
// instance fans them out to its own connections.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	local   *Hub
	log     zerolog.Logger
}

type envelope struct {
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// NewRedisPublisher connects to redisURL and relays into the local hub.
func NewRedisPublisher(ctx context.Context, redisURL string, local *Hub, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisPublisher{
		client:  client,
		channel: DefaultChannel,
		local:   local,
		log:     logger.With().Str("component", "redis-relay").Logger(),
	}, nil
}

// Publish sends a publication to every subscribed instance.
func (p *RedisPublisher) Publish(ctx context.Context, room string, payload []byte) error {
	data, err := encodeEnvelope(room, payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Relay subscribes to the channel and queues every publication on the local
// hub until ctx is cancelled.
func (p *RedisPublisher) Relay(ctx context.Context) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room, payload, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				p.log.Warn().Err(err).Msg("dropping malformed publication")
				continue
			}
			if err := p.local.Publish(ctx, room, payload); err != nil {
				p.log.Warn().Err(err).Str("room", room).Msg("local publish failed")
			}
		}
	}
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func encodeEnvelope(room string, payload []byte) ([]byte, error) {
	return json.Marshal(envelope{Room: room, Payload: payload})
}

func decodeEnvelope(data []byte) (string, []byte, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return "", nil, err
	}
	if e.Room == "" {
		return "", nil, fmt.Errorf("publication without room")
	}
	return e.Room, e.Payload, nil
}
