package notification

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel receives every balance change published by RedisNotifier.
const DefaultRedisChannel = "tokenledger:balance"

// RedisNotifier publishes balance changes on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier builds a notifier publishing to channel (DefaultRedisChannel when empty).
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	payload, err := encode(message)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
