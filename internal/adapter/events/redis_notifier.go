package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/trentmillar/keystone-net/internal/lifecycle"
)

// RedisNotifier publishes lifecycle events onto a Redis channel so external
// consumers can react to sign-ins and sign-outs. It never claims the event:
// downstream notifiers still run.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

var _ lifecycle.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier constructs a Redis-backed event publisher.
func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Publish serializes the event and fires it onto the channel.
func (n *RedisNotifier) Publish(ctx context.Context, event lifecycle.Event) (bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return false, fmt.Errorf("publish event: %w", err)
	}
	return false, nil
}
