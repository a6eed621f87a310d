package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChannel delivers live pushes over redis pub/sub. Connected clients
// subscribe to their per-user channel through the chat gateway.
type RedisChannel struct {
	client *redis.Client
}

func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client}
}

// UserChannel is the pub/sub channel a recipient listens on.
func UserChannel(recipientID int64) string {
	return fmt.Sprintf("notify:user:%d", recipientID)
}

// Push publishes the payload to the recipient's channel. A recipient with no
// subscribers is not an error; redis reports zero receivers and the durable
// record covers retrieval.
func (c *RedisChannel) Push(ctx context.Context, recipientID int64, payload PushPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal push payload: %w", err)
	}
	if err := c.client.Publish(ctx, UserChannel(recipientID), body).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}
