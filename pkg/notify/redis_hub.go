package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"momflow/pkg/domain"
)

// RedisHub publishes notifications on a per-user Redis channel so every
// instance can serve a user's websocket.
type RedisHub struct {
	client *redis.Client
	prefix string
}

func NewRedisHub(client *redis.Client, prefix string) *RedisHub {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "momflow:notify"
	}
	return &RedisHub{client: client, prefix: prefix}
}

func (h *RedisHub) channel(userID uint) string {
	return fmt.Sprintf("%s:%d", h.prefix, userID)
}

func (h *RedisHub) Publish(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := h.client.Publish(ctx, h.channel(n.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, userID uint) (<-chan domain.Notification, func(), error) {
	pubsub := h.client.Subscribe(ctx, h.channel(userID))
	// Wait for the subscription confirmation so no publish is missed after return.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe notifications: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan domain.Notification, subscriberBuffer)
	msgs := pubsub.Channel()
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n domain.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					slog.Warn("notification_decode_failed", "channel", msg.Channel, "err", err)
					continue
				}
				select {
				case out <- n:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}
