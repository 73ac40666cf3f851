package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"estate_chat/pkg/logger"
)

// RedisBroker рассылает события между инстансами через Redis Pub/Sub
type RedisBroker struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

func NewRedisBroker(client *redis.Client, channel string, log logger.Logger) *RedisBroker {
	return &RedisBroker{
		client:  client,
		channel: channel,
		log:     log,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish delivery: %w", err)
	}
	return nil
}

// Subscribe блокируется до отмены ctx
func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(Delivery)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// ждем подтверждения подписки, иначе первые события могут потеряться
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.log.Info("Subscribed to events channel", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("events channel %s closed", b.channel)
			}

			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.log.Warn("Failed to decode delivery", "error", err)
				continue
			}
			deliver(d)
		}
	}
}
