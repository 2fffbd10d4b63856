// Package pubsub доставляет топики инвалидации от API клиентам через Redis Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"feedhub/internal/infra/metrics"
)

// DefaultChannel — канал Redis по умолчанию.
const DefaultChannel = "feed:invalidate"

// Event — сообщение в канале.
type Event struct {
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
}

// RedisBus публикует и принимает топики инвалидации.
type RedisBus struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
	now     func() time.Time
}

// NewRedisBus создаёт шину.
func NewRedisBus(client *redis.Client, channel string, logger zerolog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{client: client, channel: channel, log: logger, now: time.Now}
}

// Send публикует каждый топик отдельным сообщением.
func (b *RedisBus) Send(ctx context.Context, topics []string) error {
	for _, topic := range topics {
		payload, err := json.Marshal(Event{Topic: topic, At: b.now().UTC()})
		if err != nil {
			return err
		}
		start := time.Now()
		err = b.client.Publish(ctx, b.channel, payload).Err()
		metrics.ObserveNetworkRequest("redis", "publish", b.channel, start, err)
		if err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe вызывает handler для каждого топика, пока ctx не отменён.
// Битые сообщения пропускаются.
func (b *RedisBus) Subscribe(ctx context.Context, handler func(topic string)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Msg("pubsub: subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			topic, err := Decode(msg.Payload)
			if err != nil {
				b.log.Warn().Err(err).Msg("pubsub: skip malformed event")
				continue
			}
			handler(topic)
		}
	}
}

// Decode разбирает сообщение канала.
func Decode(payload string) (string, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return "", err
	}
	if ev.Topic == "" {
		return "", fmt.Errorf("empty topic")
	}
	return ev.Topic, nil
}
