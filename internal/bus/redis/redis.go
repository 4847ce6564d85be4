// Package redis relays channel events between server instances over Redis pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/channelchat-server/internal/core"
)

// DefaultTopic is the pub/sub channel shared by all instances.
const DefaultTopic = "channelchat:fanout"

const subscriberBuffer = 256

// Bus implements core.Bus on top of a Redis client.
type Bus struct {
	rdb   *goredis.Client
	topic string
	log   *zerolog.Logger

	mu     sync.Mutex
	pubsub *goredis.PubSub
}

// New connects to the Redis server at redisURL and verifies it with PING.
func New(ctx context.Context, redisURL string, logger *zerolog.Logger) (*Bus, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(rdb, DefaultTopic, logger), nil
}

// NewWithClient wraps an existing client. The bus owns it and closes it on Close.
func NewWithClient(rdb *goredis.Client, topic string, logger *zerolog.Logger) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bus{rdb: rdb, topic: topic, log: logger}
}

// Publish sends an envelope to every subscribed instance, including this one.
func (b *Bus) Publish(ctx context.Context, env core.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.topic, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe starts listening on the topic. The returned channel closes when ctx ends or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan core.Envelope, error) {
	pubsub := b.rdb.Subscribe(ctx, b.topic)
	// Wait for the subscription confirmation so nothing published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	out := make(chan core.Envelope, subscriberBuffer)
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
				var env core.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Warn().Err(err).Str("topic", msg.Channel).Msg("drop malformed envelope")
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	b.log.Info().Str("topic", b.topic).Msg("subscribed to fan-out bus")
	return out, nil
}

// Close stops the subscription and closes the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	pubsub := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	var errs []error
	if pubsub != nil {
		errs = append(errs, pubsub.Close())
	}
	errs = append(errs, b.rdb.Close())
	return errors.Join(errs...)
}

var _ core.Bus = (*Bus)(nil)
