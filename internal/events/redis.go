package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher publishes events as JSON on a Redis pub/sub channel so that
// API processes other than the scheduler can relay them to browsers.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisClient parses a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, goerr.Wrap(err, "redis ping failed", goerr.V("addr", opts.Addr))
	}
	return client, nil
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Publish sends e; failures are logged and swallowed.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("failed to encode event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("channel", p.channel), zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

// Relay subscribes to the channel and forwards decoded events to dst until ctx ends.
func (p *RedisPublisher) Relay(ctx context.Context, dst Publisher) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return goerr.Wrap(err, "failed to subscribe", goerr.V("channel", p.channel))
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
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				p.logger.Warn("discarding malformed event", zap.Error(err))
				continue
			}
			dst.Publish(ctx, e)
		}
	}
}
