package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/tokmz/qiws/pkg/logger"
	"go.uber.org/zap"
)

// RedisBroker 基于 Redis PUBLISH/SUBSCRIBE 的 Broker
// 客户端由调用方持有，Close 不会关闭客户端
type RedisBroker struct {
	client  redis.UniversalClient
	channel string
	logger  logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker 创建 Redis Broker
func NewRedisBroker(client redis.UniversalClient, channel string, opts ...BrokerOption) (*RedisBroker, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}
	if channel == "" {
		channel = "qiws:relay"
	}
	return &RedisBroker{
		client:  client,
		channel: channel,
		logger:  newBrokerOptions(opts).logger,
		done:    make(chan struct{}),
	}, nil
}

// Publish 实现 Broker
func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	select {
	case <-b.done:
		return ErrBrokerClosed
	default:
	}

	data, err := Encode(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe 实现 Broker
func (b *RedisBroker) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// 等待订阅确认
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBrokerClosed
		case msg, ok := <-ch:
			if !ok {
				return ErrBrokerClosed
			}
			if env, ok := decode(b.logger, "redis", []byte(msg.Payload), zap.String("channel", msg.Channel)); ok {
				handler(ctx, env)
			}
		}
	}
}

// Close 实现 Broker
func (b *RedisBroker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
