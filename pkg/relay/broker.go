package relay

import (
	"context"
	"sync"

	"github.com/tokmz/qiws/pkg/logger"
	"go.uber.org/zap"
)

// Handler 处理收到的信封
type Handler func(ctx context.Context, env Envelope)

// Broker 节点间消息通道
type Broker interface {
	// Publish 发布信封
	Publish(ctx context.Context, env Envelope) error
	// Subscribe 订阅信封并阻塞，直到 ctx 结束或 Broker 关闭
	Subscribe(ctx context.Context, handler Handler) error
	// Close 关闭 Broker
	Close() error
}

// BrokerOption Broker 选项
type BrokerOption func(*brokerOptions)

type brokerOptions struct {
	logger logger.Logger
}

// WithBrokerLogger 设置 Broker 日志，用于记录无法解码的消息
func WithBrokerLogger(l logger.Logger) BrokerOption {
	return func(o *brokerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func newBrokerOptions(opts []BrokerOption) brokerOptions {
	o := brokerOptions{logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// decode 解码收到的消息，失败时记录日志并丢弃
func decode(log logger.Logger, broker string, data []byte, fields ...zap.Field) (Envelope, bool) {
	env, err := Decode(data)
	if err != nil {
		log.Warn("relay envelope dropped", append([]zap.Field{
			zap.String("broker", broker),
			zap.Int("size", len(data)),
			zap.Error(err),
		}, fields...)...)
		return Envelope{}, false
	}
	return env, true
}

// MemoryBroker 进程内 Broker，多个 Relay 共享同一实例即可模拟多节点
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	buffer int
	closed bool
	done   chan struct{}
	logger logger.Logger
}

type memorySub struct {
	ch chan []byte
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker 创建进程内 Broker，buffer 为每个订阅者的缓冲大小
func NewMemoryBroker(buffer int, opts ...BrokerOption) *MemoryBroker {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryBroker{
		subs:   make(map[*memorySub]struct{}),
		buffer: buffer,
		done:   make(chan struct{}),
		logger: newBrokerOptions(opts).logger,
	}
}

// Publish 实现 Broker，编码后投递给全部订阅者
func (b *MemoryBroker) Publish(_ context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}

	var full bool
	for sub := range b.subs {
		select {
		case sub.ch <- data:
		default:
			full = true
		}
	}
	if full {
		return ErrBufferFull
	}
	return nil
}

// Subscribe 实现 Broker
func (b *MemoryBroker) Subscribe(ctx context.Context, handler Handler) error {
	sub := &memorySub{ch: make(chan []byte, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBrokerClosed
		case data := <-sub.ch:
			if env, ok := decode(b.logger, "memory", data); ok {
				handler(ctx, env)
			}
		}
	}
}

// Subscribers 当前订阅者数量
func (b *MemoryBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 实现 Broker
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
