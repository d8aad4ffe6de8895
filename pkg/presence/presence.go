// Package presence 将连接事件同步到在线成员存储
//
// Listener 实现 ws.Listener，注册到 Dispatcher 后：
// Opened 写入成员，Closed 移除成员，Received 与 Heartbeat 刷新活跃时间。
// 空闲但仍回复心跳的连接保持在线，TTL 应大于传输层心跳间隔。
// 延迟注册时 Dispatcher 会为全部在线连接重放 Opened，从而重建在线列表。
package presence

import (
	"context"
	"time"

	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/ws"
	"go.uber.org/zap"
)

// Listener 在线状态监听器
type Listener struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger
}

var (
	_ ws.Listener          = (*Listener)(nil)
	_ ws.HeartbeatListener = (*Listener)(nil)
)

// Option 监听器选项
type Option func(*Listener)

// WithTTL 设置活跃窗口，窗口内无消息也无心跳的成员不再视为在线，0 表示不过期
func WithTTL(ttl time.Duration) Option {
	return func(l *Listener) {
		l.ttl = ttl
	}
}

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(l *Listener) {
		if log != nil {
			l.logger = log
		}
	}
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(l *Listener) {
		if now != nil {
			l.now = now
		}
	}
}

// NewListener 创建在线状态监听器
func NewListener(store Store, opts ...Option) *Listener {
	l := &Listener{
		store:  store,
		ttl:    90 * time.Second,
		now:    time.Now,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Opened 实现 ws.Listener
func (l *Listener) Opened(ctx context.Context, endpoint, clientID string) error {
	return l.store.Touch(ctx, endpoint, clientID, l.now())
}

// Closed 实现 ws.Listener
func (l *Listener) Closed(ctx context.Context, endpoint, clientID string) error {
	return l.store.Remove(ctx, endpoint, clientID)
}

// Received 实现 ws.Listener，刷新活跃时间
func (l *Listener) Received(ctx context.Context, endpoint, clientID string, _ []byte) error {
	l.refresh(ctx, endpoint, clientID, "message")
	return nil
}

// Heartbeat 实现 ws.HeartbeatListener，刷新活跃时间
func (l *Listener) Heartbeat(ctx context.Context, endpoint, clientID string) error {
	l.refresh(ctx, endpoint, clientID, "heartbeat")
	return nil
}

// refresh 刷新失败不影响消息处理
func (l *Listener) refresh(ctx context.Context, endpoint, clientID, source string) {
	if err := l.store.Touch(ctx, endpoint, clientID, l.now()); err != nil {
		l.logger.WarnContext(ctx, "presence refresh failed", zap.String("source", source), zap.Error(err))
	}
}

// Members 返回端点的在线成员
func (l *Listener) Members(ctx context.Context, endpoint string) ([]string, error) {
	var since time.Time
	if l.ttl > 0 {
		since = l.now().Add(-l.ttl)
	}
	return l.store.Members(ctx, endpoint, since)
}

// Online 判断成员是否在线
func (l *Listener) Online(ctx context.Context, endpoint, clientID string) (bool, error) {
	members, err := l.Members(ctx, endpoint)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == clientID {
			return true, nil
		}
	}
	return false, nil
}

// Clear 清空端点的在线成员
func (l *Listener) Clear(ctx context.Context, endpoint string) error {
	return l.store.Clear(ctx, endpoint)
}
