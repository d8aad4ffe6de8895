package ws

import "context"

// Listener 连接事件监听器
// Opened/Closed 在传输层协程同步调用，Received 在执行器 worker 上调用
type Listener interface {
	Opened(ctx context.Context, endpoint, clientID string) error
	Closed(ctx context.Context, endpoint, clientID string) error
	Received(ctx context.Context, endpoint, clientID string, payload []byte) error
}

// HeartbeatListener 可选扩展：连接回复心跳时在执行器 worker 上调用
type HeartbeatListener interface {
	Heartbeat(ctx context.Context, endpoint, clientID string) error
}

// ListenerFuncs 函数适配器，未设置的回调视为空操作
type ListenerFuncs struct {
	OnOpened   func(ctx context.Context, endpoint, clientID string) error
	OnClosed   func(ctx context.Context, endpoint, clientID string) error
	OnReceived func(ctx context.Context, endpoint, clientID string, payload []byte) error
}

// Opened 实现 Listener
func (f *ListenerFuncs) Opened(ctx context.Context, endpoint, clientID string) error {
	if f.OnOpened == nil {
		return nil
	}
	return f.OnOpened(ctx, endpoint, clientID)
}

// Closed 实现 Listener
func (f *ListenerFuncs) Closed(ctx context.Context, endpoint, clientID string) error {
	if f.OnClosed == nil {
		return nil
	}
	return f.OnClosed(ctx, endpoint, clientID)
}

// Received 实现 Listener
func (f *ListenerFuncs) Received(ctx context.Context, endpoint, clientID string, payload []byte) error {
	if f.OnReceived == nil {
		return nil
	}
	return f.OnReceived(ctx, endpoint, clientID, payload)
}
