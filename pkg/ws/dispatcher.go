package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/tokmz/qiws/pkg/content"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/tokmz/qiws/pkg/ws"

// Publisher 出站消息接口
type Publisher interface {
	// PublishText 向端点全部连接广播文本帧，返回成功写入数
	PublishText(endpoint, msg string) int
	// PublishBinary 向端点全部连接广播二进制帧，返回成功写入数
	PublishBinary(endpoint string, msg []byte) int
	// SendText 向单个连接发送文本帧
	SendText(endpoint, clientID, msg string) bool
	// SendBinary 向单个连接发送二进制帧
	SendBinary(endpoint, clientID string, msg []byte) bool
}

// Dispatcher 事件分发中心
// 持有连接注册表与有序监听器列表。加锁顺序固定为 Dispatcher -> Registry，监听器代码从不在锁内执行
type Dispatcher struct {
	mu        sync.Mutex
	listeners []Listener

	registry *Registry
	executor Executor
	pool     *WorkerPool // 由 Dispatcher 创建并负责关闭

	config    *Config
	logger    logger.Logger
	tracer    trace.Tracer
	metrics   Metrics
	converter content.Converter
}

var _ Publisher = (*Dispatcher)(nil)

// NewDispatcher 创建分发中心
func NewDispatcher(opts ...Option) (*Dispatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return NewDispatcherWithConfig(config)
}

// NewDispatcherWithConfig 使用完整配置创建分发中心
func NewDispatcherWithConfig(config *Config) (*Dispatcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if config.Converter == nil {
		config.Converter = content.Default()
	}

	d := &Dispatcher{
		config:    config,
		logger:    config.Logger,
		tracer:    config.TracerProvider.Tracer(tracerName),
		metrics:   config.Metrics,
		converter: config.Converter,
	}
	d.registry = NewRegistry(
		WithRegistryMaxConnections(config.MaxConnections),
		WithRegistryLogger(config.Logger),
		WithRegistryMetrics(config.Metrics),
	)

	d.executor = config.Executor
	if d.executor == nil {
		d.pool = NewWorkerPool(config.ExecutorConfig.Workers, config.ExecutorConfig.QueueSize, config.Logger)
		d.executor = d.pool
	}
	return d, nil
}

// Registry 返回连接注册表
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Executor 返回执行器
func (d *Dispatcher) Executor() Executor { return d.executor }

// Config 返回配置
func (d *Dispatcher) Config() *Config { return d.config }

// Logger 返回日志
func (d *Dispatcher) Logger() logger.Logger { return d.logger }

// Converter 返回负载转换器
func (d *Dispatcher) Converter() content.Converter { return d.converter }

// Listeners 返回已注册监听器数量
func (d *Dispatcher) Listeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// RegisterListener 注册监听器
// 返回前会同步向新监听器重放所有在线连接的 Opened 事件。允许重复注册
func (d *Dispatcher) RegisterListener(l Listener) {
	if l == nil {
		return
	}

	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	live := d.registry.All()
	d.mu.Unlock()

	for _, c := range live {
		ctx := logger.WithConnection(context.Background(), c.Endpoint, c.ClientID)
		endpoint, clientID := c.Endpoint, c.ClientID
		d.call(ctx, l, "opened", func() error {
			return l.Opened(ctx, endpoint, clientID)
		})
	}
}

// UnregisterListener 移除首个匹配的监听器，不重放 Closed 事件
func (d *Dispatcher) UnregisterListener(l Listener) bool {
	if l == nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, item := range d.listeners {
		if item == l {
			listeners := make([]Listener, 0, len(d.listeners)-1)
			listeners = append(listeners, d.listeners[:i]...)
			d.listeners = append(listeners, d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// HandleOpen 传输层回调：连接建立
func (d *Dispatcher) HandleOpen(endpoint string, conn Conn) (string, error) {
	d.mu.Lock()
	clientID, err := d.registry.Register(endpoint, conn)
	if err != nil {
		d.mu.Unlock()
		d.logger.Warn("ws register connection failed", zap.String("endpoint", endpoint), zap.Error(err))
		return "", err
	}
	listeners := d.listeners
	d.mu.Unlock()

	ctx := logger.WithConnection(context.Background(), endpoint, clientID)
	d.logger.DebugContext(ctx, "ws connection opened")
	for _, l := range listeners {
		l := l
		d.call(ctx, l, "opened", func() error {
			return l.Opened(ctx, endpoint, clientID)
		})
	}
	return clientID, nil
}

// HandleClose 传输层回调：连接关闭
func (d *Dispatcher) HandleClose(endpoint string, conn Conn) {
	d.mu.Lock()
	clientID, ok := d.registry.Unregister(endpoint, conn)
	if !ok {
		d.mu.Unlock()
		return
	}
	listeners := d.listeners
	d.mu.Unlock()

	ctx := logger.WithConnection(context.Background(), endpoint, clientID)
	d.logger.DebugContext(ctx, "ws connection closed")
	for _, l := range listeners {
		l := l
		d.call(ctx, l, "closed", func() error {
			return l.Closed(ctx, endpoint, clientID)
		})
	}
}

// HandleFrame 传输层回调：收到数据帧
// 每个监听器的处理作为独立任务提交到执行器，不在传输层协程内执行
func (d *Dispatcher) HandleFrame(endpoint string, conn Conn, data []byte, isText bool) {
	c, ok := d.registry.lookupConn(conn)
	if !ok || c.Endpoint != endpoint {
		d.logger.Debug("ws frame from unregistered connection", zap.String("endpoint", endpoint))
		return
	}
	d.metrics.IncrementReceived()

	d.mu.Lock()
	listeners := d.listeners
	d.mu.Unlock()

	ctx := logger.WithConnection(context.Background(), endpoint, c.ClientID)
	for _, l := range listeners {
		d.dispatchAsync(ctx, l, endpoint, c.ClientID, data, isText)
	}
}

// HandlePong 传输层回调：收到心跳回复
// 仅通知实现 HeartbeatListener 的监听器
func (d *Dispatcher) HandlePong(endpoint string, conn Conn) {
	c, ok := d.registry.lookupConn(conn)
	if !ok || c.Endpoint != endpoint {
		return
	}

	d.mu.Lock()
	listeners := d.listeners
	d.mu.Unlock()

	ctx := logger.WithConnection(context.Background(), endpoint, c.ClientID)
	for _, l := range listeners {
		hl, ok := l.(HeartbeatListener)
		if !ok {
			continue
		}
		l := l
		task := func() {
			d.call(ctx, l, "heartbeat", func() error {
				return hl.Heartbeat(ctx, endpoint, c.ClientID)
			})
		}
		if err := d.executor.Submit(task); err != nil {
			d.logger.DebugContext(ctx, "ws heartbeat dropped",
				zap.String("listener", fmt.Sprintf("%T", l)),
				zap.Error(err),
			)
		}
	}
}

// dispatchAsync 提交单个监听器的消息处理任务
func (d *Dispatcher) dispatchAsync(ctx context.Context, l Listener, endpoint, clientID string, payload []byte, isText bool) {
	task := func() {
		ctx, span := d.tracer.Start(ctx, "ws.received",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("ws.endpoint", endpoint),
				attribute.String("ws.client_id", clientID),
				attribute.String("ws.listener", fmt.Sprintf("%T", l)),
				attribute.Bool("ws.text", isText),
				attribute.Int("ws.payload_size", len(payload)),
			),
		)
		defer span.End()

		d.call(ctx, l, "received", func() error {
			return l.Received(ctx, endpoint, clientID, payload)
		})
	}

	if err := d.executor.Submit(task); err != nil {
		d.metrics.IncrementDroppedMessages()
		d.logger.WarnContext(ctx, "ws message dropped",
			zap.String("listener", fmt.Sprintf("%T", l)),
			zap.Error(err),
		)
	}
}

// call 隔离单个监听器调用，错误与 panic 仅记录日志
func (d *Dispatcher) call(ctx context.Context, l Listener, event string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			d.listenerFailed(ctx, l, event, &PanicError{Value: r})
		}
	}()
	if err := fn(); err != nil {
		d.listenerFailed(ctx, l, event, err)
	}
}

func (d *Dispatcher) listenerFailed(ctx context.Context, l Listener, event string, err error) {
	d.metrics.IncrementCallbackErrors()
	tracing.RecordError(trace.SpanFromContext(ctx), err)
	d.logger.ErrorContext(ctx, "ws listener failed",
		zap.String("listener", fmt.Sprintf("%T", l)),
		zap.String("event", event),
		zap.Error(err),
	)
}

// PublishText 广播文本帧
func (d *Dispatcher) PublishText(endpoint, msg string) int {
	if endpoint == "" {
		d.logger.Warn("ws publish ignored: empty endpoint")
		return 0
	}
	return d.registry.PublishText(endpoint, msg)
}

// PublishBinary 广播二进制帧，nil 负载视为空操作
func (d *Dispatcher) PublishBinary(endpoint string, msg []byte) int {
	if endpoint == "" || msg == nil {
		d.logger.Warn("ws publish ignored: empty endpoint or nil message", zap.String("endpoint", endpoint))
		return 0
	}
	return d.registry.PublishBinary(endpoint, msg)
}

// SendText 单播文本帧
func (d *Dispatcher) SendText(endpoint, clientID, msg string) bool {
	if endpoint == "" || clientID == "" {
		d.logger.Warn("ws send ignored: empty endpoint or client id",
			zap.String("endpoint", endpoint),
			zap.String("client_id", clientID),
		)
		return false
	}
	return d.registry.SendText(endpoint, clientID, msg)
}

// SendBinary 单播二进制帧，nil 负载视为空操作
func (d *Dispatcher) SendBinary(endpoint, clientID string, msg []byte) bool {
	if endpoint == "" || clientID == "" || msg == nil {
		d.logger.Warn("ws send ignored: empty endpoint, client id or nil message",
			zap.String("endpoint", endpoint),
			zap.String("client_id", clientID),
		)
		return false
	}
	return d.registry.SendBinary(endpoint, clientID, msg)
}

// Close 关闭分发中心，等待已提交的消息任务执行完毕
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.pool == nil {
		return nil
	}
	return d.pool.Close(ctx)
}
