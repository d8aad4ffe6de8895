// Package relay 在多个节点之间转发出站消息
//
// 每个节点持有自己的 ws.Dispatcher，连接只注册在接入的节点上。
// Relay 包装本地发布器：广播先写本地连接再转发给其他节点；
// 单播在本地找不到目标连接时才转发。Run 订阅 Broker 并在本地重放其他节点的信封。
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/ws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Relay 跨节点发布器
type Relay struct {
	local   ws.Publisher
	broker  Broker
	node    string
	timeout time.Duration
	logger  logger.Logger
	tracer  trace.Tracer
}

var _ ws.Publisher = (*Relay)(nil)

// Option Relay 选项
type Option func(*Relay)

// WithNode 设置节点标识，默认随机生成
func WithNode(node string) Option {
	return func(r *Relay) {
		if node != "" {
			r.node = node
		}
	}
}

// WithPublishTimeout 设置转发超时
func WithPublishTimeout(timeout time.Duration) Option {
	return func(r *Relay) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracerProvider 设置 TracerProvider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Relay) {
		if tp != nil {
			r.tracer = tp.Tracer("qiws.relay")
		}
	}
}

// New 创建 Relay
func New(local ws.Publisher, broker Broker, opts ...Option) *Relay {
	r := &Relay{
		local:   local,
		broker:  broker,
		node:    uuid.NewString(),
		timeout: 5 * time.Second,
		logger:  logger.Nop(),
		tracer:  otel.Tracer("qiws.relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Node 返回节点标识
func (r *Relay) Node() string {
	return r.node
}

// PublishText 实现 ws.Publisher，返回本地写入数
func (r *Relay) PublishText(endpoint, msg string) int {
	n := r.local.PublishText(endpoint, msg)
	r.forward(endpoint, "", false, []byte(msg))
	return n
}

// PublishBinary 实现 ws.Publisher，返回本地写入数
func (r *Relay) PublishBinary(endpoint string, msg []byte) int {
	n := r.local.PublishBinary(endpoint, msg)
	r.forward(endpoint, "", true, msg)
	return n
}

// SendText 实现 ws.Publisher
// 本地未命中时转发，返回值只反映本地结果
func (r *Relay) SendText(endpoint, clientID, msg string) bool {
	if r.local.SendText(endpoint, clientID, msg) {
		return true
	}
	if !r.unicast(endpoint, clientID) {
		return false
	}
	r.forward(endpoint, clientID, false, []byte(msg))
	return false
}

// SendBinary 实现 ws.Publisher
func (r *Relay) SendBinary(endpoint, clientID string, msg []byte) bool {
	if r.local.SendBinary(endpoint, clientID, msg) {
		return true
	}
	if !r.unicast(endpoint, clientID) || msg == nil {
		return false
	}
	r.forward(endpoint, clientID, true, msg)
	return false
}

// unicast 校验单播目标，空 clientID 不转发
func (r *Relay) unicast(endpoint, clientID string) bool {
	if clientID == "" {
		r.logger.Warn("relay send without client id dropped", zap.String("endpoint", endpoint))
		return false
	}
	return true
}

// forward 转发到其他节点，失败只记录日志
func (r *Relay) forward(endpoint, clientID string, binary bool, data []byte) {
	if endpoint == "" || data == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "relay.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("ws.endpoint", endpoint),
			attribute.Bool("relay.unicast", clientID != ""),
		),
	)
	defer span.End()

	env := newEnvelope(ctx, r.node, endpoint, clientID, binary, data)
	if err := r.broker.Publish(ctx, env); err != nil {
		tracing.RecordError(span, err)
		r.logger.WarnContext(ctx, "relay publish failed",
			zap.String("endpoint", endpoint),
			zap.String("client_id", clientID),
			zap.Error(err),
		)
	}
}

// Run 订阅 Broker 并在本地投递其他节点的信封，阻塞直到 ctx 结束
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started", zap.String("node", r.node))
	err := r.broker.Subscribe(ctx, r.apply)
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrBrokerClosed) {
		err = nil
	}
	r.logger.Info("relay stopped", zap.String("node", r.node), zap.Error(err))
	return err
}

// apply 在本地投递信封，忽略本节点发出的信封
func (r *Relay) apply(ctx context.Context, env Envelope) {
	if env.Node == r.node {
		return
	}

	ctx, span := r.tracer.Start(env.Context(ctx), "relay.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("ws.endpoint", env.Endpoint),
			attribute.String("relay.node", env.Node),
		),
	)
	defer span.End()

	var delivered int
	switch {
	case env.Broadcast() && env.Binary:
		delivered = r.local.PublishBinary(env.Endpoint, env.Data)
	case env.Broadcast():
		delivered = r.local.PublishText(env.Endpoint, string(env.Data))
	case env.Binary:
		if r.local.SendBinary(env.Endpoint, env.ClientID, env.Data) {
			delivered = 1
		}
	default:
		if r.local.SendText(env.Endpoint, env.ClientID, string(env.Data)) {
			delivered = 1
		}
	}
	span.SetAttributes(attribute.Int("relay.delivered", delivered))

	r.logger.DebugContext(ctx, "relay delivered",
		zap.String("from", env.Node),
		zap.String("endpoint", env.Endpoint),
		zap.Int("delivered", delivered),
	)
}

// Close 关闭 Broker
func (r *Relay) Close() error {
	return r.broker.Close()
}
