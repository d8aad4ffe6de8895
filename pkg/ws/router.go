package ws

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tokmz/qiws/pkg/content"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/route"
	"github.com/tokmz/qiws/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Router 控制器事件路由
// 作为 Dispatcher 的监听器，将事件按 URI 模板分派到控制器方法
type Router struct {
	d *Dispatcher

	// 三组绑定均为写时复制，分派时只读取快照
	mu      sync.RWMutex
	opened  []*Binding
	closed  []*Binding
	message []*Binding

	out     Publisher
	conv    content.Converter
	logger  logger.Logger
	tracer  trace.Tracer
	metrics Metrics
	started atomic.Bool
}

var (
	_ Listener  = (*Router)(nil)
	_ Publisher = (*Router)(nil)
)

// RouterOption 路由选项
type RouterOption func(*Router)

// WithRouterConverter 设置负载转换器
func WithRouterConverter(conv content.Converter) RouterOption {
	return func(r *Router) {
		if conv != nil {
			r.conv = conv
		}
	}
}

// WithRouterLogger 设置日志
func WithRouterLogger(l logger.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPublisher 设置出站发布器，默认直接写入 Dispatcher 的本地连接
func WithPublisher(p Publisher) RouterOption {
	return func(r *Router) {
		if p != nil {
			r.out = p
		}
	}
}

// NewRouter 创建路由
func NewRouter(d *Dispatcher, opts ...RouterOption) *Router {
	r := &Router{
		d:       d,
		out:     d,
		conv:    d.converter,
		logger:  d.logger,
		tracer:  d.tracer,
		metrics: d.metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 将路由注册到 Dispatcher
func (r *Router) Start() {
	if r.started.CompareAndSwap(false, true) {
		r.d.RegisterListener(r)
	}
}

// Stop 从 Dispatcher 注销路由
func (r *Router) Stop() {
	if r.started.CompareAndSwap(true, false) {
		r.d.UnregisterListener(r)
	}
}

// Bind 绑定控制器
// 校验失败的声明不会安装，错误记录日志并返回，其余声明继续处理
func (r *Router) Bind(c Controller) []error {
	if c == nil {
		return []error{ErrNilController}
	}

	routes := &Routes{}
	c.Routes(routes)

	prefix := ""
	if p, ok := c.(Prefixer); ok {
		prefix = p.Prefix()
	}

	var (
		errs                    []error
		opened, closed, message []*Binding
	)
	for _, decl := range routes.decls {
		b := newBinding(decl.kind, c, route.Join(prefix, decl.path), decl.handler)
		if err := b.Validate(r.conv); err != nil {
			r.logger.Error("ws binding rejected",
				zap.String("controller", b.ControllerName()),
				zap.String("method", b.Method),
				zap.String("event", b.Kind.String()),
				zap.String("template", b.Template),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		switch b.Kind {
		case EventOpened:
			opened = append(opened, b)
		case EventClosed:
			closed = append(closed, b)
		case EventMessage:
			message = append(message, b)
		}
	}

	r.mu.Lock()
	r.opened = appendCopy(r.opened, opened)
	r.closed = appendCopy(r.closed, closed)
	r.message = appendCopy(r.message, message)
	r.mu.Unlock()

	r.logger.Info("ws controller bound",
		zap.String("controller", fmt.Sprintf("%T", c)),
		zap.Int("bindings", len(opened)+len(closed)+len(message)),
		zap.Int("rejected", len(errs)),
	)
	return errs
}

// Unbind 解绑控制器的全部绑定，返回移除数量
// 已在执行中的调用正常结束，返回后不再有新事件分派到该控制器
func (r *Router) Unbind(c Controller) int {
	if c == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	r.opened, removed = removeController(r.opened, c, removed)
	r.closed, removed = removeController(r.closed, c, removed)
	r.message, removed = removeController(r.message, c, removed)
	return removed
}

func appendCopy(dst, src []*Binding) []*Binding {
	if len(src) == 0 {
		return dst
	}
	out := make([]*Binding, 0, len(dst)+len(src))
	out = append(out, dst...)
	return append(out, src...)
}

func removeController(list []*Binding, c Controller, removed int) ([]*Binding, int) {
	out := make([]*Binding, 0, len(list))
	for _, b := range list {
		if b.Controller == any(c) {
			removed++
			continue
		}
		out = append(out, b)
	}
	return out, removed
}

// Bindings 返回指定事件类型的绑定快照
func (r *Router) Bindings(kind EventKind) []*Binding {
	list := r.snapshot(kind)
	out := make([]*Binding, len(list))
	copy(out, list)
	return out
}

// Templates 返回全部已绑定的 URI 模板（去重、字典序）
func (r *Router) Templates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, list := range [][]*Binding{r.opened, r.closed, r.message} {
		for _, b := range list {
			seen[b.Template] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Router) snapshot(kind EventKind) []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case EventOpened:
		return r.opened
	case EventClosed:
		return r.closed
	case EventMessage:
		return r.message
	}
	return nil
}

// Opened 实现 Listener
func (r *Router) Opened(ctx context.Context, endpoint, clientID string) error {
	r.dispatch(ctx, EventOpened, endpoint, clientID, nil)
	return nil
}

// Closed 实现 Listener
func (r *Router) Closed(ctx context.Context, endpoint, clientID string) error {
	r.dispatch(ctx, EventClosed, endpoint, clientID, nil)
	return nil
}

// Received 实现 Listener，由 Dispatcher 在执行器 worker 上调用
func (r *Router) Received(ctx context.Context, endpoint, clientID string, payload []byte) error {
	r.dispatch(ctx, EventMessage, endpoint, clientID, payload)
	return nil
}

func (r *Router) dispatch(ctx context.Context, kind EventKind, uri, clientID string, payload []byte) {
	for _, b := range r.snapshot(kind) {
		params, ok := b.Params(uri)
		if !ok {
			continue
		}
		r.invoke(withParams(ctx, params), b, uri, clientID, payload)
	}
}

// invoke 调用单个绑定，失败只记录日志，不向 Dispatcher 传播
func (r *Router) invoke(ctx context.Context, b *Binding, uri, clientID string, payload []byte) {
	ctx, span := r.tracer.Start(ctx, "ws.invoke",
		trace.WithAttributes(
			attribute.String("ws.controller", b.ControllerName()),
			attribute.String("ws.method", b.Method),
			attribute.String("ws.event", b.Kind.String()),
			attribute.String("ws.template", b.Template),
			attribute.String("ws.endpoint", uri),
		),
	)
	defer span.End()

	if err := b.Invoke(ctx, uri, clientID, payload); err != nil {
		r.metrics.IncrementCallbackErrors()
		tracing.RecordError(span, err)
		r.logger.ErrorContext(ctx, "ws binding invocation failed",
			zap.String("controller", b.ControllerName()),
			zap.String("method", b.Method),
			zap.String("event", b.Kind.String()),
			zap.String("endpoint", uri),
			zap.Error(err),
		)
	}
}

// PublishText 广播文本帧
func (r *Router) PublishText(endpoint, msg string) int {
	return r.out.PublishText(endpoint, msg)
}

// PublishBinary 广播二进制帧
func (r *Router) PublishBinary(endpoint string, msg []byte) int {
	return r.out.PublishBinary(endpoint, msg)
}

// PublishValue 广播结构化值，nil 编码为 "null"
func (r *Router) PublishValue(endpoint string, v any) int {
	data, err := r.conv.Encode(v)
	if err != nil {
		r.logger.Error("ws encode failed", zap.String("endpoint", endpoint), zap.Error(err))
		return 0
	}
	return r.out.PublishText(endpoint, string(data))
}

// SendText 单播文本帧
func (r *Router) SendText(endpoint, clientID, msg string) bool {
	return r.out.SendText(endpoint, clientID, msg)
}

// SendBinary 单播二进制帧
func (r *Router) SendBinary(endpoint, clientID string, msg []byte) bool {
	return r.out.SendBinary(endpoint, clientID, msg)
}

// SendValue 单播结构化值，nil 编码为 "null"
func (r *Router) SendValue(endpoint, clientID string, v any) bool {
	data, err := r.conv.Encode(v)
	if err != nil {
		r.logger.Error("ws encode failed",
			zap.String("endpoint", endpoint),
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return false
	}
	return r.out.SendText(endpoint, clientID, string(data))
}
