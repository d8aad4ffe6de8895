package ws

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/tokmz/qiws/pkg/content"
	"github.com/tokmz/qiws/pkg/route"
)

// EventKind 绑定事件类型
type EventKind int

const (
	// EventOpened 连接建立
	EventOpened EventKind = iota + 1
	// EventClosed 连接关闭
	EventClosed
	// EventMessage 收到消息
	EventMessage
)

// String 返回事件名称
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// invokeFunc 统一后的调用形式
type invokeFunc func(ctx context.Context, uri, clientID string, payload []byte) error

// Binding 控制器方法与 URI 模板的绑定
type Binding struct {
	Kind       EventKind
	Template   string
	Method     string
	Controller any

	handler any
	tpl     *route.Template
	invoke  invokeFunc
}

// newBinding 创建未校验的绑定
func newBinding(kind EventKind, controller any, template string, handler any) *Binding {
	return &Binding{
		Kind:       kind,
		Template:   template,
		Method:     handlerName(handler),
		Controller: controller,
		handler:    handler,
	}
}

// ControllerName 返回控制器类型名
func (b *Binding) ControllerName() string {
	return fmt.Sprintf("%T", b.Controller)
}

// Validate 校验模板与方法签名，通过后绑定才可调用
// 连接事件接受 (uri, clientID)，消息事件接受 (uri, clientID, payload)，payload 类型必须能由 conv 从字节转换
func (b *Binding) Validate(conv content.Converter) error {
	tpl, err := route.Compile(b.Template)
	if err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrInvalidTemplate, err))
	}

	var fn invokeFunc
	switch b.Kind {
	case EventOpened, EventClosed:
		fn, err = lifecycleInvoker(b.handler)
	case EventMessage:
		fn, err = messageInvoker(b.handler, conv)
	default:
		err = fmt.Errorf("%w: unknown event kind %s", ErrUnsupportedHandler, b.Kind)
	}
	if err != nil {
		return b.fail(err)
	}

	b.tpl = tpl
	b.invoke = fn
	return nil
}

func (b *Binding) fail(err error) error {
	return &BindingError{
		Controller: b.ControllerName(),
		Method:     b.Method,
		Kind:       b.Kind,
		Template:   b.Template,
		Err:        err,
	}
}

// Valid 是否已通过校验
func (b *Binding) Valid() bool {
	return b.invoke != nil
}

// Matches 判断 URI 是否匹配绑定模板
func (b *Binding) Matches(uri string) bool {
	return b.tpl != nil && b.tpl.Match(uri)
}

// Params 提取模板参数
func (b *Binding) Params(uri string) (map[string]string, bool) {
	if b.tpl == nil {
		return nil, false
	}
	return b.tpl.Params(uri)
}

// Invoke 调用绑定方法，panic 转换为错误返回
func (b *Binding) Invoke(ctx context.Context, uri, clientID string, payload []byte) (err error) {
	if b.invoke == nil {
		return ErrNilHandler
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return b.invoke(ctx, uri, clientID, payload)
}

// lifecycleInvoker 适配连接事件方法
func lifecycleInvoker(h any) (invokeFunc, error) {
	switch fn := h.(type) {
	case nil:
		return nil, ErrNilHandler
	case func(uri, clientID string):
		if fn == nil {
			return nil, ErrNilHandler
		}
		return func(_ context.Context, uri, clientID string, _ []byte) error {
			fn(uri, clientID)
			return nil
		}, nil
	case func(uri, clientID string) error:
		if fn == nil {
			return nil, ErrNilHandler
		}
		return func(_ context.Context, uri, clientID string, _ []byte) error {
			return fn(uri, clientID)
		}, nil
	case func(ctx context.Context, uri, clientID string) error:
		if fn == nil {
			return nil, ErrNilHandler
		}
		return func(ctx context.Context, uri, clientID string, _ []byte) error {
			return fn(ctx, uri, clientID)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedHandler, h)
	}
}

// messageInvoker 适配消息事件方法
func messageInvoker(h any, conv content.Converter) (invokeFunc, error) {
	switch fn := h.(type) {
	case nil:
		return nil, ErrNilHandler
	case func(uri, clientID string, payload []byte):
		if fn == nil {
			return nil, ErrNilHandler
		}
		return func(_ context.Context, uri, clientID string, payload []byte) error {
			fn(uri, clientID, payload)
			return nil
		}, nil
	case func(uri, clientID string, payload []byte) error:
		if fn == nil {
			return nil, ErrNilHandler
		}
		return func(_ context.Context, uri, clientID string, payload []byte) error {
			return fn(uri, clientID, payload)
		}, nil
	case func(uri, clientID, payload string):
		if fn == nil {
			return nil, ErrNilHandler
		}
		return func(_ context.Context, uri, clientID string, payload []byte) error {
			fn(uri, clientID, string(payload))
			return nil
		}, nil
	case func(uri, clientID, payload string) error:
		if fn == nil {
			return nil, ErrNilHandler
		}
		return func(_ context.Context, uri, clientID string, payload []byte) error {
			return fn(uri, clientID, string(payload))
		}, nil
	case func(ctx context.Context, uri, clientID string, payload []byte) error:
		if fn == nil {
			return nil, ErrNilHandler
		}
		return fn, nil
	case typedHandler:
		if fn.isNil() {
			return nil, ErrNilHandler
		}
		if conv == nil {
			conv = content.Default()
		}
		if !conv.Supports(fn.payloadType()) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedPayload, fn.payloadType())
		}
		return func(ctx context.Context, uri, clientID string, payload []byte) error {
			return fn.call(ctx, conv, uri, clientID, payload)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedHandler, h)
	}
}

// typedHandler 解码后调用的消息方法
type typedHandler interface {
	payloadType() reflect.Type
	call(ctx context.Context, conv content.Converter, uri, clientID string, payload []byte) error
	target() any
	isNil() bool
}

// TypedHandler 负载先经转换器解码为 T 再调用
type TypedHandler[T any] struct {
	fn func(uri, clientID string, payload T) error
}

// Typed 包装接收结构化负载的消息方法
func Typed[T any](fn func(uri, clientID string, payload T) error) *TypedHandler[T] {
	return &TypedHandler[T]{fn: fn}
}

func (h *TypedHandler[T]) payloadType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (h *TypedHandler[T]) call(_ context.Context, conv content.Converter, uri, clientID string, payload []byte) error {
	var v T
	if err := conv.Decode(payload, &v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return h.fn(uri, clientID, v)
}

func (h *TypedHandler[T]) target() any {
	if h == nil {
		return nil
	}
	return h.fn
}

func (h *TypedHandler[T]) isNil() bool {
	return h == nil || h.fn == nil
}

// handlerName 从函数值解析方法名
func handlerName(h any) string {
	if th, ok := h.(typedHandler); ok {
		h = th.target()
	}
	if h == nil {
		return "<nil>"
	}
	v := reflect.ValueOf(h)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Sprintf("<%T>", h)
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "<unknown>"
	}
	name := strings.TrimSuffix(f.Name(), "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
