package ws

import (
	"errors"
	"fmt"
)

// 错误定义
var (
	// 连接相关错误
	ErrTooManyConnections = errors.New("ws: too many connections")
	ErrClientIDExists     = errors.New("ws: client id already exists")
	ErrConnExists         = errors.New("ws: connection already registered")
	ErrNilConn            = errors.New("ws: nil connection")
	ErrEmptyEndpoint      = errors.New("ws: empty endpoint")
	ErrEmptyClientID      = errors.New("ws: empty client id")
	ErrConnectionClosed   = errors.New("ws: connection closed")
	ErrChannelFull        = errors.New("ws: send channel full")
	ErrOriginNotAllowed   = errors.New("ws: origin not allowed")

	// 执行器相关错误
	ErrExecutorFull   = errors.New("ws: executor queue full")
	ErrExecutorClosed = errors.New("ws: executor closed")

	// 绑定相关错误
	ErrNilHandler         = errors.New("ws: nil handler")
	ErrUnsupportedHandler = errors.New("ws: unsupported handler signature")
	ErrUnsupportedPayload = errors.New("ws: payload type cannot be converted from bytes")
	ErrInvalidTemplate    = errors.New("ws: invalid uri template")
	ErrNilController      = errors.New("ws: nil controller")

	// 配置相关错误
	ErrInvalidConfig = errors.New("ws: invalid config")
)

// BindingError 绑定校验失败
type BindingError struct {
	Controller string
	Method     string
	Kind       EventKind
	Template   string
	Err        error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("ws: bind %s.%s (%s %s): %v", e.Controller, e.Method, e.Kind, e.Template, e.Err)
}

// Unwrap 实现 errors.Unwrap 接口
func (e *BindingError) Unwrap() error {
	return e.Err
}

// PanicError 回调发生 panic
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("ws: panic: %v", e.Value)
}
