// Package errors 定义 HTTP 握手与配置阶段返回给调用方的错误码
package errors

import "errors"

// Error 带错误码与 HTTP 状态的错误
// 预定义错误是共享实例，附加信息需通过 WithError 或 WithMessage 得到副本
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

var (
	ErrServer             = New(1000, "服务器异常", 500)
	ErrBadRequest         = New(1001, "请求异常", 400)
	ErrUnauthorized       = New(1002, "授权异常", 401)
	ErrForbidden          = New(1003, "禁止访问", 403)
	ErrNotFound           = New(1004, "资源不存在", 404)
	ErrServiceUnavailable = New(1005, "服务繁忙", 503) // 连接数已满
	ErrUpgrade            = New(1006, "WebSocket 握手失败", 400)
	ErrConfig             = New(1007, "配置错误", 500)
	ErrTooManyRequests    = New(1008, "请求过于频繁", 429) // 握手限流
)

// New 创建错误，status 缺省为 200
func New(code int, message string, status ...int) *Error {
	e := &Error{Code: code, Message: message, Status: 200}
	if len(status) > 0 {
		e.Status = status[0]
	}
	return e
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Is 同为 *Error 时按错误码比较
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Err, target)
}

// WithError 返回附带原始错误的副本
func (e *Error) WithError(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithMessage 返回替换提示信息的副本
func (e *Error) WithMessage(message string) *Error {
	cp := *e
	cp.Message = message
	return &cp
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
