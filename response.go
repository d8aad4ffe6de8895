package qiws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/logger"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`               // 业务状态码
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID（可选）
}

// NewResponse 创建响应
func NewResponse(code int, data any, message string) *Response {
	return &Response{
		Code:    code,
		Data:    data,
		Message: message,
	}
}

// WithTraceID 设置追踪ID
func (r *Response) WithTraceID(traceID string) *Response {
	r.TraceID = traceID
	return r
}

// Success 创建成功响应
func Success(data any) *Response {
	return NewResponse(http.StatusOK, data, "success")
}

// Fail 创建失败响应
func Fail(code int, message string) *Response {
	return NewResponse(code, nil, message)
}

// abortWithError 以统一格式写出错误并终止请求
func abortWithError(c *gin.Context, err *errors.Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	resp := Fail(err.Code, err.Message).WithTraceID(logger.TraceIDFromContext(c.Request.Context()))
	c.AbortWithStatusJSON(status, resp)
}
