package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GinMiddleware 创建 gin 请求日志中间件
func GinMiddleware(l Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		ctx := c.Request.Context()

		// 根据状态码选择日志级别
		// WebSocket 升级成功返回 101，连接的生命周期日志由 ws 包负责
		switch {
		case status >= 500:
			l.ErrorContext(ctx, "HTTP Request", fields...)
		case status >= 400:
			l.WarnContext(ctx, "HTTP Request", fields...)
		default:
			l.InfoContext(ctx, "HTTP Request", fields...)
		}
	}
}
