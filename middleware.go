package qiws

import (
	"net"
	"os"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/logger"
	"go.uber.org/zap"
)

// Recovery 创建 panic 恢复中间件
// panic 时返回统一响应格式（500），并记录错误日志
func Recovery(log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				// 检查是否为断开的连接（客户端主动断开）
				if isBrokenPipe(err) {
					log.Error("broken pipe",
						zap.Any("error", err),
						zap.String("path", c.Request.URL.Path),
					)
					c.Abort()
					return
				}

				log.ErrorContext(c.Request.Context(), "panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
					zap.String("stack", string(debug.Stack())),
				)

				abortWithError(c, errors.ErrServer)
			}
		}()
		c.Next()
	}
}

// isBrokenPipe 检查是否为断开的连接错误
func isBrokenPipe(err any) bool {
	ne, ok := err.(*net.OpError)
	if !ok {
		return false
	}
	se, ok := ne.Err.(*os.SyscallError)
	if !ok {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
