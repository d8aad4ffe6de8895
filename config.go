package qiws

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/relay"
	"github.com/tokmz/qiws/pkg/ws"
	"go.opentelemetry.io/otel/trace"
)

// ServerConfig 服务器配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string

	// ReadTimeout 读取超时
	ReadTimeout time.Duration

	// WriteTimeout 写入超时，WebSocket 连接升级后不受此限制
	WriteTimeout time.Duration

	// IdleTimeout 空闲超时
	IdleTimeout time.Duration

	// MaxHeaderBytes 最大请求头字节数
	MaxHeaderBytes int
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 10 秒
	Timeout time.Duration

	// BeforeShutdown 关机前回调
	BeforeShutdown func()

	// AfterShutdown 关机后回调
	AfterShutdown func()
}

// Config 应用配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string

	// Server 服务器配置
	Server ServerConfig

	// Shutdown 关机配置
	Shutdown ShutdownConfig

	// TrustedProxies 信任的代理 IP
	TrustedProxies []string

	// HealthPath 健康检查路径，空字符串表示不注册
	HealthPath string

	// Logger 日志实例，nil 时不输出
	Logger logger.Logger

	// TracerProvider 为 nil 时使用全局 Provider
	TracerProvider trace.TracerProvider

	// Tracing 是否为 HTTP 请求启用链路追踪中间件
	Tracing bool

	// WS WebSocket 分发选项
	WS []ws.Option

	// Broker 跨节点转发通道，nil 表示单节点
	Broker relay.Broker

	// Relay 转发选项
	Relay []relay.Option

	// Handshake WebSocket 握手限流，nil 表示不限流
	Handshake *RateLimitConfig

	// Banner 启动时是否打印 banner
	Banner bool
}

// Option 配置选项函数
type Option func(*Config)

// defaultConfig 返回默认配置
func defaultConfig() *Config {
	return &Config{
		Mode: gin.DebugMode,
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		HealthPath: "/healthz",
		Banner:     true,
	}
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

// WithReadTimeout 设置读取超时
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.ReadTimeout = timeout
	}
}

// WithWriteTimeout 设置写入超时
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.WriteTimeout = timeout
	}
}

// WithIdleTimeout 设置空闲超时
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.IdleTimeout = timeout
	}
}

// WithMaxHeaderBytes 设置最大请求头字节数
func WithMaxHeaderBytes(size int) Option {
	return func(c *Config) {
		c.Server.MaxHeaderBytes = size
	}
}

// WithShutdownTimeout 设置关机超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithHealthPath 设置健康检查路径
func WithHealthPath(path string) Option {
	return func(c *Config) {
		c.HealthPath = path
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithTracing 启用链路追踪，tp 为 nil 时使用全局 Provider
func WithTracing(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.Tracing = true
		c.TracerProvider = tp
	}
}

// WithWS 追加 WebSocket 分发选项
func WithWS(opts ...ws.Option) Option {
	return func(c *Config) {
		c.WS = append(c.WS, opts...)
	}
}

// WithRelay 启用跨节点转发
func WithRelay(broker relay.Broker, opts ...relay.Option) Option {
	return func(c *Config) {
		c.Broker = broker
		c.Relay = append(c.Relay, opts...)
	}
}

// WithHandshakeLimit 按客户端 IP 限制握手频率
func WithHandshakeLimit(rps float64, burst int) Option {
	return func(c *Config) {
		c.Handshake = &RateLimitConfig{RequestsPerSecond: rps, Burst: burst}
	}
}

// WithBanner 设置是否打印 banner
func WithBanner(enable bool) Option {
	return func(c *Config) {
		c.Banner = enable
	}
}
