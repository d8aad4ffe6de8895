package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tokmz/qiws/pkg/content"
	"github.com/tokmz/qiws/pkg/logger"
	"go.opentelemetry.io/otel/trace"
)

// Config WebSocket 配置
type Config struct {
	// 连接配置
	MaxConnections   int           // 最大连接数，0 表示不限制
	HandshakeTimeout time.Duration // 握手超时时间
	MaxMessageSize   int64         // 最大消息大小

	// 心跳配置
	HeartbeatInterval time.Duration // 心跳间隔
	HeartbeatTimeout  time.Duration // 心跳超时
	WriteTimeout      time.Duration // 单帧写超时

	// 消息配置
	MessageQueueSize int // 单连接发送队列大小

	// 执行器配置
	ExecutorConfig ExecutorConfig

	// Upgrader 配置
	UpgraderConfig UpgraderConfig

	// 监控
	Metrics Metrics

	// 日志
	Logger logger.Logger

	// 链路追踪，nil 时使用全局 TracerProvider
	TracerProvider trace.TracerProvider

	// 负载转换
	Converter content.Converter

	// 执行器，nil 时按 ExecutorConfig 创建 WorkerPool
	Executor Executor
}

// ExecutorConfig 执行器配置
type ExecutorConfig struct {
	Workers   int // worker 数量
	QueueSize int // 积压队列大小
}

// UpgraderConfig Upgrader 配置
type UpgraderConfig struct {
	ReadBufferSize    int                      // 读缓冲区大小
	WriteBufferSize   int                      // 写缓冲区大小
	CheckOrigin       func(*http.Request) bool // Origin 检查函数
	EnableCompression bool                     // 是否启用压缩
	AllowedOrigins    []string                 // 允许的 Origin 白名单
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		HandshakeTimeout:  10 * time.Second,
		MaxMessageSize:    512 * 1024, // 512KB
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		WriteTimeout:      10 * time.Second,
		MessageQueueSize:  256,
		ExecutorConfig: ExecutorConfig{
			Workers:   32,
			QueueSize: 4096,
		},
		UpgraderConfig: UpgraderConfig{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			CheckOrigin:       nil, // 将在 NewUpgrader 中设置
			EnableCompression: false,
			AllowedOrigins:    nil, // 默认为 nil，使用同源检查
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: MaxConnections must not be negative, got %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: HandshakeTimeout must be positive, got %v", ErrInvalidConfig, c.HandshakeTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: MaxMessageSize must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: HeartbeatInterval must be positive, got %v", ErrInvalidConfig, c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			ErrInvalidConfig, c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: WriteTimeout must be positive, got %v", ErrInvalidConfig, c.WriteTimeout)
	}
	if c.MessageQueueSize <= 0 {
		return fmt.Errorf("%w: MessageQueueSize must be positive, got %d", ErrInvalidConfig, c.MessageQueueSize)
	}

	// 验证执行器配置
	if c.Executor == nil {
		if c.ExecutorConfig.Workers <= 0 {
			return fmt.Errorf("%w: ExecutorConfig.Workers must be positive, got %d", ErrInvalidConfig, c.ExecutorConfig.Workers)
		}
		if c.ExecutorConfig.QueueSize < 0 {
			return fmt.Errorf("%w: ExecutorConfig.QueueSize must not be negative, got %d", ErrInvalidConfig, c.ExecutorConfig.QueueSize)
		}
	}

	// 验证 Upgrader 配置
	if c.UpgraderConfig.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: UpgraderConfig.ReadBufferSize must be positive, got %d", ErrInvalidConfig, c.UpgraderConfig.ReadBufferSize)
	}
	if c.UpgraderConfig.WriteBufferSize <= 0 {
		return fmt.Errorf("%w: UpgraderConfig.WriteBufferSize must be positive, got %d", ErrInvalidConfig, c.UpgraderConfig.WriteBufferSize)
	}

	return nil
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithHeartbeatInterval 设置心跳间隔
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
	}
}

// WithHeartbeatTimeout 设置心跳超时
func WithHeartbeatTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatTimeout = timeout
	}
}

// WithWriteTimeout 设置写超时
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = timeout
	}
}

// WithMessageSizeLimit 设置消息大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithMessageQueueSize 设置消息队列大小
func WithMessageQueueSize(size int) Option {
	return func(c *Config) {
		c.MessageQueueSize = size
	}
}

// WithWorkers 设置执行器 worker 数量与积压队列大小
func WithWorkers(workers, queueSize int) Option {
	return func(c *Config) {
		c.ExecutorConfig.Workers = workers
		c.ExecutorConfig.QueueSize = queueSize
	}
}

// WithExecutor 使用自定义执行器
func WithExecutor(e Executor) Option {
	return func(c *Config) {
		c.Executor = e
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithTracerProvider 设置 TracerProvider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// WithConverter 设置负载转换器
func WithConverter(conv content.Converter) Option {
	return func(c *Config) {
		c.Converter = conv
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
// 示例：WithCheckOriginWhitelist([]string{"https://example.com", "https://app.example.com"})
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.UpgraderConfig.AllowedOrigins = allowedOrigins
		// 自动设置 CheckOrigin 函数
		c.UpgraderConfig.CheckOrigin = createWhitelistChecker(allowedOrigins)
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境，生产环境禁用）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithEnableCompression 启用压缩
func WithEnableCompression(enable bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.EnableCompression = enable
	}
}

// defaultCheckOrigin 默认 Origin 检查（同源策略）
// 生产环境建议使用 WithCheckOriginWhitelist 设置白名单
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// 严格模式：拒绝空 Origin
		// 如需允许非浏览器客户端，使用 WithAllowAllOrigins()
		return false
	}
	// 同源检查
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	// 构建白名单 map 用于快速查找
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 白名单模式下拒绝空 Origin
			return false
		}
		// 检查是否在白名单中
		return whitelist[origin]
	}
}

// Upgrader WebSocket 升级器
type Upgrader struct {
	upgrader websocket.Upgrader
}

// NewUpgrader 创建升级器
func NewUpgrader(config UpgraderConfig, handshakeTimeout time.Duration) *Upgrader {
	// 如果没有设置 CheckOrigin，使用默认的同源检查
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		if len(config.AllowedOrigins) > 0 {
			// 如果设置了白名单，使用白名单检查
			checkOrigin = createWhitelistChecker(config.AllowedOrigins)
		} else {
			// 否则使用默认的同源检查
			checkOrigin = defaultCheckOrigin
		}
	}

	return &Upgrader{
		upgrader: websocket.Upgrader{
			HandshakeTimeout:  handshakeTimeout,
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			CheckOrigin:       checkOrigin,
			EnableCompression: config.EnableCompression,
		},
	}
}

// Upgrade 升级 HTTP 连接为 WebSocket
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, header http.Header) (*websocket.Conn, error) {
	return u.upgrader.Upgrade(w, r, header)
}

// CheckOrigin 执行 Origin 检查
func (u *Upgrader) CheckOrigin(r *http.Request) bool {
	return u.upgrader.CheckOrigin(r)
}
