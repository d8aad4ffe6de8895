package qiws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tokmz/qiws/pkg/config"
	"github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/presence"
	"github.com/tokmz/qiws/pkg/relay"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/ws"
	"go.uber.org/zap"
)

// FileConfig 配置文件结构
type FileConfig struct {
	Mode    string                `mapstructure:"mode"`
	Server  ServerFileConfig      `mapstructure:"server"`
	WS      WSFileConfig          `mapstructure:"ws"`
	Log     LogFileConfig         `mapstructure:"log"`
	Tracing TracingFileConfig     `mapstructure:"tracing"`
	Redis   *presence.RedisConfig `mapstructure:"redis"`
	Relay   RelayFileConfig       `mapstructure:"relay"`
}

// ServerFileConfig HTTP 服务配置
type ServerFileConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HealthPath      string        `mapstructure:"health_path"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

// WSFileConfig WebSocket 配置
type WSFileConfig struct {
	MaxConnections    int           `mapstructure:"max_connections"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
	Workers           int           `mapstructure:"workers"`
	Backlog           int           `mapstructure:"backlog"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	Compression       bool          `mapstructure:"compression"`
	HandshakeRate     float64       `mapstructure:"handshake_rate"` // 每个 IP 每秒握手数，0 表示不限
	HandshakeBurst    int           `mapstructure:"handshake_burst"`
}

// LogFileConfig 日志配置
type LogFileConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, console
	File       string `mapstructure:"file"`   // 为空时只输出到控制台
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// TracingFileConfig 链路追踪配置
type TracingFileConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	Exporter     string  `mapstructure:"exporter"` // otlp, otlp-grpc, stdout, noop
	Endpoint     string  `mapstructure:"endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// RelayFileConfig 跨节点转发配置
type RelayFileConfig struct {
	Driver  string             `mapstructure:"driver"` // 为空表示单节点；memory, redis, kafka, amqp
	Node    string             `mapstructure:"node"`
	Channel string             `mapstructure:"channel"` // redis 频道
	Kafka   *relay.KafkaConfig `mapstructure:"kafka"`
	AMQP    *relay.AMQPConfig  `mapstructure:"amqp"`
}

// LoadConfig 读取配置文件，环境变量前缀为 QIWS（如 QIWS_SERVER_ADDR）
// path 为空时在当前目录与 ./config 下查找 qiws.yaml
func LoadConfig(path string, opts ...config.Option) (*FileConfig, error) {
	c := config.New(append(sourceOptions(path), opts...)...)
	if err := c.Load(); err != nil {
		return nil, err
	}
	defer c.Close()
	return decodeFileConfig(c)
}

// sourceOptions 配置源的公共选项
func sourceOptions(path string) []config.Option {
	opts := []config.Option{
		config.WithEnvPrefix("QIWS"),
		config.WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
		config.WithDefaults(map[string]any{
			"log.level":  "info",
			"log.format": "json",
		}),
	}
	if path != "" {
		return append(opts, config.WithConfigFile(path))
	}
	return append(opts,
		config.WithConfigName("qiws"),
		config.WithConfigType("yaml"),
		config.WithConfigPaths(".", "./config"),
	)
}

func decodeFileConfig(c *config.Config) (*FileConfig, error) {
	var fc FileConfig
	if err := c.Unmarshal(&fc); err != nil {
		return nil, errors.ErrConfig.WithError(err).WithMessage(fmt.Sprintf("解析配置失败: %v", err))
	}
	return &fc, nil
}

// HotConfig 运行中可调整的配置项
type HotConfig struct {
	LogLevel       string
	HandshakeRate  float64
	HandshakeBurst int
}

// readHot 读取可热更新的配置项
func readHot(c *config.Config) HotConfig {
	return HotConfig{
		LogLevel:       config.Get[string](c, "log.level"),
		HandshakeRate:  config.Get[float64](c, "ws.handshake_rate"),
		HandshakeBurst: config.Get[int](c, "ws.handshake_burst"),
	}
}

// WatchConfig 监听配置文件，变更后将日志级别与握手限流应用到 Engine
// 其余配置项需重启生效；返回的 Config 在退出时 Close
func WatchConfig(path string, e *Engine, opts ...config.Option) (*config.Config, error) {
	opts = append(sourceOptions(path), opts...)
	opts = append(opts,
		config.WithLogger(e.logger),
		config.WithOnChange(func(c *config.Config) {
			e.Reload(readHot(c))
		}),
	)
	c := config.New(opts...)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload 应用可热更新的配置项
func (e *Engine) Reload(hc HotConfig) {
	level, ok := logger.ParseLevel(hc.LogLevel)
	if !ok {
		e.logger.Warn("unknown log level, using info", zap.String("level", hc.LogLevel))
	}
	e.logger.SetLevel(level)
	e.handshake.SetLimit(hc.HandshakeRate, hc.HandshakeBurst)

	rps, burst := e.handshake.Limit()
	e.logger.Info("config reloaded",
		zap.String("log_level", level.String()),
		zap.Float64("handshake_rate", rps),
		zap.Int("handshake_burst", burst),
	)
}

// Options 转换为 Engine 选项
func (f *FileConfig) Options() []Option {
	var opts []Option
	if f.Mode != "" {
		opts = append(opts, WithMode(f.Mode))
	}

	s := f.Server
	if s.Addr != "" {
		opts = append(opts, WithAddr(s.Addr))
	}
	if s.ReadTimeout > 0 {
		opts = append(opts, WithReadTimeout(s.ReadTimeout))
	}
	if s.WriteTimeout > 0 {
		opts = append(opts, WithWriteTimeout(s.WriteTimeout))
	}
	if s.IdleTimeout > 0 {
		opts = append(opts, WithIdleTimeout(s.IdleTimeout))
	}
	if s.ShutdownTimeout > 0 {
		opts = append(opts, WithShutdownTimeout(s.ShutdownTimeout))
	}
	if s.HealthPath != "" {
		opts = append(opts, WithHealthPath(s.HealthPath))
	}
	if len(s.TrustedProxies) > 0 {
		opts = append(opts, WithTrustedProxies(s.TrustedProxies...))
	}

	if f.WS.HandshakeRate > 0 {
		opts = append(opts, WithHandshakeLimit(f.WS.HandshakeRate, f.WS.HandshakeBurst))
	}
	if wsOpts := f.WS.Options(); len(wsOpts) > 0 {
		opts = append(opts, WithWS(wsOpts...))
	}
	return opts
}

// Options 转换为 ws 选项，零值字段保持默认
func (w WSFileConfig) Options() []ws.Option {
	var opts []ws.Option
	if w.MaxConnections > 0 {
		opts = append(opts, ws.WithMaxConnections(w.MaxConnections))
	}
	if w.MaxMessageSize > 0 {
		opts = append(opts, ws.WithMessageSizeLimit(w.MaxMessageSize))
	}
	if w.HeartbeatInterval > 0 {
		opts = append(opts, ws.WithHeartbeatInterval(w.HeartbeatInterval))
	}
	if w.HeartbeatTimeout > 0 {
		opts = append(opts, ws.WithHeartbeatTimeout(w.HeartbeatTimeout))
	}
	if w.WriteTimeout > 0 {
		opts = append(opts, ws.WithWriteTimeout(w.WriteTimeout))
	}
	if w.SendQueueSize > 0 {
		opts = append(opts, ws.WithMessageQueueSize(w.SendQueueSize))
	}
	if w.Workers > 0 {
		opts = append(opts, ws.WithWorkers(w.Workers, w.Backlog))
	}
	switch {
	case len(w.AllowedOrigins) == 1 && w.AllowedOrigins[0] == "*":
		opts = append(opts, ws.WithAllowAllOrigins())
	case len(w.AllowedOrigins) > 0:
		opts = append(opts, ws.WithCheckOriginWhitelist(w.AllowedOrigins))
	}
	if w.Compression {
		opts = append(opts, ws.WithEnableCompression(true))
	}
	return opts
}

// NewLogger 按配置创建日志
func (f *FileConfig) NewLogger() (logger.Logger, error) {
	level, _ := logger.ParseLevel(f.Log.Level)
	format, _ := logger.ParseFormat(f.Log.Format)
	opts := []logger.Option{
		logger.WithLevel(level),
		logger.WithFormat(format),
	}
	if f.Log.File != "" {
		opts = append(opts, logger.WithRotateOutput(&logger.RotateConfig{
			Filename:   f.Log.File,
			MaxSize:    f.Log.MaxSize,
			MaxAge:     f.Log.MaxAge,
			MaxBackups: f.Log.MaxBackups,
			Compress:   f.Log.Compress,
		}))
	}
	return logger.NewWithOptions(opts...)
}

// TracingConfig 转换为链路追踪配置，未启用时返回 nil
func (f *FileConfig) TracingConfig() *tracing.Config {
	if !f.Tracing.Enabled {
		return nil
	}
	cfg := tracing.DefaultConfig()
	if f.Tracing.ServiceName != "" {
		cfg.ServiceName = f.Tracing.ServiceName
	}
	if f.Tracing.Environment != "" {
		cfg.Environment = f.Tracing.Environment
	}
	if f.Tracing.Exporter != "" {
		cfg.ExporterType = f.Tracing.Exporter
	}
	if f.Tracing.SamplingRate > 0 {
		cfg.SamplingRate = f.Tracing.SamplingRate
	}
	cfg.ExporterEndpoint = f.Tracing.Endpoint
	cfg.Insecure = f.Tracing.Insecure
	return cfg
}

// NewBroker 按配置创建转发通道，driver 为空时返回 nil
// redis 驱动需要 client，其余驱动忽略该参数
func (f *FileConfig) NewBroker(client redis.UniversalClient, opts ...relay.BrokerOption) (relay.Broker, error) {
	var (
		broker relay.Broker
		err    error
	)
	switch f.Relay.Driver {
	case "":
		return nil, nil
	case "memory":
		broker = relay.NewMemoryBroker(0, opts...)
	case "redis":
		broker, err = relay.NewRedisBroker(client, f.Relay.Channel, opts...)
	case "kafka":
		broker, err = relay.NewKafkaBroker(f.Relay.Kafka, opts...)
	case "amqp":
		broker, err = relay.NewAMQPBroker(f.Relay.AMQP, opts...)
	default:
		return nil, errors.ErrConfig.WithMessage("不支持的转发驱动: " + f.Relay.Driver)
	}
	if err != nil {
		return nil, err
	}
	return broker, nil
}

// NewRedisClient 按配置创建 Redis 客户端，未配置时返回 nil
func (f *FileConfig) NewRedisClient(ctx context.Context) (redis.UniversalClient, error) {
	if f.Redis == nil {
		return nil, nil
	}
	return presence.NewRedisClient(ctx, f.Redis)
}

// RelayOptions 转换为转发选项
func (f *FileConfig) RelayOptions() []relay.Option {
	if f.Relay.Node == "" {
		return nil
	}
	return []relay.Option{relay.WithNode(f.Relay.Node)}
}
