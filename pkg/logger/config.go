package logger

import "go.uber.org/zap/zapcore"

// Format 输出编码
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

func (f Format) String() string { return string(f) }

// IsValid 是否为支持的编码
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}

// ParseFormat 解析编码名，无法识别时返回 JSONFormat 与 false
func ParseFormat(s string) (Format, bool) {
	f := Format(s)
	if f.IsValid() {
		return f, true
	}
	return JSONFormat, false
}

// Hook 每条日志写出前调用，返回错误时该条日志不再写出
type Hook interface {
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

// RotateConfig lumberjack 文件轮转
type RotateConfig struct {
	Filename   string
	MaxSize    int // MB，默认 100
	MaxAge     int // 天，默认 30
	MaxBackups int // 默认 10
	LocalTime  bool
	Compress   bool
}

func (r *RotateConfig) setDefaults() {
	if r.MaxSize == 0 {
		r.MaxSize = 100
	}
	if r.MaxAge == 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups == 0 {
		r.MaxBackups = 10
	}
	r.LocalTime = true
}

// SamplingConfig 每秒前 Initial 条全部写出，之后每 Thereafter 条写出一条
// 连接风暴时用于压制重复的握手与丢弃日志
type SamplingConfig struct {
	Initial    int
	Thereafter int
}

func (s *SamplingConfig) setDefaults() {
	if s.Initial == 0 {
		s.Initial = 100
	}
	if s.Thereafter == 0 {
		s.Thereafter = 100
	}
}

// Config 日志配置，零值可用：info 级别、JSON 编码、输出到 stdout
type Config struct {
	Level  Level
	Format Format

	Console bool
	File    string
	Rotate  *RotateConfig

	Sampling   *SamplingConfig
	BufferSize int

	EnableCaller     bool
	EnableStacktrace bool

	EncoderConfig *zapcore.EncoderConfig
	Hooks         []Hook
}

func (c *Config) setDefaults() {
	if c.Level == 0 {
		c.Level = InfoLevel
	}
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if c.BufferSize == 0 {
		c.BufferSize = 256 * 1024
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
	c.EnableCaller = true
	c.EnableStacktrace = true
}

// Option 配置选项
type Option func(*Config)

// WithLevel 最低输出级别
func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

// WithFormat 输出编码
func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

// WithConsoleOutput 同时输出到 stdout
func WithConsoleOutput() Option {
	return func(c *Config) { c.Console = true }
}

// WithFileOutput 追加写入文件，不轮转
func WithFileOutput(filename string) Option {
	return func(c *Config) { c.File = filename }
}

// WithRotateOutput 写入轮转文件
func WithRotateOutput(config *RotateConfig) Option {
	return func(c *Config) { c.Rotate = config }
}

// WithSampling 开启采样
func WithSampling(config *SamplingConfig) Option {
	return func(c *Config) { c.Sampling = config }
}

func WithBufferSize(size int) Option {
	return func(c *Config) { c.BufferSize = size }
}

func WithCaller(enable bool) Option {
	return func(c *Config) { c.EnableCaller = enable }
}

func WithStacktrace(enable bool) Option {
	return func(c *Config) { c.EnableStacktrace = enable }
}

// WithEncoderConfig 替换默认的编码字段配置
func WithEncoderConfig(config *zapcore.EncoderConfig) Option {
	return func(c *Config) { c.EncoderConfig = config }
}

// WithHook 追加写出钩子
func WithHook(hook Hook) Option {
	return func(c *Config) { c.Hooks = append(c.Hooks, hook) }
}
