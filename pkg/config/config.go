// Package config 基于 viper 读取配置文件
//
// 支持默认值、环境变量覆盖，以及文件变更后的回调通知。
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/tokmz/qiws/pkg/logger"
)

// Config 配置源
type Config struct {
	viper *viper.Viper
	mu    sync.RWMutex

	file  string
	name  string
	typ   string
	paths []string

	defaults       map[string]any
	envPrefix      string
	envKeyReplacer *strings.Replacer

	handlers []func(*Config)
	watching bool
	started  bool
	logger   logger.Logger
}

// New 创建配置源，调用 Load 后生效
func New(opts ...Option) *Config {
	c := &Config{
		viper:  viper.New(),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 读取配置文件，注册过变更回调时开始监听文件
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.defaults {
		c.viper.SetDefault(k, v)
	}
	if c.envPrefix != "" {
		c.viper.SetEnvPrefix(c.envPrefix)
		c.viper.AutomaticEnv()
	}
	if c.envKeyReplacer != nil {
		c.viper.SetEnvKeyReplacer(c.envKeyReplacer)
	}

	if c.file != "" {
		c.viper.SetConfigFile(c.file)
	} else {
		if c.name != "" {
			c.viper.SetConfigName(c.name)
		}
		if c.typ != "" {
			c.viper.SetConfigType(c.typ)
		}
		for _, p := range c.paths {
			c.viper.AddConfigPath(p)
		}
	}

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if stderrors.As(err, &notFound) || stderrors.Is(err, fs.ErrNotExist) {
			return ErrConfigNotFound.WithError(err).WithMessage(fmt.Sprintf("配置文件未找到: %v", err))
		}
		return ErrConfigReadFailed.WithError(err).WithMessage(fmt.Sprintf("配置读取失败: %v", err))
	}

	if len(c.handlers) > 0 {
		c.startWatch()
	}
	return nil
}

// File 实际读取的配置文件路径
func (c *Config) File() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.ConfigFileUsed()
}

// Get 按目标类型读取配置值，类型不符时返回零值
// 基础类型经 viper 转换，因此 YAML 中的 5 可读为 float64，"30s" 可读为 time.Duration
func Get[T any](c *Config, key string) T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	var v any
	switch any(zero).(type) {
	case string:
		v = c.viper.GetString(key)
	case bool:
		v = c.viper.GetBool(key)
	case int:
		v = c.viper.GetInt(key)
	case int64:
		v = c.viper.GetInt64(key)
	case float64:
		v = c.viper.GetFloat64(key)
	case time.Duration:
		v = c.viper.GetDuration(key)
	case []string:
		v = c.viper.GetStringSlice(key)
	default:
		v = c.viper.Get(key)
	}
	if t, ok := v.(T); ok {
		return t
	}
	return zero
}

// Unmarshal 将配置解码到结构体，字段使用 mapstructure 标签
func (c *Config) Unmarshal(out any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.Unmarshal(out)
}

// Close 停止变更通知
func (c *Config) Close() {
	c.StopWatch()
}
