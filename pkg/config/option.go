package config

import (
	"strings"

	"github.com/tokmz/qiws/pkg/logger"
)

// Option 配置源选项
type Option func(*Config)

// WithConfigFile 指定配置文件路径，优先于按名称查找
func WithConfigFile(path string) Option {
	return func(c *Config) {
		c.file = path
	}
}

// WithConfigName 按名称查找配置文件（不含扩展名）
func WithConfigName(name string) Option {
	return func(c *Config) {
		c.name = name
	}
}

// WithConfigType 文件类型，如 yaml、json、toml
func WithConfigType(typ string) Option {
	return func(c *Config) {
		c.typ = typ
	}
}

// WithConfigPaths 按名称查找时的搜索目录
func WithConfigPaths(paths ...string) Option {
	return func(c *Config) {
		c.paths = append(c.paths, paths...)
	}
}

// WithDefaults 默认值，文件与环境变量均未设置时生效
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) {
		if c.defaults == nil {
			c.defaults = make(map[string]any, len(defaults))
		}
		for k, v := range defaults {
			c.defaults[k] = v
		}
	}
}

// WithEnvPrefix 环境变量前缀
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		c.envPrefix = prefix
	}
}

// WithEnvKeyReplacer 配置键到环境变量名的替换规则
func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(c *Config) {
		c.envKeyReplacer = r
	}
}

// WithOnChange 文件变更回调，设置后 Load 会开始监听文件
func WithOnChange(fn func(*Config)) Option {
	return func(c *Config) {
		if fn != nil {
			c.handlers = append(c.handlers, fn)
		}
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}
