package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// OnChange 注册文件变更回调，回调在 viper 重新读取文件后执行
// Load 之后注册会立即开始监听
func (c *Config) OnChange(fn func(*Config)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
	if c.viper.ConfigFileUsed() != "" {
		c.startWatch()
	}
}

// startWatch 调用方持有 mu
// viper 的文件监听无法停止，重复调用只恢复回调
func (c *Config) startWatch() {
	c.watching = true
	if c.started {
		return
	}
	c.started = true
	c.viper.OnConfigChange(c.changed)
	c.viper.WatchConfig()
}

// StopWatch 停止回调，底层监听随进程退出
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// Watching 是否正在派发变更回调
func (c *Config) Watching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}

// changed 依次执行回调，单个回调 panic 不影响其余回调
func (c *Config) changed(e fsnotify.Event) {
	c.mu.RLock()
	if !c.watching {
		c.mu.RUnlock()
		return
	}
	handlers := append([]func(*Config){}, c.handlers...)
	c.mu.RUnlock()

	c.logger.Info("config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
	for _, fn := range handlers {
		c.run(fn)
	}
}

func (c *Config) run(fn func(*Config)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("config change handler panicked", zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	fn(c)
}
