package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = errors.New("presence: invalid config")

// ErrConnection Redis 连接失败
var ErrConnection = errors.New("presence: redis connection failed")

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`           // 地址（单机）
	Addrs        []string      `mapstructure:"addrs"`          // 地址列表（集群/哨兵）
	Mode         RedisMode     `mapstructure:"mode"`           // standalone, cluster, sentinel
	Username     string        `mapstructure:"username"`       // 用户名（Redis 6.0+）
	Password     string        `mapstructure:"password"`       // 密码
	DB           int           `mapstructure:"db"`             // 数据库编号
	PoolSize     int           `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int           `mapstructure:"min_idle_conns"` // 最小空闲连接
	MaxRetries   int           `mapstructure:"max_retries"`    // 最大重试次数
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`   // 连接超时
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`   // 读超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"`  // 写超时

	// 哨兵模式配置
	MasterName string `mapstructure:"master_name"` // 主节点名称
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Mode:         RedisStandalone,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisClient 按模式创建 Redis 客户端并测试连接
func NewRedisClient(ctx context.Context, cfg *RedisConfig) (redis.UniversalClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: redis config is required", ErrInvalidConfig)
	}

	var client redis.UniversalClient

	switch cfg.Mode {
	case RedisStandalone, "":
		// 单机模式
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})

	case RedisCluster:
		// 集群模式
		if len(cfg.Addrs) == 0 {
			return nil, fmt.Errorf("%w: cluster mode requires addrs", ErrInvalidConfig)
		}
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})

	case RedisSentinel:
		// 哨兵模式
		if len(cfg.Addrs) == 0 {
			return nil, fmt.Errorf("%w: sentinel mode requires addrs", ErrInvalidConfig)
		}
		if cfg.MasterName == "" {
			return nil, fmt.Errorf("%w: sentinel mode requires master name", ErrInvalidConfig)
		}
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported redis mode: %s", ErrInvalidConfig, cfg.Mode)
	}

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return client, nil
}
