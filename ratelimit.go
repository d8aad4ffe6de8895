package qiws

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig 握手限流配置
type RateLimitConfig struct {
	// RequestsPerSecond 每秒允许的握手数（默认 10）
	RequestsPerSecond float64

	// Burst 突发容量（默认等于 RequestsPerSecond）
	Burst int

	// KeyFunc 限流 key（默认客户端 IP）
	KeyFunc func(c *gin.Context) string

	// BucketExpiry 桶过期时间，超过该时间未访问则清理（默认 10 分钟）
	BucketExpiry time.Duration
}

// normalize 补齐默认值
func (c *RateLimitConfig) normalize() {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerSecond)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	if c.KeyFunc == nil {
		c.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	if c.BucketExpiry <= 0 {
		c.BucketExpiry = 10 * time.Minute
	}
}

// bucket 单个 key 的令牌桶
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore 按 key 保存令牌桶，访问时顺带清理过期桶
// limit 为 rate.Inf 时不限流且不建桶
type limiterStore struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	expiry    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterStore(cfg *RateLimitConfig) *limiterStore {
	return &limiterStore{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		expiry:  cfg.BucketExpiry,
		now:     time.Now,
	}
}

// allow 消耗 key 对应桶的一个令牌
func (s *limiterStore) allow(key string) bool {
	s.mu.Lock()
	if s.limit == rate.Inf {
		s.mu.Unlock()
		return true
	}
	now := s.now()
	if now.Sub(s.lastSweep) > s.expiry {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > s.expiry {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	s.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// update 调整速率，已有的桶同步生效
func (s *limiterStore) update(limit rate.Limit, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	s.burst = burst
	if limit == rate.Inf {
		s.buckets = make(map[string]*bucket)
		return
	}
	now := s.now()
	for _, b := range s.buckets {
		b.limiter.SetLimitAt(now, limit)
		b.limiter.SetBurstAt(now, burst)
	}
}

// current 当前速率与突发容量
func (s *limiterStore) current() (rate.Limit, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit, s.burst
}

// size 当前桶数量
func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Limiter 可在运行中调整速率的握手限流器
type Limiter struct {
	keyFunc func(c *gin.Context) string
	store   *limiterStore
	logger  logger.Logger
}

// NewLimiter 创建限流器，cfg 为 nil 时不限流，直到 SetLimit 开启
func NewLimiter(cfg *RateLimitConfig, log logger.Logger) *Limiter {
	if log == nil {
		log = logger.Nop()
	}
	var c RateLimitConfig
	if cfg != nil {
		c = *cfg
	}
	c.normalize()

	store := newLimiterStore(&c)
	if cfg == nil {
		store.limit = rate.Inf
		store.burst = 0
	}
	return &Limiter{keyFunc: c.KeyFunc, store: store, logger: log}
}

// SetLimit 调整每秒握手数与突发容量，rps <= 0 表示不限流
func (l *Limiter) SetLimit(rps float64, burst int) {
	if rps <= 0 {
		l.store.update(rate.Inf, 0)
		return
	}
	c := RateLimitConfig{RequestsPerSecond: rps, Burst: burst}
	c.normalize()
	l.store.update(rate.Limit(c.RequestsPerSecond), c.Burst)
}

// Limit 当前每秒握手数与突发容量，不限流时 rps 为 0
func (l *Limiter) Limit() (float64, int) {
	limit, burst := l.store.current()
	if limit == rate.Inf {
		return 0, 0
	}
	return float64(limit), burst
}

// Handler 返回 gin 中间件，超限返回 429
func (l *Limiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := l.keyFunc(c)
		if !l.store.allow(key) {
			rps, _ := l.Limit()
			l.logger.Warn("handshake rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request.URL.Path),
				zap.Float64("rate", rps),
			)
			abortWithError(c, errors.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

// RateLimit 创建固定速率的握手限流中间件
func RateLimit(cfg RateLimitConfig, log logger.Logger) gin.HandlerFunc {
	return NewLimiter(&cfg, log).Handler()
}
