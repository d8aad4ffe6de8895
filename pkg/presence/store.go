package presence

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 在线成员存储
// 成员以最近活跃时间为分值
type Store interface {
	// Touch 新增或刷新成员活跃时间
	Touch(ctx context.Context, endpoint, clientID string, at time.Time) error
	// Remove 移除成员
	Remove(ctx context.Context, endpoint, clientID string) error
	// Members 返回 since 之后活跃过的成员，按活跃时间升序
	Members(ctx context.Context, endpoint string, since time.Time) ([]string, error)
	// Clear 清空端点的全部成员
	Clear(ctx context.Context, endpoint string) error
}

// RedisStore 基于 ZSET 的在线成员存储
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 存储
// ttl 为整个 ZSET 的过期时间，端点长期无活动时自动清理
func NewRedisStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "presence:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) key(endpoint string) string {
	return s.keyPrefix + endpoint
}

// Touch 实现 Store
func (s *RedisStore) Touch(ctx context.Context, endpoint, clientID string, at time.Time) error {
	key := s.key(endpoint)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: clientID})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Remove 实现 Store
func (s *RedisStore) Remove(ctx context.Context, endpoint, clientID string) error {
	return s.client.ZRem(ctx, s.key(endpoint), clientID).Err()
}

// Members 实现 Store，顺带清理过期成员
func (s *RedisStore) Members(ctx context.Context, endpoint string, since time.Time) ([]string, error) {
	key := s.key(endpoint)
	if !since.IsZero() {
		max := "(" + strconv.FormatInt(since.UnixMilli(), 10)
		if err := s.client.ZRemRangeByScore(ctx, key, "-inf", max).Err(); err != nil {
			return nil, err
		}
	}
	return s.client.ZRange(ctx, key, 0, -1).Result()
}

// Clear 实现 Store
func (s *RedisStore) Clear(ctx context.Context, endpoint string) error {
	return s.client.Del(ctx, s.key(endpoint)).Err()
}

// MemoryStore 进程内存储，用于单节点部署与测试
type MemoryStore struct {
	mu      sync.RWMutex
	members map[string]map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]map[string]time.Time)}
}

// Touch 实现 Store
func (s *MemoryStore) Touch(_ context.Context, endpoint, clientID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[endpoint]
	if !ok {
		m = make(map[string]time.Time)
		s.members[endpoint] = m
	}
	m[clientID] = at
	return nil
}

// Remove 实现 Store
func (s *MemoryStore) Remove(_ context.Context, endpoint, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[endpoint]; ok {
		delete(m, clientID)
		if len(m) == 0 {
			delete(s.members, endpoint)
		}
	}
	return nil
}

// Members 实现 Store
func (s *MemoryStore) Members(_ context.Context, endpoint string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type member struct {
		id string
		at time.Time
	}
	var list []member
	for id, at := range s.members[endpoint] {
		if at.Before(since) {
			continue
		}
		list = append(list, member{id: id, at: at})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].at.Equal(list[j].at) {
			return list[i].id < list[j].id
		}
		return list[i].at.Before(list[j].at)
	})

	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.id
	}
	return ids, nil
}

// Clear 实现 Store
func (s *MemoryStore) Clear(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, endpoint)
	return nil
}
