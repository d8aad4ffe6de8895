package ws

import (
	"sort"
	"sync"
	"time"

	"github.com/tokmz/qiws/pkg/logger"
	"go.uber.org/zap"
)

// Registry 连接注册表
// 按端点维护有序连接列表，变更与快照由同一把锁串行化，写出阶段不持锁
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string][]*Connection
	index     map[Conn]*Connection

	maxConns int
	idFunc   IDFunc
	logger   logger.Logger
	metrics  Metrics
}

// RegistryOption 注册表选项
type RegistryOption func(*Registry)

// WithRegistryMaxConnections 设置最大连接数，0 表示不限制
func WithRegistryMaxConnections(max int) RegistryOption {
	return func(r *Registry) {
		r.maxConns = max
	}
}

// WithIDFunc 设置客户端 ID 派生函数
func WithIDFunc(fn IDFunc) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.idFunc = fn
		}
	}
}

// WithRegistryLogger 设置日志
func WithRegistryLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistryMetrics 设置监控
func WithRegistryMetrics(m Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry 创建连接注册表
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		endpoints: make(map[string][]*Connection),
		index:     make(map[Conn]*Connection),
		idFunc:    defaultIDFunc,
		logger:    logger.Nop(),
		metrics:   &NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 注册连接并返回客户端 ID
func (r *Registry) Register(endpoint string, conn Conn) (string, error) {
	if conn == nil {
		return "", ErrNilConn
	}
	if endpoint == "" {
		return "", ErrEmptyEndpoint
	}
	clientID := r.idFunc(conn)
	if clientID == "" {
		return "", ErrEmptyClientID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[conn]; ok {
		return "", ErrConnExists
	}
	if r.maxConns > 0 && len(r.index) >= r.maxConns {
		return "", ErrTooManyConnections
	}
	for _, c := range r.endpoints[endpoint] {
		if c.ClientID == clientID {
			return "", ErrClientIDExists
		}
	}

	c := &Connection{
		Endpoint:    endpoint,
		ClientID:    clientID,
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
	r.endpoints[endpoint] = append(r.endpoints[endpoint], c)
	r.index[conn] = c

	r.metrics.IncrementConnections()
	return clientID, nil
}

// Unregister 注销连接，端点最后一个连接离开时删除端点
func (r *Registry) Unregister(endpoint string, conn Conn) (string, bool) {
	if conn == nil {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.index[conn]
	if !ok || c.Endpoint != endpoint {
		return "", false
	}
	delete(r.index, conn)

	list := r.endpoints[endpoint]
	for i, item := range list {
		if item == c {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.endpoints, endpoint)
	} else {
		r.endpoints[endpoint] = list
	}

	r.metrics.DecrementConnections()
	return c.ClientID, true
}

// Snapshot 返回端点连接列表的副本（按注册顺序）
func (r *Registry) Snapshot(endpoint string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.endpoints[endpoint]
	if len(list) == 0 {
		return nil
	}
	out := make([]*Connection, len(list))
	copy(out, list)
	return out
}

// All 返回全部在线连接，端点按字典序，端点内按注册顺序
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.index))
	for _, endpoint := range r.sortedEndpoints() {
		out = append(out, r.endpoints[endpoint]...)
	}
	return out
}

// Endpoints 返回有连接的端点（字典序）
func (r *Registry) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedEndpoints()
}

func (r *Registry) sortedEndpoints() []string {
	endpoints := make([]string, 0, len(r.endpoints))
	for endpoint := range r.endpoints {
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)
	return endpoints
}

// Count 返回在线连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// Lookup 按端点与客户端 ID 查找连接
func (r *Registry) Lookup(endpoint, clientID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.endpoints[endpoint] {
		if c.ClientID == clientID {
			return c, true
		}
	}
	return nil, false
}

// lookupConn 按连接句柄查找
func (r *Registry) lookupConn(conn Conn) (*Connection, bool) {
	if conn == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.index[conn]
	return c, ok
}

// SendText 向单个连接发送文本帧，客户端不存在时返回 false
func (r *Registry) SendText(endpoint, clientID, msg string) bool {
	return r.send(endpoint, clientID, func(c Conn) error { return c.WriteText(msg) })
}

// SendBinary 向单个连接发送二进制帧，客户端不存在时返回 false
func (r *Registry) SendBinary(endpoint, clientID string, msg []byte) bool {
	return r.send(endpoint, clientID, func(c Conn) error { return c.WriteBinary(msg) })
}

// PublishText 向端点全部连接广播文本帧，返回成功写入数
func (r *Registry) PublishText(endpoint, msg string) int {
	return r.publish(endpoint, func(c Conn) error { return c.WriteText(msg) })
}

// PublishBinary 向端点全部连接广播二进制帧，返回成功写入数
func (r *Registry) PublishBinary(endpoint string, msg []byte) int {
	return r.publish(endpoint, func(c Conn) error { return c.WriteBinary(msg) })
}

func (r *Registry) send(endpoint, clientID string, write func(Conn) error) bool {
	c, ok := r.Lookup(endpoint, clientID)
	if !ok {
		r.logger.Debug("ws send target not found",
			zap.String("endpoint", endpoint),
			zap.String("client_id", clientID),
		)
		return false
	}
	return r.write(c, write)
}

func (r *Registry) publish(endpoint string, write func(Conn) error) int {
	delivered := 0
	for _, c := range r.Snapshot(endpoint) {
		if r.write(c, write) {
			delivered++
		}
	}
	return delivered
}

// write 写出单个连接，失败只记录日志，不影响其他连接
func (r *Registry) write(c *Connection, write func(Conn) error) bool {
	if err := write(c.Conn); err != nil {
		r.metrics.IncrementWriteErrors()
		r.logger.Warn("ws write failed",
			zap.String("endpoint", c.Endpoint),
			zap.String("client_id", c.ClientID),
			zap.Error(err),
		)
		return false
	}
	r.metrics.IncrementSent()
	return true
}
