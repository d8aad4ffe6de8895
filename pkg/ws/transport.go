package ws

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tokmz/qiws/pkg/logger"
	"go.uber.org/zap"
)

// frame 待写出的数据帧
type frame struct {
	kind int
	data []byte
}

// socket gorilla 连接的 Conn 实现
// 写操作进入发送队列，由 writePump 串行写出
type socket struct {
	id         string
	conn       *websocket.Conn
	send       chan frame
	done       chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool
	remoteAddr string

	config  *Config
	metrics Metrics
	logger  logger.Logger
}

var _ Conn = (*socket)(nil)

func newSocket(conn *websocket.Conn, config *Config, metrics Metrics, l logger.Logger) *socket {
	return &socket{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan frame, config.MessageQueueSize),
		done:       make(chan struct{}),
		remoteAddr: conn.RemoteAddr().String(),
		config:     config,
		metrics:    metrics,
		logger:     l,
	}
}

// ID 实现 Conn
func (s *socket) ID() string { return s.id }

// RemoteAddr 远程地址
func (s *socket) RemoteAddr() string { return s.remoteAddr }

// WriteText 实现 Conn，写出 TextMessage
func (s *socket) WriteText(msg string) error {
	return s.enqueue(frame{kind: websocket.TextMessage, data: []byte(msg)})
}

// WriteBinary 实现 Conn，写出 BinaryMessage
func (s *socket) WriteBinary(msg []byte) error {
	return s.enqueue(frame{kind: websocket.BinaryMessage, data: msg})
}

// enqueue 非阻塞入队，队列满时返回 ErrChannelFull
func (s *socket) enqueue(f frame) error {
	if s.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case s.send <- f:
		return nil
	case <-s.done:
		return ErrConnectionClosed
	default:
		s.metrics.IncrementDroppedMessages()
		return ErrChannelFull
	}
}

// Close 关闭连接，writePump 负责发送关闭帧并释放底层连接
func (s *socket) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

// readPump 读取数据帧，直到连接断开或心跳超时
// onPong 在每次收到心跳回复时调用，可为 nil
func (s *socket) readPump(onFrame func(data []byte, isText bool), onPong func()) {
	defer s.Close()

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout)); err != nil {
		s.metrics.IncrementReadErrors()
		return
	}
	s.conn.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return s.conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout))
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.metrics.IncrementReadErrors()
				s.logger.Debug("ws read failed", zap.String("remote", s.remoteAddr), zap.Error(err))
			}
			return
		}

		switch kind {
		case websocket.TextMessage:
			onFrame(data, true)
		case websocket.BinaryMessage:
			onFrame(data, false)
		}
	}
}

// writePump 串行写出发送队列并定时发送心跳
func (s *socket) writePump() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.Close()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			// 尝试发送关闭消息，忽略错误
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case f := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(f.kind, f.data); err != nil {
				s.metrics.IncrementWriteErrors()
				s.logger.Debug("ws write failed", zap.String("remote", s.remoteAddr), zap.Error(err))
				return
			}

		case <-ticker.C:
			// 发送心跳
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Transport gorilla/websocket 传输层
// 将握手后的连接事件转交 Dispatcher
type Transport struct {
	d        *Dispatcher
	upgrader *Upgrader
	config   *Config
	logger   logger.Logger
	metrics  Metrics
}

// NewTransport 创建传输层
func NewTransport(d *Dispatcher) *Transport {
	return &Transport{
		d:        d,
		upgrader: NewUpgrader(d.config.UpgraderConfig, d.config.HandshakeTimeout),
		config:   d.config,
		logger:   d.logger,
		metrics:  d.metrics,
	}
}

// Accept 握手前检查，拒绝时返回原因
func (t *Transport) Accept(r *http.Request) error {
	if !t.upgrader.CheckOrigin(r) {
		return ErrOriginNotAllowed
	}
	if max := t.config.MaxConnections; max > 0 && t.d.registry.Count() >= max {
		return ErrTooManyConnections
	}
	return nil
}

// Serve 完成握手并驱动连接直至关闭，阻塞调用方
func (t *Transport) Serve(endpoint string, w http.ResponseWriter, r *http.Request) error {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// 握手失败时 Upgrader 已写出 HTTP 错误响应
		t.logger.Warn("ws upgrade failed", zap.String("endpoint", endpoint), zap.Error(err))
		return err
	}

	s := newSocket(conn, t.config, t.metrics, t.logger)
	if _, err := t.d.HandleOpen(endpoint, s); err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, ErrTooManyConnections) {
			code = websocket.CloseTryAgainLater
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, err.Error()),
			time.Now().Add(t.config.WriteTimeout))
		conn.Close()
		return err
	}

	go s.writePump()
	s.readPump(func(data []byte, isText bool) {
		t.d.HandleFrame(endpoint, s, data, isText)
	}, func() {
		t.d.HandlePong(endpoint, s)
	})
	t.d.HandleClose(endpoint, s)
	return nil
}

// Handler 返回以请求路径为端点的 http.Handler
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := t.Accept(r); err != nil {
			status := http.StatusForbidden
			if errors.Is(err, ErrTooManyConnections) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		_ = t.Serve(r.URL.Path, w, r)
	})
}

// CloseAll 关闭全部在线连接，返回关闭数量
func (t *Transport) CloseAll() int {
	closed := 0
	for _, c := range t.d.registry.All() {
		if s, ok := c.Conn.(*socket); ok {
			s.Close()
			closed++
		}
	}
	return closed
}
