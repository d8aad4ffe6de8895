package ws

import "sync/atomic"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	SetConnectionCount(count int)

	// 消息指标
	IncrementReceived()
	IncrementSent()
	IncrementDroppedMessages()

	// 回调指标
	IncrementCallbackErrors()

	// 错误指标
	IncrementReadErrors()
	IncrementWriteErrors()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (m *NoopMetrics) IncrementConnections()        {}
func (m *NoopMetrics) DecrementConnections()        {}
func (m *NoopMetrics) SetConnectionCount(count int) {}
func (m *NoopMetrics) IncrementReceived()           {}
func (m *NoopMetrics) IncrementSent()               {}
func (m *NoopMetrics) IncrementDroppedMessages()    {}
func (m *NoopMetrics) IncrementCallbackErrors()     {}
func (m *NoopMetrics) IncrementReadErrors()         {}
func (m *NoopMetrics) IncrementWriteErrors()        {}

// CounterMetrics 基于原子计数的内存实现
type CounterMetrics struct {
	Connections    atomic.Int64
	Received       atomic.Int64
	Sent           atomic.Int64
	Dropped        atomic.Int64
	CallbackErrors atomic.Int64
	ReadErrors     atomic.Int64
	WriteErrors    atomic.Int64
}

func (m *CounterMetrics) IncrementConnections()        { m.Connections.Add(1) }
func (m *CounterMetrics) DecrementConnections()        { m.Connections.Add(-1) }
func (m *CounterMetrics) SetConnectionCount(count int) { m.Connections.Store(int64(count)) }
func (m *CounterMetrics) IncrementReceived()           { m.Received.Add(1) }
func (m *CounterMetrics) IncrementSent()               { m.Sent.Add(1) }
func (m *CounterMetrics) IncrementDroppedMessages()    { m.Dropped.Add(1) }
func (m *CounterMetrics) IncrementCallbackErrors()     { m.CallbackErrors.Add(1) }
func (m *CounterMetrics) IncrementReadErrors()         { m.ReadErrors.Add(1) }
func (m *CounterMetrics) IncrementWriteErrors()        { m.WriteErrors.Add(1) }
