package ws

import "time"

// Conn 传输层连接句柄
// 实现必须可比较（通常为指针类型），注册表以句柄本身作为索引
type Conn interface {
	// ID 连接标识，创建后不可变
	ID() string
	// WriteText 写入文本帧
	WriteText(msg string) error
	// WriteBinary 写入二进制帧
	WriteBinary(msg []byte) error
}

// Connection 已注册的连接
type Connection struct {
	Endpoint    string
	ClientID    string
	Conn        Conn
	ConnectedAt time.Time
}

// IDFunc 从连接句柄派生客户端 ID
type IDFunc func(Conn) string

// defaultIDFunc 使用句柄自身的 ID
func defaultIDFunc(c Conn) string {
	return c.ID()
}
