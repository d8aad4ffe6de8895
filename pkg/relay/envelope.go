package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var (
	// ErrBrokerClosed Broker 已关闭
	ErrBrokerClosed = errors.New("relay: broker closed")
	// ErrBufferFull 订阅缓冲区已满
	ErrBufferFull = errors.New("relay: subscriber buffer full")
	// ErrInvalidEnvelope 消息信封无效
	ErrInvalidEnvelope = errors.New("relay: invalid envelope")
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("relay: invalid config")
)

// Envelope 节点间转发的出站消息
// ClientID 为空表示端点广播，否则为单播
type Envelope struct {
	Node     string            `json:"node"`
	Endpoint string            `json:"endpoint"`
	ClientID string            `json:"client_id,omitempty"`
	Binary   bool              `json:"binary,omitempty"`
	Data     []byte            `json:"data"`
	Time     int64             `json:"time"`
	Trace    map[string]string `json:"trace,omitempty"`
}

// Broadcast 是否为端点广播
func (e *Envelope) Broadcast() bool {
	return e.ClientID == ""
}

// Validate 校验信封
func (e *Envelope) Validate() error {
	if e.Node == "" {
		return fmt.Errorf("%w: empty node", ErrInvalidEnvelope)
	}
	if e.Endpoint == "" {
		return fmt.Errorf("%w: empty endpoint", ErrInvalidEnvelope)
	}
	return nil
}

// newEnvelope 创建信封并注入链路上下文
func newEnvelope(ctx context.Context, node, endpoint, clientID string, binary bool, data []byte) Envelope {
	env := Envelope{
		Node:     node,
		Endpoint: endpoint,
		ClientID: clientID,
		Binary:   binary,
		Data:     data,
		Time:     time.Now().UnixMilli(),
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		env.Trace = carrier
	}
	return env
}

// Context 从信封中提取链路上下文
func (e *Envelope) Context(ctx context.Context) context.Context {
	if len(e.Trace) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(e.Trace))
}

// Encode 编码信封
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode 解码信封
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
