package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/ws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeConn 记录写入内容的连接
type fakeConn struct {
	id string

	mu       sync.Mutex
	texts    []string
	binaries [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) WriteText(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, msg)
	return nil
}

func (c *fakeConn) WriteBinary(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binaries = append(c.binaries, msg)
	return nil
}

func (c *fakeConn) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *fakeConn) Binaries() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.binaries...)
}

// node 单个节点：本地 Dispatcher + Relay
type node struct {
	d     *ws.Dispatcher
	relay *Relay
}

func newNode(t *testing.T, name string, broker Broker, opts ...Option) *node {
	t.Helper()
	d, err := ws.NewDispatcher(ws.WithWorkers(1, 16))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	r := New(d, broker, append([]Option{WithNode(name)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return &node{d: d, relay: r}
}

func (n *node) open(t *testing.T, endpoint, id string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: id}
	_, err := n.d.HandleOpen(endpoint, c)
	require.NoError(t, err)
	return c
}

func waitSubscribers(t *testing.T, b *MemoryBroker, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Subscribers() == n }, 2*time.Second, time.Millisecond)
}

func TestRelayBroadcastAcrossNodes(t *testing.T) {
	broker := NewMemoryBroker(16)
	a := newNode(t, "a", broker)
	b := newNode(t, "b", broker)
	waitSubscribers(t, broker, 2)

	a1 := a.open(t, "/chat", "a1")
	b1 := b.open(t, "/chat", "b1")
	bOther := b.open(t, "/other", "b2")

	assert.Equal(t, 1, a.relay.PublishText("/chat", "hello"))
	assert.Equal(t, 1, a.relay.PublishBinary("/chat", []byte{0x01}))

	require.Eventually(t, func() bool {
		return len(b1.Texts()) == 1 && len(b1.Binaries()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"hello"}, b1.Texts())
	assert.Equal(t, [][]byte{{0x01}}, b1.Binaries())
	assert.Empty(t, bOther.Texts())

	// 本节点发出的信封不重复投递
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"hello"}, a1.Texts())
	assert.Equal(t, [][]byte{{0x01}}, a1.Binaries())
}

func TestRelaySendForwardsOnLocalMiss(t *testing.T) {
	broker := NewMemoryBroker(16)
	a := newNode(t, "a", broker)
	b := newNode(t, "b", broker)
	waitSubscribers(t, broker, 2)

	a1 := a.open(t, "/chat", "a1")
	b1 := b.open(t, "/chat", "b1")

	// 本地命中不转发
	assert.True(t, a.relay.SendText("/chat", "a1", "local"))

	// 本地未命中时转发给其他节点
	assert.False(t, a.relay.SendText("/chat", "b1", "remote"))
	assert.False(t, a.relay.SendBinary("/chat", "b1", []byte("bin")))

	require.Eventually(t, func() bool {
		return len(b1.Texts()) == 1 && len(b1.Binaries()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"remote"}, b1.Texts())
	assert.Equal(t, [][]byte{[]byte("bin")}, b1.Binaries())
	assert.Equal(t, []string{"local"}, a1.Texts())
}

func TestRelaySendWithoutClientIDIsNotForwarded(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	broker := NewMemoryBroker(16)
	a := newNode(t, "a", broker, WithLogger(logger.NewFromZap(zap.New(core))))
	b := newNode(t, "b", broker)
	waitSubscribers(t, broker, 2)

	b1 := b.open(t, "/chat", "b1")
	b2 := b.open(t, "/chat", "b2")

	assert.False(t, a.relay.SendText("/chat", "", "secret"))
	assert.False(t, a.relay.SendBinary("/chat", "", []byte("secret")))
	assert.False(t, a.relay.SendBinary("/chat", "b1", nil))
	assert.Equal(t, 2, logs.FilterMessage("relay send without client id dropped").Len())

	// 之后的广播作为标记：信封按序到达，标记前不应有任何消息
	a.relay.PublishText("/chat", "marker")
	require.Eventually(t, func() bool {
		return len(b1.Texts()) == 1 && len(b2.Texts()) == 1
	}, 2*time.Second, time.Millisecond)
	for _, c := range []*fakeConn{b1, b2} {
		assert.Equal(t, []string{"marker"}, c.Texts())
		assert.Empty(t, c.Binaries())
	}
}

func TestRelayWithRouter(t *testing.T) {
	broker := NewMemoryBroker(16)
	a := newNode(t, "a", broker)
	b := newNode(t, "b", broker)
	waitSubscribers(t, broker, 2)

	router := ws.NewRouter(a.d, ws.WithPublisher(a.relay))
	b1 := b.open(t, "/chat", "b1")

	assert.Equal(t, 0, router.PublishValue("/chat", map[string]string{"text": "hi"}))
	require.Eventually(t, func() bool { return len(b1.Texts()) == 1 }, 2*time.Second, time.Millisecond)
	assert.JSONEq(t, `{"text":"hi"}`, b1.Texts()[0])
}

func TestRelayPropagatesTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	broker := NewMemoryBroker(16)
	a := newNode(t, "a", broker, WithTracerProvider(tp))
	b := newNode(t, "b", broker, WithTracerProvider(tp))
	waitSubscribers(t, broker, 2)
	b1 := b.open(t, "/chat", "b1")

	a.relay.PublishText("/chat", "traced")
	require.Eventually(t, func() bool { return len(b1.Texts()) == 1 }, 2*time.Second, time.Millisecond)

	var publish, deliver sdktrace.ReadOnlySpan
	require.Eventually(t, func() bool {
		for _, s := range recorder.Ended() {
			switch s.Name() {
			case "relay.publish":
				publish = s
			case "relay.deliver":
				deliver = s
			}
		}
		return publish != nil && deliver != nil
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, publish.SpanContext().TraceID(), deliver.SpanContext().TraceID())
	assert.Equal(t, publish.SpanContext().SpanID(), deliver.Parent().SpanID())
}

func TestRelayPublishFailureIsLocalOnly(t *testing.T) {
	broker := NewMemoryBroker(16)
	require.NoError(t, broker.Close())

	d, err := ws.NewDispatcher(ws.WithWorkers(1, 16))
	require.NoError(t, err)
	defer d.Close(context.Background())

	c := &fakeConn{id: "c1"}
	_, err = d.HandleOpen("/chat", c)
	require.NoError(t, err)

	r := New(d, broker)
	assert.Equal(t, 1, r.PublishText("/chat", "still local"))
	assert.Equal(t, []string{"still local"}, c.Texts())

	// Broker 已关闭时 Run 正常返回
	assert.NoError(t, r.Run(context.Background()))
}

func TestEnvelopeCodec(t *testing.T) {
	env := Envelope{Node: "a", Endpoint: "/chat", ClientID: "c1", Binary: true, Data: []byte{0x00, 0xff}, Time: 1}
	data, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env, got)
	assert.False(t, got.Broadcast())

	_, err = Encode(Envelope{Endpoint: "/chat"})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = Decode([]byte(`{"node":"a"}`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestMemoryBrokerBufferFull(t *testing.T) {
	broker := NewMemoryBroker(1)
	defer broker.Close()

	block := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = broker.Subscribe(ctx, func(context.Context, Envelope) { <-block })
	}()
	waitSubscribers(t, broker, 1)

	env := Envelope{Node: "a", Endpoint: "/chat", Data: []byte("x")}
	// 第一条被处理函数占住，第二条进入缓冲，第三条溢出
	require.NoError(t, broker.Publish(ctx, env))
	require.Eventually(t, func() bool {
		return broker.Publish(ctx, env) == nil
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, broker.Publish(ctx, env), ErrBufferFull)
	close(block)
}

func TestBrokerConfigValidate(t *testing.T) {
	_, err := NewRedisBroker(nil, "")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.ErrorIs(t, (&KafkaConfig{Topic: "t"}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&KafkaConfig{Brokers: []string{"b"}}).Validate(), ErrInvalidConfig)
	assert.NoError(t, DefaultKafkaConfig().Validate())

	assert.ErrorIs(t, (&AMQPConfig{Exchange: "x"}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&AMQPConfig{URL: "amqp://"}).Validate(), ErrInvalidConfig)
	assert.NoError(t, DefaultAMQPConfig().Validate())
}

func TestBrokerDropsUndecodableEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := logger.NewFromZap(zap.New(core))

	_, ok := decode(log, "kafka", []byte("not json"), zap.Int32("partition", 3), zap.Int64("offset", 42))
	assert.False(t, ok)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "kafka", fields["broker"])
	assert.EqualValues(t, 3, fields["partition"])
	assert.EqualValues(t, 42, fields["offset"])

	// 坏消息被记录并跳过，后续信封正常处理
	broker := NewMemoryBroker(4, WithBrokerLogger(log))
	defer broker.Close()

	var mu sync.Mutex
	var got []Envelope
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = broker.Subscribe(ctx, func(_ context.Context, env Envelope) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, env)
		})
	}()
	waitSubscribers(t, broker, 1)

	broker.mu.RLock()
	for sub := range broker.subs {
		sub.ch <- []byte("not json")
	}
	broker.mu.RUnlock()
	require.NoError(t, broker.Publish(ctx, Envelope{Node: "a", Endpoint: "/chat", Data: []byte("ok")}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "/chat", got[0].Endpoint)
	assert.Equal(t, 1, logs.FilterField(zap.String("broker", "memory")).Len())
}
