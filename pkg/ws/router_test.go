package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// callLog 控制器方法调用记录
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type chatController struct {
	log     *callLog
	release chan struct{}
}

func (c *chatController) Routes(r *Routes) {
	r.OnOpen("/chat", c.Join)
	r.OnClose("/chat", c.Leave)
	r.OnMessage("/chat", c.OnChat)
}

func (c *chatController) Join(uri, clientID string) {
	c.log.add("join " + uri + " " + clientID)
}

func (c *chatController) Leave(uri, clientID string) error {
	c.log.add("leave " + uri + " " + clientID)
	return nil
}

func (c *chatController) OnChat(uri, from, payload string) {
	if c.release != nil {
		<-c.release
	}
	c.log.add("chat " + uri + " " + from + " " + payload)
}

type badJSON struct{}

func (badJSON) MarshalJSON() ([]byte, error) { return nil, errors.New("cannot encode") }

type roomMessage struct {
	Text string `json:"text"`
}

type roomController struct {
	log *callLog
}

func (c *roomController) Prefix() string { return "/rooms" }

func (c *roomController) Routes(r *Routes) {
	r.OnOpen("/{room}", c.Enter)
	r.OnMessage("/{room}", Typed(c.Say))
}

func (c *roomController) Enter(ctx context.Context, uri, clientID string) error {
	c.log.add("enter " + Param(ctx, "room") + " " + clientID)
	return nil
}

func (c *roomController) Say(uri, clientID string, msg roomMessage) error {
	c.log.add("say " + uri + " " + msg.Text)
	return nil
}

type brokenController struct {
	log *callLog
}

func (c *brokenController) Routes(r *Routes) {
	r.OnOpen("/chat", c.WrongShape)
	r.OnMessage("/chat", Typed(c.ChanPayload))
	r.OnMessage("/chat/{id<[0-9+>}", c.Raw)
	r.OnMessage("/chat", nil)
	r.OnMessage("/chat", c.Raw)
}

func (c *brokenController) WrongShape(uri string) {}

func (c *brokenController) ChanPayload(uri, clientID string, payload chan int) error { return nil }

func (c *brokenController) Raw(uri, clientID string, payload []byte) error {
	c.log.add("raw " + string(payload))
	return nil
}

type failingController struct {
	log   *callLog
	panic bool
}

func (c *failingController) Routes(r *Routes) {
	r.OnMessage("/chat", c.Fail)
}

func (c *failingController) Fail(uri, clientID string, payload []byte) error {
	c.log.add("fail " + string(payload))
	if c.panic {
		panic("controller exploded")
	}
	return errors.New("controller failed")
}

func newTestRouter(t *testing.T, opts ...Option) (*Router, *Dispatcher) {
	t.Helper()
	d := newTestDispatcher(t, opts...)
	r := NewRouter(d)
	r.Start()
	t.Cleanup(r.Stop)
	return r, d
}

func TestRouterChatScenario(t *testing.T) {
	r, d := newTestRouter(t, WithWorkers(2, 16))
	log := &callLog{}
	ctrl := &chatController{log: log, release: make(chan struct{})}
	require.Empty(t, r.Bind(ctrl))

	conn := newFakeConn("c1")
	_, err := d.HandleOpen("/chat", conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"join /chat c1"}, log.All())

	// 方法阻塞时 HandleFrame 仍然返回，说明调用不在传输层协程内执行
	returned := make(chan struct{})
	go func() {
		d.HandleFrame("/chat", conn, []byte("hi"), true)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleFrame blocked on controller method")
	}

	close(ctrl.release)
	require.Eventually(t, func() bool { return len(log.All()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "chat /chat c1 hi", log.All()[1])

	// 只调用一次
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.All(), 2)

	d.HandleClose("/chat", conn)
	assert.Equal(t, "leave /chat c1", log.All()[2])
}

func TestRouterPublishScenario(t *testing.T) {
	r, d := newTestRouter(t, WithExecutor(&manualExecutor{}))

	c1, c2, other := newFakeConn("c1"), newFakeConn("c2"), newFakeConn("o1")
	_, _ = d.HandleOpen("/chat", c1)
	_, _ = d.HandleOpen("/chat", c2)
	_, _ = d.HandleOpen("/other", other)

	assert.Equal(t, 2, r.PublishText("/chat", "hello"))
	assert.Equal(t, []string{"hello"}, c1.Texts())
	assert.Equal(t, []string{"hello"}, c2.Texts())
	assert.Empty(t, other.Texts())

	assert.True(t, r.SendBinary("/chat", "c2", []byte("b")))
	assert.Empty(t, c1.Binaries())
	assert.Equal(t, [][]byte{[]byte("b")}, c2.Binaries())
}

func TestRouterPublishValue(t *testing.T) {
	r, d := newTestRouter(t, WithExecutor(&manualExecutor{}))
	c1 := newFakeConn("c1")
	_, _ = d.HandleOpen("/chat", c1)

	assert.Equal(t, 1, r.PublishValue("/chat", nil))
	assert.Equal(t, 1, r.PublishValue("/chat", roomMessage{Text: "hi"}))
	assert.True(t, r.SendValue("/chat", "c1", map[string]int{"n": 1}))
	assert.False(t, r.SendValue("/chat", "ghost", "x"))

	texts := c1.Texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "null", texts[0])
	assert.JSONEq(t, `{"text":"hi"}`, texts[1])
	assert.JSONEq(t, `{"n":1}`, texts[2])

	// 无法编码的值不写出
	assert.Equal(t, 0, r.PublishValue("/chat", badJSON{}))
	assert.Len(t, c1.Texts(), 3)
}

func TestRouterBindValidation(t *testing.T) {
	logs, observed := newObservedLogger()
	r, d := newTestRouter(t, WithExecutor(&manualExecutor{}), WithLogger(logs))
	log := &callLog{}

	errs := r.Bind(&brokenController{log: log})
	require.Len(t, errs, 4)
	assert.ErrorIs(t, errs[0], ErrUnsupportedHandler)
	assert.ErrorIs(t, errs[1], ErrUnsupportedPayload)
	assert.ErrorIs(t, errs[2], ErrInvalidTemplate)
	assert.ErrorIs(t, errs[3], ErrNilHandler)

	var be *BindingError
	require.True(t, errors.As(errs[0], &be))
	assert.Equal(t, "*ws.brokenController", be.Controller)
	assert.Equal(t, "WrongShape", be.Method)
	assert.Equal(t, EventOpened, be.Kind)

	assert.Equal(t, 4, observed.FilterMessage("ws binding rejected").Len())

	// 合法声明仍然安装
	msgs := r.Bindings(EventMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Raw", msgs[0].Method)
	assert.Empty(t, r.Bindings(EventOpened))

	exec := d.Executor().(*manualExecutor)
	conn := newFakeConn("c1")
	_, _ = d.HandleOpen("/chat", conn)
	d.HandleFrame("/chat", conn, []byte("ok"), true)
	exec.RunAll()
	assert.Equal(t, []string{"raw ok"}, log.All())

	assert.Equal(t, []error{ErrNilController}, r.Bind(nil))
}

func TestRouterPrefixParamsAndTyped(t *testing.T) {
	exec := &manualExecutor{}
	r, d := newTestRouter(t, WithExecutor(exec))
	log := &callLog{}
	require.Empty(t, r.Bind(&roomController{log: log}))
	assert.Equal(t, []string{"/rooms/{room}"}, r.Templates())

	conn := newFakeConn("c1")
	_, _ = d.HandleOpen("/rooms/go", conn)
	d.HandleFrame("/rooms/go", conn, []byte(`{"text":"gopher"}`), true)
	d.HandleFrame("/rooms/go", conn, []byte(`not json`), true)
	exec.RunAll()

	assert.Equal(t, []string{"enter go c1", "say /rooms/go gopher"}, log.All())

	// 模板不匹配的端点不会分派
	other := newFakeConn("c2")
	_, _ = d.HandleOpen("/rooms/go/deep", other)
	assert.Len(t, log.All(), 2)
}

func TestRouterUnbind(t *testing.T) {
	exec := &manualExecutor{}
	r, d := newTestRouter(t, WithExecutor(exec))
	chatLog, rawLog := &callLog{}, &callLog{}
	chat := &chatController{log: chatLog}
	raw := &brokenController{log: rawLog}

	require.Empty(t, r.Bind(chat))
	_ = r.Bind(raw)

	assert.Equal(t, 3, r.Unbind(chat))
	assert.Equal(t, 0, r.Unbind(chat))
	assert.Empty(t, r.Bindings(EventOpened))
	assert.Empty(t, r.Bindings(EventClosed))

	conn := newFakeConn("c1")
	_, _ = d.HandleOpen("/chat", conn)
	d.HandleFrame("/chat", conn, []byte("x"), true)
	exec.RunAll()
	d.HandleClose("/chat", conn)

	assert.Empty(t, chatLog.All())
	assert.Equal(t, []string{"raw x"}, rawLog.All())
}

func TestRouterFailingBindingIsolation(t *testing.T) {
	logs, observed := newObservedLogger()
	metrics := &CounterMetrics{}
	exec := &manualExecutor{}
	r, d := newTestRouter(t, WithExecutor(exec), WithLogger(logs), WithMetrics(metrics))
	log := &callLog{}

	require.Empty(t, r.Bind(&failingController{log: log}))
	require.Empty(t, r.Bind(&failingController{log: log, panic: true}))
	_ = r.Bind(&brokenController{log: log})

	conn := newFakeConn("c1")
	_, _ = d.HandleOpen("/chat", conn)
	d.HandleFrame("/chat", conn, []byte("1"), true)
	exec.RunAll()

	assert.Equal(t, []string{"fail 1", "fail 1", "raw 1"}, log.All())

	failures := observed.FilterMessage("ws binding invocation failed").All()
	require.Len(t, failures, 2)
	fields := failures[0].ContextMap()
	assert.Equal(t, "*ws.failingController", fields["controller"])
	assert.Equal(t, "Fail", fields["method"])
	assert.Equal(t, "/chat", fields["endpoint"])
	assert.Equal(t, "controller failed", fields["error"])
	assert.Contains(t, failures[1].ContextMap()["error"], "controller exploded")

	// 失败被路由吞掉，不计为监听器失败
	assert.Equal(t, int64(2), metrics.CallbackErrors.Load())
	assert.Equal(t, 0, observed.FilterMessage("ws listener failed").Len())

	// Dispatcher 仍可继续工作
	d.HandleFrame("/chat", conn, []byte("2"), true)
	exec.RunAll()
	assert.Len(t, log.All(), 6)
}

func TestRouterStartReplaysAndStop(t *testing.T) {
	d := newTestDispatcher(t, WithExecutor(&manualExecutor{}))
	_, _ = d.HandleOpen("/chat", newFakeConn("c1"))

	log := &callLog{}
	r := NewRouter(d)
	require.Empty(t, r.Bind(&chatController{log: log}))

	r.Start()
	r.Start()
	assert.Equal(t, 1, d.Listeners())
	assert.Equal(t, []string{"join /chat c1"}, log.All())

	r.Stop()
	assert.Equal(t, 0, d.Listeners())
	_, _ = d.HandleOpen("/chat", newFakeConn("c2"))
	assert.Len(t, log.All(), 1)
}

func TestRouterTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	exec := &manualExecutor{}
	r, d := newTestRouter(t, WithExecutor(exec), WithTracerProvider(tp))
	require.Empty(t, r.Bind(&failingController{log: &callLog{}}))

	conn := newFakeConn("c1")
	_, _ = d.HandleOpen("/chat", conn)
	d.HandleFrame("/chat", conn, []byte("x"), true)
	exec.RunAll()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	invoke, received := spans[0], spans[1]
	assert.Equal(t, "ws.invoke", invoke.Name())
	assert.Equal(t, codes.Error, invoke.Status().Code)
	assert.Equal(t, "ws.received", received.Name())
	assert.Equal(t, received.SpanContext().SpanID(), invoke.Parent().SpanID())
}

// countingPublisher 记录经过的出站调用
type countingPublisher struct {
	Publisher
	mu    sync.Mutex
	calls []string
}

func (p *countingPublisher) PublishText(endpoint, msg string) int {
	p.mu.Lock()
	p.calls = append(p.calls, "publish "+endpoint+" "+msg)
	p.mu.Unlock()
	return p.Publisher.PublishText(endpoint, msg)
}

func (p *countingPublisher) SendText(endpoint, clientID, msg string) bool {
	p.mu.Lock()
	p.calls = append(p.calls, "send "+endpoint+" "+clientID+" "+msg)
	p.mu.Unlock()
	return p.Publisher.SendText(endpoint, clientID, msg)
}

func TestRouterWithPublisher(t *testing.T) {
	d := newTestDispatcher(t, WithExecutor(&manualExecutor{}))
	out := &countingPublisher{Publisher: d}
	r := NewRouter(d, WithPublisher(out))

	c1 := newFakeConn("c1")
	_, _ = d.HandleOpen("/chat", c1)

	assert.Equal(t, 1, r.PublishText("/chat", "hello"))
	assert.True(t, r.SendValue("/chat", "c1", 7))
	assert.Equal(t, []string{"publish /chat hello", "send /chat c1 7"}, out.calls)
	assert.Equal(t, []string{"hello", "7"}, c1.Texts())
}
