package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokmz/qiws/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errWrite = errors.New("write failed")

// fakeConn 记录写入内容的连接
type fakeConn struct {
	id   string
	fail bool

	mu       sync.Mutex
	texts    []string
	binaries [][]byte
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) WriteText(msg string) error {
	if c.fail {
		return errWrite
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, msg)
	return nil
}

func (c *fakeConn) WriteBinary(msg []byte) error {
	if c.fail {
		return errWrite
	}
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

// manualExecutor 手动执行的执行器，用于观察异步分派
type manualExecutor struct {
	mu    sync.Mutex
	tasks []func()
	err   error
}

func (e *manualExecutor) Submit(task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.tasks = append(e.tasks, task)
	return nil
}

func (e *manualExecutor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

func (e *manualExecutor) RunAll() {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

// event 监听器收到的事件
type event struct {
	listener string
	kind     string
	endpoint string
	clientID string
	payload  string
}

// eventLog 多个监听器共享的有序事件记录
type eventLog struct {
	mu     sync.Mutex
	events []event
}

func (l *eventLog) add(e event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) All() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event(nil), l.events...)
}

func (l *eventLog) Kind(kind string) []event {
	var out []event
	for _, e := range l.All() {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// recordingListener 记录事件，可配置失败
type recordingListener struct {
	name  string
	log   *eventLog
	err   error
	panic bool
}

func (r *recordingListener) record(kind, endpoint, clientID string, payload []byte) error {
	r.log.add(event{listener: r.name, kind: kind, endpoint: endpoint, clientID: clientID, payload: string(payload)})
	if r.panic {
		panic(fmt.Sprintf("%s exploded", r.name))
	}
	return r.err
}

func (r *recordingListener) Opened(_ context.Context, endpoint, clientID string) error {
	return r.record("opened", endpoint, clientID, nil)
}

func (r *recordingListener) Closed(_ context.Context, endpoint, clientID string) error {
	return r.record("closed", endpoint, clientID, nil)
}

func (r *recordingListener) Received(_ context.Context, endpoint, clientID string, payload []byte) error {
	return r.record("received", endpoint, clientID, payload)
}

// heartbeatRecorder 额外记录心跳
type heartbeatRecorder struct {
	recordingListener
}

func (r *heartbeatRecorder) Heartbeat(_ context.Context, endpoint, clientID string) error {
	return r.record("heartbeat", endpoint, clientID, nil)
}

// newObservedLogger 创建可断言的日志
func newObservedLogger() (logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.NewFromZap(zap.New(core)), logs
}

// newTestDispatcher 创建测试用 Dispatcher，测试结束时关闭
func newTestDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Close(context.Background())
	})
	return d
}
