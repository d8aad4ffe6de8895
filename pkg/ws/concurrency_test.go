package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingListener 只计数的监听器
type countingListener struct {
	opened   atomic.Int64
	closed   atomic.Int64
	received atomic.Int64
}

func (l *countingListener) Opened(context.Context, string, string) error {
	l.opened.Add(1)
	return nil
}

func (l *countingListener) Closed(context.Context, string, string) error {
	l.closed.Add(1)
	return nil
}

func (l *countingListener) Received(context.Context, string, string, []byte) error {
	l.received.Add(1)
	return nil
}

// assertUniqueClients 同一端点内 clientID 不重复
func assertUniqueClients(t *testing.T, d *Dispatcher, endpoint string) {
	seen := make(map[string]bool)
	for _, c := range d.Registry().Snapshot(endpoint) {
		assert.False(t, seen[c.ClientID], "duplicate client %s on %s", c.ClientID, endpoint)
		seen[c.ClientID] = true
	}
}

func TestDispatcherChurn(t *testing.T) {
	const (
		workers    = 8
		iterations = 200
	)
	endpoints := []string{"/chat", "/rooms/a", "/rooms/b"}

	d := newTestDispatcher(t, WithWorkers(4, workers*iterations*4))
	r := NewRouter(d)
	r.Start()
	t.Cleanup(r.Stop)

	stable := &countingListener{}
	d.RegisterListener(stable)

	stop := make(chan struct{})
	var checker sync.WaitGroup
	checker.Add(1)
	go func() {
		defer checker.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, ep := range endpoints {
				assertUniqueClients(t, d, ep)
			}
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				endpoint := endpoints[(g+i)%len(endpoints)]
				conn := newFakeConn(fmt.Sprintf("g%d-%d", g, i))

				id, err := d.HandleOpen(endpoint, conn)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, conn.ID(), id)

				d.HandleFrame(endpoint, conn, []byte("ping"), true)
				d.PublishText(endpoint, "broadcast")
				d.SendText(endpoint, id, "direct")

				if i%10 == 0 {
					c := &chatController{log: &callLog{}}
					assert.Empty(t, r.Bind(c))
					assert.Equal(t, 3, r.Unbind(c))
				}
				if i%25 == 0 {
					l := &countingListener{}
					d.RegisterListener(l)
					assert.True(t, d.UnregisterListener(l))
				}

				d.HandleClose(endpoint, conn)
			}
		}(g)
	}
	wg.Wait()
	close(stop)
	checker.Wait()

	// 全部连接已注销，端点条目随最后一个连接移除
	assert.Equal(t, 0, d.Registry().Count())
	assert.Empty(t, d.Registry().Endpoints())

	// 先注册的监听器收到每个连接恰好一次 opened 与 closed
	total := int64(workers * iterations)
	assert.Equal(t, total, stable.opened.Load())
	assert.Equal(t, total, stable.closed.Load())

	// 解绑后不留任何控制器绑定
	for _, kind := range []EventKind{EventOpened, EventClosed, EventMessage} {
		assert.Empty(t, r.Bindings(kind))
	}
	assert.Equal(t, 2, d.Listeners())

	require.NoError(t, d.Close(context.Background()))
	// 关闭时已排空积压任务
	assert.Equal(t, total, stable.received.Load())
}
