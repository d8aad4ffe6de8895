package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	c1 := newFakeConn("c1")
	id, err := r.Register("/chat", c1)
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
	assert.Equal(t, 1, r.Count())

	_, err = r.Register("/chat", c1)
	assert.ErrorIs(t, err, ErrConnExists)

	_, err = r.Register("/chat", newFakeConn("c1"))
	assert.ErrorIs(t, err, ErrClientIDExists)

	// 同一 clientID 在不同端点允许存在
	_, err = r.Register("/other", newFakeConn("c1"))
	assert.NoError(t, err)

	_, err = r.Register("", newFakeConn("c2"))
	assert.ErrorIs(t, err, ErrEmptyEndpoint)

	_, err = r.Register("/chat", nil)
	assert.ErrorIs(t, err, ErrNilConn)

	_, err = r.Register("/chat", newFakeConn(""))
	assert.ErrorIs(t, err, ErrEmptyClientID)
}

func TestRegistryMaxConnections(t *testing.T) {
	r := NewRegistry(WithRegistryMaxConnections(2))

	_, err := r.Register("/a", newFakeConn("1"))
	require.NoError(t, err)
	c2 := newFakeConn("2")
	_, err = r.Register("/b", c2)
	require.NoError(t, err)

	_, err = r.Register("/a", newFakeConn("3"))
	assert.ErrorIs(t, err, ErrTooManyConnections)

	_, ok := r.Unregister("/b", c2)
	require.True(t, ok)
	_, err = r.Register("/a", newFakeConn("3"))
	assert.NoError(t, err)
}

func TestRegistryIDFunc(t *testing.T) {
	r := NewRegistry(WithIDFunc(func(c Conn) string { return "client-" + c.ID() }))

	id, err := r.Register("/chat", newFakeConn("7"))
	require.NoError(t, err)
	assert.Equal(t, "client-7", id)

	_, ok := r.Lookup("/chat", "client-7")
	assert.True(t, ok)
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	_, _ = r.Register("/chat", c1)
	_, _ = r.Register("/chat", c2)

	// 端点不一致不注销
	_, ok := r.Unregister("/other", c1)
	assert.False(t, ok)

	id, ok := r.Unregister("/chat", c1)
	require.True(t, ok)
	assert.Equal(t, "c1", id)
	assert.Equal(t, []string{"/chat"}, r.Endpoints())

	_, ok = r.Unregister("/chat", c1)
	assert.False(t, ok)

	_, ok = r.Unregister("/chat", c2)
	require.True(t, ok)
	assert.Empty(t, r.Endpoints())
	assert.Nil(t, r.Snapshot("/chat"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	_, _ = r.Register("/chat", c1)
	_, _ = r.Register("/chat", c2)

	snap := r.Snapshot("/chat")
	require.Len(t, snap, 2)
	assert.Equal(t, "c1", snap[0].ClientID)
	assert.Equal(t, "c2", snap[1].ClientID)

	_, _ = r.Unregister("/chat", c1)
	assert.Len(t, snap, 2)
	assert.Equal(t, "c1", snap[0].ClientID)
	assert.Len(t, r.Snapshot("/chat"), 1)
}

func TestRegistryAllOrder(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register("/b", newFakeConn("b1"))
	_, _ = r.Register("/a", newFakeConn("a1"))
	_, _ = r.Register("/b", newFakeConn("b2"))
	_, _ = r.Register("/a", newFakeConn("a2"))

	var got []string
	for _, c := range r.All() {
		got = append(got, c.Endpoint+":"+c.ClientID)
	}
	assert.Equal(t, []string{"/a:a1", "/a:a2", "/b:b1", "/b:b2"}, got)
}

func TestRegistryPublishScopedToEndpoint(t *testing.T) {
	metrics := &CounterMetrics{}
	r := NewRegistry(WithRegistryMetrics(metrics))
	c1, c2, other := newFakeConn("c1"), newFakeConn("c2"), newFakeConn("o1")
	_, _ = r.Register("/chat", c1)
	_, _ = r.Register("/chat", c2)
	_, _ = r.Register("/other", other)

	assert.Equal(t, 2, r.PublishText("/chat", "hello"))
	assert.Equal(t, 2, r.PublishBinary("/chat", []byte{0x01}))

	assert.Equal(t, []string{"hello"}, c1.Texts())
	assert.Equal(t, []string{"hello"}, c2.Texts())
	assert.Equal(t, [][]byte{{0x01}}, c1.Binaries())
	assert.Empty(t, other.Texts())
	assert.Empty(t, other.Binaries())

	assert.Equal(t, 0, r.PublishText("/nobody", "hello"))
	assert.Equal(t, int64(4), metrics.Sent.Load())
}

func TestRegistryPublishContinuesAfterFailure(t *testing.T) {
	logs, observed := newObservedLogger()
	metrics := &CounterMetrics{}
	r := NewRegistry(WithRegistryLogger(logs), WithRegistryMetrics(metrics))

	bad := newFakeConn("bad")
	bad.fail = true
	good := newFakeConn("good")
	_, _ = r.Register("/chat", bad)
	_, _ = r.Register("/chat", good)

	assert.Equal(t, 1, r.PublishText("/chat", "hi"))
	assert.Equal(t, []string{"hi"}, good.Texts())
	assert.Equal(t, int64(1), metrics.WriteErrors.Load())
	assert.Equal(t, 1, observed.FilterMessage("ws write failed").Len())
}

func TestRegistrySend(t *testing.T) {
	r := NewRegistry()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	_, _ = r.Register("/chat", c1)
	_, _ = r.Register("/chat", c2)

	assert.True(t, r.SendText("/chat", "c2", "only you"))
	assert.True(t, r.SendBinary("/chat", "c2", []byte("bin")))
	assert.Empty(t, c1.Texts())
	assert.Equal(t, []string{"only you"}, c2.Texts())
	assert.Equal(t, [][]byte{[]byte("bin")}, c2.Binaries())

	// 未知客户端为空操作
	assert.False(t, r.SendText("/chat", "ghost", "x"))
	assert.False(t, r.SendText("/other", "c1", "x"))
	assert.Empty(t, c1.Texts())
}
