package websocket

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records written frames and serves queued inbound frames.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbound:
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, errors.New("closed")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(int64)                         {}
func (f *fakeConn) SetReadDeadline(time.Time) error            { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error           { return nil }
func (f *fakeConn) SetPongHandler(func(string) error)          {}
func (f *fakeConn) RemoteAddr() net.Addr                       { return &net.TCPAddr{} }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.written))
	for _, w := range f.written {
		out = append(out, string(w))
	}
	return out
}

func TestBroadcastIsScopedToTopic(t *testing.T) {
	hub := NewHub(4)
	a := hub.NewClient(newFakeConn(), "1", 10)
	b := hub.NewClient(newFakeConn(), "1", 11)
	other := hub.NewClient(newFakeConn(), "2", 12)
	for _, c := range []*Client{a, b, other} {
		hub.RegisterClient(c)
	}

	assert.Equal(t, 2, hub.Broadcast("1", []byte("x")))
	assert.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 1)
	assert.Empty(t, other.Send)

	assert.Equal(t, 1, hub.SendToUser("1", 11, []byte("private")))
	assert.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 2)
}

func TestSlowClientIsEvictedWithoutBlockingOthers(t *testing.T) {
	hub := NewHub(2)
	slow := hub.NewClient(newFakeConn(), "1", 10)
	fast := hub.NewClient(newFakeConn(), "1", 11)
	hub.RegisterClient(slow)
	hub.RegisterClient(fast)

	hub.Broadcast("1", []byte("1"))
	hub.Broadcast("1", []byte("2"))
	// drain only the fast client
	<-fast.Send
	<-fast.Send

	assert.Equal(t, 1, hub.Broadcast("1", []byte("3")))
	assert.Equal(t, 1, hub.ClientCount("1"))

	// the evicted client's queue is closed after its buffered messages
	assert.Equal(t, "1", string(<-slow.Send))
	assert.Equal(t, "2", string(<-slow.Send))
	_, ok := <-slow.Send
	assert.False(t, ok)

	assert.False(t, hub.Send(slow, []byte("late")))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(2)
	c := hub.NewClient(newFakeConn(), "1", 10)
	hub.RegisterClient(c)

	hub.UnregisterClient(c)
	hub.UnregisterClient(c)
	assert.Zero(t, hub.ClientCount("1"))

	// a closed client cannot come back
	hub.RegisterClient(c)
	assert.Zero(t, hub.ClientCount("1"))
}

func TestWritePumpSendsOneMessagePerFrame(t *testing.T) {
	hub := NewHub(8)
	conn := newFakeConn()
	c := hub.NewClient(conn, "1", 10)
	hub.RegisterClient(c)

	hub.Send(c, []byte(`{"type":"hello"}`))
	hub.Send(c, []byte(`{"type":"state"}`))

	done := make(chan struct{})
	go func() {
		c.WritePump(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return len(conn.frames()) == 2 }, time.Second, 5*time.Millisecond)
	hub.UnregisterClient(c)
	<-done

	assert.Equal(t, []string{`{"type":"hello"}`, `{"type":"state"}`}, conn.frames())
}

func TestReadPumpForwardsInbound(t *testing.T) {
	hub := NewHub(8)
	conn := newFakeConn()
	c := hub.NewClient(conn, "1", 10)
	hub.RegisterClient(c)

	done := make(chan struct{})
	go func() {
		c.ReadPump(context.Background())
		close(done)
	}()

	conn.inbound <- []byte(`{"type":"ping"}`)
	select {
	case msg := <-hub.InboundMessages:
		assert.Same(t, c, msg.Client)
		assert.Equal(t, `{"type":"ping"}`, string(msg.Data))
	case <-time.After(time.Second):
		t.Fatal("inbound message not forwarded")
	}

	conn.Close()
	<-done
	assert.Zero(t, hub.ClientCount("1"))
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(2)
	c := hub.NewClient(newFakeConn(), "1", 10)
	hub.RegisterClient(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, ok := <-c.Send
	assert.False(t, ok)
	assert.Zero(t, hub.ClientCount("1"))
}
