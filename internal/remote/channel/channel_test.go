package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/shared/errs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peer is a scripted backend end of the channel
type peer struct {
	upgrader websocket.Upgrader
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan []byte
	clientID atomic.Value
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	p := &peer{
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan []byte, 16),
	}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.clientID.Store(r.Header.Get(ClientIDHeader))
		conn, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			p.received <- data
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *peer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("channel never connected")
		return nil
	}
}

func fastOptions() Options {
	return Options{
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
		PingInterval: time.Second,
	}
}

func TestSendAndReceive(t *testing.T) {
	p := newPeer(t)
	var states []bool
	var mu sync.Mutex
	opts := fastOptions()
	opts.OnState = func(v bool) {
		mu.Lock()
		states = append(states, v)
		mu.Unlock()
	}

	ch := New(p.url(), opts)
	ch.Start(context.Background())
	defer ch.Close()

	server := p.accept(t)
	require.Eventually(t, ch.Connected, time.Second, 5*time.Millisecond)
	assert.Equal(t, ch.ClientID(), p.clientID.Load())

	require.NoError(t, ch.Send(context.Background(), protocol.TerminalCreate, protocol.SessionRef{SessionID: "tool_nmap_1"}))
	select {
	case raw := <-p.received:
		assert.JSONEq(t, `{"event":"terminal_create","data":{"session_id":"tool_nmap_1"}}`, string(raw))
	case <-time.After(time.Second):
		t.Fatal("frame not received")
	}

	raw, err := protocol.Encode(protocol.TerminalOutput, protocol.OutputPayload{SessionID: "tool_nmap_1", Output: "hi"})
	require.NoError(t, err)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, raw))

	select {
	case env := <-ch.Frames():
		assert.Equal(t, protocol.TerminalOutput, env.Event)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}

	mu.Lock()
	assert.Equal(t, []bool{true}, states)
	mu.Unlock()
}

func TestSendWhileDisconnected(t *testing.T) {
	ch := New("ws://127.0.0.1:1/channel", fastOptions())
	err := ch.Send(context.Background(), protocol.TerminalInput, protocol.InputPayload{SessionID: "a", Input: "x"})
	assert.ErrorIs(t, err, errs.ErrNotConnected)
	require.NoError(t, ch.Close())

	_, open := <-ch.Frames()
	assert.False(t, open)
}

func TestReconnectsAfterDrop(t *testing.T) {
	p := newPeer(t)
	ch := New(p.url(), fastOptions())
	ch.Start(context.Background())
	defer ch.Close()

	first := p.accept(t)
	require.NoError(t, first.Close())

	second := p.accept(t)
	defer second.Close()
	require.Eventually(t, ch.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Send(context.Background(), protocol.TerminalClose, protocol.SessionRef{SessionID: "a"}))
	select {
	case raw := <-p.received:
		assert.Contains(t, string(raw), "terminal_close")
	case <-time.After(time.Second):
		t.Fatal("frame not received after reconnect")
	}
}

func TestCloseStopsFrames(t *testing.T) {
	p := newPeer(t)
	ch := New(p.url(), fastOptions())
	ch.Start(context.Background())
	p.accept(t)

	require.NoError(t, ch.Close())
	assert.False(t, ch.Connected())

	select {
	case _, open := <-ch.Frames():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("frames not closed")
	}
}
