package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termgate/internal/domain/emulator"
)

type fixture struct {
	host   *emulator.Host
	screen *emulator.Screen
	server *httptest.Server

	mu    sync.Mutex
	typed []string
	sizes []emulator.Size
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{host: emulator.NewHost(), screen: emulator.NewScreen(4096)}
	surface := f.host.Mount("shell_local_1", emulator.Size{Rows: 24, Cols: 80})
	require.NoError(t, f.screen.Open(surface))
	f.screen.OnData(func(p []byte) {
		f.mu.Lock()
		f.typed = append(f.typed, string(p))
		f.mu.Unlock()
	})
	f.screen.OnResize(func(s emulator.Size) {
		f.mu.Lock()
		f.sizes = append(f.sizes, s)
		f.mu.Unlock()
	})
	emulator.NewObserver().Observe(surface, f.screen.Fit)

	router := gin.New()
	router.GET("/api/terminals/:id/stream", NewHandler(hostSource{f.host}, nil, opts...).Stream)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

// hostSource adapts emulator.Host (Lookup) to the handler's Source interface
type hostSource struct{ *emulator.Host }

func (s hostSource) Surface(sid string) (*emulator.Surface, bool) { return s.Lookup(sid) }

func (f *fixture) dial(t *testing.T, sid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/terminals/" + sid + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	require.Contains(t, string(data), `"session_info"`)
	return conn
}

func (f *fixture) typedInput() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.typed...)
}

func (f *fixture) resized() []emulator.Size {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emulator.Size(nil), f.sizes...)
}

func readBinary(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	return string(data)
}

func TestStreamReplaysAndFollowsOutput(t *testing.T) {
	f := newFixture(t)
	f.screen.Write([]byte("$ "))

	conn := f.dial(t, "shell_local_1")
	assert.Equal(t, "$ ", readBinary(t, conn))

	f.screen.Write([]byte("nmap -sV\r\n"))
	assert.Equal(t, "nmap -sV\r\n", readBinary(t, conn))
}

func TestStreamInputAndResize(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "shell_local_1")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("ls\r")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"input","data":"pwd\r"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"resize","rows":40,"cols":9999}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"resize","rows":0,"cols":10}`)))

	assert.Eventually(t, func() bool {
		return len(f.typedInput()) == 2 && len(f.resized()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"ls\r", "pwd\r"}, f.typedInput())
	assert.Equal(t, emulator.Size{Rows: 40, Cols: maxCols}, f.resized()[1])
}

func TestStreamPacesInputWithoutDropping(t *testing.T) {
	f := newFixture(t, WithInputLimit(20, 1))
	conn := f.dial(t, "shell_local_1")

	for _, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(key)))
	}

	assert.Eventually(t, func() bool { return len(f.typedInput()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c", "d"}, f.typedInput())
}

func TestStreamUnknownSession(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/api/terminals/missing/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamClosesWithSession(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "shell_local_1")
	surface, ok := f.host.Lookup("shell_local_1")
	require.True(t, ok)
	require.Eventually(t, func() bool { return surface.Viewers() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.screen.Write([]byte("bye"))
	f.host.Unmount("shell_local_1")

	assert.Equal(t, "bye", readBinary(t, conn))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestStreamConnHooks(t *testing.T) {
	var mu sync.Mutex
	active := 0
	f := newFixture(t, WithConnHooks(
		func() { mu.Lock(); active++; mu.Unlock() },
		func() { mu.Lock(); active--; mu.Unlock() },
	))

	conn := f.dial(t, "shell_local_1")
	mu.Lock()
	assert.Equal(t, 1, active)
	mu.Unlock()

	conn.Close()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return active == 0
	}, 2*time.Second, 10*time.Millisecond)
}
