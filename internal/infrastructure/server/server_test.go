package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termgate/internal/domain/emulator"
	"github.com/GriffinCanCode/termgate/internal/domain/notify"
	"github.com/GriffinCanCode/termgate/internal/infrastructure/config"
	"github.com/GriffinCanCode/termgate/internal/infrastructure/logging"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Backend.URL = "http://127.0.0.1:1"
	cfg.Logging.Development = true
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown mode", func(c *config.Config) { c.Terminal.Mode = "turbo" }},
		{"bad backend scheme", func(c *config.Config) { c.Backend.URL = "ftp://backend" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := NewServer(cfg, logging.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestServerRoutes(t *testing.T) {
	h := newTestServer(t).Handler()

	w := get(t, h, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, sonic.ConfigStd.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, false, health["connected"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = get(t, h, "/api/view")
	require.Equal(t, http.StatusOK, w.Code)
	var view map[string]any
	require.NoError(t, sonic.ConfigStd.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "guided", view["mode"])

	w = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "termgate_http_requests_total")
	assert.Contains(t, w.Body.String(), "termgate_channel_connected 0")
}

func TestServerCompressesAPIResponses(t *testing.T) {
	h := newTestServer(t).Handler()

	w := get(t, h, "/api/view", "Accept-Encoding", "gzip")
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	w = get(t, h, "/metrics", "Accept-Encoding", "gzip")
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestServerStreamUnknownSession(t *testing.T) {
	h := newTestServer(t).Handler()

	w := get(t, h, "/api/terminals/missing/stream")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecutorServesCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "net.toml"), []byte(`
[[tools]]
name = "nmap"
category = "network"
command = "nmap"
`), 0o644))

	cfg := testConfig()
	cfg.Executor.Catalog = dir
	cfg.Executor.Shell = "/bin/sh"

	ex, err := NewExecutor(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ex.Close() })

	w := get(t, ex.Handler(), "/api/categories")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `["network"]`, strings.TrimSpace(w.Body.String()))
}

func TestExecutorMissingCatalog(t *testing.T) {
	cfg := testConfig()
	cfg.Executor.Catalog = filepath.Join(t.TempDir(), "absent")

	_, err := NewExecutor(context.Background(), cfg, logging.NewNop())
	assert.Error(t, err)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestGatewayRunsToolOnExecutor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.yaml"), []byte(`tools:
  - name: greeter
    command: echo
    category: demo
    guided: echo guided-$((1+1))
    direct: echo direct-$((2+2))
`), 0o644))

	cfg := testConfig()
	cfg.Executor.Catalog = dir
	cfg.Executor.Shell = "/bin/sh"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex, err := NewExecutor(ctx, cfg, logging.NewNop())
	require.NoError(t, err)
	backend := httptest.NewServer(ex.Handler())
	t.Cleanup(func() {
		backend.Close()
		_ = ex.Close()
	})

	cfg.Backend.URL = backend.URL
	srv, err := NewServer(cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	gw := srv.Gateway()
	gw.Start(ctx)
	require.Eventually(t, func() bool { return gw.View().Connected }, 5*time.Second, 20*time.Millisecond)

	sid, err := gw.ExecuteTool(ctx, "greeter")
	require.NoError(t, err)
	surface, ok := gw.Surface(sid)
	require.True(t, ok)

	var out lockedBuffer
	detach, err := surface.Attach(&out)
	require.NoError(t, err)
	defer detach()

	surface.SetSize(emulator.Size{Rows: 40, Cols: 100})
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "guided-2") }, 5*time.Second, 20*time.Millisecond)

	// Give a late terminal_error from the resize time to surface
	time.Sleep(200 * time.Millisecond)
	for _, n := range gw.Notifications() {
		assert.NotEqual(t, notify.Error, n.Kind, n.Message)
	}
}
