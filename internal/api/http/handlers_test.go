package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termgate/internal/domain/notify"
	"github.com/GriffinCanCode/termgate/internal/domain/terminal"
	"github.com/GriffinCanCode/termgate/internal/gateway"
	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/shared/errs"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ExecuteTool(ctx context.Context, tool string) (string, error) {
	args := m.Called(tool)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) ManageTool(ctx context.Context, tool string, action protocol.Action) (string, error) {
	args := m.Called(tool, action)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) OpenShell(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CloseTerminal(ctx context.Context, sid string) error {
	return m.Called(sid).Error(0)
}

func (m *mockGateway) SetMinimized(sid string, minimized bool) bool {
	return m.Called(sid, minimized).Bool(0)
}

func (m *mockGateway) Focus(sid string) bool { return m.Called(sid).Bool(0) }

func (m *mockGateway) Mode() protocol.Mode { return m.Called().Get(0).(protocol.Mode) }

func (m *mockGateway) SetMode(mode protocol.Mode) { m.Called(mode) }

func (m *mockGateway) View() gateway.View { return m.Called().Get(0).(gateway.View) }

func (m *mockGateway) Notifications() []notify.Notification {
	return m.Called().Get(0).([]notify.Notification)
}

func (m *mockGateway) ClearNotification(nid uint64) bool { return m.Called(nid).Bool(0) }

func (m *mockGateway) Poll(ctx context.Context) { m.Called() }

func setup(gw *mockGateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(gw, nil, nil).Register(router)
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.ConfigStd.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestToolAction(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		setup      func(*mockGateway)
		wantStatus int
		wantSID    string
	}{
		{
			name:       "execute",
			path:       "/api/tools/nmap/execute",
			setup:      func(g *mockGateway) { g.On("ExecuteTool", "nmap").Return("tool_nmap_1", nil) },
			wantStatus: http.StatusOK,
			wantSID:    "tool_nmap_1",
		},
		{
			name:       "install",
			path:       "/api/tools/nmap/install",
			setup:      func(g *mockGateway) { g.On("ManageTool", "nmap", protocol.ActionInstall).Return("install_nmap_1", nil) },
			wantStatus: http.StatusOK,
			wantSID:    "install_nmap_1",
		},
		{
			name:       "unknown action",
			path:       "/api/tools/nmap/explode",
			setup:      func(*mockGateway) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "backend rejects",
			path: "/api/tools/nmap/remove",
			setup: func(g *mockGateway) {
				g.On("ManageTool", "nmap", protocol.ActionRemove).
					Return("", &errs.ActionError{Tool: "nmap", Action: "remove", Status: 500, Body: "boom"})
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "channel down",
			path: "/api/tools/nmap/execute",
			setup: func(g *mockGateway) {
				g.On("ExecuteTool", "nmap").Return("", fmt.Errorf("send: %w", errs.ErrNotConnected))
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockGateway{}
			tt.setup(gw)

			w := do(setup(gw), http.MethodPost, tt.path, "")
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantSID != "" {
				assert.Equal(t, tt.wantSID, decode(t, w)["session_id"])
			}
			gw.AssertExpectations(t)
		})
	}
}

func TestSetMode(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SetMode", protocol.ModeDirect).Return()
	router := setup(gw)

	w := do(router, http.MethodPost, "/api/mode", `{"mode":"direct"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPost, "/api/mode", `{"mode":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/mode", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	gw.AssertNumberOfCalls(t, "SetMode", 1)
}

func TestTerminalLifecycle(t *testing.T) {
	gw := &mockGateway{}
	gw.On("OpenShell").Return("shell_local_1", nil)
	gw.On("SetMinimized", "shell_local_1", true).Return(true)
	gw.On("SetMinimized", "missing", true).Return(false)
	gw.On("Focus", "shell_local_1").Return(true)
	gw.On("Focus", "missing").Return(false)
	gw.On("CloseTerminal", "shell_local_1").Return(nil)
	router := setup(gw)

	w := do(router, http.MethodPost, "/api/terminals", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shell_local_1", decode(t, w)["session_id"])

	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/terminals/shell_local_1/minimize", `{"minimized":true}`).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/api/terminals/missing/minimize", `{"minimized":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/terminals/shell_local_1/minimize", `{}`).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/terminals/shell_local_1/focus", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/api/terminals/missing/focus", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodDelete, "/api/terminals/shell_local_1", "").Code)
	gw.AssertExpectations(t)
}

func TestOpenShellConflict(t *testing.T) {
	gw := &mockGateway{}
	gw.On("OpenShell").Return("", errs.ErrSessionExists)

	w := do(setup(gw), http.MethodPost, "/api/terminals", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestNotifications(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Notifications").Return([]notify.Notification{{ID: 4, Message: "nmap install started", Kind: notify.Success}})
	gw.On("ClearNotification", uint64(4)).Return(true)
	gw.On("ClearNotification", uint64(5)).Return(false)
	router := setup(gw)

	w := do(router, http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"success"`)

	assert.Equal(t, http.StatusOK, do(router, http.MethodDelete, "/api/notifications/4", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodDelete, "/api/notifications/5", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodDelete, "/api/notifications/abc", "").Code)
}

func TestViewAndHealth(t *testing.T) {
	gw := &mockGateway{}
	view := gateway.View{
		Mode:      protocol.ModeGuided,
		Connected: true,
		Local:     []terminal.Info{{ID: "tool_nmap_1", Title: "nmap (guided)"}},
	}
	gw.On("View").Return(view)
	gw.On("Poll").Return()
	router := setup(gw)

	w := do(router, http.MethodGet, "/api/view", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "guided", body["mode"])
	assert.Equal(t, true, body["connected"])

	w = do(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["sessions"])

	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/poll", "").Code)
	gw.AssertCalled(t, "Poll")
}
