package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/termgate/internal/domain/emulator"
)

const (
	maxMessageSize = 1 << 20
	maxInputSize   = 64 << 10
	maxRows        = 500
	maxCols        = 500
)

// Source resolves the surface a viewer attaches to
type Source interface {
	Surface(sid string) (*emulator.Surface, bool)
}

// control is a text frame from the viewer
type control struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Cols int    `json:"cols,omitempty"`
}

// sessionInfo is the first frame sent to a viewer
type sessionInfo struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Rows      int    `json:"rows"`
	Cols      int    `json:"cols"`
}

// Option configures a Handler
type Option func(*Handler)

// WithInputLimit paces viewer input frames per second. Frames over the
// limit are held back, never dropped.
func WithInputLimit(perSecond float64, burst int) Option {
	return func(h *Handler) {
		h.inputRate = rate.Limit(perSecond)
		h.inputBurst = max(burst, 1)
	}
}

// WithConnHooks is called as viewers connect and disconnect
func WithConnHooks(connected, disconnected func()) Option {
	return func(h *Handler) {
		h.onConnect = connected
		h.onDisconnect = disconnected
	}
}

// WithCheckOrigin replaces the origin check. All origins are allowed by default.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// Handler streams terminal surfaces to browser viewers
type Handler struct {
	source       Source
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	inputRate    rate.Limit
	inputBurst   int
	onConnect    func()
	onDisconnect func()
}

// NewHandler creates a viewer handler
func NewHandler(source Source, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		inputRate:  200,
		inputBurst: 400,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stream attaches the connection to the terminal named by the id param.
// Output goes out as binary frames. Input arrives as binary frames or as
// {"type":"input","data":...}; {"type":"resize","rows":..,"cols":..}
// resizes the surface.
func (h *Handler) Stream(c *gin.Context) {
	sid := c.Param("id")
	surface, ok := h.source.Surface(sid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Terminal not found",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Viewer upgrade failed", zap.String("session_id", sid), zap.Error(err))
		return
	}
	defer conn.Close()

	if h.onConnect != nil {
		h.onConnect()
	}
	if h.onDisconnect != nil {
		defer h.onDisconnect()
	}

	size := surface.Size()
	info, _ := sonic.ConfigStd.Marshal(sessionInfo{Type: "session_info", SessionID: sid, Rows: size.Rows, Cols: size.Cols})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, info); err != nil {
		return
	}

	v := newViewer(conn)
	detach, err := surface.Attach(v)
	if err != nil {
		h.logger.Debug("Viewer attach failed", zap.String("session_id", sid), zap.Error(err))
		return
	}
	defer detach()
	h.logger.Debug("Viewer attached", zap.String("session_id", sid))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v.pump(surface.Done())
	}()

	h.read(conn, surface, v)
	v.stop()
	wg.Wait()
	h.logger.Debug("Viewer detached", zap.String("session_id", sid))
}

func (h *Handler) read(conn *websocket.Conn, surface *emulator.Surface, v *viewer) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Unblock ReadMessage and the limiter once the pump is finished
	go func() {
		select {
		case <-v.done:
			cancel()
			_ = conn.SetReadDeadline(time.Now())
		case <-ctx.Done():
		}
	}()

	limiter := rate.NewLimiter(h.inputRate, h.inputBurst)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind == websocket.BinaryMessage {
			h.input(surface, data)
			continue
		}

		var msg control
		if err := sonic.ConfigStd.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "input":
			h.input(surface, []byte(msg.Data))
		case "resize":
			if msg.Rows > 0 && msg.Cols > 0 {
				surface.SetSize(emulator.Size{Rows: min(msg.Rows, maxRows), Cols: min(msg.Cols, maxCols)})
			}
		}
	}
}

func (h *Handler) input(surface *emulator.Surface, p []byte) {
	if len(p) == 0 {
		return
	}
	if len(p) > maxInputSize {
		h.logger.Debug("Viewer input too large", zap.String("session_id", surface.Ref()), zap.Int("size", len(p)))
		return
	}
	surface.Input(p)
}
