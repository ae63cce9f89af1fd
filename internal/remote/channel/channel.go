// Package channel maintains the process-wide websocket connection to the
// execution backend.
//
// The connection is re-established automatically with exponential backoff;
// dials go through a circuit breaker. Sessions are not replayed after a
// reconnect: the backend may have dropped them, and writes for a session it
// no longer knows are ignored on its side. Inbound frames are delivered on
// one channel in arrival order.
package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/termgate/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/shared/errs"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectMin = 1 * time.Second
	defaultReconnectMax = 30 * time.Second
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
	frameBuffer         = 256
)

// ClientIDHeader carries the channel's client id on the upgrade request
const ClientIDHeader = "X-Client-ID"

// Options configures a Channel
type Options struct {
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	PingInterval time.Duration
	Logger       *zap.Logger
	Breaker      *resilience.Breaker
	// OnState is called on every connect and disconnect
	OnState func(connected bool)
}

// Channel is the shared bidirectional event transport
type Channel struct {
	url      string
	opts     Options
	dialer   *websocket.Dialer
	clientID string
	frames   chan protocol.Envelope

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	connected atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	closeOnce sync.Once
}

// New creates an unstarted channel for the websocket URL
func New(url string, opts Options) *Channel {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = defaultReconnectMin
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = max(defaultReconnectMax, opts.ReconnectMin)
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.New("channel-dial", resilience.Settings{
			Timeout: opts.ReconnectMax,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		})
	}

	return &Channel{
		url:      url,
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		clientID: uuid.NewString(),
		frames:   make(chan protocol.Envelope, frameBuffer),
	}
}

// ClientID identifies this gateway to the backend
func (c *Channel) ClientID() string { return c.clientID }

// Frames delivers inbound events. It is closed after Close.
func (c *Channel) Frames() <-chan protocol.Envelope { return c.frames }

// Connected reports whether a connection is currently established
func (c *Channel) Connected() bool { return c.connected.Load() }

// Start connects in the background and keeps reconnecting until ctx is
// done or Close is called
func (c *Channel) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.frames)
		c.run(ctx)
	}()
}

// Send writes one event. It fails with errs.ErrNotConnected while the
// channel is down; nothing is queued for later delivery.
func (c *Channel) Send(ctx context.Context, event protocol.Event, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("send %s: %w", event, errs.ErrNotConnected)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errs.Transport("send "+string(event), err)
	}
	return nil
}

// Close stops reconnecting, closes the connection and waits for the
// background goroutines
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
		if !c.started.Load() {
			close(c.frames)
		}
	})
	c.wg.Wait()
	return nil
}

func (c *Channel) run(ctx context.Context) {
	delay := c.opts.ReconnectMin
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			wait := delay
			if retry := c.opts.Breaker.RetryAfter(); retry > wait {
				wait = retry
			}
			c.opts.Logger.Warn("Channel dial failed",
				zap.String("url", c.url),
				zap.Duration("retry_in", wait),
				zap.Error(err))
			if !sleep(ctx, wait) {
				return
			}
			delay = min(delay*2, c.opts.ReconnectMax)
			continue
		}
		delay = c.opts.ReconnectMin

		c.serve(ctx, conn)
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := c.opts.Breaker.Do(func() error {
		header := http.Header{}
		header.Set(ClientIDHeader, c.clientID)

		var resp *http.Response
		var err error
		conn, resp, err = c.dialer.DialContext(ctx, c.url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return err
	})
	if err != nil {
		return nil, errs.Transport("dial "+c.url, err)
	}
	return conn, nil
}

// serve owns conn until it fails or ctx ends
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	pongWait := 2 * c.opts.PingInterval
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setConnected(true)
	c.opts.Logger.Info("Channel connected", zap.String("url", c.url), zap.String("client_id", c.clientID))

	connCtx, stop := context.WithCancel(ctx)
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.pingLoop(connCtx, conn)
	}()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	err := c.readLoop(connCtx, conn)

	stop()
	<-pingDone
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.setConnected(false)

	if ctx.Err() == nil {
		c.opts.Logger.Warn("Channel disconnected", zap.String("url", c.url), zap.Error(err))
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.opts.Logger.Warn("Discarding malformed frame", zap.Error(err))
			continue
		}

		select {
		case c.frames <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) setConnected(v bool) {
	c.connected.Store(v)
	if c.opts.OnState != nil {
		c.opts.OnState(v)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
