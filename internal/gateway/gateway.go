// Package gateway is the application service of the terminal session
// gateway. It owns the operator actions (run a tool, install or remove
// one, open a shell, close or minimize a terminal) and wires the session
// registry, protocol bridge, reconciliation controller and notification
// sink to the shared channel.
//
// Every action registers its session before anything is sent to the
// backend, and tears the session down again on every failure path. Errors
// are turned into notifications here; they never reach the channel loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/termgate/internal/domain/bridge"
	"github.com/GriffinCanCode/termgate/internal/domain/emulator"
	"github.com/GriffinCanCode/termgate/internal/domain/notify"
	"github.com/GriffinCanCode/termgate/internal/domain/reconcile"
	"github.com/GriffinCanCode/termgate/internal/domain/terminal"
	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/shared/errs"
	"github.com/GriffinCanCode/termgate/internal/shared/id"
	"go.uber.org/zap"
)

// Transport is the shared channel to the backend
type Transport interface {
	bridge.Sender
	Start(ctx context.Context)
	Frames() <-chan protocol.Envelope
	Connected() bool
	Close() error
}

// Backend is the REST side of the backend
type Backend interface {
	reconcile.Fetcher
	ManageTool(ctx context.Context, tool string, action protocol.Action, sessionID string) (protocol.ToolActionResponse, error)
}

// Config holds the gateway settings
type Config struct {
	Mode         protocol.Mode
	DefaultSize  emulator.Size
	Scrollback   int
	NotifyTTL    time.Duration
	PollInterval time.Duration
}

// Hooks receive telemetry. Every field is optional.
type Hooks struct {
	Sessions     func(n int)
	Event        func(bridge.Direction, protocol.Event)
	Dropped      func()
	Poll         func(reconcile.Collection, error)
	Notification func(notify.Notification)
}

// Gateway coordinates sessions between the operator and the backend
type Gateway struct {
	cfg        Config
	transport  Transport
	backend    Backend
	logger     *zap.Logger
	ids        *id.Sessions
	host       *emulator.Host
	sink       *notify.Sink
	registry   *terminal.Registry
	controller *reconcile.Controller
	bridge     *bridge.Bridge

	mu   sync.RWMutex
	mode protocol.Mode

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Gateway
type Option func(*options)

type options struct {
	hooks      Hooks
	sink       []notify.Option
	controller []reconcile.Option
	ids        *id.Sessions
}

// WithHooks installs telemetry hooks
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithSinkOptions passes options to the notification sink
func WithSinkOptions(opts ...notify.Option) Option {
	return func(o *options) { o.sink = append(o.sink, opts...) }
}

// WithControllerOptions passes options to the reconciliation controller
func WithControllerOptions(opts ...reconcile.Option) Option {
	return func(o *options) { o.controller = append(o.controller, opts...) }
}

// WithSessionIDs replaces the session id generator
func WithSessionIDs(g *id.Sessions) Option {
	return func(o *options) { o.ids = g }
}

// New wires a gateway. Nothing runs until Start.
func New(cfg Config, transport Transport, backend Backend, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.DefaultSize.Valid() {
		cfg.DefaultSize = emulator.Size{Rows: 24, Cols: 80}
	}
	if cfg.Mode == "" {
		cfg.Mode = protocol.ModeGuided
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.ids == nil {
		o.ids = id.NewSessions()
	}

	g := &Gateway{
		cfg:       cfg,
		transport: transport,
		backend:   backend,
		logger:    logger,
		ids:       o.ids,
		host:      emulator.NewHost(),
		mode:      cfg.Mode,
	}

	sinkOpts := []notify.Option{notify.WithLogger(logger.Named("notify"))}
	if o.hooks.Notification != nil {
		sinkOpts = append(sinkOpts, notify.WithObserver(o.hooks.Notification))
	}
	g.sink = notify.NewSink(cfg.NotifyTTL, append(sinkOpts, o.sink...)...)

	var regOpts []terminal.Option
	if o.hooks.Sessions != nil {
		regOpts = append(regOpts, terminal.WithCountHook(o.hooks.Sessions))
	}
	g.registry = terminal.NewRegistry(g.host, emulator.ScreenFactory(cfg.Scrollback), logger.Named("registry"), regOpts...)

	ctrlOpts := []reconcile.Option{
		reconcile.WithLogger(logger.Named("reconcile")),
		reconcile.WithInterval(cfg.PollInterval),
	}
	if o.hooks.Poll != nil {
		ctrlOpts = append(ctrlOpts, reconcile.WithPollHook(o.hooks.Poll))
	}
	g.controller = reconcile.NewController(backend, g.sink, append(ctrlOpts, o.controller...)...)

	var bridgeOpts []bridge.Option
	if o.hooks.Event != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithEventHook(o.hooks.Event))
	}
	if o.hooks.Dropped != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithDropHook(o.hooks.Dropped))
	}
	g.bridge = bridge.New(transport, g.registry, g, g.sink, logger.Named("bridge"), bridgeOpts...)

	return g
}

// Start connects the channel and begins dispatching and polling
func (g *Gateway) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.transport.Start(ctx)

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.bridge.Run(ctx, g.transport.Frames())
	}()
	go func() {
		defer g.wg.Done()
		g.controller.Run(ctx)
	}()
}

// Close stops background work and releases every session
func (g *Gateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	err := g.transport.Close()
	g.wg.Wait()

	err = errors.Join(err, g.registry.Close())
	for _, t := range g.controller.View().Terminals {
		g.host.Unmount(t.ID)
	}
	g.sink.Close()
	return err
}

// ExecuteTool opens a terminal running tool in the current mode
func (g *Gateway) ExecuteTool(ctx context.Context, tool string) (string, error) {
	mode := g.Mode()
	sid := string(g.ids.Next(id.PurposeTool, tool))
	title := fmt.Sprintf("%s (%s)", tool, mode)

	if err := g.open(sid, title); err != nil {
		return "", err
	}
	if err := g.bridge.AnnounceExecute(ctx, sid, tool, mode); err != nil {
		g.fail(sid, fmt.Sprintf("Failed to run %s", tool), err)
		return "", err
	}
	g.observe(sid)

	g.logger.Info("Tool started", zap.String("tool", tool), zap.String("session_id", sid), zap.String("mode", string(mode)))
	return sid, nil
}

// InstallTool installs tool in a new terminal
func (g *Gateway) InstallTool(ctx context.Context, tool string) (string, error) {
	return g.ManageTool(ctx, tool, protocol.ActionInstall)
}

// RemoveTool removes tool in a new terminal
func (g *Gateway) RemoveTool(ctx context.Context, tool string) (string, error) {
	return g.ManageTool(ctx, tool, protocol.ActionRemove)
}

// UpdateTool updates tool in a new terminal
func (g *Gateway) UpdateTool(ctx context.Context, tool string) (string, error) {
	return g.ManageTool(ctx, tool, protocol.ActionUpdate)
}

// ManageTool runs a package action for tool in a new terminal
func (g *Gateway) ManageTool(ctx context.Context, tool string, action protocol.Action) (string, error) {
	sid := string(g.ids.Next(id.Purpose(action), tool))
	title := fmt.Sprintf("%s %s", action, tool)

	if err := g.open(sid, title); err != nil {
		return "", err
	}

	resp, err := g.backend.ManageTool(ctx, tool, action, sid)
	if err != nil {
		g.fail(sid, fmt.Sprintf("Failed to %s %s", action, tool), err)
		return "", err
	}
	g.observe(sid)
	if resp.SessionID != "" && resp.SessionID != sid {
		g.logger.Warn("Backend chose a different session id",
			zap.String("requested", sid),
			zap.String("returned", resp.SessionID))
	}

	g.sink.Raise(fmt.Sprintf("%s %s started", tool, action), notify.Success)
	return sid, nil
}

// OpenShell opens an interactive shell terminal
func (g *Gateway) OpenShell(ctx context.Context) (string, error) {
	sid := string(g.ids.Next(id.PurposeShell, "local"))

	if err := g.open(sid, "shell"); err != nil {
		return "", err
	}
	if err := g.bridge.AnnounceCreate(ctx, sid); err != nil {
		g.fail(sid, "Failed to open shell", err)
		return "", err
	}
	g.observe(sid)
	return sid, nil
}

// CloseTerminal closes a terminal on both sides. The local session is
// released even when the backend cannot be told.
func (g *Gateway) CloseTerminal(ctx context.Context, sid string) error {
	if err := g.bridge.Close(ctx, sid); err != nil {
		g.sink.Raise(fmt.Sprintf("Failed to close %s: %v", sid, err), notify.Error)
		return err
	}
	return nil
}

// SetMinimized toggles a terminal's minimized flag
func (g *Gateway) SetMinimized(sid string, minimized bool) bool {
	return g.controller.SetMinimized(sid, minimized)
}

// Mode returns the execution mode used for new tool runs
func (g *Gateway) Mode() protocol.Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// SetMode changes the execution mode for subsequent tool runs
func (g *Gateway) SetMode(mode protocol.Mode) {
	g.mu.Lock()
	g.mode = mode
	g.mu.Unlock()
}

// View is everything the operator view renders
type View struct {
	reconcile.View
	Mode          protocol.Mode         `json:"mode"`
	Connected     bool                  `json:"connected"`
	Notifications []notify.Notification `json:"notifications"`
	Local         []terminal.Info       `json:"local_sessions"`
}

// View returns the current operator view
func (g *Gateway) View() View {
	return View{
		View:          g.controller.View(),
		Mode:          g.Mode(),
		Connected:     g.transport.Connected(),
		Notifications: g.sink.List(),
		Local:         g.registry.List(),
	}
}

// Surface returns the rendering surface of a terminal
func (g *Gateway) Surface(sid string) (*emulator.Surface, bool) {
	return g.host.Lookup(sid)
}

// Notifications returns the live notifications
func (g *Gateway) Notifications() []notify.Notification { return g.sink.List() }

// ClearNotification dismisses a notification
func (g *Gateway) ClearNotification(nid uint64) bool { return g.sink.Clear(nid) }

// Poll runs one reconciliation cycle immediately
func (g *Gateway) Poll(ctx context.Context) { g.controller.Poll(ctx) }

// Focus marks the terminal the operator is looking at
func (g *Gateway) Focus(sid string) bool { return g.controller.Focus(sid) }

// MarkActive implements bridge.Presenter
func (g *Gateway) MarkActive(sid string) { g.controller.MarkActive(sid) }

// Closed implements bridge.Presenter. The surface goes with the session.
func (g *Gateway) Closed(sid string) {
	g.controller.Closed(sid)
	g.host.Unmount(sid)
}

// observe forwards dimension changes of sid once the backend knows it.
// The session may already be gone if the backend closed it meanwhile.
func (g *Gateway) observe(sid string) {
	if err := g.registry.Observe(sid); err != nil {
		g.logger.Debug("Session not observed", zap.String("session_id", sid), zap.Error(err))
	}
}

// open registers sid, mounts its surface and lists it, in that order.
// Resizes are not forwarded until observe.
func (g *Gateway) open(sid, title string) error {
	if _, err := g.registry.Reserve(sid); err != nil {
		g.sink.Raise(fmt.Sprintf("Failed to open %s: %v", title, err), notify.Error)
		return err
	}

	g.host.Mount(sid, g.cfg.DefaultSize)
	if _, err := g.registry.Attach(sid, sid, g.bridge.Options(title)); err != nil {
		g.fail(sid, fmt.Sprintf("Failed to open %s", title), err)
		return err
	}

	g.controller.AddTerminal(reconcile.Terminal{ID: sid, Title: title})
	return nil
}

// fail reports err and releases everything open created for sid
func (g *Gateway) fail(sid, message string, err error) {
	var ae *errs.ActionError
	if errors.As(err, &ae) && ae.Body != "" {
		message = fmt.Sprintf("%s: %s", message, ae.Body)
	} else {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	g.sink.Raise(message, notify.Error)

	if derr := g.registry.Destroy(sid); derr != nil {
		g.logger.Warn("Teardown after failure incomplete", zap.String("session_id", sid), zap.Error(derr))
	}
	g.controller.RemoveTerminal(sid)
	g.host.Unmount(sid)
	g.logger.Warn("Action failed", zap.String("session_id", sid), zap.Error(err))
}
