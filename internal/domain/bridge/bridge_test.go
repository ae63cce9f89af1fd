package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/GriffinCanCode/termgate/internal/domain/emulator"
	"github.com/GriffinCanCode/termgate/internal/domain/notify"
	"github.com/GriffinCanCode/termgate/internal/domain/terminal"
	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/shared/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sent struct {
	event   protocol.Event
	payload any
}

type recordingSender struct {
	mu  sync.Mutex
	out []sent
	err error
}

func (s *recordingSender) Send(_ context.Context, event protocol.Event, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.out = append(s.out, sent{event, payload})
	return nil
}

func (s *recordingSender) events() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Event
	for _, e := range s.out {
		out = append(out, e.event)
	}
	return out
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, event protocol.Event, payload any) error {
	return m.Called(ctx, event, payload).Error(0)
}

type presenter struct {
	active []string
	closed []string
}

func (p *presenter) MarkActive(id string) { p.active = append(p.active, id) }
func (p *presenter) Closed(id string)     { p.closed = append(p.closed, id) }

type notes struct {
	got []notify.Kind
	msg []string
}

func (n *notes) Raise(message string, kind notify.Kind) uint64 {
	n.got = append(n.got, kind)
	n.msg = append(n.msg, message)
	return uint64(len(n.got))
}

type fixture struct {
	host      *emulator.Host
	registry  *terminal.Registry
	sender    *recordingSender
	presenter *presenter
	notes     *notes
	bridge    *Bridge
	drops     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		host:      emulator.NewHost(),
		sender:    &recordingSender{},
		presenter: &presenter{},
		notes:     &notes{},
	}
	f.registry = terminal.NewRegistry(f.host, emulator.ScreenFactory(4096), zap.NewNop())
	f.bridge = New(f.sender, f.registry, f.presenter, f.notes, zap.NewNop(),
		WithDropHook(func() { f.drops++ }))
	return f
}

func (f *fixture) open(t *testing.T, id string) *bytes.Buffer {
	t.Helper()
	surface := f.host.Mount(id, emulator.Size{Rows: 24, Cols: 80})
	_, err := f.registry.Create(id, id, f.bridge.Options(id))
	require.NoError(t, err)

	var viewer bytes.Buffer
	_, err = surface.Attach(&viewer)
	require.NoError(t, err)
	return &viewer
}

func frame(t *testing.T, event protocol.Event, payload any) protocol.Envelope {
	t.Helper()
	raw, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	return env
}

func TestOutputRoutedToOneSession(t *testing.T) {
	f := newFixture(t)
	nmap := f.open(t, "tool_nmap_123")
	other := f.open(t, "tool_john_456")

	f.bridge.Dispatch(frame(t, protocol.TerminalOutput, protocol.OutputPayload{
		SessionID: "tool_nmap_123",
		Output:    "scan started\n",
	}))

	assert.Equal(t, "scan started\n", nmap.String())
	assert.Empty(t, other.String())
	assert.Zero(t, f.drops)
}

func TestOutputForUnknownSessionDropped(t *testing.T) {
	f := newFixture(t)

	f.bridge.Dispatch(frame(t, protocol.TerminalOutput, protocol.OutputPayload{
		SessionID: "ghost",
		Output:    "x",
	}))

	assert.Equal(t, 1, f.drops)
	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, f.notes.got)
}

func TestBackendCloseTearsDownWithoutReply(t *testing.T) {
	f := newFixture(t)
	f.open(t, "tool_nmap_123")
	s, ok := f.registry.Get("tool_nmap_123")
	require.True(t, ok)
	before := len(f.sender.events())

	f.bridge.Dispatch(frame(t, protocol.TerminalClosed, protocol.SessionRef{SessionID: "tool_nmap_123"}))

	_, ok = f.registry.Get("tool_nmap_123")
	assert.False(t, ok)
	assert.False(t, s.Observer().Connected())
	assert.Equal(t, []string{"tool_nmap_123"}, f.presenter.closed)
	assert.Len(t, f.sender.events(), before)

	f.bridge.Dispatch(frame(t, protocol.TerminalClosed, protocol.SessionRef{SessionID: "tool_nmap_123"}))
	assert.Equal(t, 0, f.registry.Len())
}

func TestBackendErrorKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.open(t, "tool_nmap_123")

	f.bridge.Dispatch(frame(t, protocol.TerminalError, protocol.ErrorPayload{
		SessionID: "tool_nmap_123",
		Error:     "Tool nmap not found",
	}))

	assert.Equal(t, []notify.Kind{notify.Error}, f.notes.got)
	assert.Equal(t, []string{"Tool nmap not found"}, f.notes.msg)
	assert.Equal(t, 1, f.registry.Len())
}

func TestCreatedMarksActive(t *testing.T) {
	f := newFixture(t)
	f.bridge.Dispatch(frame(t, protocol.TerminalCreated, protocol.SessionRef{SessionID: "a"}))
	assert.Equal(t, []string{"a"}, f.presenter.active)
}

func TestMalformedAndOutboundEventsIgnored(t *testing.T) {
	f := newFixture(t)
	f.bridge.Dispatch(protocol.Envelope{Event: protocol.TerminalOutput, Data: []byte(`{"session_id":`)})
	f.bridge.Dispatch(frame(t, protocol.TerminalInput, protocol.InputPayload{SessionID: "a", Input: "x"}))
	f.bridge.Dispatch(protocol.Envelope{Event: protocol.TerminalClosed})

	assert.Empty(t, f.presenter.closed)
	assert.Empty(t, f.notes.got)
}

func TestInputAndResizeForwarded(t *testing.T) {
	f := newFixture(t)
	f.open(t, "a")
	surface, ok := f.host.Lookup("a")
	require.True(t, ok)

	surface.Input([]byte("l"))
	surface.Input([]byte("s"))
	surface.SetSize(emulator.Size{Rows: 40, Cols: 100})

	f.sender.mu.Lock()
	out := append([]sent{}, f.sender.out...)
	f.sender.mu.Unlock()

	require.Len(t, out, 3)
	assert.Equal(t, sent{protocol.TerminalInput, protocol.InputPayload{SessionID: "a", Input: "l"}}, out[0])
	assert.Equal(t, sent{protocol.TerminalInput, protocol.InputPayload{SessionID: "a", Input: "s"}}, out[1])
	assert.Equal(t, sent{protocol.TerminalResize, protocol.ResizePayload{SessionID: "a", Rows: 40, Cols: 100}}, out[2])
}

func TestInputFailureRaisesError(t *testing.T) {
	f := newFixture(t)
	f.open(t, "a")
	f.sender.err = errs.ErrNotConnected

	f.bridge.Input("a", []byte("x"))
	f.bridge.Resize("a", emulator.Size{Rows: 1, Cols: 1})

	assert.Equal(t, []notify.Kind{notify.Error}, f.notes.got)
}

func TestAnnounceRequiresRegistration(t *testing.T) {
	f := newFixture(t)

	assert.Error(t, f.bridge.AnnounceCreate(context.Background(), "a"))
	assert.Error(t, f.bridge.AnnounceExecute(context.Background(), "a", "nmap", protocol.ModeGuided))
	assert.Empty(t, f.sender.events())

	f.open(t, "a")
	require.NoError(t, f.bridge.AnnounceExecute(context.Background(), "a", "nmap", protocol.ModeGuided))

	f.sender.mu.Lock()
	last := f.sender.out[len(f.sender.out)-1]
	f.sender.mu.Unlock()
	assert.Equal(t, protocol.ExecutePayload{Tool: "nmap", Mode: protocol.ModeGuided, SessionID: "a", Rows: 24, Cols: 80}, last.payload)
}

func TestCloseTearsDownOnSendFailure(t *testing.T) {
	host := emulator.NewHost()
	registry := terminal.NewRegistry(host, emulator.ScreenFactory(64), zap.NewNop())
	host.Mount("a", emulator.Size{Rows: 24, Cols: 80})
	_, err := registry.Create("a", "a", terminal.Options{})
	require.NoError(t, err)

	sender := &mockSender{}
	sender.On("Send", mock.Anything, protocol.TerminalClose, protocol.SessionRef{SessionID: "a"}).
		Return(errs.ErrNotConnected).Once()

	p := &presenter{}
	b := New(sender, registry, p, &notes{}, zap.NewNop())

	err = b.Close(context.Background(), "a")
	assert.True(t, errors.Is(err, errs.ErrNotConnected))
	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, []string{"a"}, p.closed)
	sender.AssertExpectations(t)
}

func TestRunPreservesOrder(t *testing.T) {
	f := newFixture(t)
	viewer := f.open(t, "a")

	var events []Direction
	f.bridge.onEvent = func(d Direction, _ protocol.Event) { events = append(events, d) }

	frames := make(chan protocol.Envelope, 8)
	for _, chunk := range []string{"one ", "two ", "three"} {
		frames <- frame(t, protocol.TerminalOutput, protocol.OutputPayload{SessionID: "a", Output: chunk})
	}
	close(frames)

	f.bridge.Run(context.Background(), frames)
	assert.Equal(t, "one two three", viewer.String())
	assert.Equal(t, []Direction{Inbound, Inbound, Inbound}, events)
}
