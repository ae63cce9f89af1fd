package emulator

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("gone") }

func TestScreenRendersToViewers(t *testing.T) {
	host := NewHost()
	surface := host.Mount("tool_nmap_1", Size{Rows: 24, Cols: 80})

	screen := NewScreen(1024)
	require.NoError(t, screen.Open(surface))

	screen.Write([]byte("before "))

	var viewer bytes.Buffer
	detach, err := surface.Attach(&viewer)
	require.NoError(t, err)

	screen.Write([]byte("after"))
	assert.Equal(t, "before after", viewer.String())
	assert.Equal(t, "before after", string(screen.Contents()))

	detach()
	screen.Write([]byte("!"))
	assert.Equal(t, "before after", viewer.String())
}

func TestScreenPartialSequencesPassThrough(t *testing.T) {
	host := NewHost()
	surface := host.Mount("s", Size{Rows: 24, Cols: 80})
	screen := NewScreen(64)
	require.NoError(t, screen.Open(surface))

	var viewer bytes.Buffer
	_, err := surface.Attach(&viewer)
	require.NoError(t, err)

	screen.Write([]byte("\x1b[3"))
	screen.Write([]byte("1mred\x1b[0m"))
	assert.Equal(t, "\x1b[31mred\x1b[0m", viewer.String())
}

func TestFailingViewerDetached(t *testing.T) {
	surface := NewHost().Mount("s", Size{Rows: 1, Cols: 1})
	screen := NewScreen(64)
	require.NoError(t, screen.Open(surface))

	_, err := surface.Attach(failWriter{})
	require.NoError(t, err)
	assert.Equal(t, 1, surface.Viewers())

	screen.Write([]byte("x"))
	assert.Equal(t, 0, surface.Viewers())
}

func TestScreenInputAndResize(t *testing.T) {
	surface := NewHost().Mount("s", Size{Rows: 24, Cols: 80})
	screen := NewScreen(64)
	require.NoError(t, screen.Open(surface))

	var typed []string
	var sizes []Size
	screen.OnData(func(p []byte) { typed = append(typed, string(p)) })
	screen.OnResize(func(s Size) { sizes = append(sizes, s) })

	assert.True(t, surface.Input([]byte("ls\r")))
	assert.Equal(t, []string{"ls\r"}, typed)

	screen.Fit(Size{Rows: 30, Cols: 100})
	screen.Fit(Size{Rows: 30, Cols: 100})
	screen.Fit(Size{Rows: 0, Cols: 100})
	assert.Equal(t, []Size{{Rows: 30, Cols: 100}}, sizes)
	assert.Equal(t, Size{Rows: 30, Cols: 100}, screen.Size())
}

func TestScreenDispose(t *testing.T) {
	surface := NewHost().Mount("s", Size{Rows: 24, Cols: 80})
	screen := NewScreen(64)
	require.NoError(t, screen.Open(surface))

	called := false
	screen.OnData(func([]byte) { called = true })

	require.NoError(t, screen.Dispose())
	require.NoError(t, screen.Dispose())

	assert.False(t, surface.Input([]byte("x")))
	assert.False(t, called)
	assert.ErrorIs(t, screen.Open(surface), ErrDisposed)

	screen.Write([]byte("dropped"))
	assert.Empty(t, screen.Contents())
}

func TestSurfaceSingleBinding(t *testing.T) {
	surface := NewHost().Mount("s", Size{Rows: 24, Cols: 80})
	require.NoError(t, NewScreen(64).Open(surface))
	assert.Error(t, NewScreen(64).Open(surface))
}

func TestObserver(t *testing.T) {
	surface := NewHost().Mount("s", Size{Rows: 24, Cols: 80})
	obs := NewObserver()

	var seen []Size
	obs.Observe(surface, func(s Size) { seen = append(seen, s) })
	assert.True(t, obs.Connected())

	surface.SetSize(Size{Rows: 40, Cols: 120})
	surface.SetSize(Size{Rows: 40, Cols: 120})

	obs.Disconnect()
	obs.Disconnect()
	assert.False(t, obs.Connected())

	surface.SetSize(Size{Rows: 10, Cols: 10})
	assert.Equal(t, []Size{{Rows: 24, Cols: 80}, {Rows: 40, Cols: 120}}, seen)
}

func TestHost(t *testing.T) {
	host := NewHost()
	a := host.Mount("a", Size{Rows: 1, Cols: 1})
	assert.Same(t, a, host.Mount("a", Size{Rows: 9, Cols: 9}))

	got, ok := host.Lookup("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	host.Unmount("a")
	host.Unmount("a")
	_, ok = host.Lookup("a")
	assert.False(t, ok)

	select {
	case <-a.Done():
	default:
		t.Fatal("unmounted surface not done")
	}

	_, err := a.Attach(&bytes.Buffer{})
	assert.Error(t, err)
}
