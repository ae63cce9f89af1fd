package emulator

import (
	"errors"
	"sync"
)

// ErrDisposed is returned when a disposed emulator is reused
var ErrDisposed = errors.New("emulator disposed")

// Emulator renders output for one session and captures its input
type Emulator interface {
	// Open binds the emulator to a surface. An emulator opens at most once.
	Open(s *Surface) error
	// Write renders p. Partial escape sequences are passed through as is.
	Write(p []byte)
	// OnData registers a handler for input typed on the surface
	OnData(fn func([]byte))
	// OnResize registers a handler for dimension changes
	OnResize(fn func(Size))
	// Fit adopts size, firing OnResize handlers when it changed
	Fit(size Size)
	Size() Size
	// Dispose releases the surface binding. Further writes are dropped.
	Dispose() error
}

// Factory builds an emulator for a new session
type Factory func() Emulator

// Screen is a headless Emulator backed by a Scrollback
type Screen struct {
	scrollback *Scrollback

	mu       sync.Mutex
	surface  *Surface
	size     Size
	onData   []func([]byte)
	onResize []func(Size)
	disposed bool
}

// NewScreen creates a screen keeping up to scrollback bytes of history
func NewScreen(scrollback int) *Screen {
	return &Screen{scrollback: NewScrollback(scrollback)}
}

// ScreenFactory returns a Factory producing screens of the given scrollback
func ScreenFactory(scrollback int) Factory {
	return func() Emulator { return NewScreen(scrollback) }
}

func (s *Screen) Open(surface *Surface) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	if s.surface != nil {
		return errors.New("emulator already open")
	}
	if err := surface.bind(s.input, s.scrollback.Snapshot); err != nil {
		return err
	}
	s.surface = surface
	return nil
}

func (s *Screen) Write(p []byte) {
	if len(p) == 0 {
		return
	}

	s.mu.Lock()
	surface := s.surface
	disposed := s.disposed
	s.mu.Unlock()

	if disposed {
		return
	}
	if surface == nil {
		s.scrollback.Write(p)
		return
	}
	surface.render(p, s.scrollback.Write)
}

func (s *Screen) OnData(fn func([]byte)) {
	s.mu.Lock()
	s.onData = append(s.onData, fn)
	s.mu.Unlock()
}

func (s *Screen) OnResize(fn func(Size)) {
	s.mu.Lock()
	s.onResize = append(s.onResize, fn)
	s.mu.Unlock()
}

func (s *Screen) Fit(size Size) {
	if !size.Valid() {
		return
	}

	s.mu.Lock()
	if s.disposed || size == s.size {
		s.mu.Unlock()
		return
	}
	s.size = size
	handlers := append([]func(Size){}, s.onResize...)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(size)
	}
}

func (s *Screen) Size() Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Contents returns the retained scrollback
func (s *Screen) Contents() []byte { return s.scrollback.Snapshot() }

func (s *Screen) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil
	}
	s.disposed = true
	if s.surface != nil {
		s.surface.unbind()
		s.surface = nil
	}
	s.onData = nil
	s.onResize = nil
	return nil
}

func (s *Screen) input(p []byte) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	handlers := append([]func([]byte){}, s.onData...)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(p)
	}
}

// Observer reports the dimensions of one surface
type Observer struct {
	mu     sync.Mutex
	cancel func()
}

// NewObserver creates an unattached observer
func NewObserver() *Observer { return &Observer{} }

// Observe calls fn with the surface's current size, then on every change
// until Disconnect.
func (o *Observer) Observe(s *Surface, fn func(Size)) {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.cancel = s.watch(fn)
	o.mu.Unlock()

	fn(s.Size())
}

// Connected reports whether the observer is watching a surface
func (o *Observer) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

// Disconnect stops observation. Safe to call more than once.
func (o *Observer) Disconnect() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
