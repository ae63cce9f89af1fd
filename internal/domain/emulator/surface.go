package emulator

import (
	"fmt"
	"io"
	"sync"
)

// Size is a terminal dimension in character cells
type Size struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Valid reports whether both dimensions are positive
func (s Size) Valid() bool { return s.Rows > 0 && s.Cols > 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Cols, s.Rows) }

// Surface is the rendering target of one session
type Surface struct {
	ref string

	mu       sync.Mutex
	size     Size
	viewers  map[uint64]io.Writer
	watchers map[uint64]func(Size)
	nextKey  uint64
	input    func([]byte)
	replay   func() []byte
	done     chan struct{}
	unmount  sync.Once
}

func newSurface(ref string, size Size) *Surface {
	return &Surface{
		ref:      ref,
		size:     size,
		viewers:  make(map[uint64]io.Writer),
		watchers: make(map[uint64]func(Size)),
		done:     make(chan struct{}),
	}
}

// Ref returns the reference the surface is mounted under
func (s *Surface) Ref() string { return s.ref }

// Size returns the current dimensions
func (s *Surface) Size() Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// SetSize changes the dimensions and notifies watchers when they differ.
// Invalid sizes are ignored.
func (s *Surface) SetSize(size Size) {
	if !size.Valid() {
		return
	}

	s.mu.Lock()
	if size == s.size {
		s.mu.Unlock()
		return
	}
	s.size = size
	watchers := make([]func(Size), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(size)
	}
}

// Attach adds a viewer. The bound emulator's scrollback is written to w
// before any live output. The returned func detaches the viewer.
func (s *Surface) Attach(w io.Writer) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil, fmt.Errorf("surface %q unmounted", s.ref)
	default:
	}

	if s.replay != nil {
		if backlog := s.replay(); len(backlog) > 0 {
			if _, err := w.Write(backlog); err != nil {
				return nil, err
			}
		}
	}

	key := s.nextKey
	s.nextKey++
	s.viewers[key] = w

	return func() {
		s.mu.Lock()
		delete(s.viewers, key)
		s.mu.Unlock()
	}, nil
}

// Viewers returns the number of attached viewers
func (s *Surface) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// render records p through keep and writes it to every viewer as one
// step, so a viewer attaching concurrently sees each chunk exactly once.
// Viewers that fail are detached.
func (s *Surface) render(p []byte, keep func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep != nil {
		keep(p)
	}
	for key, w := range s.viewers {
		if _, err := w.Write(p); err != nil {
			delete(s.viewers, key)
		}
	}
}

// Input delivers viewer keystrokes to the bound emulator. It reports
// false when nothing is bound.
func (s *Surface) Input(p []byte) bool {
	s.mu.Lock()
	fn := s.input
	s.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(p)
	return true
}

// Done is closed when the surface is unmounted
func (s *Surface) Done() <-chan struct{} { return s.done }

func (s *Surface) bind(input func([]byte), replay func() []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.input != nil {
		return fmt.Errorf("surface %q already bound", s.ref)
	}
	s.input = input
	s.replay = replay
	return nil
}

func (s *Surface) unbind() {
	s.mu.Lock()
	s.input = nil
	s.replay = nil
	s.mu.Unlock()
}

func (s *Surface) watch(fn func(Size)) func() {
	s.mu.Lock()
	key := s.nextKey
	s.nextKey++
	s.watchers[key] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, key)
		s.mu.Unlock()
	}
}

func (s *Surface) close() {
	s.unmount.Do(func() {
		s.mu.Lock()
		s.viewers = make(map[uint64]io.Writer)
		s.mu.Unlock()
		close(s.done)
	})
}

// Host resolves surface references
type Host struct {
	mu       sync.RWMutex
	surfaces map[string]*Surface
}

// NewHost creates an empty host
func NewHost() *Host {
	return &Host{surfaces: make(map[string]*Surface)}
}

// Mount creates the surface for ref, or returns the existing one
func (h *Host) Mount(ref string, size Size) *Surface {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.surfaces[ref]; ok {
		return s
	}
	s := newSurface(ref, size)
	h.surfaces[ref] = s
	return s
}

// Lookup returns the surface mounted under ref
func (h *Host) Lookup(ref string) (*Surface, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.surfaces[ref]
	return s, ok
}

// Unmount removes the surface and closes its Done channel
func (h *Host) Unmount(ref string) {
	h.mu.Lock()
	s, ok := h.surfaces[ref]
	delete(h.surfaces, ref)
	h.mu.Unlock()

	if ok {
		s.close()
	}
}
