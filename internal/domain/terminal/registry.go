// Package terminal implements the session registry: the single owner of
// every session's emulator and dimension observer.
//
// Sessions are created in phases. Reserve registers the id with a fresh
// emulator so output arriving early is retained. Attach binds that emulator
// to a mounted surface once the surface exists, adopts its size and wires
// input and resize listeners. Observe starts the dimension observer, after
// the backend knows the session, so no resize precedes the creation event.
// Create performs all three.
package terminal

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/termgate/internal/domain/emulator"
	"github.com/GriffinCanCode/termgate/internal/shared/errs"
	"go.uber.org/zap"
)

// Resolver finds the surface mounted under a reference
type Resolver interface {
	Lookup(ref string) (*emulator.Surface, bool)
}

// Options configures an attached session
type Options struct {
	Title    string
	OnInput  func(id string, p []byte)
	OnResize func(id string, size emulator.Size)
}

// Session is one registered terminal
type Session struct {
	id        string
	createdAt time.Time
	emulator  emulator.Emulator
	observer  *emulator.Observer

	mu      sync.RWMutex
	title   string
	surface *emulator.Surface
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) CreatedAt() time.Time         { return s.createdAt }
func (s *Session) Emulator() emulator.Emulator  { return s.emulator }
func (s *Session) Observer() *emulator.Observer { return s.observer }

func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// Surface returns the bound surface, or nil while the session is reserved
func (s *Session) Surface() *emulator.Surface {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.surface
}

// Attached reports whether the second creation phase completed
func (s *Session) Attached() bool { return s.Surface() != nil }

// Info is a read-only view of a session
type Info struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Attached  bool          `json:"attached"`
	Size      emulator.Size `json:"size"`
	CreatedAt time.Time     `json:"created_at"`
}

// Option configures a Registry
type Option func(*Registry)

// WithCountHook calls fn with the session count after every change
func WithCountHook(fn func(int)) Option {
	return func(r *Registry) { r.onCount = fn }
}

// WithNow replaces the time source for session timestamps
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the keyed store of live sessions
type Registry struct {
	resolver Resolver
	factory  emulator.Factory
	logger   *zap.Logger
	onCount  func(int)
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry(resolver Resolver, factory emulator.Factory, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		resolver: resolver,
		factory:  factory,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reserve registers id with a new emulator and observer. Output written
// to a reserved session is kept and replayed once a viewer attaches.
func (r *Registry) Reserve(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("%s: %w", id, errs.ErrSessionExists)
	}

	s := &Session{
		id:        id,
		createdAt: r.now(),
		emulator:  r.factory(),
		observer:  emulator.NewObserver(),
	}
	r.sessions[id] = s
	r.countLocked()

	r.logger.Debug("Session reserved", zap.String("session_id", id))
	return s, nil
}

// Attach binds a reserved session to the surface mounted under ref. The
// emulator adopts the surface size without reporting it through
// opts.OnResize; later changes are reported once Observe runs.
func (r *Registry) Attach(id, ref string, opts Options) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("attach %s: session not reserved", id)
	}
	if s.Attached() {
		return nil, fmt.Errorf("attach %s: %w", id, errs.ErrSessionExists)
	}

	surface, ok := r.resolver.Lookup(ref)
	if !ok {
		return nil, errs.ContainerNotFound(ref)
	}

	if err := s.emulator.Open(surface); err != nil {
		return nil, fmt.Errorf("attach %s: %w", id, err)
	}
	s.emulator.Fit(surface.Size())

	if opts.OnInput != nil {
		s.emulator.OnData(func(p []byte) { opts.OnInput(id, p) })
	}
	if opts.OnResize != nil {
		s.emulator.OnResize(func(size emulator.Size) { opts.OnResize(id, size) })
	}

	s.mu.Lock()
	s.title = opts.Title
	s.surface = surface
	s.mu.Unlock()

	r.logger.Info("Session attached",
		zap.String("session_id", id),
		zap.String("surface", ref),
		zap.Stringer("size", s.emulator.Size()))
	return s, nil
}

// Observe starts reporting dimension changes of an attached session. A
// size that changed since Attach is reported immediately.
func (r *Registry) Observe(id string) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("observe %s: session not registered", id)
	}
	surface := s.Surface()
	if surface == nil {
		return fmt.Errorf("observe %s: session not attached", id)
	}

	s.observer.Observe(surface, s.emulator.Fit)
	return nil
}

// Create reserves, attaches and observes id in one step. A session whose
// surface cannot be resolved is released again.
func (r *Registry) Create(id, ref string, opts Options) (*Session, error) {
	if _, err := r.Reserve(id); err != nil {
		return nil, err
	}

	s, err := r.Attach(id, ref, opts)
	if err != nil {
		if derr := r.Destroy(id); derr != nil {
			err = errors.Join(err, derr)
		}
		return nil, err
	}
	if err := r.Observe(id); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the session registered under id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Write renders p on the session's emulator. It reports false, without
// side effects, when id is not registered.
func (r *Registry) Write(id string, p []byte) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	s.emulator.Write(p)
	return true
}

// Destroy tears the session down: the observer is disconnected, the
// emulator disposed and the entry removed. Every step runs even when an
// earlier one fails; the failures are returned joined. Destroying an
// unknown id is a no-op.
func (r *Registry) Destroy(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}

	err := errors.Join(
		step("disconnect observer", func() error {
			s.observer.Disconnect()
			return nil
		}),
		step("dispose emulator", s.emulator.Dispose),
		step("remove entry", func() error {
			delete(r.sessions, id)
			return nil
		}),
	)
	r.countLocked()

	if err != nil {
		r.logger.Warn("Session teardown incomplete", zap.String("session_id", id), zap.Error(err))
	} else {
		r.logger.Info("Session destroyed", zap.String("session_id", id))
	}
	return err
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns every session ordered by creation time
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Info{
			ID:        s.id,
			Title:     s.Title(),
			Attached:  s.Attached(),
			Size:      s.emulator.Size(),
			CreatedAt: s.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close destroys every session
func (r *Registry) Close() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var all []error
	for _, id := range ids {
		if err := r.Destroy(id); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

func (r *Registry) countLocked() {
	if r.onCount != nil {
		r.onCount(len(r.sessions))
	}
}

func step(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s: panic: %v", name, rec)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
