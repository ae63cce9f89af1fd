// Package notify holds short-lived operator notifications.
//
// Every notification gets an id from a monotonic counter and is removed
// automatically once its TTL elapses, or earlier through Clear. Messages are
// reduced to plain text before they are stored since they often carry text
// reported by the remote backend.
package notify

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// DefaultTTL is how long a notification stays visible
const DefaultTTL = 3 * time.Second

// Kind classifies a notification
type Kind uint8

const (
	Success Kind = iota
	Error
	Warning
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Error:
		return "error"
	case Warning:
		return "warning"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText encodes the kind as its name
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case Success, Error, Warning:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("invalid notification kind %d", uint8(k))
}

// UnmarshalText decodes a kind name
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a kind name
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "success":
		return Success, nil
	case "error":
		return Error, nil
	case "warning":
		return Warning, nil
	}
	return 0, fmt.Errorf("unknown notification kind %q", s)
}

// Notification is one operator-facing message
type Notification struct {
	ID        uint64    `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Notifier accepts notifications
type Notifier interface {
	Raise(message string, kind Kind) uint64
}

// Timer is a cancellable scheduled callback
type Timer interface {
	Stop() bool
}

// Clock abstracts time for expiry scheduling
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Option configures a Sink
type Option func(*Sink)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *Sink) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// WithObserver registers fn to be called for every raised notification
func WithObserver(fn func(Notification)) Option {
	return func(s *Sink) { s.observers = append(s.observers, fn) }
}

type entry struct {
	Notification
	timer Timer
}

// Sink stores notifications until they expire
type Sink struct {
	ttl       time.Duration
	clock     Clock
	logger    *zap.Logger
	policy    *bluemonday.Policy
	observers []func(Notification)

	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*entry
	closed  bool
}

// NewSink creates a sink. A non-positive ttl selects DefaultTTL.
func NewSink(ttl time.Duration, opts ...Option) *Sink {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Sink{
		ttl:     ttl,
		clock:   realClock{},
		logger:  zap.NewNop(),
		policy:  bluemonday.StrictPolicy(),
		entries: make(map[uint64]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raise stores a notification and schedules its removal. It returns the
// new id, or 0 once the sink is closed.
func (s *Sink) Raise(message string, kind Kind) uint64 {
	message = s.clean(message)
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.nextID++
	n := Notification{
		ID:        s.nextID,
		Message:   message,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	e := &entry{Notification: n}
	s.entries[n.ID] = e
	e.timer = s.clock.AfterFunc(s.ttl, func() { s.Clear(n.ID) })
	s.mu.Unlock()

	s.logger.Debug("Notification raised",
		zap.Uint64("id", n.ID),
		zap.Stringer("kind", kind),
		zap.String("message", message))

	for _, fn := range s.observers {
		fn(n)
	}
	return n.ID
}

// Clear removes a notification. It reports whether id was present.
func (s *Sink) Clear(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

// List returns the live notifications ordered by id
func (s *Sink) List() []Notification {
	now := s.clock.Now()

	s.mu.Lock()
	out := make([]Notification, 0, len(s.entries))
	for _, e := range s.entries {
		if now.Before(e.ExpiresAt) {
			out = append(out, e.Notification)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close cancels pending expiries and drops every notification
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
}

func (s *Sink) clean(message string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(message)))
}
