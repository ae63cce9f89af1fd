// Package id provides identifier generation for the gateway.
//
// Two families of identifiers are produced:
//   - Request IDs: prefixed ULIDs (req_*), k-sortable and collision free
//   - Session IDs: <purpose>_<target>_<unixmillis>, the format the tool
//     backend expects, made unique per process by a monotonic clock
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// SessionID identifies a terminal session
type SessionID string

// RequestID identifies an API request
type RequestID string

// Purpose is the leading component of a SessionID
type Purpose string

const (
	PurposeTool    Purpose = "tool"
	PurposeInstall Purpose = "install"
	PurposeRemove  Purpose = "remove"
	PurposeUpdate  Purpose = "update"
	PurposeShell   Purpose = "shell"
)

const RequestPrefix = "req"

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// ============================================================================
// Session IDs
// ============================================================================

// Sessions generates SessionIDs. Two calls never return the same
// timestamp, so IDs stay unique even for the same purpose and target
// within one millisecond.
type Sessions struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewSessions creates a session ID generator backed by the wall clock
func NewSessions() *Sessions {
	return &Sessions{now: time.Now}
}

// NewSessionsWithClock creates a generator with a custom time source
func NewSessionsWithClock(now func() time.Time) *Sessions {
	return &Sessions{now: now}
}

// Next returns a fresh SessionID for purpose and target
func (s *Sessions) Next(purpose Purpose, target string) SessionID {
	s.mu.Lock()
	ts := s.now().UnixMilli()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	s.mu.Unlock()

	return SessionID(fmt.Sprintf("%s_%s_%d", purpose, target, ts))
}

func (id SessionID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }
