package emulator

import "sync"

// DefaultScrollback is the scrollback size used when none is configured (1 MiB)
const DefaultScrollback = 1024 * 1024

// Scrollback is a thread-safe ring buffer holding the most recent output
type Scrollback struct {
	mu   sync.Mutex
	data []byte
	pos  int
	full bool
}

// NewScrollback creates a ring of size bytes. Non-positive sizes select
// DefaultScrollback.
func NewScrollback(size int) *Scrollback {
	if size <= 0 {
		size = DefaultScrollback
	}
	return &Scrollback{data: make([]byte, size)}
}

// Write appends p, overwriting the oldest bytes once the ring is full
func (b *Scrollback) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := len(b.data)
	if len(p) >= size {
		copy(b.data, p[len(p)-size:])
		b.pos = 0
		b.full = true
		return
	}

	n := copy(b.data[b.pos:], p)
	if n < len(p) {
		copy(b.data, p[n:])
		b.full = true
	}
	b.pos = (b.pos + len(p)) % size
	if b.pos == 0 && len(p) > 0 {
		b.full = true
	}
}

// Snapshot returns the buffered bytes in write order
func (b *Scrollback) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]byte, b.pos)
		copy(out, b.data[:b.pos])
		return out
	}
	out := make([]byte, len(b.data))
	n := copy(out, b.data[b.pos:])
	copy(out[n:], b.data[:b.pos])
	return out
}
