package pty

import (
	"os"
	"os/exec"
	"sync"
	"time"
)

// Session is one shell running on a pseudo-terminal
type Session struct {
	ID        string
	Name      string
	Tool      string
	Shell     string
	StartedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File
	done chan struct{}

	mu      sync.RWMutex
	rows    int
	cols    int
	history []string
	closed  bool
	killed  bool
}

// Info is the public view of a session
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	Tool      string    `json:"tool,omitempty"`
	History   []string  `json:"history"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Session) info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:        s.ID,
		Name:      s.Name,
		Active:    !s.closed,
		Tool:      s.Tool,
		History:   append([]string{}, s.history...),
		Rows:      s.rows,
		Cols:      s.cols,
		StartedAt: s.StartedAt,
	}
}
