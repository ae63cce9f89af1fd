package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionClosed   = errors.New("session is closed")
)

const (
	defaultRows  = 24
	defaultCols  = 80
	readSize     = 4096
	historyLimit = 100
	killGrace    = time.Second
)

// Spec describes a session to start
type Spec struct {
	ID   string
	Name string
	Tool string
	Rows int
	Cols int
	Env  map[string]string
}

// Option configures a Manager
type Option func(*Manager)

// WithOutput receives every chunk a session prints. Chunks never end in the
// middle of a UTF-8 sequence unless the shell exits there.
func WithOutput(fn func(sid string, p []byte)) Option {
	return func(m *Manager) { m.onOutput = fn }
}

// WithExit is called when a shell exits on its own
func WithExit(fn func(sid string)) Option {
	return func(m *Manager) { m.onExit = fn }
}

// WithDir sets the working directory of new shells
func WithDir(dir string) Option {
	return func(m *Manager) { m.dir = dir }
}

// Manager manages terminal sessions
type Manager struct {
	shell    string
	dir      string
	logger   *zap.Logger
	onOutput func(string, []byte)
	onExit   func(string)

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewManager creates a manager starting shell for every session
func NewManager(shell string, logger *zap.Logger, opts ...Option) *Manager {
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		shell:    shell,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a shell on a new PTY
func (m *Manager) Create(spec Spec) (Info, error) {
	if spec.ID == "" {
		return Info{}, errors.New("session id required")
	}
	if spec.Rows <= 0 {
		spec.Rows = defaultRows
	}
	if spec.Cols <= 0 {
		spec.Cols = defaultCols
	}
	if spec.Name == "" {
		spec.Name = spec.ID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[spec.ID]; ok {
		return Info{}, fmt.Errorf("%w: %s", ErrSessionExists, spec.ID)
	}

	cmd := exec.Command(m.shell)
	cmd.Dir = m.dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(spec.Rows),
		Cols: uint16(spec.Cols),
	})
	if err != nil {
		return Info{}, fmt.Errorf("failed to start PTY: %w", err)
	}

	s := &Session{
		ID:        spec.ID,
		Name:      spec.Name,
		Tool:      spec.Tool,
		Shell:     m.shell,
		StartedAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		done:      make(chan struct{}),
		rows:      spec.Rows,
		cols:      spec.Cols,
	}
	m.sessions[spec.ID] = s

	m.wg.Add(2)
	go m.readOutput(s)
	go m.monitorProcess(s)

	m.logger.Info("Session started", zap.String("session_id", s.ID), zap.String("shell", m.shell))
	return s.info(), nil
}

// readOutput forwards PTY output, carrying split UTF-8 sequences over
func (m *Manager) readOutput(s *Session) {
	defer m.wg.Done()

	buf := make([]byte, readSize)
	var carry []byte
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			var out []byte
			out, carry = splitUTF8(chunk)
			carry = append([]byte(nil), carry...)
			if len(out) > 0 && m.onOutput != nil {
				m.onOutput(s.ID, out)
			}
		}
		if err != nil {
			if len(carry) > 0 && m.onOutput != nil {
				m.onOutput(s.ID, carry)
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EIO) {
				m.logger.Debug("PTY read ended", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
	}
}

// monitorProcess waits for the shell to exit and cleans up
func (m *Manager) monitorProcess(s *Session) {
	defer m.wg.Done()
	_ = s.cmd.Wait()

	s.mu.Lock()
	s.closed = true
	killed := s.killed
	s.mu.Unlock()

	_ = s.ptmx.Close()
	close(s.done)

	m.mu.Lock()
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()

	if !killed {
		m.logger.Info("Session exited", zap.String("session_id", s.ID))
		if m.onExit != nil {
			m.onExit(s.ID)
		}
	}
}

func (m *Manager) get(sid string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	return s, nil
}

// Write sends raw input to a session
func (m *Manager) Write(sid string, input []byte) error {
	s, err := m.get(sid)
	if err != nil {
		return err
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sid)
	}

	_, err = s.ptmx.Write(input)
	return err
}

// Run types command into a session and records it in the history
func (m *Manager) Run(sid, command string) error {
	if err := m.Write(sid, []byte(command+"\n")); err != nil {
		return err
	}

	s, err := m.get(sid)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	s.history = append(s.history, command)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.mu.Unlock()
	return nil
}

// Resize changes terminal dimensions
func (m *Manager) Resize(sid string, rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}
	s, err := m.get(sid)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sid)
	}
	s.rows, s.cols = rows, cols

	return pty.Setsize(s.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Kill terminates a session. The shell gets SIGHUP, then SIGKILL after a
// grace period.
func (m *Manager) Kill(sid string) error {
	s, err := m.get(sid)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.killed = true
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sid)
	m.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(syscall.SIGHUP)
	}
	select {
	case <-s.done:
	case <-time.After(killGrace):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.ptmx.Close()
		<-s.done
	}

	m.logger.Info("Session killed", zap.String("session_id", sid))
	return nil
}

// Get returns one session
func (m *Manager) Get(sid string) (Info, error) {
	s, err := m.get(sid)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// List returns every live session ordered by start time
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Close kills every session and waits for their readers
func (m *Manager) Close() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for sid := range m.sessions {
		ids = append(ids, sid)
	}
	m.mu.RUnlock()

	var errs []error
	for _, sid := range ids {
		if err := m.Kill(sid); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	m.wg.Wait()
	return errors.Join(errs...)
}
