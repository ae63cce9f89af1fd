package pty

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	output map[string]*strings.Builder
	exited []string
}

func newRecorder() *recorder {
	return &recorder{output: make(map[string]*strings.Builder)}
}

func (r *recorder) write(sid string, p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.output[sid]
	if !ok {
		b = &strings.Builder{}
		r.output[sid] = b
	}
	b.Write(p)
}

func (r *recorder) exit(sid string) {
	r.mu.Lock()
	r.exited = append(r.exited, sid)
	r.mu.Unlock()
}

func (r *recorder) text(sid string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.output[sid]; ok {
		return b.String()
	}
	return ""
}

func (r *recorder) exits() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.exited...)
}

func newTestManager(t *testing.T) (*Manager, *recorder) {
	t.Helper()
	rec := newRecorder()
	m := NewManager("/bin/sh", nil, WithOutput(rec.write), WithExit(rec.exit), WithDir(t.TempDir()))
	t.Cleanup(func() { _ = m.Close() })
	return m, rec
}

func TestManagerRunsCommands(t *testing.T) {
	m, rec := newTestManager(t)

	info, err := m.Create(Spec{ID: "tool_nmap_1", Name: "nmap (guided)", Tool: "nmap"})
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Equal(t, 24, info.Rows)

	require.NoError(t, m.Run("tool_nmap_1", "echo termgate-$((40+2))"))
	assert.Eventually(t, func() bool {
		return strings.Contains(rec.text("tool_nmap_1"), "termgate-42")
	}, 5*time.Second, 20*time.Millisecond)

	got, err := m.Get("tool_nmap_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo termgate-$((40+2))"}, got.History)
	assert.Equal(t, "nmap", got.Tool)
}

func TestManagerRejectsDuplicateID(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create(Spec{ID: "shell_local_1"})
	require.NoError(t, err)
	_, err = m.Create(Spec{ID: "shell_local_1"})
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestManagerResize(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Create(Spec{ID: "s"})
	require.NoError(t, err)

	require.NoError(t, m.Resize("s", 40, 120))
	info, err := m.Get("s")
	require.NoError(t, err)
	assert.Equal(t, 40, info.Rows)
	assert.Equal(t, 120, info.Cols)

	assert.Error(t, m.Resize("s", 0, 10))
	assert.ErrorIs(t, m.Resize("missing", 10, 10), ErrSessionNotFound)
}

func TestManagerKillDoesNotReportExit(t *testing.T) {
	m, rec := newTestManager(t)
	_, err := m.Create(Spec{ID: "s"})
	require.NoError(t, err)
	s, err := m.get("s")
	require.NoError(t, err)

	require.NoError(t, m.Kill("s"))
	<-s.done

	assert.Empty(t, rec.exits())
	assert.Empty(t, m.List())
	assert.ErrorIs(t, m.Write("s", []byte("x")), ErrSessionNotFound)
}

func TestManagerReportsShellExit(t *testing.T) {
	m, rec := newTestManager(t)
	_, err := m.Create(Spec{ID: "s"})
	require.NoError(t, err)

	require.NoError(t, m.Run("s", "exit"))
	assert.Eventually(t, func() bool {
		return len(rec.exits()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"s"}, rec.exits())

	_, err = m.Get("s")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerList(t *testing.T) {
	m, _ := newTestManager(t)
	for _, sid := range []string{"a", "b"} {
		_, err := m.Create(Spec{ID: sid})
		require.NoError(t, err)
	}
	list := m.List()
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{list[0].ID, list[1].ID})
}
