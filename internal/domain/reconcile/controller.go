// Package reconcile merges polled backend state with pushed lifecycle
// events into one view.
//
// Tools, categories and sessions are fetched on a fixed interval, each
// independently. A successful fetch replaces its collection wholesale; a
// failed one empties it, marks it Cleared and raises a warning. The active terminal list is
// driven by lifecycle events. An explicit close outranks any poll that was
// already running when the close arrived; the first poll started after it
// is authoritative again.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/termgate/internal/domain/notify"
	"go.uber.org/zap"
)

// DefaultInterval is the poll period
const DefaultInterval = 5 * time.Second

// Fetcher reads the backend collections
type Fetcher interface {
	Tools(ctx context.Context) ([]Tool, error)
	Categories(ctx context.Context) ([]Category, error)
	Sessions(ctx context.Context) ([]Session, error)
}

// Option configures a Controller
type Option func(*Controller)

// WithInterval sets the poll period
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithPollHook calls fn once per collection per poll with the fetch result
func WithPollHook(fn func(Collection, error)) Option {
	return func(c *Controller) { c.onPoll = fn }
}

// WithNow replaces the time source
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns the reconciled view
type Controller struct {
	fetcher  Fetcher
	notifier notify.Notifier
	logger   *zap.Logger
	interval time.Duration
	onPoll   func(Collection, error)
	now      func() time.Time

	mu         sync.RWMutex
	gen        uint64
	tools      []Tool
	categories []Category
	sessions   []Session
	states     map[Collection]State
	polledAt   time.Time
	terminals  []Terminal
	tombs      map[string]uint64
}

// NewController creates a controller with every collection loading
func NewController(fetcher Fetcher, notifier notify.Notifier, opts ...Option) *Controller {
	c := &Controller{
		fetcher:  fetcher,
		notifier: notifier,
		logger:   zap.NewNop(),
		interval: DefaultInterval,
		now:      time.Now,
		states:   make(map[Collection]State, len(Collections)),
		tombs:    make(map[string]uint64),
	}
	for _, col := range Collections {
		c.states[col] = Loading
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls immediately and then every interval until ctx is done
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// pollOnce bounds a scheduled poll by the interval
func (c *Controller) pollOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()
	c.Poll(ctx)
}

// Poll fetches the three collections concurrently and applies each
// result on its own.
func (c *Controller) Poll(ctx context.Context) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		tools, err := c.fetcher.Tools(ctx)
		c.apply(Tools, err, func() {
			c.tools = nonNil(tools, err)
		})
	}()
	go func() {
		defer wg.Done()
		categories, err := c.fetcher.Categories(ctx)
		c.apply(Categories, err, func() {
			c.categories = nonNil(categories, err)
		})
	}()
	go func() {
		defer wg.Done()
		sessions, err := c.fetcher.Sessions(ctx)
		c.apply(Sessions, err, func() {
			c.sessions = c.reconcileSessions(gen, nonNil(sessions, err))
		})
	}()
	wg.Wait()
}

func (c *Controller) apply(col Collection, err error, set func()) {
	c.mu.Lock()
	set()
	if err != nil {
		c.states[col] = Cleared
	} else {
		c.states[col] = Ready
	}
	c.polledAt = c.now()
	c.mu.Unlock()

	if c.onPoll != nil {
		c.onPoll(col, err)
	}
	if err != nil {
		c.logger.Warn("Poll failed", zap.String("collection", string(col)), zap.Error(err))
		c.notifier.Raise(fmt.Sprintf("Failed to load %s", col), notify.Warning)
	}
}

// reconcileSessions applies tombstones to a sessions snapshot taken by
// poll gen. Callers hold c.mu.
func (c *Controller) reconcileSessions(gen uint64, sessions []Session) []Session {
	byID := make(map[string]bool, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		if tomb, ok := c.tombs[s.ID]; ok {
			if gen <= tomb {
				s.Active = false
			} else {
				delete(c.tombs, s.ID)
			}
		}
		byID[s.ID] = s.Active
	}

	for id, tomb := range c.tombs {
		if gen > tomb {
			delete(c.tombs, id)
		}
	}

	for i := range c.terminals {
		if active, ok := byID[c.terminals[i].ID]; ok {
			c.terminals[i].Active = active
		}
	}
	return sessions
}

// AddTerminal appends t to the active terminal list. An existing entry
// with the same id is replaced in place.
func (c *Controller) AddTerminal(t Terminal) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tombs, t.ID)
	for i := range c.terminals {
		if c.terminals[i].ID == t.ID {
			c.terminals[i] = t
			return
		}
	}
	c.terminals = append(c.terminals, t)
}

// RemoveTerminal drops id from the active terminal list
func (c *Controller) RemoveTerminal(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *Controller) removeLocked(id string) bool {
	for i := range c.terminals {
		if c.terminals[i].ID == id {
			c.terminals = append(c.terminals[:i], c.terminals[i+1:]...)
			return true
		}
	}
	return false
}

// Closed records an explicit close of id. The terminal leaves the list
// and polls already in flight can no longer report the session active.
func (c *Controller) Closed(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(id)
	c.tombs[id] = c.gen
	for i := range c.sessions {
		if c.sessions[i].ID == id {
			c.sessions[i].Active = false
		}
	}
}

// MarkActive records a creation acknowledgement for id
func (c *Controller) MarkActive(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.terminals {
		if c.terminals[i].ID == id {
			c.terminals[i].Active = true
		}
	}
}

// Focus marks id as the focused terminal and unfocuses the rest. Active
// flags are untouched. An unknown id changes nothing.
func (c *Controller) Focus(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for _, t := range c.terminals {
		found = found || t.ID == id
	}
	if !found {
		return false
	}
	for i := range c.terminals {
		c.terminals[i].Focused = c.terminals[i].ID == id
	}
	return true
}

// SetMinimized toggles the minimized flag of a terminal
func (c *Controller) SetMinimized(id string, minimized bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.terminals {
		if c.terminals[i].ID == id {
			c.terminals[i].Minimized = minimized
			return true
		}
	}
	return false
}

// Terminal returns the list entry for id
func (c *Controller) Terminal(id string) (Terminal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, t := range c.terminals {
		if t.ID == id {
			return t, true
		}
	}
	return Terminal{}, false
}

// State returns the load state of col
func (c *Controller) State(col Collection) State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.states[col]
}

// View returns a copy of the current state
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := make(map[Collection]State, len(c.states))
	for k, v := range c.states {
		states[k] = v
	}
	return View{
		Tools:      append([]Tool{}, c.tools...),
		Categories: append([]Category{}, c.categories...),
		Sessions:   append([]Session{}, c.sessions...),
		Terminals:  append([]Terminal{}, c.terminals...),
		States:     states,
		PolledAt:   c.polledAt,
	}
}

func nonNil[T any](items []T, err error) []T {
	if err != nil || items == nil {
		return []T{}
	}
	return items
}
