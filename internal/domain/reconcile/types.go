package reconcile

import (
	"bytes"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Tool is a catalog entry known to the backend
type Tool struct {
	Name         string   `json:"name"`
	Command      string   `json:"command,omitempty"`
	Description  string   `json:"description,omitempty"`
	Category     string   `json:"category,omitempty"`
	Installed    bool     `json:"installed"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Category groups tools. The backend lists categories either as bare
// strings or as {"name": ...} objects; both decode.
type Category struct {
	Name string `json:"name"`
}

func (c *Category) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return sonic.ConfigStd.Unmarshal(b, &c.Name)
	}

	var obj struct {
		Name string `json:"name"`
	}
	if err := sonic.ConfigStd.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("category: %w", err)
	}
	c.Name = obj.Name
	return nil
}

// Session is a backend-side session record
type Session struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Active  bool     `json:"active"`
	Tool    string   `json:"tool,omitempty"`
	History []string `json:"history,omitempty"`
}

// Terminal is an entry of the active terminal list
type Terminal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Minimized bool      `json:"minimized"`
	Active    bool      `json:"active"`
	Focused   bool      `json:"focused"`
	CreatedAt time.Time `json:"created_at"`
}

// Collection names one polled collection
type Collection string

const (
	Tools      Collection = "tools"
	Categories Collection = "categories"
	Sessions   Collection = "sessions"
)

// Collections lists every polled collection
var Collections = []Collection{Tools, Categories, Sessions}

// State is the load state of one collection
type State uint8

const (
	Loading State = iota
	Ready
	// Cleared follows a failed poll: the collection was emptied and is
	// Ready again after the next successful fetch
	Cleared
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Cleared:
		return "cleared"
	}
	return "loading"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// View is a consistent snapshot of everything the controller tracks
type View struct {
	Tools      []Tool               `json:"tools"`
	Categories []Category           `json:"categories"`
	Sessions   []Session            `json:"sessions"`
	Terminals  []Terminal           `json:"terminals"`
	States     map[Collection]State `json:"states"`
	PolledAt   time.Time            `json:"polled_at,omitempty"`
}
