package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termgate/internal/protocol"
)

// Pattern selects catalog files below the catalog root
const Pattern = "**/*.{yaml,yml,toml}"

// Tool is one catalog entry
type Tool struct {
	Name         string   `yaml:"name" toml:"name" json:"name"`
	Command      string   `yaml:"command" toml:"command" json:"command"`
	Description  string   `yaml:"description" toml:"description" json:"description"`
	Category     string   `yaml:"category" toml:"category" json:"category"`
	Dependencies []string `yaml:"dependencies" toml:"dependencies" json:"dependencies"`
	Guided       string   `yaml:"guided" toml:"guided" json:"-"`
	Direct       string   `yaml:"direct" toml:"direct" json:"-"`
}

// CommandFor returns the shell command that runs the tool in mode. A tool
// without a mode-specific command runs its plain command.
func (t Tool) CommandFor(mode protocol.Mode) string {
	switch {
	case mode == protocol.ModeDirect && t.Direct != "":
		return t.Direct
	case mode != protocol.ModeDirect && t.Guided != "":
		return t.Guided
	}
	return t.Command
}

// binary is the executable the tool's command starts
func (t Tool) binary() string {
	if fields := strings.Fields(t.Command); len(fields) > 0 {
		return fields[0]
	}
	return t.Name
}

// Listing is a tool as served on /api/tools
type Listing struct {
	Tool
	Installed bool `json:"installed"`
}

type file struct {
	Tools []Tool `yaml:"tools" toml:"tools"`
}

// Option configures a Catalog
type Option func(*Catalog)

// WithLookPath replaces exec.LookPath for the installed check
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Catalog) { c.lookPath = fn }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// Catalog holds the tools described by the files below a directory
type Catalog struct {
	root     string
	logger   *zap.Logger
	lookPath func(string) (string, error)

	mu    sync.RWMutex
	tools map[string]Tool
}

// New creates an empty catalog rooted at dir. Call Load to read it.
func New(dir string, opts ...Option) *Catalog {
	c := &Catalog{
		root:     dir,
		logger:   zap.NewNop(),
		lookPath: exec.LookPath,
		tools:    make(map[string]Tool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the catalog directory
func (c *Catalog) Root() string { return c.root }

// Load reads every catalog file and replaces the current tools. Files that
// fail to parse are skipped. When two files define the same tool the one
// whose path sorts last wins.
func (c *Catalog) Load(ctx context.Context) error {
	paths, err := c.discover(ctx)
	if err != nil {
		return err
	}

	tools := make(map[string]Tool)
	for _, path := range paths {
		entries, err := parseFile(path)
		if err != nil {
			c.logger.Warn("Skipping catalog file", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, t := range entries {
			key := strings.ToLower(strings.TrimSpace(t.Name))
			if key == "" {
				c.logger.Warn("Skipping unnamed tool", zap.String("path", path))
				continue
			}
			if _, dup := tools[key]; dup {
				c.logger.Warn("Tool redefined", zap.String("tool", t.Name), zap.String("path", path))
			}
			tools[key] = t
		}
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()

	c.logger.Info("Catalog loaded", zap.Int("files", len(paths)), zap.Int("tools", len(tools)))
	return nil
}

func (c *Catalog) discover(ctx context.Context) ([]string, error) {
	if _, err := os.Stat(c.root); err != nil {
		return nil, fmt.Errorf("catalog root: %w", err)
	}

	var (
		mu    sync.Mutex
		paths []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, c.root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(Pattern, filepath.ToSlash(rel)); ok {
			mu.Lock()
			paths = append(paths, p)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk catalog: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

func parseFile(path string) ([]Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var f file
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &f)
	default:
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, err
	}
	return f.Tools, nil
}

// Get looks a tool up by name, ignoring case
func (c *Catalog) Get(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Tools lists every tool by name with its installed state
func (c *Catalog) Tools() []Listing {
	c.mu.RLock()
	out := make([]Listing, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, Listing{Tool: t})
	}
	c.mu.RUnlock()

	for i := range out {
		_, err := c.lookPath(out[i].binary())
		out[i].Installed = err == nil
		if out[i].Dependencies == nil {
			out[i].Dependencies = []string{}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Categories lists the distinct tool categories
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	seen := make(map[string]struct{})
	for _, t := range c.tools {
		if t.Category != "" {
			seen[t.Category] = struct{}{}
		}
	}
	c.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tools
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}
