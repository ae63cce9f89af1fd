// Package server is the reference execution backend: it runs tools and
// shells on PTYs, streams them over the channel and serves the catalog
// REST endpoints the gateway polls.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termgate/internal/executor/catalog"
	"github.com/GriffinCanCode/termgate/internal/executor/pty"
	"github.com/GriffinCanCode/termgate/internal/protocol"
)

// ChannelPath is where channel clients connect
const ChannelPath = "/channel"

// Config holds executor settings
type Config struct {
	Shell          string
	PackageManager string
	Dir            string
	// Sudo prefixes package commands with sudo
	Sudo bool
}

// Server is the reference execution backend
type Server struct {
	cfg      Config
	catalog  *catalog.Catalog
	ptys     *pty.Manager
	hub      *Hub
	logger   *zap.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader
	now      func() time.Time
}

// New builds the executor around a loaded catalog
func New(cfg Config, cat *catalog.Catalog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PackageManager == "" {
		cfg.PackageManager = "apt-get"
	}

	s := &Server{
		cfg:     cfg,
		catalog: cat,
		hub:     NewHub(logger.Named("hub")),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}

	ptyOpts := []pty.Option{pty.WithOutput(s.output), pty.WithExit(s.exited)}
	if cfg.Dir != "" {
		ptyOpts = append(ptyOpts, pty.WithDir(cfg.Dir))
	}
	s.ptys = pty.NewManager(cfg.Shell, logger.Named("pty"), ptyOpts...)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.routes(s.router)
	return s
}

func (s *Server) routes(r gin.IRouter) {
	r.GET("/health", s.health)
	r.GET(protocol.PathTools, s.listTools)
	r.GET(protocol.PathCategories, s.listCategories)
	r.GET(protocol.PathSessions, s.listSessions)
	r.POST("/api/tool/:name", s.manageTool)
	r.GET(ChannelPath, s.serveChannel)
}

// Handler returns the HTTP handler serving REST and the channel
func (s *Server) Handler() http.Handler { return s.router }

// Close kills every session and disconnects every client
func (s *Server) Close() error {
	err := s.ptys.Close()
	s.hub.Close()
	return err
}

func (s *Server) output(sid string, p []byte) {
	s.hub.Broadcast(protocol.TerminalOutput, protocol.OutputPayload{SessionID: sid, Output: string(p)})
}

func (s *Server) exited(sid string) {
	s.hub.Broadcast(protocol.TerminalClosed, protocol.SessionRef{SessionID: sid})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"clients":  s.hub.ClientCount(),
		"sessions": len(s.ptys.List()),
		"tools":    s.catalog.Len(),
	})
}

func (s *Server) listTools(c *gin.Context) {
	c.JSON(http.StatusOK, s.catalog.Tools())
}

func (s *Server) listCategories(c *gin.Context) {
	c.JSON(http.StatusOK, s.catalog.Categories())
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.ptys.List())
}

// packageCommand is the shell command performing action on a package
func (s *Server) packageCommand(tool string, action protocol.Action) string {
	pm := s.cfg.PackageManager
	var cmd string
	switch action {
	case protocol.ActionInstall:
		cmd = fmt.Sprintf("%s install -y %s", pm, tool)
	case protocol.ActionRemove:
		cmd = fmt.Sprintf("%s remove -y %s", pm, tool)
	case protocol.ActionUpdate:
		cmd = fmt.Sprintf("%s update && %s upgrade -y %s", pm, pm, tool)
	}
	if s.cfg.Sudo {
		cmd = "sudo " + cmd
	}
	return cmd
}

// packageName is what a package manager accepts as a package name
var packageName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9+._-]*$`)

func (s *Server) manageTool(c *gin.Context) {
	entry, ok := s.catalog.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, protocol.ToolActionResponse{Status: "error", Message: "Tool not found"})
		return
	}
	tool := entry.Name
	if !packageName.MatchString(tool) {
		c.JSON(http.StatusBadRequest, protocol.ToolActionResponse{Status: "error", Message: "Invalid package name"})
		return
	}

	var req protocol.ToolActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, protocol.ToolActionResponse{Status: "error", Message: "Invalid request"})
		return
	}
	action, err := protocol.ParseAction(string(req.Action))
	if err != nil {
		c.JSON(http.StatusBadRequest, protocol.ToolActionResponse{Status: "error", Message: "Invalid action"})
		return
	}

	sid := req.SessionID
	if sid == "" {
		sid = fmt.Sprintf("tool_%s_%s", tool, action)
	}

	if _, err := s.ptys.Create(pty.Spec{ID: sid, Name: fmt.Sprintf("%s %s", action, tool), Tool: tool}); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pty.ErrSessionExists) {
			status = http.StatusConflict
		}
		c.JSON(status, protocol.ToolActionResponse{Status: "error", Message: err.Error()})
		return
	}
	s.hub.Broadcast(protocol.TerminalCreated, protocol.SessionRef{SessionID: sid})

	if err := s.ptys.Run(sid, s.packageCommand(tool, action)); err != nil {
		_ = s.ptys.Kill(sid)
		c.JSON(http.StatusInternalServerError, protocol.ToolActionResponse{Status: "error", Message: err.Error()})
		return
	}

	s.logger.Info("Tool action started", zap.String("tool", tool), zap.String("action", string(action)), zap.String("session_id", sid))
	c.JSON(http.StatusOK, protocol.ToolActionResponse{Status: "success", SessionID: sid})
}
