package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termgate/internal/executor/pty"
	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/remote/channel"
)

// serveChannel upgrades a gateway connection and serves its events
func (s *Server) serveChannel(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Channel upgrade failed", zap.Error(err))
		return
	}

	cl := newClient(c.GetHeader(channel.ClientIDHeader), conn)
	s.hub.add(cl)
	go cl.writePump()

	s.readPump(cl)
}

func (s *Server) readPump(cl *client) {
	defer s.hub.remove(cl)

	cl.conn.SetReadLimit(maxFrame)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Channel read failed", zap.String("client_id", cl.id), zap.Error(err))
			}
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Decode(raw)
		if err != nil {
			s.hub.Send(cl, protocol.TerminalError, protocol.ErrorPayload{Error: err.Error()})
			continue
		}
		s.dispatch(cl, env)
	}
}

// dispatch handles one client event. Failures are reported to the
// requesting client only.
func (s *Server) dispatch(cl *client, env protocol.Envelope) {
	var err error
	var sid string

	switch env.Event {
	case protocol.TerminalCreate:
		var p protocol.SessionRef
		if err = env.Bind(&p); err == nil {
			sid = p.SessionID
			err = s.createShell(p)
		}
	case protocol.TerminalInput:
		var p protocol.InputPayload
		if err = env.Bind(&p); err == nil {
			sid = p.SessionID
			err = s.ptys.Write(p.SessionID, []byte(p.Input))
		}
	case protocol.TerminalResize:
		var p protocol.ResizePayload
		if err = env.Bind(&p); err == nil {
			sid = p.SessionID
			err = s.resize(p)
		}
	case protocol.TerminalClose:
		var p protocol.SessionRef
		if err = env.Bind(&p); err == nil {
			sid = p.SessionID
			err = s.closeSession(p.SessionID)
		}
	case protocol.ExecuteTool:
		var p protocol.ExecutePayload
		if err = env.Bind(&p); err == nil {
			sid = p.SessionID
			err = s.executeTool(p)
		}
	default:
		err = fmt.Errorf("unsupported event %q", env.Event)
	}

	if err != nil {
		s.logger.Debug("Channel event failed", zap.String("event", string(env.Event)), zap.String("session_id", sid), zap.Error(err))
		s.hub.Send(cl, protocol.TerminalError, protocol.ErrorPayload{SessionID: sid, Error: err.Error()})
	}
}

func (s *Server) createShell(p protocol.SessionRef) error {
	sid := p.SessionID
	if sid == "" {
		sid = fmt.Sprintf("term_%d", s.now().UnixMilli())
	}
	if _, err := s.ptys.Create(pty.Spec{ID: sid, Name: "shell", Rows: p.Rows, Cols: p.Cols}); err != nil {
		return err
	}
	s.hub.Broadcast(protocol.TerminalCreated, protocol.SessionRef{SessionID: sid})
	return nil
}

// resize ignores sessions that do not exist (yet); a resize may race the
// creation event of its session
func (s *Server) resize(p protocol.ResizePayload) error {
	err := s.ptys.Resize(p.SessionID, p.Rows, p.Cols)
	if errors.Is(err, pty.ErrSessionNotFound) {
		s.logger.Debug("Resize for unknown session ignored", zap.String("session_id", p.SessionID))
		return nil
	}
	return err
}

func (s *Server) closeSession(sid string) error {
	if err := s.ptys.Kill(sid); err != nil && !errors.Is(err, pty.ErrSessionNotFound) {
		return err
	}
	s.hub.Broadcast(protocol.TerminalClosed, protocol.SessionRef{SessionID: sid})
	return nil
}

func (s *Server) executeTool(p protocol.ExecutePayload) error {
	tool, ok := s.catalog.Get(p.Tool)
	if !ok {
		return fmt.Errorf("tool %s not found", p.Tool)
	}
	mode, err := protocol.ParseMode(string(p.Mode))
	if err != nil {
		return err
	}

	sid := p.SessionID
	if sid == "" {
		sid = fmt.Sprintf("tool_%s_%d", tool.Name, s.now().UnixMilli())
	}
	spec := pty.Spec{
		ID:   sid,
		Name: fmt.Sprintf("%s (%s)", tool.Name, mode),
		Tool: tool.Name,
		Rows: p.Rows,
		Cols: p.Cols,
	}
	if _, err := s.ptys.Create(spec); err != nil {
		return err
	}
	s.hub.Broadcast(protocol.TerminalCreated, protocol.SessionRef{SessionID: sid})

	if err := s.ptys.Run(sid, tool.CommandFor(mode)); err != nil {
		_ = s.ptys.Kill(sid)
		return fmt.Errorf("executing tool: %w", err)
	}
	s.logger.Info("Tool started", zap.String("tool", tool.Name), zap.String("session_id", sid), zap.String("mode", string(mode)))
	return nil
}
