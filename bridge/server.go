package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xBounceIT/janus/rdp"
	"github.com/xBounceIT/janus/store"
)

const (
	readLimit     = 1 << 20
	readTimeout   = 60 * time.Second
	writeTimeout  = 10 * time.Second
	outboundDepth = 64
)

// SessionEngine is the part of rdp.Manager the bridge drives.
type SessionEngine interface {
	OpenSession(ctx context.Context, cfg rdp.Config) (string, <-chan rdp.Event)
	SendMouse(id string, x, y uint16, buttons uint8, wheelDelta int16) error
	SendKey(id string, scancode byte, extended, release bool) error
	Close(id string) error
}

// ProfileStore is the part of store.Store the bridge reads.
type ProfileStore interface {
	Root(ctx context.Context) (*store.Node, error)
	ListChildren(ctx context.Context, parentID string) ([]*store.Node, error)
	GetProfile(ctx context.Context, nodeID string) (*store.RDPProfile, error)
}

// SecretResolver turns a profile's secret reference into plaintext.
type SecretResolver interface {
	Get(id string) (string, error)
}

// Server bridges WebSocket clients to the session engine. Each client
// connection owns the sessions it opens; they are closed when the
// connection drops.
type Server struct {
	engine   SessionEngine
	profiles ProfileStore
	secrets  SecretResolver
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer wires the bridge to its collaborators. A nil logger falls
// back to the process default.
func NewServer(engine SessionEngine, profiles ProfileStore, secrets SecretResolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		profiles: profiles,
		secrets:  secrets,
		logger:   logger.With("component", "bridge"),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// ServeHTTP upgrades the request and runs the client until it
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	s.logger.Info("client connected", "remote", ws.RemoteAddr().String())
	s.handleClient(r.Context(), ws)
}

// client is one WebSocket connection's state. The read loop and the
// per-session event forwarders both touch the session set.
type client struct {
	conn *websocket.Conn
	out  chan []byte
	stop chan struct{}

	mu       sync.Mutex
	sessions map[string]struct{}
}

func (c *client) send(msg []byte) {
	select {
	case c.out <- msg:
	case <-c.stop:
	}
}

func (c *client) addSession(id string) {
	c.mu.Lock()
	c.sessions[id] = struct{}{}
	c.mu.Unlock()
}

func (c *client) forgetSession(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

func (c *client) takeSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.sessions = map[string]struct{}{}
	return ids
}

func (s *Server) handleClient(ctx context.Context, ws *websocket.Conn) {
	c := &client{
		conn:     ws,
		out:      make(chan []byte, outboundDepth),
		stop:     make(chan struct{}),
		sessions: map[string]struct{}{},
	}
	go c.writePump()

	ws.SetReadLimit(readLimit)
	ws.SetReadDeadline(time.Now().Add(readTimeout)) //nolint:errcheck
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			break
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout)) //nolint:errcheck
		cmd, err := DecodeCommand(msg)
		if err != nil {
			s.sendError(c, "", err.Error())
			continue
		}
		s.dispatch(ctx, c, cmd)
	}

	close(c.stop)
	for _, id := range c.takeSessions() {
		if err := s.engine.Close(id); err != nil {
			s.logger.Debug("closing session after disconnect", "session_id", id, "error", err)
		}
	}
	ws.Close()
	s.logger.Info("client disconnected", "remote", ws.RemoteAddr().String())
}

func (c *client) writePump() {
	for {
		select {
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, cmd *Command) {
	switch cmd.Type {
	case CommandTree:
		s.handleTree(ctx, c, cmd)
	case CommandOpen:
		s.handleOpen(ctx, c, cmd)
	case CommandMouse:
		if err := s.engine.SendMouse(cmd.SessionID, cmd.X, cmd.Y, cmd.Buttons, cmd.Wheel); err != nil {
			s.sendError(c, cmd.SessionID, err.Error())
		}
	case CommandKey:
		if err := s.engine.SendKey(cmd.SessionID, cmd.Scancode, cmd.Extended, cmd.Release); err != nil {
			s.sendError(c, cmd.SessionID, err.Error())
		}
	case CommandClose:
		c.forgetSession(cmd.SessionID)
		if err := s.engine.Close(cmd.SessionID); err != nil {
			s.sendError(c, cmd.SessionID, err.Error())
		}
	default:
		s.sendError(c, "", "unknown command type: "+cmd.Type)
	}
}

func (s *Server) handleTree(ctx context.Context, c *client, cmd *Command) {
	parentID := cmd.ParentID
	if parentID == "" {
		root, err := s.profiles.Root(ctx)
		if err != nil {
			s.sendError(c, "", err.Error())
			return
		}
		parentID = root.ID
	}
	children, err := s.profiles.ListChildren(ctx, parentID)
	if err != nil {
		s.sendError(c, "", err.Error())
		return
	}
	nodes := make([]TreeNode, 0, len(children))
	for _, n := range children {
		nodes = append(nodes, TreeNode{ID: n.ID, ParentID: n.ParentID, Kind: n.Kind, Name: n.Name})
	}
	s.sendEvent(c, &Event{Type: EventTree, NodeID: parentID, Nodes: nodes})
}

func (s *Server) handleOpen(ctx context.Context, c *client, cmd *Command) {
	profile, err := s.profiles.GetProfile(ctx, cmd.NodeID)
	if err != nil {
		s.sendError(c, "", err.Error())
		return
	}

	var password string
	if profile.SecretRef != "" {
		password, err = s.secrets.Get(profile.SecretRef)
		if err != nil {
			s.sendError(c, "", err.Error())
			return
		}
	}

	port := profile.Port
	if port == 0 {
		port = 3389
	}
	id, events := s.engine.OpenSession(ctx, rdp.Config{
		Host:          profile.Host,
		Port:          port,
		Username:      profile.Username,
		Password:      password,
		Domain:        profile.Domain,
		DesktopWidth:  profile.DesktopWidth,
		DesktopHeight: profile.DesktopHeight,
	})
	c.addSession(id)
	s.sendEvent(c, &Event{Type: EventSessionOpened, SessionID: id, NodeID: cmd.NodeID})

	go s.forwardEvents(c, id, events)
}

// forwardEvents pushes one session's engine events to the client until
// the session exits.
func (s *Server) forwardEvents(c *client, id string, events <-chan rdp.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case rdp.FrameEvent:
			s.sendEvent(c, &Event{Type: EventFrame, SessionID: id, Frame: frameToPayload(e.Frame)})
		case rdp.ExitEvent:
			s.sendEvent(c, &Event{Type: EventExit, SessionID: id, Reason: e.Reason})
		}
	}
	c.forgetSession(id)
}

func (s *Server) sendEvent(c *client, ev *Event) {
	msg, err := EncodeEvent(ev)
	if err != nil {
		s.logger.Error("encoding event", "type", ev.Type, "error", err)
		return
	}
	c.send(msg)
}

func (s *Server) sendError(c *client, sessionID, message string) {
	s.sendEvent(c, &Event{Type: EventError, SessionID: sessionID, Error: message})
}
