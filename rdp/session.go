package rdp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/xBounceIT/janus/rdp/frame"
	"github.com/xBounceIT/janus/rdp/input"
	"github.com/xBounceIT/janus/rdp/proto"
)

// Commands delivered to a session task through its mailbox.
type sessionCommand interface {
	sessionCommand()
}

type mouseCommand struct {
	x, y    uint16
	buttons uint8
	prev    uint8
	wheel   int16
}

type keyCommand struct {
	code     byte
	extended bool
	release  bool
}

type closeCommand struct{}

func (mouseCommand) sessionCommand() {}
func (keyCommand) sessionCommand()   {}
func (closeCommand) sessionCommand() {}

// chunk is one read-pump delivery: socket bytes, or a terminal read
// error, never both.
type chunk struct {
	data []byte
	err  error
}

// session is one remote desktop connection, driven by a single task
// goroutine plus a read pump. The task owns the canvas, the protocol
// state, and all writes to the socket; the pump owns all reads.
type session struct {
	id     string
	cfg    Config
	logger *slog.Logger

	commands *mailbox[sessionCommand]
	events   *queue[Event]
	done     chan struct{}
	removed  func()
}

func newSession(id string, cfg Config, logger *slog.Logger, removed func()) *session {
	return &session{
		id:       id,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("session_id", id),
		commands: newMailbox[sessionCommand](),
		events:   newQueue[Event](),
		done:     make(chan struct{}),
		removed:  removed,
	}
}

// run is the session task. It always terminates with exactly one
// ExitEvent, after which the event channel closes and the registry no
// longer knows the session.
func (s *session) run(ctx context.Context) {
	reason := s.serve(ctx)
	s.removed()
	s.commands.close()
	s.events.push(ExitEvent{Reason: reason})
	s.events.close()
	close(s.done)
	s.logger.Info("session ended", "reason", reason)
}

// serve connects, runs the active loop, and returns the exit reason.
func (s *session) serve(ctx context.Context) string {
	addr := net.JoinHostPort(s.cfg.Host, strconv.FormatUint(uint64(s.cfg.Port), 10))
	conn, err := dial(ctx, addr)
	if err != nil {
		return err.Error()
	}
	defer conn.Close()

	connector := proto.NewConnector(proto.ClientConfig{
		Username:       s.cfg.Username,
		Password:       s.cfg.Password,
		Domain:         s.cfg.Domain,
		DesktopWidth:   s.cfg.DesktopWidth,
		DesktopHeight:  s.cfg.DesktopHeight,
		ClientName:     s.cfg.ClientName,
		KeyboardLayout: s.cfg.KeyboardLayout,
	})

	pre := proto.NewFramer(conn)
	if err := connector.ConnectBegin(pre, conn); err != nil {
		return err.Error()
	}
	tc, err := upgradeTLS(ctx, conn, s.cfg.Host)
	if err != nil {
		return err.Error()
	}
	f := proto.NewFramerLeftover(tc, pre.Leftover())
	res, err := connector.ConnectFinalize(f, tc)
	if err != nil {
		return err.Error()
	}

	s.logger.Info("session active",
		"host", s.cfg.Host,
		"width", res.DesktopWidth,
		"height", res.DesktopHeight)
	return s.activeLoop(ctx, tc, f.Leftover(), res)
}

// activeLoop is the per-session event loop: one select over socket
// readiness and pending commands, one readiness event serviced per
// iteration. Frame emission runs in the read arm after PDU draining, so
// output cadence follows server activity.
func (s *session) activeLoop(ctx context.Context, conn net.Conn, leftover []byte, res proto.ConnectionResult) string {
	canvas := frame.NewCanvas(frame.FormatBGRA, res.DesktopWidth, res.DesktopHeight)
	stage := proto.NewActiveStage(res)
	pipeline := newFramePipeline(canvas)
	db := input.NewDatabase()

	chunks := make(chan chunk)
	stop := make(chan struct{})
	defer close(stop)
	go readPump(conn, chunks, stop)

	buf := append([]byte(nil), leftover...)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err().Error()

		case c := <-chunks:
			if c.err != nil {
				if errors.Is(c.err, io.EOF) || errors.Is(c.err, io.ErrUnexpectedEOF) {
					return "Server closed connection"
				}
				return fmt.Sprintf("connection error: %v", c.err)
			}
			buf = append(buf, c.data...)
			for {
				action, size, ok := proto.Sniff(buf)
				if !ok {
					break
				}
				pdu := buf[:size]
				buf = buf[size:]
				outs, err := stage.Process(canvas, action, pdu)
				if err != nil {
					return fmt.Sprintf("RDP processing error: %v", err)
				}
				for _, out := range outs {
					switch o := out.(type) {
					case proto.ResponseFrame:
						if _, err := conn.Write(o.Data); err != nil {
							s.logger.Debug("response write failed", "error", err)
							return "Server closed connection"
						}
					case proto.GraphicsUpdate:
						pipeline.addDamage(o.Left, o.Top, o.Right, o.Bottom)
					case proto.Terminate:
						return o.Reason
					case proto.DeactivateAll:
						return "Server requested deactivation"
					}
				}
			}
			if f, ok := pipeline.tick(time.Now()); ok {
				s.events.push(FrameEvent{Frame: f})
			}

		case <-s.commands.ready():
			for {
				cmd, ok := s.commands.take()
				if !ok {
					break
				}
				reason, exit := s.handleCommand(conn, stage, db, cmd)
				if exit {
					return reason
				}
			}
		}
	}
}

// handleCommand services one queued command. The returned reason is
// meaningful only when exit is true.
func (s *session) handleCommand(conn net.Conn, stage *proto.ActiveStage, db *input.Database, cmd sessionCommand) (string, bool) {
	var ops []input.Op
	switch c := cmd.(type) {
	case closeCommand:
		return "Session closed by user", true
	case mouseCommand:
		ops = input.TranslateMouse(c.x, c.y, c.buttons, c.prev, c.wheel)
	case keyCommand:
		ops = input.TranslateKey(c.code, c.extended, c.release)
	}

	events := db.Apply(ops)
	if len(events) == 0 {
		return "", false
	}
	outs, err := stage.ProcessInput(events)
	if err != nil {
		s.logger.Debug("input encoding failed", "error", err)
		return "", false
	}
	for _, out := range outs {
		rf, ok := out.(proto.ResponseFrame)
		if !ok {
			continue
		}
		if _, err := conn.Write(rf.Data); err != nil {
			s.logger.Debug("input write failed", "error", err)
			return "Server closed connection", true
		}
	}
	return "", false
}

// readPump owns the read side of the socket. It forwards chunks until
// the connection fails or the task stops listening.
func readPump(conn net.Conn, out chan<- chunk, stop <-chan struct{}) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- chunk{data: data}:
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case out <- chunk{err: err}:
			case <-stop:
			}
			return
		}
	}
}
