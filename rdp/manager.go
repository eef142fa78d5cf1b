package rdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionHandle is the registry's view of one live session. lastButtons
// is the button mask of the most recent SendMouse, tracked here so
// edge detection survives the async hop to the session task.
type sessionHandle struct {
	sess        *session
	lastButtons uint8
}

// Manager is the session registry. One mutex-guarded map is the only
// state shared across sessions; each session task exclusively owns its
// canvas and protocol state.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionHandle
	logger   *slog.Logger
}

// NewManager returns an empty registry. A nil logger falls back to the
// process default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*sessionHandle),
		logger:   logger.With("component", "rdp"),
	}
}

// OpenSession registers a new session and starts its task. It returns
// immediately; connection failures surface as an ExitEvent on the
// returned channel, never as a synchronous error. The channel closes
// after the ExitEvent.
func (m *Manager) OpenSession(ctx context.Context, cfg Config) (string, <-chan Event) {
	id := uuid.NewString()
	s := newSession(id, cfg, m.logger, func() { m.remove(id) })

	m.mu.Lock()
	m.sessions[id] = &sessionHandle{sess: s}
	m.mu.Unlock()

	go s.run(ctx)
	m.logger.Info("session opened", "session_id", id, "host", cfg.Host)
	return id, s.events.channel()
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// SendMouse queues a pointer update. buttons is the full current mask
// (bit 0 left, 1 right, 2 middle, 3 x1, 4 x2); the registry supplies
// the previous mask so the session emits press and release edges. The
// command is queued under the registry lock, so masks arrive at the
// session in the order callers sent them.
func (m *Manager) SendMouse(id string, x, y uint16, buttons uint8, wheelDelta int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("unknown rdp session: %s", id)
	}
	prev := h.lastButtons
	h.lastButtons = buttons
	h.sess.commands.put(mouseCommand{x: x, y: y, buttons: buttons, prev: prev, wheel: wheelDelta})
	return nil
}

// SendKey queues a keyboard scancode event.
func (m *Manager) SendKey(id string, scancode byte, extended, release bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("unknown rdp session: %s", id)
	}
	h.sess.commands.put(keyCommand{code: scancode, extended: extended, release: release})
	return nil
}

// Close removes a session from the registry and asks its task to stop,
// waiting up to two seconds for the task to finish. On timeout the
// session is abandoned; its task will still observe the close command
// or the dying socket.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	h, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown rdp session: %s", id)
	}

	h.sess.commands.put(closeCommand{})
	select {
	case <-h.sess.done:
	case <-time.After(closeTimeout):
		m.logger.Warn("session close timed out", "session_id", id)
	}
	return nil
}
