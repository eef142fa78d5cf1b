package rdp

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestManagerUnknownSession(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	for name, err := range map[string]error{
		"SendMouse": m.SendMouse("nope", 1, 2, 0, 0),
		"SendKey":   m.SendKey("nope", 0x1E, false, false),
		"Close":     m.Close("nope"),
	} {
		if err == nil {
			t.Errorf("%s: no error for an unknown id", name)
			continue
		}
		if got := err.Error(); got != "unknown rdp session: nope" {
			t.Errorf("%s: error = %q", name, got)
		}
	}
}

func TestManagerConnectFailureSurfacesAsExit(t *testing.T) {
	t.Parallel()

	// A listener that is closed immediately gives a port that refuses
	// connections.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	l.Close()

	m := NewManager(nil)
	id, events := m.OpenSession(context.Background(), Config{Host: "127.0.0.1", Port: port})

	var exit ExitEvent
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed without an exit event")
		}
		var isExit bool
		exit, isExit = ev.(ExitEvent)
		if !isExit {
			t.Fatalf("first event = %T, want ExitEvent", ev)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("no exit event after connect failure")
	}
	if !strings.Contains(exit.Reason, "dialing") {
		t.Errorf("exit reason = %q, want a dial error", exit.Reason)
	}
	if _, ok := <-events; ok {
		t.Error("event channel open after the exit event")
	}

	// The session removed itself; the id is unknown now.
	if err := m.SendMouse(id, 0, 0, 0, 0); err == nil {
		t.Error("SendMouse succeeded after session exit")
	}
}

func TestManagerButtonMaskTracking(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	h := &sessionHandle{sess: newSession("test", Config{}, m.logger, func() {})}
	m.sessions["test"] = h

	if err := m.SendMouse("test", 10, 10, 0b01, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.SendMouse("test", 10, 10, 0b11, 0); err != nil {
		t.Fatal(err)
	}

	first, ok := h.sess.commands.take()
	if !ok {
		t.Fatal("no first command queued")
	}
	second, ok := h.sess.commands.take()
	if !ok {
		t.Fatal("no second command queued")
	}
	mc1 := first.(mouseCommand)
	mc2 := second.(mouseCommand)
	if mc1.prev != 0 || mc1.buttons != 0b01 {
		t.Errorf("first command prev/buttons = %02b/%02b, want 00/01", mc1.prev, mc1.buttons)
	}
	if mc2.prev != 0b01 || mc2.buttons != 0b11 {
		t.Errorf("second command prev/buttons = %02b/%02b, want 01/11", mc2.prev, mc2.buttons)
	}
}
