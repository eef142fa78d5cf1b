package rdp

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/xBounceIT/janus/certs"
	"github.com/xBounceIT/janus/rdp/proto"
)

// serveScriptedRDP answers one client's full connection sequence:
// plaintext negotiation, TLS upgrade with a throwaway certificate, MCS
// connect, licensing, capability exchange, and finalization. after runs
// with the session active, over the TLS stream.
func serveScriptedRDP(t *testing.T, conn net.Conn, shareID uint32, width, height uint16, after func(conn net.Conn)) {
	t.Helper()
	defer conn.Close()

	const (
		ioChannel = 1004
		userID    = 1009
	)

	f := proto.NewFramer(conn)
	read := func(what string) bool {
		if _, _, err := f.ReadPDU(); err != nil {
			t.Errorf("server: read %s: %v", what, err)
			return false
		}
		return true
	}

	if !read("connection request") {
		return
	}
	if _, err := conn.Write(proto.BuildConnectionConfirm(proto.ProtocolSSL)); err != nil {
		t.Errorf("server: write connection confirm: %v", err)
		return
	}

	info, err := certs.Generate(time.Hour)
	if err != nil {
		t.Errorf("server: generate certificate: %v", err)
		return
	}
	tc := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{info.TLSCert}})
	if err := tc.Handshake(); err != nil {
		t.Errorf("server: tls handshake: %v", err)
		return
	}

	f = proto.NewFramer(tc)
	write := func(pdu []byte) bool {
		if _, err := tc.Write(pdu); err != nil {
			t.Errorf("server: write: %v", err)
			return false
		}
		return true
	}

	if !read("connect initial") || !write(proto.BuildConnectResponse(ioChannel)) {
		return
	}
	read("erect domain")
	if !read("attach user") || !write(proto.BuildAttachUserConfirm(userID)) {
		return
	}
	for _, ch := range []uint16{userID, ioChannel} {
		if !read("channel join") || !write(proto.BuildChannelJoinConfirm(userID, ch)) {
			return
		}
	}
	if !read("client info") {
		return
	}
	write(proto.BuildSendDataIndication(userID, ioChannel, proto.BuildLicenseValidClient()))
	write(proto.BuildSendDataIndication(userID, ioChannel, proto.BuildDemandActive(shareID, width, height)))

	for _, what := range []string{"confirm active", "synchronize", "cooperate", "request control", "font list"} {
		if !read(what) {
			return
		}
	}
	write(proto.BuildSendDataIndication(userID, ioChannel, proto.BuildServerSynchronize(shareID)))
	write(proto.BuildSendDataIndication(userID, ioChannel, proto.BuildServerControl(shareID, proto.ControlActionCooperate)))
	write(proto.BuildSendDataIndication(userID, ioChannel, proto.BuildServerControl(shareID, proto.ControlActionGrantedControl)))
	write(proto.BuildSendDataIndication(userID, ioChannel, proto.BuildFontMap(shareID)))

	after(tc)
}

// startScriptedServer listens for exactly one connection and scripts it.
func startScriptedServer(t *testing.T, width, height uint16, after func(conn net.Conn)) (uint16, chan struct{}) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	served := make(chan struct{})
	go func() {
		defer close(served)
		conn, err := l.Accept()
		if err != nil {
			t.Errorf("server: accept: %v", err)
			return
		}
		serveScriptedRDP(t, conn, 0x10003, width, height, after)
	}()
	return uint16(l.Addr().(*net.TCPAddr).Port), served
}

func collectEvents(t *testing.T, events <-chan Event) ([]Frame, ExitEvent) {
	t.Helper()
	var frames []Frame
	var exit ExitEvent
	var exited bool
	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if !exited {
					t.Fatal("event channel closed without an exit event")
				}
				return frames, exit
			}
			switch e := ev.(type) {
			case FrameEvent:
				if exited {
					t.Error("frame event after the exit event")
				}
				frames = append(frames, e.Frame)
			case ExitEvent:
				if exited {
					t.Error("second exit event")
				}
				exit, exited = e, true
			}
		case <-deadline:
			t.Fatal("timed out waiting for session events")
		}
	}
}

func TestSessionFramesThenServerClose(t *testing.T) {
	t.Parallel()

	// Five stripes covering the whole 200x200 desktop, pushed as
	// separate fast-path updates so each stays within the 15-bit
	// fast-path length limit.
	port, served := startScriptedServer(t, 200, 200, func(conn net.Conn) {
		pixels := bytes.Repeat([]byte{0x20, 0x40, 0x60, 0xFF}, 200*40)
		for i := 0; i < 5; i++ {
			top := uint16(i * 40)
			rect := proto.BitmapRect{Left: 0, Top: top, Right: 199, Bottom: top + 39}
			pdu := proto.BuildFastPathUpdate(proto.FastPathUpdateBitmap, proto.BuildBitmapUpdate(rect, pixels))
			if _, err := conn.Write(pdu); err != nil {
				t.Errorf("server: write bitmap update: %v", err)
				return
			}
		}
	})

	m := NewManager(nil)
	_, events := m.OpenSession(context.Background(), Config{
		Host:     "127.0.0.1",
		Port:     port,
		Username: "alice",
		Password: "secret",
	})

	frames, exit := collectEvents(t, events)
	<-served

	if exit.Reason != "Server closed connection" {
		t.Errorf("exit reason = %q, want %q", exit.Reason, "Server closed connection")
	}
	if len(frames) == 0 {
		t.Fatal("no frames before the exit event")
	}
	first := frames[0]
	if !first.Keyframe {
		t.Error("first frame is not a keyframe")
	}
	if first.DesktopWidth != 200 || first.DesktopHeight != 200 {
		t.Errorf("desktop = %dx%d, want 200x200", first.DesktopWidth, first.DesktopHeight)
	}
	for i, f := range frames {
		if f.Seq != uint64(i) {
			t.Errorf("frame %d has Seq %d", i, f.Seq)
		}
		if len(f.Patches) == 0 {
			t.Errorf("frame %d has no patches", i)
		}
	}
}

func TestSessionInputAndUserClose(t *testing.T) {
	t.Parallel()

	gotInput := make(chan proto.Action, 1)
	port, served := startScriptedServer(t, 200, 200, func(conn net.Conn) {
		f := proto.NewFramer(conn)
		action, _, err := f.ReadPDU()
		if err != nil {
			t.Errorf("server: read input: %v", err)
			return
		}
		gotInput <- action
		// Hold the connection open until the client hangs up.
		f.ReadPDU()
	})

	m := NewManager(nil)
	id, events := m.OpenSession(context.Background(), Config{
		Host:     "127.0.0.1",
		Port:     port,
		Username: "alice",
		Password: "secret",
	})

	if err := m.SendMouse(id, 50, 60, 0x01, 0); err != nil {
		t.Fatalf("SendMouse: %v", err)
	}

	select {
	case action := <-gotInput:
		if action != proto.ActionFastPath {
			t.Errorf("input arrived as %v, want fastpath", action)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server never received the input PDU")
	}

	if err := m.Close(id); err != nil {
		t.Fatalf("Close: %v", err)
	}
	frames, exit := collectEvents(t, events)
	<-served

	if exit.Reason != "Session closed by user" {
		t.Errorf("exit reason = %q, want %q", exit.Reason, "Session closed by user")
	}
	if len(frames) != 0 {
		t.Errorf("%d frames emitted with no graphics updates", len(frames))
	}
	if err := m.Close(id); err == nil {
		t.Error("second Close succeeded for a removed session")
	}
}
