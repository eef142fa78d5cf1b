package bridge

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xBounceIT/janus/rdp"
	"github.com/xBounceIT/janus/rdp/frame"
	"github.com/xBounceIT/janus/store"
)

type mouseCall struct {
	id      string
	x, y    uint16
	buttons uint8
	wheel   int16
}

// stubEngine satisfies SessionEngine with a scripted event stream.
type stubEngine struct {
	mu     sync.Mutex
	events chan rdp.Event
	opened []rdp.Config
	mouse  []mouseCall
	closed []string
}

func newStubEngine() *stubEngine {
	return &stubEngine{events: make(chan rdp.Event, 8)}
}

func (e *stubEngine) OpenSession(_ context.Context, cfg rdp.Config) (string, <-chan rdp.Event) {
	e.mu.Lock()
	e.opened = append(e.opened, cfg)
	e.mu.Unlock()
	return "sess-1", e.events
}

func (e *stubEngine) SendMouse(id string, x, y uint16, buttons uint8, wheelDelta int16) error {
	e.mu.Lock()
	e.mouse = append(e.mouse, mouseCall{id: id, x: x, y: y, buttons: buttons, wheel: wheelDelta})
	e.mu.Unlock()
	return nil
}

func (e *stubEngine) SendKey(string, byte, bool, bool) error { return nil }

func (e *stubEngine) Close(id string) error {
	e.mu.Lock()
	e.closed = append(e.closed, id)
	e.mu.Unlock()
	return nil
}

// stubStore serves a fixed single-profile tree.
type stubStore struct {
	root    store.Node
	profile store.RDPProfile
}

func (s *stubStore) Root(context.Context) (*store.Node, error) {
	r := s.root
	return &r, nil
}

func (s *stubStore) ListChildren(_ context.Context, parentID string) ([]*store.Node, error) {
	if parentID != s.root.ID {
		return nil, store.ErrNotFound
	}
	return []*store.Node{{ID: s.profile.NodeID, ParentID: s.root.ID, Kind: store.KindProfile, Name: "host"}}, nil
}

func (s *stubStore) GetProfile(_ context.Context, nodeID string) (*store.RDPProfile, error) {
	if nodeID != s.profile.NodeID {
		return nil, store.ErrNotProfile
	}
	p := s.profile
	return &p, nil
}

type stubSecrets struct{}

func (stubSecrets) Get(id string) (string, error) {
	if id != "ref-1" {
		return "", errors.New("unknown secret ref")
	}
	return "resolved-password", nil
}

func readEvent(t *testing.T, ws *websocket.Conn) *Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err := DecodeEvent(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return ev
}

func sendCommand(t *testing.T, ws *websocket.Conn, cmd *Command) {
	t.Helper()
	msg, err := EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestBridgeSessionRoundTrip(t *testing.T) {
	t.Parallel()

	engine := newStubEngine()
	st := &stubStore{
		root: store.Node{ID: "root", Kind: store.KindFolder, Name: "Connections"},
		profile: store.RDPProfile{
			NodeID:    "node-1",
			Host:      "10.0.0.9",
			Port:      3389,
			Username:  "alice",
			SecretRef: "ref-1",
		},
	}
	srv := httptest.NewServer(NewServer(engine, st, stubSecrets{}, nil))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// Browse the tree.
	sendCommand(t, ws, &Command{Type: CommandTree})
	tree := readEvent(t, ws)
	if tree.Type != EventTree || len(tree.Nodes) != 1 || tree.Nodes[0].ID != "node-1" {
		t.Fatalf("tree event = %+v", tree)
	}

	// Open the profile; the bridge must resolve the secret reference.
	sendCommand(t, ws, &Command{Type: CommandOpen, NodeID: "node-1"})
	opened := readEvent(t, ws)
	if opened.Type != EventSessionOpened || opened.SessionID != "sess-1" || opened.NodeID != "node-1" {
		t.Fatalf("opened event = %+v", opened)
	}
	engine.mu.Lock()
	if len(engine.opened) != 1 || engine.opened[0].Password != "resolved-password" {
		t.Errorf("engine config = %+v", engine.opened)
	}
	engine.mu.Unlock()

	// Engine emits a frame with one raw patch, then exits.
	rgba := bytes.Repeat([]byte{9, 8, 7, 255}, 16*16)
	engine.events <- rdp.FrameEvent{Frame: rdp.Frame{
		Seq:           0,
		DesktopWidth:  640,
		DesktopHeight: 480,
		Keyframe:      true,
		Patches:       []rdp.FramePatch{{X: 0, Y: 0, Width: 16, Height: 16, Codec: frame.CodecRaw, Data: rgba}},
	}}
	frameEv := readEvent(t, ws)
	if frameEv.Type != EventFrame || frameEv.SessionID != "sess-1" || frameEv.Frame == nil {
		t.Fatalf("frame event = %+v", frameEv)
	}
	restored, err := DecompressRawPatch(&frameEv.Frame.Patches[0])
	if err != nil {
		t.Fatalf("DecompressRawPatch: %v", err)
	}
	if !bytes.Equal(restored, rgba) {
		t.Error("patch bytes differ across the bridge")
	}

	// Input flows through to the engine.
	sendCommand(t, ws, &Command{Type: CommandMouse, SessionID: "sess-1", X: 50, Y: 60, Buttons: 1})
	waitFor(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.mouse) == 1
	})
	engine.mu.Lock()
	mc := engine.mouse[0]
	engine.mu.Unlock()
	if mc.id != "sess-1" || mc.x != 50 || mc.y != 60 || mc.buttons != 1 {
		t.Errorf("mouse call = %+v", mc)
	}

	engine.events <- rdp.ExitEvent{Reason: "Server closed connection"}
	close(engine.events)
	exit := readEvent(t, ws)
	if exit.Type != EventExit || exit.Reason != "Server closed connection" {
		t.Fatalf("exit event = %+v", exit)
	}
}

func TestBridgeUnknownCommand(t *testing.T) {
	t.Parallel()

	engine := newStubEngine()
	st := &stubStore{root: store.Node{ID: "root", Kind: store.KindFolder}}
	srv := httptest.NewServer(NewServer(engine, st, stubSecrets{}, nil))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	sendCommand(t, ws, &Command{Type: "bogus"})
	ev := readEvent(t, ws)
	if ev.Type != EventError || !strings.Contains(ev.Error, "bogus") {
		t.Fatalf("event = %+v", ev)
	}
}

func TestBridgeDisconnectClosesSessions(t *testing.T) {
	t.Parallel()

	engine := newStubEngine()
	st := &stubStore{
		root:    store.Node{ID: "root", Kind: store.KindFolder},
		profile: store.RDPProfile{NodeID: "node-1", Host: "h", Port: 3389, SecretRef: "ref-1"},
	}
	srv := httptest.NewServer(NewServer(engine, st, stubSecrets{}, nil))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sendCommand(t, ws, &Command{Type: CommandOpen, NodeID: "node-1"})
	if ev := readEvent(t, ws); ev.Type != EventSessionOpened {
		t.Fatalf("event = %+v", ev)
	}

	ws.Close()
	waitFor(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.closed) == 1 && engine.closed[0] == "sess-1"
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
