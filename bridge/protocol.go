// Package bridge exposes the session engine to UI clients over a
// WebSocket. Commands and events are CBOR maps; raw frame patches are
// zstd-compressed on the wire, JPEG patches pass through as-is. The
// bridge composes nothing: patches are opaque payloads the client
// composites at the given offsets.
package bridge

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/xBounceIT/janus/rdp"
	"github.com/xBounceIT/janus/rdp/frame"
)

// Command types, client to bridge.
const (
	CommandTree  = "tree"
	CommandOpen  = "open"
	CommandMouse = "mouse"
	CommandKey   = "key"
	CommandClose = "close"
)

// Event types, bridge to client.
const (
	EventTree          = "tree"
	EventSessionOpened = "session_opened"
	EventFrame         = "frame"
	EventExit          = "exit"
	EventError         = "error"
)

// Patch codecs on the wire.
const (
	PatchCodecRaw  = "raw" // zstd-compressed RGBA
	PatchCodecJPEG = "jpeg"
)

// Command is one client request. Type selects which fields matter.
type Command struct {
	Type string `cbor:"type"`

	// tree
	ParentID string `cbor:"parent_id,omitempty"`

	// open
	NodeID string `cbor:"node_id,omitempty"`

	// mouse, key, close
	SessionID string `cbor:"session_id,omitempty"`

	// mouse
	X       uint16 `cbor:"x,omitempty"`
	Y       uint16 `cbor:"y,omitempty"`
	Buttons uint8  `cbor:"buttons,omitempty"`
	Wheel   int16  `cbor:"wheel,omitempty"`

	// key
	Scancode byte `cbor:"scancode,omitempty"`
	Extended bool `cbor:"extended,omitempty"`
	Release  bool `cbor:"release,omitempty"`
}

// Event is one bridge message to the client.
type Event struct {
	Type      string        `cbor:"type"`
	SessionID string        `cbor:"session_id,omitempty"`
	NodeID    string        `cbor:"node_id,omitempty"`
	Reason    string        `cbor:"reason,omitempty"`
	Error     string        `cbor:"error,omitempty"`
	Frame     *FramePayload `cbor:"frame,omitempty"`
	Nodes     []TreeNode    `cbor:"nodes,omitempty"`
}

// TreeNode is one connection-tree entry in a tree event.
type TreeNode struct {
	ID       string `cbor:"id"`
	ParentID string `cbor:"parent_id,omitempty"`
	Kind     string `cbor:"kind"`
	Name     string `cbor:"name"`
}

// FramePayload is one encoded frame in a frame event.
type FramePayload struct {
	Seq           uint64         `cbor:"seq"`
	DesktopWidth  uint16         `cbor:"desktop_width"`
	DesktopHeight uint16         `cbor:"desktop_height"`
	Keyframe      bool           `cbor:"keyframe,omitempty"`
	Patches       []PatchPayload `cbor:"patches"`
}

// PatchPayload is one screen region. Raw data decompresses to
// Width*Height*4 RGBA bytes; JPEG data decodes to exactly Width×Height.
type PatchPayload struct {
	X      uint16 `cbor:"x"`
	Y      uint16 `cbor:"y"`
	Width  uint16 `cbor:"width"`
	Height uint16 `cbor:"height"`
	Codec  string `cbor:"codec"`
	Data   []byte `cbor:"data"`
}

// CBOR modes: deterministic encoding out, standard decoding in.
// Unknown fields are ignored for forward compatibility.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bridge: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("bridge: CBOR decoder initialization failed: " + err.Error())
	}
}

// zstd encoder/decoder pairs are stateless via EncodeAll/DecodeAll and
// safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("bridge: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("bridge: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeEvent marshals an event to CBOR.
func EncodeEvent(ev *Event) ([]byte, error) {
	return encMode.Marshal(ev)
}

// DecodeEvent unmarshals a CBOR event.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := decMode.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("bridge: decoding event: %w", err)
	}
	return &ev, nil
}

// EncodeCommand marshals a command to CBOR.
func EncodeCommand(cmd *Command) ([]byte, error) {
	return encMode.Marshal(cmd)
}

// DecodeCommand unmarshals a CBOR command.
func DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := decMode.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("bridge: decoding command: %w", err)
	}
	return &cmd, nil
}

// frameToPayload converts an engine frame for the wire, compressing
// raw patches.
func frameToPayload(f rdp.Frame) *FramePayload {
	p := &FramePayload{
		Seq:           f.Seq,
		DesktopWidth:  f.DesktopWidth,
		DesktopHeight: f.DesktopHeight,
		Keyframe:      f.Keyframe,
		Patches:       make([]PatchPayload, 0, len(f.Patches)),
	}
	for _, patch := range f.Patches {
		out := PatchPayload{
			X:      patch.X,
			Y:      patch.Y,
			Width:  patch.Width,
			Height: patch.Height,
		}
		switch patch.Codec {
		case frame.CodecRaw:
			out.Codec = PatchCodecRaw
			out.Data = zstdEncoder.EncodeAll(patch.Data, nil)
		default:
			out.Codec = PatchCodecJPEG
			out.Data = patch.Data
		}
		p.Patches = append(p.Patches, out)
	}
	return p
}

// DecompressRawPatch restores the RGBA bytes of a raw patch. Exposed
// for Go clients of the bridge protocol.
func DecompressRawPatch(p *PatchPayload) ([]byte, error) {
	if p.Codec != PatchCodecRaw {
		return nil, fmt.Errorf("bridge: patch codec is %q, not raw", p.Codec)
	}
	data, err := zstdDecoder.DecodeAll(p.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: decompressing raw patch: %w", err)
	}
	if want := int(p.Width) * int(p.Height) * 4; len(data) != want {
		return nil, fmt.Errorf("bridge: raw patch is %d bytes, want %d", len(data), want)
	}
	return data, nil
}
