// Package rdp is the session engine's public API: a registry that opens
// RDP sessions, feeds them mouse and keyboard input, and delivers
// encoded screen updates and lifecycle events over per-session channels.
package rdp

import "github.com/xBounceIT/janus/rdp/frame"

// Event is one item on a session's event channel.
type Event interface {
	event()
}

// FrameEvent carries one encoded frame.
type FrameEvent struct {
	Frame Frame
}

// ExitEvent is the final event of a session. No events follow it.
type ExitEvent struct {
	Reason string
}

func (FrameEvent) event() {}
func (ExitEvent) event()  {}

// Frame is one bandwidth-adapted screen update. Seq starts at 0 and
// increments by one per emitted frame, never reused or skipped. A
// keyframe's patch set covers the whole desktop.
type Frame struct {
	Seq           uint64
	DesktopWidth  uint16
	DesktopHeight uint16
	Patches       []FramePatch
	Keyframe      bool
}

// FramePatch is one encoded region. Raw data is RGBA, Width*Height*4
// bytes; JPEG data decodes to exactly Width×Height.
type FramePatch struct {
	X      uint16
	Y      uint16
	Width  uint16
	Height uint16
	Codec  frame.Codec
	Data   []byte
}
