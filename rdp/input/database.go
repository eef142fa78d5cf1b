package input

import "github.com/xBounceIT/janus/rdp/proto"

// Database resolves translated operations into wire events. It tracks
// the last pointer position so button and wheel events carry
// coordinates even when the UI reports them without a preceding move in
// the same batch. One Database per session, owned by the session task.
type Database struct {
	x uint16
	y uint16
}

// NewDatabase returns a Database with the pointer at the origin.
func NewDatabase() *Database {
	return &Database{}
}

// Apply resolves ops in order into fast-path input events.
func (d *Database) Apply(ops []Op) []proto.InputEvent {
	events := make([]proto.InputEvent, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case MoveOp:
			d.x, d.y = o.X, o.Y
			events = append(events, proto.PointerEvent{
				Flags: proto.PointerFlagMove,
				X:     d.x,
				Y:     d.y,
			})
		case ButtonOp:
			events = append(events, d.buttonEvent(o))
		case WheelOp:
			// The rotation field is 9-bit two's complement; the sign bit
			// doubles as the wheel-negative flag.
			flags := proto.PointerFlagWheel | uint16(o.Delta)&proto.PointerFlagWheelRotationMask
			events = append(events, proto.PointerEvent{Flags: flags, X: d.x, Y: d.y})
		case KeyOp:
			events = append(events, proto.ScancodeEvent{
				Code:     o.Code,
				Release:  o.Release,
				Extended: o.Extended,
			})
		}
	}
	return events
}

func (d *Database) buttonEvent(o ButtonOp) proto.InputEvent {
	var down uint16
	if o.Press {
		down = proto.PointerFlagDown
	}
	switch o.Button {
	case ButtonX1:
		return proto.ExtendedPointerEvent{Flags: down | proto.PointerXFlagButton1, X: d.x, Y: d.y}
	case ButtonX2:
		return proto.ExtendedPointerEvent{Flags: down | proto.PointerXFlagButton2, X: d.x, Y: d.y}
	}

	var button uint16
	switch o.Button {
	case ButtonLeft:
		button = proto.PointerFlagButton1
	case ButtonRight:
		button = proto.PointerFlagButton2
	case ButtonMiddle:
		button = proto.PointerFlagButton3
	}
	return proto.PointerEvent{Flags: down | button, X: d.x, Y: d.y}
}
