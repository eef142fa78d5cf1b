// Package input translates UI-level mouse and keyboard state into
// ordered input operations and resolves them against tracked pointer
// state to produce wire-level input events.
package input

// Button identifies one mouse button in the UI-level bitmask.
type Button int

// Mouse buttons, in bitmask bit order.
const (
	ButtonLeft Button = iota
	ButtonRight
	ButtonMiddle
	ButtonX1
	ButtonX2
	buttonCount
)

// Op is one translated input operation. Ops are ordered: a mouse
// translation always yields the move first, then button edges, then the
// wheel, so the server observes the pointer position before any click.
type Op interface {
	op()
}

// MoveOp positions the pointer.
type MoveOp struct {
	X uint16
	Y uint16
}

// ButtonOp presses or releases one button.
type ButtonOp struct {
	Button Button
	Press  bool
}

// WheelOp scrolls the vertical wheel by a signed delta.
type WheelOp struct {
	Delta int16
}

// KeyOp presses or releases one keyboard scancode.
type KeyOp struct {
	Code     byte
	Extended bool
	Release  bool
}

func (MoveOp) op()   {}
func (ButtonOp) op() {}
func (WheelOp) op()  {}
func (KeyOp) op()    {}

// TranslateMouse converts one UI mouse sample into an ordered operation
// list: the move, then one press or release per button whose bit changed
// between prev and buttons, then a wheel operation when delta is
// non-zero. A button never yields both a press and a release in one
// call.
func TranslateMouse(x, y uint16, buttons, prev uint8, wheelDelta int16) []Op {
	ops := []Op{MoveOp{X: x, Y: y}}
	for b := Button(0); b < buttonCount; b++ {
		bit := uint8(1) << b
		cur := buttons&bit != 0
		if cur != (prev&bit != 0) {
			ops = append(ops, ButtonOp{Button: b, Press: cur})
		}
	}
	if wheelDelta != 0 {
		ops = append(ops, WheelOp{Delta: wheelDelta})
	}
	return ops
}

// TranslateKey converts one keyboard sample into its single operation.
func TranslateKey(code byte, extended, release bool) []Op {
	return []Op{KeyOp{Code: code, Extended: extended, Release: release}}
}
