package proto

import (
	"encoding/binary"
	"fmt"
)

// Fast-path output header flags (MS-RDPBCGR 2.2.9.1.2).
const (
	fastPathOutputSecureChecksum = 0x1
	fastPathOutputEncrypted      = 0x2
)

// Fast-path update codes.
const (
	fastPathUpdateOrders      = 0x0
	FastPathUpdateBitmap      = 0x1
	fastPathUpdatePalette     = 0x2
	fastPathUpdateSynchronize = 0x3
	fastPathUpdateSurfCmds    = 0x4
	fastPathUpdatePtrNull     = 0x5
	fastPathUpdatePtrDefault  = 0x6
	fastPathUpdatePtrPosition = 0x8
	fastPathUpdateColor       = 0x9
	fastPathUpdateCachedPtr   = 0xA
	fastPathUpdatePointer     = 0xB
)

// Fast-path update fragmentation values.
const (
	fragSingle = 0x0
	fragLast   = 0x1
	fragFirst  = 0x2
	fragNext   = 0x3
)

const (
	fastPathCompressionUsed = 0x2
	packetCompressed        = 0x20
)

// Fast-path input event codes and flags (MS-RDPBCGR 2.2.8.1.2.2).
const (
	fastPathInputScancode = 0x0
	fastPathInputMouse    = 0x1
	fastPathInputMouseX   = 0x2

	fastPathKbdRelease  = 0x01
	fastPathKbdExtended = 0x02
)

// Pointer event flags for TS_FP_POINTER_EVENT.
const (
	PointerFlagWheel             = 0x0200
	PointerFlagWheelNegative     = 0x0100
	PointerFlagWheelRotationMask = 0x01FF
	PointerFlagMove              = 0x0800
	PointerFlagDown              = 0x8000
	PointerFlagButton1           = 0x1000
	PointerFlagButton2           = 0x2000
	PointerFlagButton3           = 0x4000

	PointerXFlagButton1 = 0x0001
	PointerXFlagButton2 = 0x0002
)

// InputEvent is a client input event encodable into a fast-path input PDU.
type InputEvent interface {
	inputEvent()
}

// ScancodeEvent is a keyboard scancode press or release.
type ScancodeEvent struct {
	Code     byte
	Release  bool
	Extended bool
}

// PointerEvent is a mouse move, button, or wheel event.
type PointerEvent struct {
	Flags uint16
	X     uint16
	Y     uint16
}

// ExtendedPointerEvent carries X1/X2 button state.
type ExtendedPointerEvent struct {
	Flags uint16
	X     uint16
	Y     uint16
}

func (ScancodeEvent) inputEvent()        {}
func (PointerEvent) inputEvent()         {}
func (ExtendedPointerEvent) inputEvent() {}

// maxFastPathInputEvents is the per-PDU event cap imposed by the 4-bit
// numEvents field in the input header.
const maxFastPathInputEvents = 15

// BuildFastPathInput encodes up to 15 input events into one fast-path
// input PDU.
func BuildFastPathInput(events []InputEvent) ([]byte, error) {
	if len(events) == 0 || len(events) > maxFastPathInputEvents {
		return nil, fmt.Errorf("rdp: fast-path input PDU needs 1..%d events, got %d", maxFastPathInputEvents, len(events))
	}

	var body []byte
	for _, ev := range events {
		switch e := ev.(type) {
		case ScancodeEvent:
			var flags byte
			if e.Release {
				flags |= fastPathKbdRelease
			}
			if e.Extended {
				flags |= fastPathKbdExtended
			}
			body = append(body, flags|fastPathInputScancode<<5, e.Code)
		case PointerEvent:
			body = append(body, fastPathInputMouse<<5)
			body = binary.LittleEndian.AppendUint16(body, e.Flags)
			body = binary.LittleEndian.AppendUint16(body, e.X)
			body = binary.LittleEndian.AppendUint16(body, e.Y)
		case ExtendedPointerEvent:
			body = append(body, fastPathInputMouseX<<5)
			body = binary.LittleEndian.AppendUint16(body, e.Flags)
			body = binary.LittleEndian.AppendUint16(body, e.X)
			body = binary.LittleEndian.AppendUint16(body, e.Y)
		default:
			return nil, fmt.Errorf("rdp: unsupported input event %T", ev)
		}
	}

	header := byte(len(events)) << 2
	return wrapFastPath(header, body), nil
}

// wrapFastPath prepends the fast-path header byte and the 7- or 15-bit
// overall PDU length, which counts the header and length bytes themselves.
func wrapFastPath(header byte, body []byte) []byte {
	if total := 2 + len(body); total < 0x80 {
		out := make([]byte, 0, total)
		out = append(out, header, byte(total))
		return append(out, body...)
	}
	total := 3 + len(body)
	out := make([]byte, 0, total)
	out = append(out, header, 0x80|byte(total>>8), byte(total))
	return append(out, body...)
}

// fastPathUpdate is one reassembled update from a fast-path output PDU.
type fastPathUpdate struct {
	code byte
	data []byte
}

// fastPathReader splits fast-path output PDUs into updates, reassembling
// fragmented updates across calls. One instance per connection: fragments
// of distinct updates never interleave.
type fastPathReader struct {
	fragCode byte
	frag     []byte
	inFrag   bool
}

// updates parses one fast-path output PDU as delivered by the framer and
// returns the complete updates it yields.
func (f *fastPathReader) updates(pdu []byte) ([]fastPathUpdate, error) {
	r := &reader{buf: pdu}
	hdr, err := r.u8()
	if err != nil {
		return nil, &ParseError{Field: "fastpath header", Err: err}
	}
	flags := hdr >> 6
	if flags&fastPathOutputEncrypted != 0 {
		return nil, fmt.Errorf("fast-path output: %w", ErrEncryptionUnsupported)
	}
	// Skip the length bytes already consumed by the framer's sniffer.
	if b, err := r.u8(); err != nil {
		return nil, &ParseError{Field: "fastpath length", Err: err}
	} else if b&0x80 != 0 {
		if _, err := r.u8(); err != nil {
			return nil, &ParseError{Field: "fastpath length", Err: err}
		}
	}

	var out []fastPathUpdate
	for r.remaining() > 0 {
		upHdr, err := r.u8()
		if err != nil {
			return nil, &ParseError{Field: "update header", Err: err}
		}
		code := upHdr & 0x0F
		frag := (upHdr >> 4) & 0x03
		compression := (upHdr >> 6) & 0x03

		if compression&fastPathCompressionUsed != 0 {
			compFlags, err := r.u8()
			if err != nil {
				return nil, &ParseError{Field: "compression flags", Err: err}
			}
			if compFlags&packetCompressed != 0 {
				return nil, fmt.Errorf("fast-path update: bulk compression not negotiated")
			}
		}

		size, err := r.u16le()
		if err != nil {
			return nil, &ParseError{Field: "update size", Err: err}
		}
		data, err := r.bytes(int(size))
		if err != nil {
			return nil, &ParseError{Field: "update data", Err: err}
		}

		switch frag {
		case fragSingle:
			out = append(out, fastPathUpdate{code: code, data: data})
		case fragFirst:
			f.fragCode = code
			f.frag = append(f.frag[:0], data...)
			f.inFrag = true
		case fragNext:
			if !f.inFrag {
				return nil, fmt.Errorf("fast-path update: continuation fragment without start")
			}
			f.frag = append(f.frag, data...)
		case fragLast:
			if !f.inFrag {
				return nil, fmt.Errorf("fast-path update: final fragment without start")
			}
			f.frag = append(f.frag, data...)
			whole := make([]byte, len(f.frag))
			copy(whole, f.frag)
			out = append(out, fastPathUpdate{code: f.fragCode, data: whole})
			f.frag = f.frag[:0]
			f.inFrag = false
		}
	}
	return out, nil
}

// BuildFastPathUpdate wraps one update payload into a fast-path output
// PDU with SINGLE fragmentation and no compression.
func BuildFastPathUpdate(code byte, data []byte) []byte {
	body := make([]byte, 0, 3+len(data))
	body = append(body, code&0x0F)
	body = binary.LittleEndian.AppendUint16(body, uint16(len(data)))
	body = append(body, data...)
	return wrapFastPath(0x00, body)
}
