package proto

import (
	"fmt"
	"io"
)

// Action identifies the wire family of a PDU. The first byte of every
// server-to-client message distinguishes the two: 0x03 is the TPKT version
// marker of the legacy X.224 framing; anything else is a fast-path header.
type Action int

// Wire families.
const (
	ActionFastPath Action = iota
	ActionX224
)

func (a Action) String() string {
	switch a {
	case ActionFastPath:
		return "fastpath"
	case ActionX224:
		return "x224"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// tpktVersion is the fixed first byte of a TPKT header.
const tpktVersion = 0x03

// Sniff examines the head of an append-only byte buffer and reports
// whether it holds at least one complete PDU. It returns the wire family,
// the total PDU length in bytes, and true when complete.
//
// Legacy framing: byte 0 is 0x03 and bytes 2-3 are a big-endian 16-bit
// total length. Fast-path framing: byte 1 is a direct 7-bit length, or,
// when its high bit is set, its low 7 bits combine with byte 2 to form a
// 15-bit length.
//
// An incomplete buffer (shorter than the family's minimal header, or
// shorter than the declared length) is not an error: the caller fills the
// buffer and asks again. A declared length of zero is never a legitimate
// PDU and is likewise reported incomplete.
func Sniff(buf []byte) (Action, int, bool) {
	if len(buf) < 2 {
		return 0, 0, false
	}

	if buf[0] == tpktVersion {
		if len(buf) < 4 {
			return 0, 0, false
		}
		length := int(buf[2])<<8 | int(buf[3])
		if length == 0 || len(buf) < length {
			return 0, 0, false
		}
		return ActionX224, length, true
	}

	if buf[1]&0x80 == 0 {
		length := int(buf[1])
		if length == 0 || len(buf) < length {
			return 0, 0, false
		}
		return ActionFastPath, length, true
	}

	if len(buf) < 3 {
		return 0, 0, false
	}
	length := int(buf[1]&0x7F)<<8 | int(buf[2])
	if length == 0 || len(buf) < length {
		return 0, 0, false
	}
	return ActionFastPath, length, true
}

// Framer segments a byte stream into complete PDUs for the blocking
// handshake phase. The active loop does its own non-blocking Sniff over a
// read-pump buffer; the Framer exists so each connection-sequence step can
// simply wait for the next PDU.
type Framer struct {
	r   io.Reader
	buf []byte
}

// NewFramer wraps r with an empty buffer.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: r}
}

// NewFramerLeftover wraps r, seeding the buffer with bytes that were read
// before a transport swap. The TLS upgrade replaces the underlying socket;
// anything already buffered from the old reader must be replayed here so
// no PDU is lost across the swap.
func NewFramerLeftover(r io.Reader, leftover []byte) *Framer {
	return &Framer{r: r, buf: append([]byte(nil), leftover...)}
}

// ReadPDU blocks until one complete PDU is buffered, then consumes and
// returns it.
func (f *Framer) ReadPDU() (Action, []byte, error) {
	for {
		if action, size, ok := Sniff(f.buf); ok {
			pdu := append([]byte(nil), f.buf[:size]...)
			f.buf = f.buf[size:]
			return action, pdu, nil
		}

		chunk := make([]byte, 4096)
		n, err := f.r.Read(chunk)
		if n > 0 {
			f.buf = append(f.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("rdp: read: %w", err)
		}
	}
}

// Leftover returns any buffered bytes that have not been consumed, for
// replay into the framer that takes over after a transport swap.
func (f *Framer) Leftover() []byte {
	out := f.buf
	f.buf = nil
	return out
}
