package proto

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection-sequence failures. These enable callers
// to programmatically distinguish failure modes using errors.Is.
var (
	ErrNLARequired           = errors.New("rdp: server requires NLA/CredSSP, not supported")
	ErrTLSNotSelected        = errors.New("rdp: server did not select TLS security")
	ErrNegotiationFailure    = errors.New("rdp: server rejected protocol negotiation")
	ErrEncryptionUnsupported = errors.New("rdp: server requires standard RDP encryption, only TLS is supported")
	ErrLicenseExchange       = errors.New("rdp: server demands a license exchange, not supported")
)

// ParseError indicates a failure to parse a protocol field. It wraps the
// underlying error and records which field was being parsed.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rdp: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// errTruncated is the cause recorded by ParseError when a PDU ends before
// a field is complete.
var errTruncated = errors.New("truncated")

// reader is a bounds-checked cursor over a single PDU.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) u8() (byte, error) {
	if r.remaining() < 1 {
		return 0, errTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u16le() (uint16, error) {
	if r.remaining() < 2 {
		return 0, errTruncated
	}
	v := uint16(r.buf[r.pos]) | uint16(r.buf[r.pos+1])<<8
	r.pos += 2
	return v, nil
}

func (r *reader) u16be() (uint16, error) {
	if r.remaining() < 2 {
		return 0, errTruncated
	}
	v := uint16(r.buf[r.pos])<<8 | uint16(r.buf[r.pos+1])
	r.pos += 2
	return v, nil
}

func (r *reader) u32le() (uint32, error) {
	if r.remaining() < 4 {
		return 0, errTruncated
	}
	v := uint32(r.buf[r.pos]) | uint32(r.buf[r.pos+1])<<8 |
		uint32(r.buf[r.pos+2])<<16 | uint32(r.buf[r.pos+3])<<24
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, errTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) skip(n int) error {
	if n < 0 || r.remaining() < n {
		return errTruncated
	}
	r.pos += n
	return nil
}
