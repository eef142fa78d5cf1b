package proto

import (
	"encoding/binary"
	"fmt"
)

// X.224 TPDU codes (high nibble of the code byte).
const (
	x224ConnectionRequest = 0xE0
	x224ConnectionConfirm = 0xD0
	x224Data              = 0xF0
	x224DataEOT           = 0x80
)

// RDP negotiation structure types carried in the X.224 variable part
// (MS-RDPBCGR 2.2.1.1.1, 2.2.1.2.1, 2.2.1.2.2).
const (
	negTypeRequest  = 0x01
	negTypeResponse = 0x02
	negTypeFailure  = 0x03
)

// Security protocols requested/selected during negotiation.
const (
	ProtocolRDP    uint32 = 0x00000000
	ProtocolSSL    uint32 = 0x00000001
	ProtocolHybrid uint32 = 0x00000002
)

// Negotiation failure codes (MS-RDPBCGR 2.2.1.2.2).
const (
	negFailureSSLRequired        = 0x00000001
	negFailureSSLNotAllowed      = 0x00000002
	negFailureSSLCertNotOnServer = 0x00000003
	negFailureInconsistentFlags  = 0x00000004
	negFailureHybridRequired     = 0x00000005
)

// appendTPKT wraps payload in a TPKT header: version 3, reserved 0, then
// the big-endian total length including the header itself.
func appendTPKT(b, payload []byte) []byte {
	total := len(payload) + 4
	b = append(b, tpktVersion, 0x00, byte(total>>8), byte(total))
	return append(b, payload...)
}

// BuildConnectionRequest encodes a TPKT-wrapped X.224 Connection Request
// TPDU carrying an RDP Negotiation Request for the given protocols.
func BuildConnectionRequest(requestedProtocols uint32) []byte {
	// Fixed part: LI, CR code, dst-ref, src-ref, class 0.
	tpdu := []byte{0x00, x224ConnectionRequest, 0x00, 0x00, 0x00, 0x00, 0x00}

	// RDP Negotiation Request: type, flags, length (always 8), protocols.
	tpdu = append(tpdu, negTypeRequest, 0x00, 0x08, 0x00)
	tpdu = binary.LittleEndian.AppendUint32(tpdu, requestedProtocols)

	tpdu[0] = byte(len(tpdu) - 1) // LI excludes itself

	return appendTPKT(nil, tpdu)
}

// ParseConnectionConfirm decodes a TPKT-wrapped X.224 Connection Confirm
// and returns the server-selected protocol. A NEG_FAILURE demanding NLA
// maps to ErrNLARequired; other failures map to ErrNegotiationFailure. A
// confirm without a negotiation response means the server only speaks
// standard RDP security, which the TLS-only transport cannot use.
func ParseConnectionConfirm(pdu []byte) (uint32, error) {
	r := newReader(pdu)
	if err := r.skip(4); err != nil { // TPKT header
		return 0, &ParseError{Field: "tpkt header", Err: err}
	}

	li, err := r.u8()
	if err != nil {
		return 0, &ParseError{Field: "x224 length indicator", Err: err}
	}
	code, err := r.u8()
	if err != nil {
		return 0, &ParseError{Field: "x224 code", Err: err}
	}
	if code&0xF0 != x224ConnectionConfirm {
		return 0, &ParseError{Field: "x224 code", Err: fmt.Errorf("expected connection confirm, got 0x%02X", code)}
	}
	if err := r.skip(5); err != nil { // dst-ref, src-ref, class
		return 0, &ParseError{Field: "x224 fixed part", Err: err}
	}

	if li < 14 {
		// No negotiation response: pre-RDP 5.1 server, standard security only.
		return 0, ErrTLSNotSelected
	}

	negType, err := r.u8()
	if err != nil {
		return 0, &ParseError{Field: "negotiation type", Err: err}
	}
	if err := r.skip(3); err != nil { // flags, length
		return 0, &ParseError{Field: "negotiation header", Err: err}
	}
	value, err := r.u32le()
	if err != nil {
		return 0, &ParseError{Field: "negotiation value", Err: err}
	}

	switch negType {
	case negTypeResponse:
		return value, nil
	case negTypeFailure:
		if value == negFailureHybridRequired {
			return 0, ErrNLARequired
		}
		return 0, fmt.Errorf("%w: failure code %d", ErrNegotiationFailure, value)
	default:
		return 0, &ParseError{Field: "negotiation type", Err: fmt.Errorf("unknown type 0x%02X", negType)}
	}
}

// BuildConnectionConfirm encodes the server side of the exchange: a
// TPKT-wrapped Connection Confirm carrying an RDP Negotiation Response
// selecting the given protocol.
func BuildConnectionConfirm(selectedProtocol uint32) []byte {
	tpdu := []byte{0x00, x224ConnectionConfirm, 0x00, 0x00, 0x00, 0x00, 0x00}
	tpdu = append(tpdu, negTypeResponse, 0x00, 0x08, 0x00)
	tpdu = binary.LittleEndian.AppendUint32(tpdu, selectedProtocol)
	tpdu[0] = byte(len(tpdu) - 1)
	return appendTPKT(nil, tpdu)
}

// BuildNegotiationFailure encodes a Connection Confirm carrying a
// NEG_FAILURE with the given failure code.
func BuildNegotiationFailure(failureCode uint32) []byte {
	tpdu := []byte{0x00, x224ConnectionConfirm, 0x00, 0x00, 0x00, 0x00, 0x00}
	tpdu = append(tpdu, negTypeFailure, 0x00, 0x08, 0x00)
	tpdu = binary.LittleEndian.AppendUint32(tpdu, failureCode)
	tpdu[0] = byte(len(tpdu) - 1)
	return appendTPKT(nil, tpdu)
}

// wrapDataTPDU encloses an MCS payload in TPKT + X.224 Data TPDU framing.
func wrapDataTPDU(payload []byte) []byte {
	tpdu := append([]byte{0x02, x224Data, x224DataEOT}, payload...)
	return appendTPKT(nil, tpdu)
}

// unwrapDataTPDU strips TPKT + X.224 Data TPDU framing, returning the MCS
// payload.
func unwrapDataTPDU(pdu []byte) ([]byte, error) {
	r := newReader(pdu)
	if err := r.skip(4); err != nil {
		return nil, &ParseError{Field: "tpkt header", Err: err}
	}
	li, err := r.u8()
	if err != nil {
		return nil, &ParseError{Field: "x224 length indicator", Err: err}
	}
	code, err := r.u8()
	if err != nil {
		return nil, &ParseError{Field: "x224 code", Err: err}
	}
	if code&0xF0 != x224Data {
		return nil, &ParseError{Field: "x224 code", Err: fmt.Errorf("expected data TPDU, got 0x%02X", code)}
	}
	if err := r.skip(int(li) - 1); err != nil { // rest of the fixed part (EOT byte)
		return nil, &ParseError{Field: "x224 fixed part", Err: err}
	}
	return pdu[r.pos:], nil
}
