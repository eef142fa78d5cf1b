package proto

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// Basic security header flags (MS-RDPBCGR 2.2.8.1.1.2.1).
const (
	secInfoPkt    = 0x0040
	secLicensePkt = 0x0080
)

// InfoPacket flags.
const (
	infoMouse             = 0x00000001
	infoDisableCtrlAltDel = 0x00000002
	infoAutologon         = 0x00000008
	infoUnicode           = 0x00000010
	infoMaximizeShell     = 0x00000020
	infoEnableWindowsKey  = 0x00000100
)

// Performance flags: disable wallpaper, full-window drag, and menu
// animations over the wire.
const perfDisableEverythingCosmetic = 0x00000007

// Licensing preamble message types.
const (
	licenseRequest    = 0x01
	licenseNewLicense = 0x03
	licenseErrorAlert = 0xFF
)

// licenseStatusValidClient is the error code a server sends when the
// client needs no license.
const licenseStatusValidClient = 0x00000007

// appendSecurityHeader prepends a basic security header: flags, flagsHi.
func appendSecurityHeader(b []byte, flags uint16) []byte {
	b = binary.LittleEndian.AppendUint16(b, flags)
	return binary.LittleEndian.AppendUint16(b, 0)
}

// utf16ByteCount returns the size of s in UTF-16LE bytes, excluding the
// null terminator, for the cb* fields of the InfoPacket.
func utf16ByteCount(s string) uint16 {
	return uint16(len(utf16.Encode([]rune(s))) * 2)
}

// appendUTF16Z appends s as UTF-16LE followed by a null terminator. The
// terminator is present even for empty strings.
func appendUTF16Z(b []byte, s string) []byte {
	for _, u := range utf16.Encode([]rune(s)) {
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	return binary.LittleEndian.AppendUint16(b, 0)
}

// buildClientInfo encodes the Client Info PDU (MS-RDPBCGR 2.2.1.11):
// security header with SEC_INFO_PKT, then the InfoPacket with UTF-16LE
// credentials and the extended info block. Autologon is requested exactly
// when a password is present.
func (c *Connector) buildClientInfo() []byte {
	flags := uint32(infoMouse | infoDisableCtrlAltDel | infoUnicode |
		infoMaximizeShell | infoEnableWindowsKey)
	if c.cfg.Password != "" {
		flags |= infoAutologon
	}

	b := appendSecurityHeader(nil, secInfoPkt)
	b = binary.LittleEndian.AppendUint32(b, 0) // codePage
	b = binary.LittleEndian.AppendUint32(b, flags)
	b = binary.LittleEndian.AppendUint16(b, utf16ByteCount(c.cfg.Domain))
	b = binary.LittleEndian.AppendUint16(b, utf16ByteCount(c.cfg.Username))
	b = binary.LittleEndian.AppendUint16(b, utf16ByteCount(c.cfg.Password))
	b = binary.LittleEndian.AppendUint16(b, 0) // cbAlternateShell
	b = binary.LittleEndian.AppendUint16(b, 0) // cbWorkingDir
	b = appendUTF16Z(b, c.cfg.Domain)
	b = appendUTF16Z(b, c.cfg.Username)
	b = appendUTF16Z(b, c.cfg.Password)
	b = appendUTF16Z(b, "") // alternateShell
	b = appendUTF16Z(b, "") // workingDir

	// Extended info.
	b = binary.LittleEndian.AppendUint16(b, 2) // clientAddressFamily: AF_INET
	b = binary.LittleEndian.AppendUint16(b, 2) // cbClientAddress (null only)
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = binary.LittleEndian.AppendUint16(b, 2) // cbClientDir (null only)
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = append(b, make([]byte, 172)...)        // clientTimeZone
	b = binary.LittleEndian.AppendUint32(b, 0) // clientSessionId
	b = binary.LittleEndian.AppendUint32(b, perfDisableEverythingCosmetic)

	return b
}

// handleLicensePDU consumes one licensing-stage payload (security header
// included). A LICENSE_ERROR with STATUS_VALID_CLIENT or a NEW_LICENSE
// completes the stage; a server that demands an actual license exchange
// is rejected.
func handleLicensePDU(payload []byte) error {
	r := newReader(payload)
	flags, err := r.u16le()
	if err != nil {
		return &ParseError{Field: "license security flags", Err: err}
	}
	if flags&secLicensePkt == 0 {
		return &ParseError{Field: "license security flags", Err: fmt.Errorf("expected SEC_LICENSE_PKT, got 0x%04X", flags)}
	}
	if err := r.skip(2); err != nil { // flagsHi
		return &ParseError{Field: "license security header", Err: err}
	}

	msgType, err := r.u8()
	if err != nil {
		return &ParseError{Field: "license message type", Err: err}
	}
	if err := r.skip(3); err != nil { // preamble flags, wMsgSize
		return &ParseError{Field: "license preamble", Err: err}
	}

	switch msgType {
	case licenseErrorAlert:
		code, err := r.u32le()
		if err != nil {
			return &ParseError{Field: "license error code", Err: err}
		}
		if code != licenseStatusValidClient {
			return fmt.Errorf("rdp: license error 0x%08X", code)
		}
		return nil
	case licenseNewLicense:
		return nil
	case licenseRequest:
		return ErrLicenseExchange
	default:
		return fmt.Errorf("rdp: unexpected license message type 0x%02X", msgType)
	}
}

// BuildLicenseValidClient encodes the LICENSE_ERROR/STATUS_VALID_CLIENT
// message a server sends to skip licensing.
func BuildLicenseValidClient() []byte {
	b := appendSecurityHeader(nil, secLicensePkt)
	b = append(b, licenseErrorAlert, 0x03)      // preamble: type, version 3 + EXTENDED_ERROR
	b = binary.LittleEndian.AppendUint16(b, 16) // wMsgSize
	b = binary.LittleEndian.AppendUint32(b, licenseStatusValidClient)
	b = binary.LittleEndian.AppendUint32(b, 2) // ST_NO_TRANSITION
	b = binary.LittleEndian.AppendUint16(b, 0) // error info blob type
	b = binary.LittleEndian.AppendUint16(b, 0) // blob length
	return b
}
