package proto

import (
	"encoding/binary"
	"fmt"
)

// Share control PDU types (low nibble of pduType; the high bits carry the
// protocol version 0x10).
const (
	pduTypeDemandActive  = 0x1
	pduTypeConfirmActive = 0x3
	pduTypeDeactivateAll = 0x6
	pduTypeData          = 0x7
	pduVersion           = 0x10
)

// Share data PDU types (pduType2).
const (
	pduType2Update         = 2
	pduType2Control        = 20
	pduType2Pointer        = 27
	pduType2Synchronize    = 31
	pduType2ShutdownDenied = 37
	pduType2FontList       = 39
	pduType2FontMap        = 40
	pduType2SetErrorInfo   = 47
)

// Control PDU actions.
const (
	controlActionRequestControl = 1
	controlActionGrantedControl = 2
	controlActionDetach         = 3
	controlActionCooperate      = 4
)

// Control actions a server emits during finalization.
const (
	ControlActionCooperate      uint16 = controlActionCooperate
	ControlActionGrantedControl uint16 = controlActionGrantedControl
)

// Capability set types.
const (
	capGeneral        = 0x0001
	capBitmap         = 0x0002
	capOrder          = 0x0003
	capPointer        = 0x0008
	capInput          = 0x000D
	capVirtualChannel = 0x0014
)

// General capability extra flags.
const (
	generalFastPathOutput      = 0x0001
	generalLongCredentials     = 0x0004
	generalNoBitmapCompressHdr = 0x0400
)

// Input capability flags.
const (
	inputFlagScancodes = 0x0001
	inputFlagMouseX    = 0x0004
	inputFlagFastPath  = 0x0008
	inputFlagFastPath2 = 0x0020
)

// confirmActiveSource is the source descriptor sent in the Confirm Active
// PDU.
const confirmActiveSource = "JANUS"

// shareControlHeader prepends the 6-byte share control header once the
// body length is known.
func shareControlHeader(pduType byte, pduSource uint16, body []byte) []byte {
	total := len(body) + 6
	b := make([]byte, 0, total)
	b = binary.LittleEndian.AppendUint16(b, uint16(total))
	b = binary.LittleEndian.AppendUint16(b, uint16(pduType)|pduVersion)
	b = binary.LittleEndian.AppendUint16(b, pduSource)
	return append(b, body...)
}

// shareDataHeader prepends share control + share data headers to a data
// PDU body.
func shareDataHeader(shareID uint32, pduSource uint16, pduType2 byte, body []byte) []byte {
	inner := make([]byte, 0, len(body)+12)
	inner = binary.LittleEndian.AppendUint32(inner, shareID)
	inner = append(inner, 0x00, 0x01)                                     // pad, streamID low
	inner = binary.LittleEndian.AppendUint16(inner, uint16(len(body)+12)) // uncompressedLength
	inner = append(inner, pduType2, 0x00)                                 // compressedType none
	inner = binary.LittleEndian.AppendUint16(inner, 0)                    // compressedLength
	inner = append(inner, body...)
	return shareControlHeader(pduTypeData, pduSource, inner)
}

// demandActive is the parsed subset of a Demand Active PDU the client
// needs: the share ID to echo back and the desktop dimensions the server
// actually granted (bitmap capability set).
type demandActive struct {
	ShareID       uint32
	DesktopWidth  uint16
	DesktopHeight uint16
}

// parseDemandActive decodes a Demand Active PDU body (share control
// header already consumed by the caller).
func parseDemandActive(body []byte) (demandActive, error) {
	var da demandActive
	r := newReader(body)

	var err error
	if da.ShareID, err = r.u32le(); err != nil {
		return da, &ParseError{Field: "share id", Err: err}
	}
	srcLen, err := r.u16le()
	if err != nil {
		return da, &ParseError{Field: "source descriptor length", Err: err}
	}
	capsLen, err := r.u16le()
	if err != nil {
		return da, &ParseError{Field: "capabilities length", Err: err}
	}
	if err := r.skip(int(srcLen)); err != nil {
		return da, &ParseError{Field: "source descriptor", Err: err}
	}
	numCaps, err := r.u16le()
	if err != nil {
		return da, &ParseError{Field: "capability count", Err: err}
	}
	if err := r.skip(2); err != nil { // pad
		return da, &ParseError{Field: "capability pad", Err: err}
	}
	_ = capsLen

	for i := 0; i < int(numCaps); i++ {
		capType, err := r.u16le()
		if err != nil {
			return da, &ParseError{Field: "capability type", Err: err}
		}
		capLen, err := r.u16le()
		if err != nil {
			return da, &ParseError{Field: "capability length", Err: err}
		}
		if capLen < 4 {
			return da, &ParseError{Field: "capability length", Err: fmt.Errorf("set 0x%04X declares %d bytes", capType, capLen)}
		}
		data, err := r.bytes(int(capLen) - 4)
		if err != nil {
			return da, &ParseError{Field: "capability data", Err: err}
		}

		if capType == capBitmap && len(data) >= 12 {
			da.DesktopWidth = binary.LittleEndian.Uint16(data[8:])
			da.DesktopHeight = binary.LittleEndian.Uint16(data[10:])
		}
	}

	if da.DesktopWidth == 0 || da.DesktopHeight == 0 {
		return da, &ParseError{Field: "bitmap capability", Err: fmt.Errorf("server advertised no desktop size")}
	}
	return da, nil
}

// appendCapSet appends a capability set header + body.
func appendCapSet(b []byte, capType uint16, body []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, capType)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(body)+4))
	return append(b, body...)
}

// buildConfirmActive encodes the Confirm Active PDU advertising exactly
// what this client supports: fast-path output without per-bitmap
// compression headers, 32bpp bitmaps, no drawing orders, fast-path
// scancode/mouse input, pointer caching, and a virtual channel set with
// nothing in it.
func (c *Connector) buildConfirmActive(da demandActive, userID uint16) []byte {
	var caps []byte
	numCaps := 0

	// General.
	var general []byte
	general = binary.LittleEndian.AppendUint16(general, 1)      // osMajorType: windows
	general = binary.LittleEndian.AppendUint16(general, 3)      // osMinorType
	general = binary.LittleEndian.AppendUint16(general, 0x0200) // protocolVersion
	general = binary.LittleEndian.AppendUint16(general, 0)      // pad
	general = binary.LittleEndian.AppendUint16(general, 0)      // compressionTypes
	general = binary.LittleEndian.AppendUint16(general, generalFastPathOutput|generalLongCredentials|generalNoBitmapCompressHdr)
	general = binary.LittleEndian.AppendUint16(general, 0) // updateCapabilityFlag
	general = binary.LittleEndian.AppendUint16(general, 0) // remoteUnshareFlag
	general = binary.LittleEndian.AppendUint16(general, 0) // compressionLevel
	general = append(general, 0x00, 0x00)                  // refreshRect, suppressOutput
	caps = appendCapSet(caps, capGeneral, general)
	numCaps++

	// Bitmap: 32bpp desired, multi-rect updates.
	var bitmap []byte
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 32) // preferredBitsPerPixel
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 1)  // receive1BitPerPixel
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 1)  // receive4BitsPerPixel
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 1)  // receive8BitsPerPixel
	bitmap = binary.LittleEndian.AppendUint16(bitmap, da.DesktopWidth)
	bitmap = binary.LittleEndian.AppendUint16(bitmap, da.DesktopHeight)
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 0) // pad
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 0) // desktopResizeFlag
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 1) // bitmapCompressionFlag (must be 1)
	bitmap = append(bitmap, 0x00, 0x00)                  // highColorFlags, drawingFlags
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 1) // multipleRectangleSupport
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 0) // pad
	caps = appendCapSet(caps, capBitmap, bitmap)
	numCaps++

	// Order: every order off, the server must fall back to bitmap updates.
	var order []byte
	order = append(order, make([]byte, 16)...)              // terminalDescriptor
	order = binary.LittleEndian.AppendUint32(order, 0)      // pad
	order = binary.LittleEndian.AppendUint16(order, 1)      // desktopSaveXGranularity
	order = binary.LittleEndian.AppendUint16(order, 20)     // desktopSaveYGranularity
	order = binary.LittleEndian.AppendUint16(order, 0)      // pad
	order = binary.LittleEndian.AppendUint16(order, 1)      // maximumOrderLevel
	order = binary.LittleEndian.AppendUint16(order, 0)      // numberFonts
	order = binary.LittleEndian.AppendUint16(order, 0x000A) // orderFlags: NEGOTIATE|ZEROBOUNDSDELTAS
	order = append(order, make([]byte, 32)...)              // orderSupport: all zero
	order = binary.LittleEndian.AppendUint16(order, 0)      // textFlags
	order = binary.LittleEndian.AppendUint16(order, 0)      // orderSupportExFlags
	order = binary.LittleEndian.AppendUint32(order, 0)      // pad
	order = binary.LittleEndian.AppendUint32(order, 0)      // desktopSaveSize
	order = binary.LittleEndian.AppendUint16(order, 0)      // pad
	order = binary.LittleEndian.AppendUint16(order, 0)      // pad
	order = binary.LittleEndian.AppendUint16(order, 0)      // textANSICodePage
	order = binary.LittleEndian.AppendUint16(order, 0)      // pad
	caps = appendCapSet(caps, capOrder, order)
	numCaps++

	// Input: fast-path scancode and extended mouse.
	var in []byte
	in = binary.LittleEndian.AppendUint16(in, inputFlagScancodes|inputFlagMouseX|inputFlagFastPath|inputFlagFastPath2)
	in = binary.LittleEndian.AppendUint16(in, 0) // pad
	in = binary.LittleEndian.AppendUint32(in, c.cfg.KeyboardLayout)
	in = binary.LittleEndian.AppendUint32(in, 4)  // keyboardType
	in = binary.LittleEndian.AppendUint32(in, 0)  // keyboardSubType
	in = binary.LittleEndian.AppendUint32(in, 12) // keyboardFunctionKey
	in = append(in, make([]byte, 64)...)          // imeFileName
	caps = appendCapSet(caps, capInput, in)
	numCaps++

	// Pointer.
	var pointer []byte
	pointer = binary.LittleEndian.AppendUint16(pointer, 1)  // colorPointerFlag
	pointer = binary.LittleEndian.AppendUint16(pointer, 20) // colorPointerCacheSize
	pointer = binary.LittleEndian.AppendUint16(pointer, 21) // pointerCacheSize
	caps = appendCapSet(caps, capPointer, pointer)
	numCaps++

	// Virtual channels.
	var vc []byte
	vc = binary.LittleEndian.AppendUint32(vc, 0) // flags: no compression
	vc = binary.LittleEndian.AppendUint32(vc, 0) // VCChunkSize
	caps = appendCapSet(caps, capVirtualChannel, vc)
	numCaps++

	src := []byte(confirmActiveSource)
	var body []byte
	body = binary.LittleEndian.AppendUint32(body, da.ShareID)
	body = binary.LittleEndian.AppendUint16(body, 0x03EA) // originatorID: server channel
	body = binary.LittleEndian.AppendUint16(body, uint16(len(src)))
	body = binary.LittleEndian.AppendUint16(body, uint16(len(caps)+4))
	body = append(body, src...)
	body = binary.LittleEndian.AppendUint16(body, uint16(numCaps))
	body = binary.LittleEndian.AppendUint16(body, 0) // pad
	body = append(body, caps...)

	return shareControlHeader(pduTypeConfirmActive, userID, body)
}

// Finalization PDUs (client side).

func buildSynchronize(shareID uint32, userID uint16) []byte {
	var body []byte
	body = binary.LittleEndian.AppendUint16(body, 1) // SYNCMSGTYPE_SYNC
	body = binary.LittleEndian.AppendUint16(body, 0x03EA)
	return shareDataHeader(shareID, userID, pduType2Synchronize, body)
}

func buildControl(shareID uint32, userID uint16, action uint16) []byte {
	var body []byte
	body = binary.LittleEndian.AppendUint16(body, action)
	body = binary.LittleEndian.AppendUint16(body, 0) // grantId
	body = binary.LittleEndian.AppendUint32(body, 0) // controlId
	return shareDataHeader(shareID, userID, pduType2Control, body)
}

func buildFontList(shareID uint32, userID uint16) []byte {
	var body []byte
	body = binary.LittleEndian.AppendUint16(body, 0)      // numberFonts
	body = binary.LittleEndian.AppendUint16(body, 0)      // totalNumFonts
	body = binary.LittleEndian.AppendUint16(body, 0x0003) // listFlags: FIRST|LAST
	body = binary.LittleEndian.AppendUint16(body, 0x0032) // entrySize
	return shareDataHeader(shareID, userID, pduType2FontList, body)
}

// shareControl is a parsed share control header plus its body.
type shareControl struct {
	PDUType byte
	Source  uint16
	Body    []byte
}

// parseShareControl splits a share control PDU. Per MS-RDPBCGR the
// totalLength field is ignored in favor of the MCS payload length.
func parseShareControl(payload []byte) (shareControl, error) {
	var sc shareControl
	r := newReader(payload)
	if err := r.skip(2); err != nil { // totalLength
		return sc, &ParseError{Field: "share control length", Err: err}
	}
	pduType, err := r.u16le()
	if err != nil {
		return sc, &ParseError{Field: "share control type", Err: err}
	}
	source, err := r.u16le()
	if err != nil {
		return sc, &ParseError{Field: "share control source", Err: err}
	}
	sc.PDUType = byte(pduType & 0x0F)
	sc.Source = source
	sc.Body = payload[r.pos:]
	return sc, nil
}

// shareData is a parsed share data header plus its body.
type shareData struct {
	ShareID  uint32
	PDUType2 byte
	Body     []byte
}

func parseShareData(body []byte) (shareData, error) {
	var sd shareData
	r := newReader(body)
	var err error
	if sd.ShareID, err = r.u32le(); err != nil {
		return sd, &ParseError{Field: "share data share id", Err: err}
	}
	if err := r.skip(4); err != nil { // pad, streamID, uncompressedLength
		return sd, &ParseError{Field: "share data header", Err: err}
	}
	if sd.PDUType2, err = r.u8(); err != nil {
		return sd, &ParseError{Field: "share data type", Err: err}
	}
	if err := r.skip(3); err != nil { // compressedType, compressedLength
		return sd, &ParseError{Field: "share data header", Err: err}
	}
	sd.Body = body[r.pos:]
	return sd, nil
}

// BuildDemandActive encodes the server's Demand Active PDU advertising
// the given desktop dimensions.
func BuildDemandActive(shareID uint32, width, height uint16) []byte {
	var bitmap []byte
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 32)
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 1)
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 1)
	bitmap = binary.LittleEndian.AppendUint16(bitmap, 1)
	bitmap = binary.LittleEndian.AppendUint16(bitmap, width)
	bitmap = binary.LittleEndian.AppendUint16(bitmap, height)
	bitmap = append(bitmap, make([]byte, 16)...)

	var general []byte
	general = binary.LittleEndian.AppendUint16(general, 1)
	general = binary.LittleEndian.AppendUint16(general, 3)
	general = binary.LittleEndian.AppendUint16(general, 0x0200)
	general = append(general, make([]byte, 18)...)

	var caps []byte
	caps = appendCapSet(caps, capGeneral, general)
	caps = appendCapSet(caps, capBitmap, bitmap)

	src := []byte("RDP")
	var body []byte
	body = binary.LittleEndian.AppendUint32(body, shareID)
	body = binary.LittleEndian.AppendUint16(body, uint16(len(src)))
	body = binary.LittleEndian.AppendUint16(body, uint16(len(caps)+4))
	body = append(body, src...)
	body = binary.LittleEndian.AppendUint16(body, 2) // numberCapabilities
	body = binary.LittleEndian.AppendUint16(body, 0)
	body = append(body, caps...)

	return shareControlHeader(pduTypeDemandActive, 0x03EA, body)
}

// BuildServerSynchronize, BuildServerControl, and BuildFontMap encode the
// server half of the finalization handshake.
func BuildServerSynchronize(shareID uint32) []byte {
	var body []byte
	body = binary.LittleEndian.AppendUint16(body, 1)
	body = binary.LittleEndian.AppendUint16(body, 0x03EA)
	return shareDataHeader(shareID, 0x03EA, pduType2Synchronize, body)
}

func BuildServerControl(shareID uint32, action uint16) []byte {
	var body []byte
	body = binary.LittleEndian.AppendUint16(body, action)
	body = binary.LittleEndian.AppendUint16(body, 0)
	body = binary.LittleEndian.AppendUint32(body, 0)
	return shareDataHeader(shareID, 0x03EA, pduType2Control, body)
}

func BuildFontMap(shareID uint32) []byte {
	var body []byte
	body = binary.LittleEndian.AppendUint16(body, 0)      // numberEntries
	body = binary.LittleEndian.AppendUint16(body, 0)      // totalNumEntries
	body = binary.LittleEndian.AppendUint16(body, 0x0003) // mapFlags: FIRST|LAST
	body = binary.LittleEndian.AppendUint16(body, 4)      // entrySize
	return shareDataHeader(shareID, 0x03EA, pduType2FontMap, body)
}

// BuildDeactivateAll encodes a server Deactivate All PDU.
func BuildDeactivateAll(shareID uint32) []byte {
	var body []byte
	body = binary.LittleEndian.AppendUint32(body, shareID)
	body = binary.LittleEndian.AppendUint16(body, 0) // lengthSourceDescriptor
	return shareControlHeader(pduTypeDeactivateAll, 0x03EA, body)
}

// BuildErrorInfo encodes a server Set Error Info data PDU.
func BuildErrorInfo(shareID uint32, errorCode uint32) []byte {
	var body []byte
	body = binary.LittleEndian.AppendUint32(body, errorCode)
	return shareDataHeader(shareID, 0x03EA, pduType2SetErrorInfo, body)
}
