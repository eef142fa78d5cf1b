package proto

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// MCS domain PDU choices (T.125, PER-aligned: first byte is choice << 2).
const (
	mcsErectDomainRequest          = 1
	mcsDisconnectProviderUltimatum = 8
	mcsAttachUserRequest           = 10
	mcsAttachUserConfirm           = 11
	mcsChannelJoinRequest          = 14
	mcsChannelJoinConfirm          = 15
	mcsSendDataRequest             = 25
	mcsSendDataIndication          = 26
)

// userIDBase is the lower bound of the T.125 UserId constrained integer;
// the wire carries user IDs as offsets from it.
const userIDBase = 1001

// ioChannelDefault is the channel the server conventionally assigns for
// I/O; the real value comes from the Server Network Data block.
const ioChannelDefault = 1003

// GCC user data block types (MS-RDPBCGR 2.2.1.3.1).
const (
	gccClientCore     = 0xC001
	gccClientSecurity = 0xC002
	gccClientNetwork  = 0xC003
	gccServerCore     = 0x0C01
	gccServerSecurity = 0x0C02
	gccServerNetwork  = 0x0C03
)

// DisconnectReason is the reason carried by an MCS Disconnect Provider
// Ultimatum.
type DisconnectReason byte

// T.125 disconnect reasons.
const (
	ReasonDomainDisconnected DisconnectReason = 0
	ReasonProviderInitiated  DisconnectReason = 1
	ReasonTokenPurged        DisconnectReason = 2
	ReasonUserRequested      DisconnectReason = 3
	ReasonChannelPurged      DisconnectReason = 4
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonDomainDisconnected:
		return "domain disconnected"
	case ReasonProviderInitiated:
		return "provider initiated"
	case ReasonTokenPurged:
		return "token purged"
	case ReasonUserRequested:
		return "user requested"
	case ReasonChannelPurged:
		return "channel purged"
	default:
		return fmt.Sprintf("reason %d", byte(r))
	}
}

// --- BER primitives (Connect-Initial / Connect-Response only; the domain
// PDUs use PER-aligned fixed encodings) ---

func berAppendLength(b []byte, n int) []byte {
	switch {
	case n < 0x80:
		return append(b, byte(n))
	case n < 0x100:
		return append(b, 0x81, byte(n))
	default:
		return append(b, 0x82, byte(n>>8), byte(n))
	}
}

func berReadLength(r *reader) (int, error) {
	first, err := r.u8()
	if err != nil {
		return 0, err
	}
	if first < 0x80 {
		return int(first), nil
	}
	count := int(first & 0x7F)
	if count == 0 || count > 2 {
		return 0, fmt.Errorf("unsupported BER length form 0x%02X", first)
	}
	var n int
	for i := 0; i < count; i++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		n = n<<8 | int(b)
	}
	return n, nil
}

func berAppendInteger(b []byte, v uint32) []byte {
	var raw []byte
	switch {
	case v < 0x80:
		raw = []byte{byte(v)}
	case v < 0x8000:
		raw = []byte{byte(v >> 8), byte(v)}
	case v < 0x800000:
		raw = []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		raw = []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
	b = append(b, 0x02)
	b = berAppendLength(b, len(raw))
	return append(b, raw...)
}

func berAppendOctetString(b, v []byte) []byte {
	b = append(b, 0x04)
	b = berAppendLength(b, len(v))
	return append(b, v...)
}

func berExpectTag(r *reader, tag byte, field string) (int, error) {
	got, err := r.u8()
	if err != nil {
		return 0, &ParseError{Field: field, Err: err}
	}
	if got != tag {
		return 0, &ParseError{Field: field, Err: fmt.Errorf("BER tag 0x%02X, expected 0x%02X", got, tag)}
	}
	n, err := berReadLength(r)
	if err != nil {
		return 0, &ParseError{Field: field, Err: err}
	}
	return n, nil
}

// --- PER helpers (GCC wrapper, MCS user data) ---

func perAppendLength(b []byte, n int) []byte {
	if n < 0x80 {
		return append(b, byte(n))
	}
	return append(b, 0x80|byte(n>>8), byte(n))
}

func perReadLength(r *reader) (int, error) {
	first, err := r.u8()
	if err != nil {
		return 0, err
	}
	if first&0x80 == 0 {
		return int(first), nil
	}
	second, err := r.u8()
	if err != nil {
		return 0, err
	}
	return int(first&0x7F)<<8 | int(second), nil
}

// --- Connect-Initial / Connect-Response ---

// domainParameters appends a BER DomainParameters SEQUENCE.
func domainParameters(b []byte, maxChannels, maxUsers, maxTokens, maxPDUSize uint32) []byte {
	var seq []byte
	seq = berAppendInteger(seq, maxChannels)
	seq = berAppendInteger(seq, maxUsers)
	seq = berAppendInteger(seq, maxTokens)
	seq = berAppendInteger(seq, 1) // numPriorities
	seq = berAppendInteger(seq, 0) // minThroughput
	seq = berAppendInteger(seq, 1) // maxHeight
	seq = berAppendInteger(seq, maxPDUSize)
	seq = berAppendInteger(seq, 2) // protocolVersion

	b = append(b, 0x30)
	b = berAppendLength(b, len(seq))
	return append(b, seq...)
}

// buildConnectInitial encodes the TPKT-wrapped MCS Connect-Initial PDU
// carrying the GCC conference create request with the client data blocks.
func buildConnectInitial(gccUserData []byte) []byte {
	var content []byte
	content = berAppendOctetString(content, []byte{0x01})               // callingDomainSelector
	content = berAppendOctetString(content, []byte{0x01})               // calledDomainSelector
	content = append(content, 0x01, 0x01, 0xFF)                         // upwardFlag TRUE
	content = domainParameters(content, 34, 2, 0, 0xFFFF)               // targetParameters
	content = domainParameters(content, 1, 1, 1, 0x420)                 // minimumParameters
	content = domainParameters(content, 0xFFFF, 0xFC17, 0xFFFF, 0xFFFF) // maximumParameters
	content = berAppendOctetString(content, gccUserData)

	pdu := []byte{0x7F, 0x65} // [APPLICATION 101] Connect-Initial
	pdu = berAppendLength(pdu, len(content))
	pdu = append(pdu, content...)

	return wrapDataTPDU(pdu)
}

// serverConnectInfo is what the client needs out of the Connect-Response.
type serverConnectInfo struct {
	IOChannel uint16
}

// parseConnectResponse validates the MCS Connect-Response result and the
// server security data. Servers negotiating standard RDP security
// (non-zero encryption method or level) are rejected: this transport is
// TLS-only.
func parseConnectResponse(mcs []byte) (serverConnectInfo, error) {
	info := serverConnectInfo{IOChannel: ioChannelDefault}

	r := newReader(mcs)
	tag, err := r.u8()
	if err != nil || tag != 0x7F {
		return info, &ParseError{Field: "connect-response tag", Err: fmt.Errorf("not an MCS connect PDU")}
	}
	tag2, err := r.u8()
	if err != nil || tag2 != 0x66 { // [APPLICATION 102]
		return info, &ParseError{Field: "connect-response tag", Err: fmt.Errorf("unexpected application tag 0x%02X", tag2)}
	}
	if _, err := berReadLength(r); err != nil {
		return info, &ParseError{Field: "connect-response length", Err: err}
	}

	// result ENUMERATED
	n, err := berExpectTag(r, 0x0A, "connect-response result")
	if err != nil {
		return info, err
	}
	result, err := r.bytes(n)
	if err != nil {
		return info, &ParseError{Field: "connect-response result", Err: err}
	}
	if len(result) == 0 || result[len(result)-1] != 0 {
		return info, fmt.Errorf("rdp: MCS connect rejected, result %v", result)
	}

	// calledConnectId INTEGER
	n, err = berExpectTag(r, 0x02, "called connect id")
	if err != nil {
		return info, err
	}
	if err := r.skip(n); err != nil {
		return info, &ParseError{Field: "called connect id", Err: err}
	}

	// domainParameters SEQUENCE
	n, err = berExpectTag(r, 0x30, "domain parameters")
	if err != nil {
		return info, err
	}
	if err := r.skip(n); err != nil {
		return info, &ParseError{Field: "domain parameters", Err: err}
	}

	// userData OCTET STRING → GCC conference create response
	n, err = berExpectTag(r, 0x04, "server user data")
	if err != nil {
		return info, err
	}
	userData, err := r.bytes(n)
	if err != nil {
		return info, &ParseError{Field: "server user data", Err: err}
	}

	return parseServerDataBlocks(userData, info)
}

// parseServerDataBlocks locates the chain of server data blocks inside the
// GCC conference create response. The T.124 wrapper ahead of the blocks is
// PER-encoded with redundant framing, so rather than model it we scan for
// the SC_CORE header and iterate the chain from there, the approach most
// minimal clients take.
func parseServerDataBlocks(userData []byte, info serverConnectInfo) (serverConnectInfo, error) {
	start := -1
	for i := 0; i+4 <= len(userData); i++ {
		if binary.LittleEndian.Uint16(userData[i:]) == gccServerCore {
			if l := binary.LittleEndian.Uint16(userData[i+2:]); l >= 8 && i+int(l) <= len(userData) {
				start = i
				break
			}
		}
	}
	if start < 0 {
		return info, &ParseError{Field: "server data blocks", Err: fmt.Errorf("SC_CORE block not found")}
	}

	r := newReader(userData[start:])
	for r.remaining() >= 4 {
		blockType, _ := r.u16le()
		blockLen, _ := r.u16le()
		if blockLen < 4 || r.remaining() < int(blockLen)-4 {
			return info, &ParseError{Field: "server data block", Err: fmt.Errorf("block 0x%04X length %d overruns data", blockType, blockLen)}
		}
		body, _ := r.bytes(int(blockLen) - 4)

		switch blockType {
		case gccServerSecurity:
			br := newReader(body)
			method, err := br.u32le()
			if err != nil {
				return info, &ParseError{Field: "server security data", Err: err}
			}
			level, err := br.u32le()
			if err != nil {
				return info, &ParseError{Field: "server security data", Err: err}
			}
			if method != 0 || level != 0 {
				return info, ErrEncryptionUnsupported
			}
		case gccServerNetwork:
			br := newReader(body)
			ch, err := br.u16le()
			if err != nil {
				return info, &ParseError{Field: "server network data", Err: err}
			}
			info.IOChannel = ch
		}
	}

	return info, nil
}

// wrapGCCCreateRequest encloses the client data blocks in the T.124
// ConferenceCreateRequest wrapper. The preamble bytes are the fixed
// PER encoding of the t124 object identifier 0.0.20.124.0.1, the
// conference create selector, and the "Duca" H.221 client key.
func wrapGCCCreateRequest(clientBlocks []byte) []byte {
	pduContent := []byte{0x00, 0x08, 0x00, 0x10, 0x00, 0x01, 0xC0, 0x00, 'D', 'u', 'c', 'a'}
	pduContent = perAppendLength(pduContent, len(clientBlocks))
	pduContent = append(pduContent, clientBlocks...)

	b := []byte{0x00, 0x05, 0x00, 0x14, 0x7C, 0x00, 0x01}
	b = perAppendLength(b, len(pduContent))
	return append(b, pduContent...)
}

// appendUTF16Fixed appends s as UTF-16LE into a fixed-size field of
// byteLen bytes, truncating to leave room for the mandatory null
// terminator and zero-padding the remainder.
func appendUTF16Fixed(b []byte, s string, byteLen int) []byte {
	units := utf16.Encode([]rune(s))
	maxUnits := byteLen/2 - 1
	if len(units) > maxUnits {
		units = units[:maxUnits]
	}
	field := make([]byte, byteLen)
	for i, u := range units {
		binary.LittleEndian.PutUint16(field[i*2:], u)
	}
	return append(b, field...)
}

// buildClientCoreData encodes TS_UD_CS_CORE.
func (c *Connector) buildClientCoreData(selectedProtocol uint32) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint16(b, gccClientCore)
	b = binary.LittleEndian.AppendUint16(b, 216)        // block length, fixed for the full structure
	b = binary.LittleEndian.AppendUint32(b, 0x00080004) // version: RDP 5.0+
	b = binary.LittleEndian.AppendUint16(b, c.cfg.DesktopWidth)
	b = binary.LittleEndian.AppendUint16(b, c.cfg.DesktopHeight)
	b = binary.LittleEndian.AppendUint16(b, 0xCA01) // colorDepth: 8bpp legacy field
	b = binary.LittleEndian.AppendUint16(b, 0xAA03) // SASSequence
	b = binary.LittleEndian.AppendUint32(b, c.cfg.KeyboardLayout)
	b = binary.LittleEndian.AppendUint32(b, 0) // clientBuild
	b = appendUTF16Fixed(b, c.cfg.ClientName, 32)
	b = binary.LittleEndian.AppendUint32(b, 4)      // keyboardType: IBM enhanced
	b = binary.LittleEndian.AppendUint32(b, 0)      // keyboardSubType
	b = binary.LittleEndian.AppendUint32(b, 12)     // keyboardFunctionKey
	b = append(b, make([]byte, 64)...)              // imeFileName
	b = binary.LittleEndian.AppendUint16(b, 0xCA01) // postBeta2ColorDepth
	b = binary.LittleEndian.AppendUint16(b, 1)      // clientProductId
	b = binary.LittleEndian.AppendUint32(b, 0)      // serialNumber
	b = binary.LittleEndian.AppendUint16(b, 24)     // highColorDepth
	b = binary.LittleEndian.AppendUint16(b, 0x0007) // supportedColorDepths: 24/16/15
	b = binary.LittleEndian.AppendUint16(b, 0x0003) // earlyCapabilityFlags: errinfo + want 32bpp
	b = append(b, make([]byte, 64)...)              // clientDigProductId
	b = append(b, 0x00, 0x00)                       // connectionType, pad
	b = binary.LittleEndian.AppendUint32(b, selectedProtocol)
	return b
}

// buildClientGCC assembles the client core, security, and network blocks
// inside the conference create request wrapper.
func (c *Connector) buildClientGCC(selectedProtocol uint32) []byte {
	blocks := c.buildClientCoreData(selectedProtocol)

	// Client Security Data: no legacy encryption, TLS does the work.
	blocks = binary.LittleEndian.AppendUint16(blocks, gccClientSecurity)
	blocks = binary.LittleEndian.AppendUint16(blocks, 12)
	blocks = binary.LittleEndian.AppendUint32(blocks, 0) // encryptionMethods
	blocks = binary.LittleEndian.AppendUint32(blocks, 0) // extEncryptionMethods

	// Client Network Data: no static virtual channels.
	blocks = binary.LittleEndian.AppendUint16(blocks, gccClientNetwork)
	blocks = binary.LittleEndian.AppendUint16(blocks, 8)
	blocks = binary.LittleEndian.AppendUint32(blocks, 0) // channelCount

	return wrapGCCCreateRequest(blocks)
}

// --- MCS domain PDUs ---

func buildErectDomainRequest() []byte {
	// choice, then PER integers subHeight=0 and subInterval=0.
	return wrapDataTPDU([]byte{mcsErectDomainRequest << 2, 0x01, 0x00, 0x01, 0x00})
}

func buildAttachUserRequest() []byte {
	return wrapDataTPDU([]byte{mcsAttachUserRequest << 2})
}

// parseAttachUserConfirm returns the user ID assigned by the server.
func parseAttachUserConfirm(mcs []byte) (uint16, error) {
	r := newReader(mcs)
	first, err := r.u8()
	if err != nil || first>>2 != mcsAttachUserConfirm {
		return 0, &ParseError{Field: "attach user confirm", Err: fmt.Errorf("unexpected MCS PDU")}
	}
	result, err := r.u8()
	if err != nil {
		return 0, &ParseError{Field: "attach user result", Err: err}
	}
	if result != 0 {
		return 0, fmt.Errorf("rdp: MCS attach user rejected, result %d", result)
	}
	if first&0x02 == 0 {
		return 0, &ParseError{Field: "attach user confirm", Err: fmt.Errorf("no initiator present")}
	}
	initiator, err := r.u16be()
	if err != nil {
		return 0, &ParseError{Field: "attach user initiator", Err: err}
	}
	return initiator + userIDBase, nil
}

func buildChannelJoinRequest(userID, channel uint16) []byte {
	b := []byte{mcsChannelJoinRequest << 2}
	b = binary.BigEndian.AppendUint16(b, userID-userIDBase)
	b = binary.BigEndian.AppendUint16(b, channel)
	return wrapDataTPDU(b)
}

// parseChannelJoinConfirm returns the joined channel ID.
func parseChannelJoinConfirm(mcs []byte) (uint16, error) {
	r := newReader(mcs)
	first, err := r.u8()
	if err != nil || first>>2 != mcsChannelJoinConfirm {
		return 0, &ParseError{Field: "channel join confirm", Err: fmt.Errorf("unexpected MCS PDU")}
	}
	result, err := r.u8()
	if err != nil {
		return 0, &ParseError{Field: "channel join result", Err: err}
	}
	if result != 0 {
		return 0, fmt.Errorf("rdp: MCS channel join rejected, result %d", result)
	}
	if err := r.skip(4); err != nil { // initiator, requested
		return 0, &ParseError{Field: "channel join confirm", Err: err}
	}
	if first&0x02 == 0 {
		return 0, &ParseError{Field: "channel join confirm", Err: fmt.Errorf("no channel id present")}
	}
	channel, err := r.u16be()
	if err != nil {
		return 0, &ParseError{Field: "channel join channel id", Err: err}
	}
	return channel, nil
}

// buildSendDataRequest wraps payload in an MCS Send Data Request on the
// given channel, TPKT/X.224 framed and ready to write.
func buildSendDataRequest(userID, channel uint16, payload []byte) []byte {
	b := []byte{mcsSendDataRequest << 2}
	b = binary.BigEndian.AppendUint16(b, userID-userIDBase)
	b = binary.BigEndian.AppendUint16(b, channel)
	b = append(b, 0x70) // dataPriority high, segmentation begin|end
	b = perAppendLength(b, len(payload))
	b = append(b, payload...)
	return wrapDataTPDU(b)
}

// parseSendDataIndication returns the channel and payload of an MCS Send
// Data Indication.
func parseSendDataIndication(mcs []byte) (uint16, []byte, error) {
	r := newReader(mcs)
	first, err := r.u8()
	if err != nil || first>>2 != mcsSendDataIndication {
		return 0, nil, &ParseError{Field: "send data indication", Err: fmt.Errorf("unexpected MCS PDU")}
	}
	if err := r.skip(2); err != nil { // initiator
		return 0, nil, &ParseError{Field: "send data initiator", Err: err}
	}
	channel, err := r.u16be()
	if err != nil {
		return 0, nil, &ParseError{Field: "send data channel", Err: err}
	}
	if err := r.skip(1); err != nil { // priority + segmentation
		return 0, nil, &ParseError{Field: "send data flags", Err: err}
	}
	n, err := perReadLength(r)
	if err != nil {
		return 0, nil, &ParseError{Field: "send data length", Err: err}
	}
	payload, err := r.bytes(n)
	if err != nil {
		return 0, nil, &ParseError{Field: "send data payload", Err: err}
	}
	return channel, payload, nil
}

// parseDisconnectUltimatum extracts the reason from an MCS Disconnect
// Provider Ultimatum. The three reason bits straddle the choice byte.
func parseDisconnectUltimatum(mcs []byte) (DisconnectReason, error) {
	if len(mcs) < 2 {
		return 0, &ParseError{Field: "disconnect ultimatum", Err: errTruncated}
	}
	reason := (mcs[0]&0x03)<<1 | mcs[1]>>7
	return DisconnectReason(reason), nil
}

// BuildSendDataIndication encodes the server side of MCS data delivery,
// used by scripted test servers and kept beside the client parser so both
// directions of the codec stay together.
func BuildSendDataIndication(userID, channel uint16, payload []byte) []byte {
	b := []byte{mcsSendDataIndication << 2}
	b = binary.BigEndian.AppendUint16(b, userID-userIDBase)
	b = binary.BigEndian.AppendUint16(b, channel)
	b = append(b, 0x70)
	b = perAppendLength(b, len(payload))
	b = append(b, payload...)
	return wrapDataTPDU(b)
}

// BuildAttachUserConfirm encodes a successful Attach User Confirm
// assigning the given user ID.
func BuildAttachUserConfirm(userID uint16) []byte {
	b := []byte{mcsAttachUserConfirm<<2 | 0x02, 0x00}
	b = binary.BigEndian.AppendUint16(b, userID-userIDBase)
	return wrapDataTPDU(b)
}

// BuildChannelJoinConfirm encodes a successful Channel Join Confirm.
func BuildChannelJoinConfirm(userID, channel uint16) []byte {
	b := []byte{mcsChannelJoinConfirm<<2 | 0x02, 0x00}
	b = binary.BigEndian.AppendUint16(b, userID-userIDBase)
	b = binary.BigEndian.AppendUint16(b, channel)
	b = binary.BigEndian.AppendUint16(b, channel)
	return wrapDataTPDU(b)
}

// BuildDisconnectUltimatum encodes an MCS Disconnect Provider Ultimatum
// with the given reason.
func BuildDisconnectUltimatum(reason DisconnectReason) []byte {
	b := []byte{
		mcsDisconnectProviderUltimatum<<2 | byte(reason)>>1,
		(byte(reason) & 0x01) << 7,
	}
	return wrapDataTPDU(b)
}

// BuildConnectResponse encodes a successful MCS Connect-Response whose
// server data blocks advertise TLS-compatible security (no legacy
// encryption) and the given I/O channel.
func BuildConnectResponse(ioChannel uint16) []byte {
	var blocks []byte
	blocks = binary.LittleEndian.AppendUint16(blocks, gccServerCore)
	blocks = binary.LittleEndian.AppendUint16(blocks, 8)
	blocks = binary.LittleEndian.AppendUint32(blocks, 0x00080004) // version

	blocks = binary.LittleEndian.AppendUint16(blocks, gccServerSecurity)
	blocks = binary.LittleEndian.AppendUint16(blocks, 12)
	blocks = binary.LittleEndian.AppendUint32(blocks, 0) // encryptionMethod
	blocks = binary.LittleEndian.AppendUint32(blocks, 0) // encryptionLevel

	blocks = binary.LittleEndian.AppendUint16(blocks, gccServerNetwork)
	blocks = binary.LittleEndian.AppendUint16(blocks, 8)
	blocks = binary.LittleEndian.AppendUint16(blocks, ioChannel)
	blocks = binary.LittleEndian.AppendUint16(blocks, 0) // channelCount

	// ConferenceCreateResponse wrapper, same fixed preamble shape as the
	// request with the "McDn" server H.221 key.
	pduContent := []byte{0x00, 0x15, 0x00, 0x05, 0x00, 0x14, 0x7C, 0x00, 0x01, 0x2A, 0x14, 0x76, 0x0A}
	pduContent = append(pduContent, 0x01, 0x01, 0x00, 0x01, 0xC0, 0x00, 'M', 'c', 'D', 'n')
	pduContent = perAppendLength(pduContent, len(blocks))
	pduContent = append(pduContent, blocks...)

	var content []byte
	content = append(content, 0x0A, 0x01, 0x00) // result: rt-successful
	content = berAppendInteger(content, 0)      // calledConnectId
	content = domainParameters(content, 34, 3, 0, 0xFFFF)
	content = berAppendOctetString(content, pduContent)

	pdu := []byte{0x7F, 0x66} // [APPLICATION 102] Connect-Response
	pdu = berAppendLength(pdu, len(content))
	pdu = append(pdu, content...)

	return wrapDataTPDU(pdu)
}
