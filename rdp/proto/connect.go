package proto

import (
	"fmt"
	"io"
)

// ClientConfig carries everything the connection sequence needs to
// describe this client to the server.
type ClientConfig struct {
	Username       string
	Password       string
	Domain         string
	DesktopWidth   uint16
	DesktopHeight  uint16
	ClientName     string
	KeyboardLayout uint32
}

// ConnectionResult is the negotiated session state the active stage
// runs with. DesktopWidth and DesktopHeight are the dimensions the
// server granted, which may differ from the requested ones.
type ConnectionResult struct {
	DesktopWidth  uint16
	DesktopHeight uint16
	ShareID       uint32
	UserID        uint16
	IOChannel     uint16
}

// Connector drives the client side of the RDP connection sequence. It
// owns no socket: the caller supplies a Framer for reads and an
// io.Writer for writes, and performs the TLS upgrade between
// ConnectBegin and ConnectFinalize.
type Connector struct {
	cfg ClientConfig
}

// NewConnector returns a Connector for the given client configuration.
func NewConnector(cfg ClientConfig) *Connector {
	return &Connector{cfg: cfg}
}

// ConnectBegin sends the X.224 Connection Request and consumes the
// Connection Confirm over the plaintext stream. On success the server
// has selected TLS and the caller must upgrade the connection before
// ConnectFinalize.
func (c *Connector) ConnectBegin(f *Framer, w io.Writer) error {
	if _, err := w.Write(BuildConnectionRequest(ProtocolSSL)); err != nil {
		return fmt.Errorf("write connection request: %w", err)
	}

	action, pdu, err := f.ReadPDU()
	if err != nil {
		return fmt.Errorf("read connection confirm: %w", err)
	}
	if action != ActionX224 {
		return &ParseError{Field: "connection confirm", Err: fmt.Errorf("unexpected fast-path data before negotiation")}
	}
	selected, err := ParseConnectionConfirm(pdu)
	if err != nil {
		return err
	}
	if selected != ProtocolSSL {
		return ErrTLSNotSelected
	}
	return nil
}

// writePDU writes one ready-framed PDU. The MCS builders all return
// complete TPKT/X.224 frames.
func writePDU(w io.Writer, pdu []byte) error {
	_, err := w.Write(pdu)
	return err
}

// readMCS reads the next TPKT PDU and unwraps the X.224 data TPDU,
// returning the MCS payload.
func (c *Connector) readMCS(f *Framer) ([]byte, error) {
	action, pdu, err := f.ReadPDU()
	if err != nil {
		return nil, err
	}
	if action != ActionFastPath {
		return unwrapDataTPDU(pdu)
	}
	// Servers may start streaming fast-path output the moment the
	// connection activates; during the connection sequence it is a
	// protocol violation.
	return nil, &ParseError{Field: "mcs", Err: fmt.Errorf("unexpected fast-path PDU during connection sequence")}
}

// channelPayload reads MCS PDUs until a Send Data Indication arrives,
// returning its payload. A Disconnect Provider Ultimatum surfaces as an
// error carrying the reason.
func (c *Connector) channelPayload(f *Framer) ([]byte, error) {
	for {
		mcs, err := c.readMCS(f)
		if err != nil {
			return nil, err
		}
		if len(mcs) == 0 {
			continue
		}
		switch mcs[0] >> 2 {
		case mcsSendDataIndication:
			_, payload, err := parseSendDataIndication(mcs)
			return payload, err
		case mcsDisconnectProviderUltimatum:
			reason, err := parseDisconnectUltimatum(mcs)
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("rdp: server disconnected during connection sequence: %s", reason)
		default:
			return nil, &ParseError{Field: "mcs choice", Err: fmt.Errorf("unexpected domain PDU %d", mcs[0]>>2)}
		}
	}
}

// ConnectFinalize runs the post-TLS portion of the connection sequence:
// MCS connect, channel attachment, client info, licensing, capability
// exchange, and finalization. The Framer must wrap the TLS stream,
// seeded with any bytes read past the Connection Confirm.
func (c *Connector) ConnectFinalize(f *Framer, w io.Writer) (ConnectionResult, error) {
	var res ConnectionResult

	if err := writePDU(w, buildConnectInitial(c.buildClientGCC(ProtocolSSL))); err != nil {
		return res, fmt.Errorf("write connect initial: %w", err)
	}
	mcs, err := c.readMCS(f)
	if err != nil {
		return res, fmt.Errorf("read connect response: %w", err)
	}
	info, err := parseConnectResponse(mcs)
	if err != nil {
		return res, err
	}
	res.IOChannel = info.IOChannel

	if err := writePDU(w, buildErectDomainRequest()); err != nil {
		return res, fmt.Errorf("write erect domain: %w", err)
	}
	if err := writePDU(w, buildAttachUserRequest()); err != nil {
		return res, fmt.Errorf("write attach user: %w", err)
	}
	mcs, err = c.readMCS(f)
	if err != nil {
		return res, fmt.Errorf("read attach user confirm: %w", err)
	}
	if res.UserID, err = parseAttachUserConfirm(mcs); err != nil {
		return res, err
	}

	// Join the user channel and the I/O channel. Confirms arrive in
	// request order.
	for _, ch := range []uint16{res.UserID, res.IOChannel} {
		if err := writePDU(w, buildChannelJoinRequest(res.UserID, ch)); err != nil {
			return res, fmt.Errorf("write channel join: %w", err)
		}
		mcs, err = c.readMCS(f)
		if err != nil {
			return res, fmt.Errorf("read channel join confirm: %w", err)
		}
		joined, err := parseChannelJoinConfirm(mcs)
		if err != nil {
			return res, err
		}
		if joined != ch {
			return res, &ParseError{Field: "channel join confirm", Err: fmt.Errorf("joined channel %d, requested %d", joined, ch)}
		}
	}

	if err := writePDU(w, buildSendDataRequest(res.UserID, res.IOChannel, c.buildClientInfo())); err != nil {
		return res, fmt.Errorf("write client info: %w", err)
	}

	payload, err := c.channelPayload(f)
	if err != nil {
		return res, fmt.Errorf("read license: %w", err)
	}
	if err := handleLicensePDU(payload); err != nil {
		return res, err
	}

	da, err := c.awaitDemandActive(f)
	if err != nil {
		return res, err
	}
	res.ShareID = da.ShareID
	res.DesktopWidth = da.DesktopWidth
	res.DesktopHeight = da.DesktopHeight

	if err := writePDU(w, buildSendDataRequest(res.UserID, res.IOChannel, c.buildConfirmActive(da, res.UserID))); err != nil {
		return res, fmt.Errorf("write confirm active: %w", err)
	}

	// Finalization: client sync, cooperate, request control, font list.
	for _, pdu := range [][]byte{
		buildSynchronize(da.ShareID, res.UserID),
		buildControl(da.ShareID, res.UserID, controlActionCooperate),
		buildControl(da.ShareID, res.UserID, controlActionRequestControl),
		buildFontList(da.ShareID, res.UserID),
	} {
		if err := writePDU(w, buildSendDataRequest(res.UserID, res.IOChannel, pdu)); err != nil {
			return res, fmt.Errorf("write finalization: %w", err)
		}
	}

	if err := c.awaitFontMap(f); err != nil {
		return res, err
	}
	return res, nil
}

// awaitDemandActive consumes channel traffic until the server's Demand
// Active PDU arrives. Residual licensing messages are tolerated.
func (c *Connector) awaitDemandActive(f *Framer) (demandActive, error) {
	for {
		payload, err := c.channelPayload(f)
		if err != nil {
			return demandActive{}, fmt.Errorf("await demand active: %w", err)
		}
		sc, err := parseShareControl(payload)
		if err != nil {
			return demandActive{}, err
		}
		switch sc.PDUType {
		case pduTypeDemandActive:
			return parseDemandActive(sc.Body)
		case pduTypeData:
			// Stray data PDU before activation, skip it.
		default:
			return demandActive{}, &ParseError{Field: "share control", Err: fmt.Errorf("unexpected PDU type 0x%X before activation", sc.PDUType)}
		}
	}
}

// awaitFontMap consumes server finalization PDUs (synchronize, control
// cooperate, control granted) until the Font Map PDU completes the
// connection sequence.
func (c *Connector) awaitFontMap(f *Framer) error {
	for {
		payload, err := c.channelPayload(f)
		if err != nil {
			return fmt.Errorf("await font map: %w", err)
		}
		sc, err := parseShareControl(payload)
		if err != nil {
			return err
		}
		if sc.PDUType != pduTypeData {
			continue
		}
		sd, err := parseShareData(sc.Body)
		if err != nil {
			return err
		}
		switch sd.PDUType2 {
		case pduType2FontMap:
			return nil
		case pduType2SetErrorInfo:
			r := newReader(sd.Body)
			code, err := r.u32le()
			if err != nil {
				return &ParseError{Field: "error info", Err: err}
			}
			if code != 0 {
				return fmt.Errorf("rdp: server error info 0x%08X during finalization", code)
			}
		}
	}
}
