package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/xBounceIT/janus/rdp/frame"
)

// Output is one effect produced by processing a server PDU.
type Output interface {
	output()
}

// ResponseFrame is raw bytes to write back to the server.
type ResponseFrame struct {
	Data []byte
}

// GraphicsUpdate reports a canvas region touched by a bitmap update, in
// inclusive screen coordinates.
type GraphicsUpdate struct {
	Left   uint16
	Top    uint16
	Right  uint16
	Bottom uint16
}

// Terminate reports that the connection is over, with a human-readable
// reason.
type Terminate struct {
	Reason string
}

// DeactivateAll reports a server-initiated Deactivate All PDU.
type DeactivateAll struct{}

func (ResponseFrame) output()  {}
func (GraphicsUpdate) output() {}
func (Terminate) output()      {}
func (DeactivateAll) output()  {}

// ActiveStage processes PDUs after the connection sequence completes.
// It decodes graphics into the session's canvas and translates server
// control traffic into Outputs. Not safe for concurrent use.
type ActiveStage struct {
	res ConnectionResult
	fp  fastPathReader
}

// NewActiveStage returns an ActiveStage for a completed connection.
func NewActiveStage(res ConnectionResult) *ActiveStage {
	return &ActiveStage{res: res}
}

// Result returns the connection result this stage was built from.
func (s *ActiveStage) Result() ConnectionResult {
	return s.res
}

// Process handles one framed PDU from the server, mutating the canvas
// for graphics updates and returning the resulting outputs.
func (s *ActiveStage) Process(c *frame.Canvas, action Action, pdu []byte) ([]Output, error) {
	if action == ActionFastPath {
		return s.processFastPath(c, pdu)
	}
	return s.processX224(c, pdu)
}

func (s *ActiveStage) processFastPath(c *frame.Canvas, pdu []byte) ([]Output, error) {
	updates, err := s.fp.updates(pdu)
	if err != nil {
		return nil, err
	}
	var out []Output
	for _, u := range updates {
		if u.code != FastPathUpdateBitmap {
			// Pointer and palette updates are not rendered.
			continue
		}
		rects, err := parseBitmapUpdate(c, u.data)
		if err != nil {
			return nil, err
		}
		for _, r := range rects {
			out = append(out, GraphicsUpdate{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom})
		}
	}
	return out, nil
}

func (s *ActiveStage) processX224(c *frame.Canvas, pdu []byte) ([]Output, error) {
	mcs, err := unwrapDataTPDU(pdu)
	if err != nil {
		return nil, err
	}
	if len(mcs) == 0 {
		return nil, &ParseError{Field: "mcs", Err: errTruncated}
	}

	switch mcs[0] >> 2 {
	case mcsDisconnectProviderUltimatum:
		reason, err := parseDisconnectUltimatum(mcs)
		if err != nil {
			return nil, err
		}
		return []Output{Terminate{Reason: fmt.Sprintf("Server disconnected: %s", reason)}}, nil
	case mcsSendDataIndication:
		_, payload, err := parseSendDataIndication(mcs)
		if err != nil {
			return nil, err
		}
		return s.processShareControl(c, payload)
	default:
		// Other domain PDUs carry nothing the client acts on.
		return nil, nil
	}
}

func (s *ActiveStage) processShareControl(c *frame.Canvas, payload []byte) ([]Output, error) {
	sc, err := parseShareControl(payload)
	if err != nil {
		return nil, err
	}
	switch sc.PDUType {
	case pduTypeDeactivateAll:
		return []Output{DeactivateAll{}}, nil
	case pduTypeData:
		return s.processShareData(c, sc.Body)
	default:
		return nil, nil
	}
}

func (s *ActiveStage) processShareData(c *frame.Canvas, body []byte) ([]Output, error) {
	sd, err := parseShareData(body)
	if err != nil {
		return nil, err
	}
	switch sd.PDUType2 {
	case pduType2Update:
		if len(sd.Body) < 2 || binary.LittleEndian.Uint16(sd.Body) != bitmapUpdateType {
			return nil, nil
		}
		rects, err := parseBitmapUpdate(c, sd.Body)
		if err != nil {
			return nil, err
		}
		var out []Output
		for _, r := range rects {
			out = append(out, GraphicsUpdate{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom})
		}
		return out, nil
	case pduType2SetErrorInfo:
		r := newReader(sd.Body)
		code, err := r.u32le()
		if err != nil {
			return nil, &ParseError{Field: "error info", Err: err}
		}
		if code != 0 {
			return []Output{Terminate{Reason: fmt.Sprintf("Server error info 0x%08X", code)}}, nil
		}
		return nil, nil
	default:
		// Synchronize, control, pointer and shutdown-denied PDUs need
		// no client action.
		return nil, nil
	}
}

// ProcessInput encodes input events into fast-path input PDUs, splitting
// across PDUs when the per-PDU event cap is exceeded.
func (s *ActiveStage) ProcessInput(events []InputEvent) ([]Output, error) {
	var out []Output
	for len(events) > 0 {
		n := min(len(events), maxFastPathInputEvents)
		pdu, err := BuildFastPathInput(events[:n])
		if err != nil {
			return nil, err
		}
		out = append(out, ResponseFrame{Data: pdu})
		events = events[n:]
	}
	return out, nil
}
