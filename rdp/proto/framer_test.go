package proto

import (
	"bytes"
	"io"
	"testing"
)

func TestSniff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		buf        []byte
		wantAction Action
		wantSize   int
		wantOK     bool
	}{
		{
			name: "empty", buf: nil,
		},
		{
			name: "one byte", buf: []byte{0x03},
		},
		{
			name: "tpkt header incomplete", buf: []byte{0x03, 0x00, 0x00},
		},
		{
			name:       "tpkt complete",
			buf:        []byte{0x03, 0x00, 0x00, 0x05, 0xAA},
			wantAction: ActionX224, wantSize: 5, wantOK: true,
		},
		{
			name: "tpkt body missing",
			buf:  []byte{0x03, 0x00, 0x00, 0x06, 0xAA},
		},
		{
			name: "tpkt zero length never completes",
			buf:  []byte{0x03, 0x00, 0x00, 0x00, 0xAA, 0xBB},
		},
		{
			name:       "tpkt trailing bytes ignored",
			buf:        []byte{0x03, 0x00, 0x00, 0x05, 0xAA, 0x99, 0x99},
			wantAction: ActionX224, wantSize: 5, wantOK: true,
		},
		{
			name:       "fastpath short length complete",
			buf:        []byte{0x00, 0x04, 0xAA, 0xBB},
			wantAction: ActionFastPath, wantSize: 4, wantOK: true,
		},
		{
			name: "fastpath short length incomplete",
			buf:  []byte{0x00, 0x05, 0xAA, 0xBB},
		},
		{
			name: "fastpath zero length never completes",
			buf:  []byte{0x00, 0x00, 0xAA, 0xBB},
		},
		{
			name: "fastpath long length needs third byte",
			buf:  []byte{0x00, 0x81},
		},
		{
			name:       "fastpath long length complete",
			buf:        append([]byte{0x00, 0x80, 0x05}, 0xAA, 0xBB),
			wantAction: ActionFastPath, wantSize: 5, wantOK: true,
		},
		{
			name: "fastpath long length incomplete",
			buf:  []byte{0x00, 0x80, 0x06, 0xAA, 0xBB},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			action, size, ok := Sniff(tt.buf)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if action != tt.wantAction || size != tt.wantSize {
				t.Errorf("got (%v, %d), want (%v, %d)", action, size, tt.wantAction, tt.wantSize)
			}
		})
	}
}

// drip delivers one byte per Read call.
type drip struct {
	data []byte
}

func (d *drip) Read(p []byte) (int, error) {
	if len(d.data) == 0 {
		return 0, io.EOF
	}
	p[0] = d.data[0]
	d.data = d.data[1:]
	return 1, nil
}

func TestFramer_ReadPDUAcrossChunks(t *testing.T) {
	t.Parallel()

	first := []byte{0x03, 0x00, 0x00, 0x06, 0x01, 0x02}
	second := []byte{0x00, 0x03, 0xFF}
	f := NewFramer(&drip{data: append(append([]byte(nil), first...), second...)})

	action, pdu, err := f.ReadPDU()
	if err != nil {
		t.Fatalf("first ReadPDU: %v", err)
	}
	if action != ActionX224 || !bytes.Equal(pdu, first) {
		t.Errorf("first PDU = (%v, %x)", action, pdu)
	}

	action, pdu, err = f.ReadPDU()
	if err != nil {
		t.Fatalf("second ReadPDU: %v", err)
	}
	if action != ActionFastPath || !bytes.Equal(pdu, second) {
		t.Errorf("second PDU = (%v, %x)", action, pdu)
	}

	if _, _, err := f.ReadPDU(); err == nil {
		t.Error("expected error after stream end")
	}
}

func TestFramer_LeftoverReplay(t *testing.T) {
	t.Parallel()

	pduA := []byte{0x03, 0x00, 0x00, 0x05, 0x01}
	pduB := []byte{0x03, 0x00, 0x00, 0x05, 0x02}

	// A framer that read past its last PDU hands the excess to its
	// successor, mimicking the TLS upgrade.
	old := NewFramer(bytes.NewReader(append(append([]byte(nil), pduA...), pduB...)))
	if _, _, err := old.ReadPDU(); err != nil {
		t.Fatalf("ReadPDU: %v", err)
	}

	replacement := NewFramerLeftover(bytes.NewReader(nil), old.Leftover())
	_, pdu, err := replacement.ReadPDU()
	if err != nil {
		t.Fatalf("ReadPDU after replay: %v", err)
	}
	if !bytes.Equal(pdu, pduB) {
		t.Errorf("replayed PDU = %x, want %x", pdu, pduB)
	}
}
