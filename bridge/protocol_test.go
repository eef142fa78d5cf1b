package bridge

import (
	"bytes"
	"testing"

	"github.com/xBounceIT/janus/rdp"
	"github.com/xBounceIT/janus/rdp/frame"
)

func TestCommandRoundTrip(t *testing.T) {
	t.Parallel()

	in := &Command{
		Type:      CommandMouse,
		SessionID: "sess-1",
		X:         100,
		Y:         200,
		Buttons:   0b101,
		Wheel:     -120,
	}
	raw, err := EncodeCommand(in)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	out, err := DecodeCommand(raw)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestDecodeCommandGarbage(t *testing.T) {
	t.Parallel()

	if _, err := DecodeCommand([]byte{0xFF, 0xFF, 0xFF}); err == nil {
		t.Error("garbage decoded without error")
	}
}

func TestFramePayloadRawPatchCompression(t *testing.T) {
	t.Parallel()

	rgba := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0xFF}, 64*32)
	f := rdp.Frame{
		Seq:           7,
		DesktopWidth:  640,
		DesktopHeight: 480,
		Keyframe:      true,
		Patches: []rdp.FramePatch{
			{X: 8, Y: 16, Width: 64, Height: 32, Codec: frame.CodecRaw, Data: rgba},
			{X: 0, Y: 0, Width: 10, Height: 10, Codec: frame.CodecJPEG, Data: []byte{0xFF, 0xD8, 0xFF}},
		},
	}

	payload := frameToPayload(f)
	if payload.Seq != 7 || !payload.Keyframe {
		t.Errorf("payload header = %+v", payload)
	}
	if len(payload.Patches) != 2 {
		t.Fatalf("patches = %d, want 2", len(payload.Patches))
	}

	raw := payload.Patches[0]
	if raw.Codec != PatchCodecRaw {
		t.Fatalf("codec = %q, want raw", raw.Codec)
	}
	if len(raw.Data) >= len(rgba) {
		t.Errorf("compressed size %d not smaller than %d for repetitive input", len(raw.Data), len(rgba))
	}
	restored, err := DecompressRawPatch(&raw)
	if err != nil {
		t.Fatalf("DecompressRawPatch: %v", err)
	}
	if !bytes.Equal(restored, rgba) {
		t.Error("decompressed patch differs from the original RGBA")
	}

	jpeg := payload.Patches[1]
	if jpeg.Codec != PatchCodecJPEG {
		t.Errorf("codec = %q, want jpeg", jpeg.Codec)
	}
	if !bytes.Equal(jpeg.Data, []byte{0xFF, 0xD8, 0xFF}) {
		t.Error("jpeg patch bytes modified")
	}
	if _, err := DecompressRawPatch(&jpeg); err == nil {
		t.Error("DecompressRawPatch accepted a jpeg patch")
	}
}

func TestEventRoundTripThroughCBOR(t *testing.T) {
	t.Parallel()

	in := &Event{
		Type:      EventFrame,
		SessionID: "sess-9",
		Frame: &FramePayload{
			Seq:           3,
			DesktopWidth:  200,
			DesktopHeight: 200,
			Patches: []PatchPayload{
				{X: 1, Y: 2, Width: 3, Height: 4, Codec: PatchCodecJPEG, Data: []byte{1, 2, 3}},
			},
		},
	}
	raw, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	out, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if out.Type != in.Type || out.SessionID != in.SessionID {
		t.Errorf("header = %+v", out)
	}
	if out.Frame == nil || out.Frame.Seq != 3 || len(out.Frame.Patches) != 1 {
		t.Fatalf("frame = %+v", out.Frame)
	}
	if !bytes.Equal(out.Frame.Patches[0].Data, []byte{1, 2, 3}) {
		t.Error("patch data differs after round trip")
	}
}
