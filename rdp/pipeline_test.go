package rdp

import (
	"testing"
	"time"

	"github.com/xBounceIT/janus/rdp/frame"
)

func testPipeline() *framePipeline {
	return newFramePipeline(frame.NewCanvas(frame.FormatBGRA, 100, 100))
}

func TestPipelineNoDamageNoFrame(t *testing.T) {
	t.Parallel()

	p := testPipeline()
	if _, ok := p.tick(time.Now()); ok {
		t.Error("tick emitted a frame with no damage")
	}
}

func TestPipelineFirstFrameIsKeyframe(t *testing.T) {
	t.Parallel()

	p := testPipeline()
	p.addDamage(0, 0, 9, 9)
	f, ok := p.tick(time.Now())
	if !ok {
		t.Fatal("no frame emitted")
	}
	if !f.Keyframe {
		t.Error("first frame not a keyframe")
	}
	if f.Seq != 0 {
		t.Errorf("Seq = %d, want 0", f.Seq)
	}
	if len(f.Patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(f.Patches))
	}
	pt := f.Patches[0]
	if pt.X != 0 || pt.Y != 0 || pt.Width != 100 || pt.Height != 100 {
		t.Errorf("keyframe patch = %dx%d at (%d,%d), want full desktop", pt.Width, pt.Height, pt.X, pt.Y)
	}
}

func TestPipelineIncrementalFrame(t *testing.T) {
	t.Parallel()

	now := time.Now()
	p := testPipeline()
	p.lastKeyframe = now

	p.addDamage(10, 20, 19, 29)
	f, ok := p.tick(now)
	if !ok {
		t.Fatal("no frame emitted")
	}
	if f.Keyframe {
		t.Error("small damage promoted to keyframe")
	}
	if f.DesktopWidth != 100 || f.DesktopHeight != 100 {
		t.Errorf("desktop = %dx%d, want 100x100", f.DesktopWidth, f.DesktopHeight)
	}
	if len(f.Patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(f.Patches))
	}
	pt := f.Patches[0]
	if pt.X != 10 || pt.Y != 20 || pt.Width != 10 || pt.Height != 10 {
		t.Errorf("patch = %dx%d at (%d,%d), want 10x10 at (10,20)", pt.Width, pt.Height, pt.X, pt.Y)
	}
	if pt.Codec != frame.CodecRaw {
		t.Errorf("codec = %v, want Raw at the finest level", pt.Codec)
	}
	if len(pt.Data) != 10*10*4 {
		t.Errorf("raw patch size = %d, want %d", len(pt.Data), 10*10*4)
	}
}

func TestPipelineAreaPromotion(t *testing.T) {
	t.Parallel()

	now := time.Now()
	p := testPipeline()
	p.lastKeyframe = now

	// 70x70 of 100x100 is 49%, past the 45% threshold.
	p.addDamage(0, 0, 69, 69)
	f, ok := p.tick(now)
	if !ok {
		t.Fatal("no frame emitted")
	}
	if !f.Keyframe {
		t.Error("49% dirty not promoted to keyframe")
	}
}

func TestPipelineTimerPromotion(t *testing.T) {
	t.Parallel()

	now := time.Now()
	p := testPipeline()
	p.lastKeyframe = now.Add(-3 * time.Second)
	p.lastEmit = now.Add(-time.Second)

	p.addDamage(0, 0, 4, 4)
	f, ok := p.tick(now)
	if !ok {
		t.Fatal("no frame emitted")
	}
	if !f.Keyframe {
		t.Error("stale keyframe timer did not promote")
	}
}

func TestPipelineIntervalGating(t *testing.T) {
	t.Parallel()

	now := time.Now()
	p := testPipeline()
	p.lastKeyframe = now

	p.addDamage(0, 0, 9, 9)
	if _, ok := p.tick(now); !ok {
		t.Fatal("first tick did not emit")
	}

	p.addDamage(0, 0, 9, 9)
	if _, ok := p.tick(now.Add(time.Millisecond)); ok {
		t.Error("tick emitted before the frame interval elapsed")
	}
	f, ok := p.tick(now.Add(50 * time.Millisecond))
	if !ok {
		t.Fatal("tick did not emit after the interval")
	}
	if f.Seq != 1 {
		t.Errorf("Seq = %d, want 1", f.Seq)
	}
}

func TestPipelineDamageOutsideDesktopDiscarded(t *testing.T) {
	t.Parallel()

	p := testPipeline()
	p.addDamage(200, 200, 250, 250)
	if _, ok := p.tick(time.Now()); ok {
		t.Error("fully-outside damage produced a frame")
	}
}
