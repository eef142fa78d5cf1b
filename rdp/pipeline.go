package rdp

import (
	"time"

	"github.com/xBounceIT/janus/rdp/frame"
)

// framePipeline turns accumulated dirty regions into emitted frames. It
// is owned exclusively by one session task; no locking. Emission is
// driven by tick, which the session calls after draining socket reads,
// so the cadence follows server activity rather than a wall-clock
// ticker.
type framePipeline struct {
	canvas   *frame.Canvas
	adaptive *frame.Adaptive

	dirty        []frame.Rect
	seq          uint64
	lastEmit     time.Time
	lastKeyframe time.Time
}

func newFramePipeline(canvas *frame.Canvas) *framePipeline {
	return &framePipeline{
		canvas:   canvas,
		adaptive: frame.NewAdaptive(),
	}
}

// addDamage records one server-reported dirty region, given with
// inclusive edges. Regions outside the desktop are discarded.
func (p *framePipeline) addDamage(left, top, right, bottom uint16) {
	r, ok := frame.RectFromInclusive(left, top, right, bottom, p.canvas.Width(), p.canvas.Height())
	if !ok {
		return
	}
	p.dirty = append(p.dirty, r)
}

// tick emits at most one frame. It is a no-op unless dirty regions are
// pending and the adaptive frame interval has elapsed since the last
// emission attempt.
//
// A merged dirty set that yields zero patches (every rect failed to
// encode) is pushed back as pending damage rather than dropped, and the
// sequence number is not consumed.
func (p *framePipeline) tick(now time.Time) (Frame, bool) {
	if len(p.dirty) == 0 || now.Sub(p.lastEmit) < p.adaptive.Interval() {
		return Frame{}, false
	}

	merged := frame.MergeRects(p.dirty)
	p.dirty = nil

	keyframe := now.Sub(p.lastKeyframe) >= frame.KeyframeInterval ||
		frame.ShouldEmitFullFrame(merged, p.canvas.Width(), p.canvas.Height(), frame.FullFrameThresholdPercent)
	rects := merged
	if keyframe {
		rects = []frame.Rect{frame.Full(p.canvas.Width(), p.canvas.Height())}
	}

	start := time.Now()
	patches := make([]FramePatch, 0, len(rects))
	for _, r := range rects {
		rgba, err := frame.ExtractRGBA(p.canvas, r)
		if err != nil {
			continue
		}
		codec := p.adaptive.DefaultCodec()
		data, err := frame.EncodeRGBA(rgba, r.Width, r.Height, codec, p.adaptive.Quality())
		if err != nil && codec == frame.CodecRaw {
			codec = frame.CodecJPEG
			data, err = frame.EncodeRGBA(rgba, r.Width, r.Height, codec, p.adaptive.Quality())
		}
		if err != nil {
			continue
		}
		patches = append(patches, FramePatch{
			X:      r.X,
			Y:      r.Y,
			Width:  r.Width,
			Height: r.Height,
			Codec:  codec,
			Data:   data,
		})
	}
	p.adaptive.Observe(time.Since(start))
	p.lastEmit = now

	if len(patches) == 0 {
		p.dirty = append(p.dirty, merged...)
		return Frame{}, false
	}

	f := Frame{
		Seq:           p.seq,
		DesktopWidth:  p.canvas.Width(),
		DesktopHeight: p.canvas.Height(),
		Patches:       patches,
		Keyframe:      keyframe,
	}
	p.seq++
	if keyframe {
		p.lastKeyframe = now
	}
	return f, true
}
