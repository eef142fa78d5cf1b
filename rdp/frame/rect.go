// Package frame turns the dirty regions of a session's decoded desktop
// image into patch sets sized for the wire. It owns rectangle bookkeeping
// (clamping, merging, keyframe promotion), pixel extraction from the BGRA
// canvas, Raw/JPEG patch encoding, and the hysteresis controller that
// trades frame rate against encode latency.
package frame

// Rect is a dirty region in desktop pixel coordinates.
type Rect struct {
	X      uint16
	Y      uint16
	Width  uint16
	Height uint16
}

// Full returns a rectangle covering the entire desktop.
func Full(width, height uint16) Rect {
	return Rect{X: 0, Y: 0, Width: width, Height: height}
}

// Area returns the number of pixels covered by the rectangle.
func (r Rect) Area() uint32 {
	return uint32(r.Width) * uint32(r.Height)
}

// right and bottom are inclusive edges; callers must ensure width,height ≥ 1.
func (r Rect) right() uint16  { return r.X + r.Width - 1 }
func (r Rect) bottom() uint16 { return r.Y + r.Height - 1 }

// IntersectsOrAdjacent reports whether the rectangles overlap or touch with
// a zero-pixel gap. Touching rectangles are treated as mergeable so that
// abutting bitmap updates collapse into one patch.
func (r Rect) IntersectsOrAdjacent(other Rect) bool {
	ax1, ay1 := int32(r.X), int32(r.Y)
	ax2, ay2 := int32(r.right()), int32(r.bottom())

	bx1, by1 := int32(other.X), int32(other.Y)
	bx2, by2 := int32(other.right()), int32(other.bottom())

	return !(ax2+1 < bx1 || bx2+1 < ax1 || ay2+1 < by1 || by2+1 < ay1)
}

// Union returns the smallest rectangle covering both r and other.
func (r Rect) Union(other Rect) Rect {
	left := min(r.X, other.X)
	top := min(r.Y, other.Y)
	right := max(r.right(), other.right())
	bottom := max(r.bottom(), other.bottom())

	return Rect{
		X:      left,
		Y:      top,
		Width:  right - left + 1,
		Height: bottom - top + 1,
	}
}

// RectFromInclusive converts inclusive edge coordinates, as carried by RDP
// bitmap updates, into a Rect clamped to the desktop bounds. Returns false
// for degenerate input: a zero-sized desktop, or a region that is empty or
// lies entirely outside the desktop.
func RectFromInclusive(left, top, right, bottom, desktopWidth, desktopHeight uint16) (Rect, bool) {
	if desktopWidth == 0 || desktopHeight == 0 {
		return Rect{}, false
	}
	if left >= desktopWidth || top >= desktopHeight {
		return Rect{}, false
	}

	left = min(left, desktopWidth-1)
	top = min(top, desktopHeight-1)
	right = min(right, desktopWidth-1)
	bottom = min(bottom, desktopHeight-1)

	if right < left || bottom < top {
		return Rect{}, false
	}

	return Rect{
		X:      left,
		Y:      top,
		Width:  right - left + 1,
		Height: bottom - top + 1,
	}, true
}

// MergeRects repeatedly unions overlapping or adjacent rectangles until no
// two entries are mergeable. The fixed point bounds the patch count and
// removes redundant overlapping encodes. Order of the input is irrelevant;
// the slice is modified in place and returned.
func MergeRects(rects []Rect) []Rect {
	if len(rects) < 2 {
		return rects
	}

	changed := true
	for changed {
		changed = false

		for i := 0; i < len(rects); i++ {
			for j := i + 1; j < len(rects); {
				if rects[i].IntersectsOrAdjacent(rects[j]) {
					rects[i] = rects[i].Union(rects[j])
					rects[j] = rects[len(rects)-1]
					rects = rects[:len(rects)-1]
					changed = true
				} else {
					j++
				}
			}
		}
	}

	return rects
}

// TotalDirtyArea sums the areas of all rectangles.
func TotalDirtyArea(rects []Rect) uint32 {
	var total uint32
	for _, r := range rects {
		total += r.Area()
	}
	return total
}

// ShouldEmitFullFrame reports whether the dirty area covers at least
// thresholdPercent of the desktop. Integer arithmetic keeps the comparison
// exact at the boundary.
func ShouldEmitFullFrame(rects []Rect, desktopWidth, desktopHeight uint16, thresholdPercent uint8) bool {
	if len(rects) == 0 || desktopWidth == 0 || desktopHeight == 0 {
		return false
	}

	dirty := uint64(TotalDirtyArea(rects))
	total := uint64(desktopWidth) * uint64(desktopHeight)

	return dirty*100 >= total*uint64(thresholdPercent)
}
