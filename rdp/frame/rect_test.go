package frame

import (
	"math/rand"
	"testing"
)

func TestMergeRects_Adjacent(t *testing.T) {
	t.Parallel()
	merged := MergeRects([]Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 10, Y: 0, Width: 10, Height: 10},
	})

	if len(merged) != 1 {
		t.Fatalf("merged count = %d, want 1", len(merged))
	}
	want := Rect{X: 0, Y: 0, Width: 20, Height: 10}
	if merged[0] != want {
		t.Errorf("merged = %+v, want %+v", merged[0], want)
	}
}

func TestMergeRects_SeparateRegionsKept(t *testing.T) {
	t.Parallel()
	merged := MergeRects([]Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 30, Y: 30, Width: 5, Height: 5},
	})

	if len(merged) != 2 {
		t.Fatalf("merged count = %d, want 2", len(merged))
	}
}

func TestMergeRects_OverlapChain(t *testing.T) {
	t.Parallel()
	// Three rects where the middle one bridges the outer two; the chain
	// must collapse regardless of input order.
	rects := []Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 40, Y: 0, Width: 10, Height: 10},
		{X: 8, Y: 0, Width: 35, Height: 10},
	}
	merged := MergeRects(rects)

	if len(merged) != 1 {
		t.Fatalf("merged count = %d, want 1", len(merged))
	}
	want := Rect{X: 0, Y: 0, Width: 50, Height: 10}
	if merged[0] != want {
		t.Errorf("merged = %+v, want %+v", merged[0], want)
	}
}

func TestMergeRects_FixedPoint(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		rects := make([]Rect, 0, 12)
		for i := 0; i < 12; i++ {
			rects = append(rects, Rect{
				X:      uint16(rng.Intn(200)),
				Y:      uint16(rng.Intn(200)),
				Width:  uint16(1 + rng.Intn(40)),
				Height: uint16(1 + rng.Intn(40)),
			})
		}

		merged := MergeRects(rects)

		for i := range merged {
			for j := i + 1; j < len(merged); j++ {
				if merged[i].IntersectsOrAdjacent(merged[j]) {
					t.Fatalf("trial %d: result rects %+v and %+v still mergeable", trial, merged[i], merged[j])
				}
			}
		}

		again := MergeRects(append([]Rect(nil), merged...))
		if len(again) != len(merged) {
			t.Fatalf("trial %d: second merge changed count %d -> %d", trial, len(merged), len(again))
		}
	}
}

func TestIntersectsOrAdjacent_ZeroGapTouch(t *testing.T) {
	t.Parallel()
	a := Rect{X: 0, Y: 0, Width: 10, Height: 10}

	cases := []struct {
		name string
		b    Rect
		want bool
	}{
		{"touching right edge", Rect{X: 10, Y: 0, Width: 5, Height: 5}, true},
		{"touching bottom edge", Rect{X: 0, Y: 10, Width: 5, Height: 5}, true},
		{"one pixel gap", Rect{X: 11, Y: 0, Width: 5, Height: 5}, false},
		{"overlapping", Rect{X: 5, Y: 5, Width: 10, Height: 10}, true},
		{"diagonal corner touch", Rect{X: 10, Y: 10, Width: 5, Height: 5}, true},
		{"far away", Rect{X: 100, Y: 100, Width: 5, Height: 5}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.IntersectsOrAdjacent(tc.b); got != tc.want {
				t.Errorf("IntersectsOrAdjacent(%+v, %+v) = %v, want %v", a, tc.b, got, tc.want)
			}
			if got := tc.b.IntersectsOrAdjacent(a); got != tc.want {
				t.Errorf("IntersectsOrAdjacent(%+v, %+v) = %v, want %v (symmetry)", tc.b, a, got, tc.want)
			}
		})
	}
}

func TestShouldEmitFullFrame_ThresholdBoundary(t *testing.T) {
	t.Parallel()
	rects := []Rect{{X: 0, Y: 0, Width: 64, Height: 64}}

	// 64*64 = 4096 of 10000 → 40.96%, at threshold 40.
	if !ShouldEmitFullFrame(rects, 100, 100, 40) {
		t.Error("64×64 on 100×100 at 40%: want true")
	}
	// 4096 of 40000 → 10.24%.
	if ShouldEmitFullFrame(rects, 200, 200, 40) {
		t.Error("64×64 on 200×200 at 40%: want false")
	}

	// Exactly at the boundary: 40×100 on 100×100 is 40.00%.
	exact := []Rect{{X: 0, Y: 0, Width: 40, Height: 100}}
	if !ShouldEmitFullFrame(exact, 100, 100, 40) {
		t.Error("exact 40% at threshold 40: want true")
	}
	// One column under the boundary: 39.00%.
	if ShouldEmitFullFrame([]Rect{{X: 0, Y: 0, Width: 39, Height: 100}}, 100, 100, 40) {
		t.Error("39% at threshold 40: want false")
	}

	if ShouldEmitFullFrame(nil, 100, 100, 40) {
		t.Error("empty rect set: want false")
	}
	if ShouldEmitFullFrame(rects, 0, 0, 40) {
		t.Error("zero desktop: want false")
	}
}

func TestRectFromInclusive(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name                     string
		left, top, right, bottom uint16
		dw, dh                   uint16
		want                     Rect
		ok                       bool
	}{
		{"inside", 10, 20, 19, 29, 100, 100, Rect{10, 20, 10, 10}, true},
		{"single pixel", 5, 5, 5, 5, 100, 100, Rect{5, 5, 1, 1}, true},
		{"clamped to edge", 90, 90, 150, 150, 100, 100, Rect{90, 90, 10, 10}, true},
		{"fully outside", 200, 200, 250, 250, 100, 100, Rect{}, false},
		{"inverted", 50, 50, 10, 10, 100, 100, Rect{}, false},
		{"zero desktop", 0, 0, 10, 10, 0, 0, Rect{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := RectFromInclusive(tc.left, tc.top, tc.right, tc.bottom, tc.dw, tc.dh)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("rect = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestTotalDirtyArea(t *testing.T) {
	t.Parallel()
	rects := []Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 50, Y: 50, Width: 3, Height: 4},
	}
	if got := TotalDirtyArea(rects); got != 112 {
		t.Errorf("TotalDirtyArea = %d, want 112", got)
	}
}
