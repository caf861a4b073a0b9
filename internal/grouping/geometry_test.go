package grouping

import (
	"math"
	"testing"
)

func box(left, top, width, height float64) BoundingBox {
	return BoundingBox{Left: left, Top: top, Width: width, Height: height}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b BoundingBox
		want float64
	}{
		{"identical", box(10, 10, 50, 20), box(10, 10, 50, 20), 1.0},
		{"disjoint", box(0, 0, 10, 10), box(20, 20, 10, 10), 0},
		{"touching edges", box(0, 0, 10, 10), box(10, 0, 10, 10), 0},
		{"partial", box(0, 0, 10, 10), box(5, 5, 10, 10), 25.0 / 175.0},
		{"nested", box(0, 0, 10, 10), box(0, 0, 5, 10), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IoU(tt.a, tt.b); !almostEqual(got, tt.want) {
				t.Errorf("IoU(a,b) = %v, want %v", got, tt.want)
			}
			if got := IoU(tt.b, tt.a); !almostEqual(got, tt.want) {
				t.Errorf("IoU(b,a) = %v, want %v (not symmetric)", got, tt.want)
			}
		})
	}
}

func TestIoUZeroAreaBox(t *testing.T) {
	zero := box(5, 5, 0, 0)
	if got := IoU(zero, zero); got != 0 {
		t.Errorf("IoU of zero-area boxes = %v, want 0", got)
	}
}

func TestContains(t *testing.T) {
	outer := box(0, 0, 100, 100)
	inner := box(10, 10, 20, 20)

	if !Contains(outer, inner) {
		t.Error("outer should contain inner")
	}
	if !Contains(inner, outer) {
		t.Error("containment should be symmetric")
	}
	if !Contains(outer, outer) {
		t.Error("a box should contain itself")
	}
	if Contains(box(0, 0, 10, 10), box(5, 5, 10, 10)) {
		t.Error("partially overlapping boxes are not contained")
	}
}

func TestCenterDistance(t *testing.T) {
	got := CenterDistance(box(0, 0, 10, 10), box(30, 40, 10, 10))
	if !almostEqual(got, 50) {
		t.Errorf("CenterDistance = %v, want 50", got)
	}
}

func TestUnionBox(t *testing.T) {
	if got := UnionBox(nil); !got.IsZero() {
		t.Errorf("UnionBox(nil) = %+v, want zero box", got)
	}

	got := UnionBox([]BoundingBox{box(10, 20, 30, 40), box(5, 50, 10, 30)})
	want := box(5, 20, 35, 60)
	if got != want {
		t.Errorf("UnionBox = %+v, want %+v", got, want)
	}
}

func TestContainsPoint(t *testing.T) {
	b := box(0, 0, 100, 100)
	tests := []struct {
		x, y float64
		want bool
	}{
		{50, 50, true},
		{0, 0, true},
		{100, 100, true},
		{100.5, 50, false},
		{200, 200, false},
	}
	for _, tt := range tests {
		if got := b.ContainsPoint(tt.x, tt.y); got != tt.want {
			t.Errorf("ContainsPoint(%v,%v) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}
