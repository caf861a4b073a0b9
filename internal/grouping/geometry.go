/**
 * Geometry primitives for the grouping engine
 *
 * Axis-aligned bounding-box math shared by every grouping stage:
 * area, overlap, Intersection-over-Union, containment, center distance
 * and union boxes.
 */

package grouping

import "math"

// BoundingBox is an axis-aligned rectangle in image coordinates
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge
func (b BoundingBox) Right() float64 {
	return b.Left + b.Width
}

// Bottom returns the y coordinate of the bottom edge
func (b BoundingBox) Bottom() float64 {
	return b.Top + b.Height
}

// Area returns width × height
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Center returns the center point of the box
func (b BoundingBox) Center() (float64, float64) {
	return b.Left + b.Width/2, b.Top + b.Height/2
}

// IsValid reports whether the box can take part in grouping or display
func (b BoundingBox) IsValid() bool {
	return b.Width > 0 && b.Height > 0 && b.Left >= 0 && b.Top >= 0
}

// IsZero reports whether the box is the zero box
func (b BoundingBox) IsZero() bool {
	return b == BoundingBox{}
}

// ContainsPoint reports whether (x, y) lies inside the box, edges included
func (b BoundingBox) ContainsPoint(x, y float64) bool {
	return b.Left <= x && x <= b.Right() && b.Top <= y && y <= b.Bottom()
}

// OverlapArea returns the area of the intersection of a and b
func OverlapArea(a, b BoundingBox) float64 {
	w := math.Min(a.Right(), b.Right()) - math.Max(a.Left, b.Left)
	h := math.Min(a.Bottom(), b.Bottom()) - math.Max(a.Top, b.Top)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the Intersection-over-Union of a and b, 0 when they do not intersect
func IoU(a, b BoundingBox) float64 {
	overlap := OverlapArea(a, b)
	if overlap <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - overlap
	if union <= 0 {
		return 0
	}
	return overlap / union
}

// Contains reports whether either box fully encloses the other
func Contains(a, b BoundingBox) bool {
	return encloses(a, b) || encloses(b, a)
}

func encloses(outer, inner BoundingBox) bool {
	return outer.Left <= inner.Left &&
		outer.Top <= inner.Top &&
		outer.Right() >= inner.Right() &&
		outer.Bottom() >= inner.Bottom()
}

// CenterDistance returns the Euclidean distance between the box centers
func CenterDistance(a, b BoundingBox) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(bx-ax, by-ay)
}

// UnionBox returns the smallest box enclosing every box in the list.
// An empty list yields the zero box.
func UnionBox(boxes []BoundingBox) BoundingBox {
	if len(boxes) == 0 {
		return BoundingBox{}
	}

	minLeft, minTop := boxes[0].Left, boxes[0].Top
	maxRight, maxBottom := boxes[0].Right(), boxes[0].Bottom()
	for _, b := range boxes[1:] {
		minLeft = math.Min(minLeft, b.Left)
		minTop = math.Min(minTop, b.Top)
		maxRight = math.Max(maxRight, b.Right())
		maxBottom = math.Max(maxBottom, b.Bottom())
	}

	return BoundingBox{
		Left:   minLeft,
		Top:    minTop,
		Width:  maxRight - minLeft,
		Height: maxBottom - minTop,
	}
}

// FragmentsBox returns the union box of the fragments' boxes
func FragmentsBox(fragments []TextFragment) BoundingBox {
	boxes := make([]BoundingBox, len(fragments))
	for i, f := range fragments {
		boxes[i] = f.BoundingBox
	}
	return UnionBox(boxes)
}
