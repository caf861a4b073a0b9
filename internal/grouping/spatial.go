package grouping

import "math"

// RelationshipKind classifies how two fragments sit relative to each other
type RelationshipKind string

const (
	RelOverlapping RelationshipKind = "OVERLAPPING"
	RelContained   RelationshipKind = "CONTAINED"
	RelAbove       RelationshipKind = "ABOVE"
	RelBelow       RelationshipKind = "BELOW"
	RelLeft        RelationshipKind = "LEFT"
	RelRight       RelationshipKind = "RIGHT"
)

// SpatialRelationship describes fragment B as seen from fragment A
type SpatialRelationship struct {
	FragmentIDA string           `json:"fragmentIdA"`
	FragmentIDB string           `json:"fragmentIdB"`
	Distance    float64          `json:"distance"`
	Kind        RelationshipKind `json:"kind"`

	// indexes into the fragment slice the relationship was built from
	a, b int
}

// AnalyzeRelationships classifies every unordered pair of fragments.
// The result is O(n²); nothing is filtered here, long-distance pairs included.
func AnalyzeRelationships(fragments []TextFragment) []SpatialRelationship {
	n := len(fragments)
	if n < 2 {
		return nil
	}

	rels := make([]SpatialRelationship, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := fragments[i].BoundingBox, fragments[j].BoundingBox
			rels = append(rels, SpatialRelationship{
				FragmentIDA: fragments[i].ID,
				FragmentIDB: fragments[j].ID,
				Distance:    CenterDistance(a, b),
				Kind:        classify(a, b),
				a:           i,
				b:           j,
			})
		}
	}
	return rels
}

func classify(a, b BoundingBox) RelationshipKind {
	if IoU(a, b) > 0 {
		return RelOverlapping
	}
	if Contains(a, b) {
		return RelContained
	}

	ax, ay := a.Center()
	bx, by := b.Center()
	dx, dy := bx-ax, by-ay
	if math.Abs(dy) > math.Abs(dx) {
		if dy > 0 {
			return RelBelow
		}
		return RelAbove
	}
	if dx > 0 {
		return RelRight
	}
	return RelLeft
}
