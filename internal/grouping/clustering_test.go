package grouping

import (
	"reflect"
	"testing"
)

// chainFragments are three fragments in a row whose neighbours are 40 apart
// but whose ends are 80 apart.
func chainFragments() []TextFragment {
	return []TextFragment{
		frag("f0", box(0, 0, 10, 10), 0.9),
		frag("f1", box(40, 0, 10, 10), 0.8),
		frag("f2", box(80, 0, 10, 10), 0.7),
	}
}

func TestGroupByProximitySeedOnly(t *testing.T) {
	groups := groupByProximity(chainFragments(), DefaultOptions())

	want := [][]int{{0, 1}, {2}}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
}

func TestGroupByProximityDiscardsSmallGroups(t *testing.T) {
	opts := DefaultOptions()
	opts.MinGroupSize = 2

	groups := groupByProximity(chainFragments(), opts)

	want := [][]int{{0, 1}}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
}

func TestRefineHierarchicallyMergesAlignedNeighbours(t *testing.T) {
	fragments := chainFragments()
	opts := DefaultOptions()
	rels := AnalyzeRelationships(fragments)

	groups := refineHierarchically(fragments, rels, groupByProximity(fragments, opts), opts)

	if len(groups) != 1 {
		t.Fatalf("expected 1 group after refinement, got %d: %v", len(groups), groups)
	}
	if len(groups[0]) != 3 {
		t.Errorf("expected 3 members, got %v", groups[0])
	}
}

func TestRefineHierarchicallyKeepsDistantGroups(t *testing.T) {
	fragments := []TextFragment{
		frag("a", box(0, 0, 10, 10), 1),
		frag("b", box(20, 0, 10, 10), 1),
		frag("far", box(500, 500, 10, 10), 1),
	}
	opts := DefaultOptions()
	rels := AnalyzeRelationships(fragments)

	groups := refineHierarchically(fragments, rels, groupByProximity(fragments, opts), opts)

	want := [][]int{{0, 1}, {2}}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
}

func TestRefineHierarchicallyRecordsAbsorption(t *testing.T) {
	fragments := chainFragments()
	opts := DefaultOptions()
	r := &refiner{
		fragments: fragments,
		opts:      opts,
		clusters: []cluster{
			{members: []int{0, 1}, absorbedInto: liveCluster},
			{members: []int{2}, absorbedInto: liveCluster},
		},
		groupOf:   map[int]int{0: 0, 1: 0, 2: 1},
		relations: map[pairKey]SpatialRelationship{},
	}

	r.absorb(0, 1)

	if r.clusters[1].live() {
		t.Error("absorbed cluster should not be live")
	}
	if r.clusters[1].absorbedInto != 0 {
		t.Errorf("absorbedInto = %d, want 0", r.clusters[1].absorbedInto)
	}
	if r.groupOf[2] != 0 {
		t.Errorf("fragment 2 should map to cluster 0, got %d", r.groupOf[2])
	}
}

func TestResolveOverlapsGrowsForward(t *testing.T) {
	fragments := []TextFragment{
		frag("a", box(0, 0, 10, 10), 1),
		frag("b", box(5, 0, 10, 10), 1),
		frag("c", box(12, 0, 10, 10), 1),
		frag("d", box(300, 0, 10, 10), 1),
	}

	groups := resolveOverlaps(fragments, [][]int{{0}, {1}, {2}, {3}}, DefaultOptions())

	want := [][]int{{0, 1, 2}, {3}}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
}

func TestGroupConfidence(t *testing.T) {
	if got := GroupConfidence(nil); got != 0 {
		t.Errorf("empty group confidence = %v, want 0", got)
	}
	members := []TextFragment{frag("a", box(0, 0, 1, 1), 0.9), frag("b", box(0, 0, 1, 1), 0.8)}
	if got := GroupConfidence(members); !almostEqual(got, 0.85) {
		t.Errorf("GroupConfidence = %v, want 0.85", got)
	}
}

func TestOverallConfidenceBounds(t *testing.T) {
	if got := OverallConfidence(nil, 0); got != 0 {
		t.Errorf("no fragments = %v, want 0", got)
	}

	groups := []Group{{Members: make([]TextFragment, 2), Confidence: 1}}
	if got := OverallConfidence(groups, 2); !almostEqual(got, 1) {
		t.Errorf("full coverage at confidence 1 = %v, want 1", got)
	}

	groups = []Group{{Members: make([]TextFragment, 1), Confidence: 0.5}}
	if got := OverallConfidence(groups, 4); !almostEqual(got, 0.7*0.25+0.3*0.5) {
		t.Errorf("partial coverage = %v", got)
	}
}

func newTestRefiner(fragments []TextFragment, groups [][]int, rels []SpatialRelationship, opts Options) *refiner {
	r := &refiner{
		fragments: fragments,
		opts:      opts,
		clusters:  make([]cluster, len(groups)),
		groupOf:   make(map[int]int),
		relations: make(map[pairKey]SpatialRelationship),
	}
	for gi, members := range groups {
		r.clusters[gi] = cluster{members: members, absorbedInto: liveCluster}
		for _, f := range members {
			r.groupOf[f] = gi
		}
	}
	for _, rel := range rels {
		r.relations[newPairKey(rel.a, rel.b)] = rel
	}
	return r
}

// columnsWithLinks builds two ten-fragment columns 500 units apart and
// records a relationship at the given distance for the first n row pairs.
func columnsWithLinks(n int, distance float64) ([]TextFragment, [][]int, []SpatialRelationship) {
	var fragments []TextFragment
	var left, right []int
	for i := 0; i < 10; i++ {
		left = append(left, len(fragments))
		fragments = append(fragments, frag("l", box(0, float64(20*i), 10, 10), 1))
	}
	for i := 0; i < 10; i++ {
		right = append(right, len(fragments))
		fragments = append(fragments, frag("r", box(500, float64(500+20*i), 10, 10), 1))
	}
	var rels []SpatialRelationship
	for i := 0; i < n; i++ {
		rels = append(rels, SpatialRelationship{Distance: distance, Kind: RelRight, a: left[i], b: right[i]})
	}
	return fragments, [][]int{left, right}, rels
}

func TestShouldMergeCriteria(t *testing.T) {
	withOverlap := func(threshold float64) Options {
		opts := DefaultOptions()
		opts.OverlapThreshold = threshold
		return opts
	}

	// IoU of these two boxes is 40000/280000, about 0.143
	overlapping := []TextFragment{
		frag("a", box(0, 0, 400, 400), 1),
		frag("b", box(200, 200, 400, 400), 1),
	}

	tests := []struct {
		name      string
		fragments []TextFragment
		groups    [][]int
		rels      []SpatialRelationship
		opts      Options
		want      bool
	}{
		{"union boxes overlap above threshold", overlapping, [][]int{{0}, {1}}, nil, DefaultOptions(), true},
		{"union boxes overlap below threshold", overlapping, [][]int{{0}, {1}}, nil, withOverlap(0.2), false},
		{
			"centres within proximity",
			[]TextFragment{frag("a", box(0, 0, 10, 10), 1), frag("b", box(40, 0, 10, 10), 1)},
			[][]int{{0}, {1}}, nil, DefaultOptions(), true,
		},
		{
			"aligned within one and a half proximity",
			[]TextFragment{frag("a", box(0, 0, 10, 10), 1), frag("b", box(60, 0, 10, 10), 1)},
			[][]int{{0}, {1}}, nil, DefaultOptions(), true,
		},
		{
			"diagonal beyond proximity",
			[]TextFragment{frag("a", box(0, 0, 10, 10), 1), frag("b", box(45, 45, 10, 10), 1)},
			[][]int{{0}, {1}}, nil, DefaultOptions(), false,
		},
	}

	for _, n := range []struct {
		name     string
		links    int
		distance float64
		want     bool
	}{
		{"close pairs at three tenths of the smaller group", 3, 10, true},
		{"close pairs below three tenths of the smaller group", 2, 10, false},
		{"linked pairs beyond proximity do not count", 3, 60, false},
	} {
		fragments, groups, rels := columnsWithLinks(n.links, n.distance)
		tests = append(tests, struct {
			name      string
			fragments []TextFragment
			groups    [][]int
			rels      []SpatialRelationship
			opts      Options
			want      bool
		}{n.name, fragments, groups, rels, DefaultOptions(), n.want})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRefiner(tt.fragments, tt.groups, tt.rels, tt.opts)
			if got := r.shouldMerge(0, 1); got != tt.want {
				t.Errorf("shouldMerge = %v, want %v", got, tt.want)
			}
		})
	}
}
