/**
 * Hierarchical refiner
 *
 * Merges proximity groups along a relationship graph until a full pass over
 * the edges makes no change. Merging is first-merge-wins in edge discovery
 * order, which makes the output order-dependent but deterministic.
 */

package grouping

import "math"

// cluster is one group slot in the refiner. A slot is either live or has
// been absorbed into another slot; absorbed slots keep the index of the
// slot that took their members so the merge history can be followed.
type cluster struct {
	members      []int
	absorbedInto int
}

const liveCluster = -1

func (c *cluster) live() bool {
	return c.absorbedInto == liveCluster
}

type pairKey struct {
	a, b int
}

func newPairKey(i, j int) pairKey {
	if i > j {
		i, j = j, i
	}
	return pairKey{a: i, b: j}
}

type refiner struct {
	fragments []TextFragment
	opts      Options
	clusters  []cluster
	groupOf   map[int]int
	relations map[pairKey]SpatialRelationship
}

// refineHierarchically runs the fixed-point merge loop over the proximity
// groups and returns the surviving groups of at least minGroupSize members.
func refineHierarchically(fragments []TextFragment, rels []SpatialRelationship, groups [][]int, opts Options) [][]int {
	r := &refiner{
		fragments: fragments,
		opts:      opts,
		clusters:  make([]cluster, len(groups)),
		groupOf:   make(map[int]int),
		relations: make(map[pairKey]SpatialRelationship, len(rels)),
	}

	for gi, members := range groups {
		r.clusters[gi] = cluster{members: append([]int(nil), members...), absorbedInto: liveCluster}
		for _, f := range members {
			r.groupOf[f] = gi
		}
	}
	for _, rel := range rels {
		r.relations[newPairKey(rel.a, rel.b)] = rel
	}

	edges := r.buildEdges(rels)

	// Every merge removes one live cluster, so this loop runs at most
	// len(groups) times before a pass makes no change.
	for r.mergeFirst(edges) {
	}

	var out [][]int
	for _, c := range r.clusters {
		if !c.live() || len(c.members) == 0 || len(c.members) < opts.MinGroupSize {
			continue
		}
		out = append(out, c.members)
	}
	return out
}

func (r *refiner) buildEdges(rels []SpatialRelationship) []pairKey {
	edges := make([]pairKey, 0, len(rels))
	for _, rel := range rels {
		if rel.Distance <= r.opts.ProximityThreshold || structural(rel.Kind) {
			edges = append(edges, pairKey{a: rel.a, b: rel.b})
		}
	}
	return edges
}

func structural(kind RelationshipKind) bool {
	switch kind {
	case RelOverlapping, RelContained, RelAbove, RelBelow:
		return true
	}
	return false
}

// mergeFirst scans the edges in order and performs the first merge found.
// It reports whether a merge happened.
func (r *refiner) mergeFirst(edges []pairKey) bool {
	for _, e := range edges {
		g1, ok1 := r.groupOf[e.a]
		g2, ok2 := r.groupOf[e.b]
		if !ok1 || !ok2 || g1 == g2 {
			continue
		}
		if !r.clusters[g1].live() || !r.clusters[g2].live() {
			continue
		}
		if r.shouldMerge(g1, g2) {
			r.absorb(g1, g2)
			return true
		}
	}
	return false
}

func (r *refiner) absorb(into, from int) {
	moved := r.clusters[from].members
	r.clusters[into].members = append(r.clusters[into].members, moved...)
	for _, f := range moved {
		r.groupOf[f] = into
	}
	r.clusters[from] = cluster{absorbedInto: into}
}

func (r *refiner) box(gi int) BoundingBox {
	members := r.clusters[gi].members
	boxes := make([]BoundingBox, len(members))
	for i, f := range members {
		boxes[i] = r.fragments[f].BoundingBox
	}
	return UnionBox(boxes)
}

func (r *refiner) shouldMerge(g1, g2 int) bool {
	box1, box2 := r.box(g1), r.box(g2)
	prox := r.opts.ProximityThreshold

	if IoU(box1, box2) > r.opts.OverlapThreshold {
		return true
	}

	dist := CenterDistance(box1, box2)
	if dist <= prox {
		return true
	}

	x1, y1 := box1.Center()
	x2, y2 := box2.Center()
	horizontallyAligned := math.Abs(y1-y2) <= box1.Height/2
	verticallyAligned := math.Abs(x1-x2) <= box1.Width/2
	if (horizontallyAligned || verticallyAligned) && dist <= 1.5*prox {
		return true
	}

	return float64(r.closePairs(g1, g2)) >= 0.3*float64(minInt(len(r.clusters[g1].members), len(r.clusters[g2].members)))
}

// closePairs counts cross-group fragment pairs with a recorded relationship
// no farther apart than the proximity threshold.
func (r *refiner) closePairs(g1, g2 int) int {
	count := 0
	for _, f1 := range r.clusters[g1].members {
		for _, f2 := range r.clusters[g2].members {
			rel, ok := r.relations[newPairKey(f1, f2)]
			if ok && rel.Distance <= r.opts.ProximityThreshold {
				count++
			}
		}
	}
	return count
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
