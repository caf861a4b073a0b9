/**
 * Overlap separator
 *
 * Re-splits groups that were wrongly merged. Each multi-member group gets
 * three candidate splits (vertical gaps, horizontal gaps, distance
 * clustering); the best-scoring one replaces the group only when its
 * quality clears the acceptance threshold.
 */

package grouping

import (
	"sort"
)

const (
	verticalGapThreshold   = 20.0
	horizontalGapThreshold = 30.0
	clusterDistance        = 50.0
	maxGapCuts             = 2
	splitAcceptScore       = 0.5
)

// SeparationResult is the outcome of SeparateOverlapping
type SeparationResult struct {
	OriginalCount int     `json:"originalCount"`
	ResultCount   int     `json:"resultCount"`
	Groups        []Group `json:"groups"`
}

// SeparateOverlapping splits each input group along its best candidate split.
// fragments is used to resolve member positions by id; members that are not
// found there keep their own boxes.
func SeparateOverlapping(groups []Group, fragments []TextFragment) SeparationResult {
	byID := make(map[string]TextFragment, len(fragments))
	for _, f := range fragments {
		byID[f.ID] = f
	}

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		g.Members = resolveMembers(g.Members, byID)
		out = append(out, separateGroup(g)...)
	}

	return SeparationResult{
		OriginalCount: len(groups),
		ResultCount:   len(out),
		Groups:        out,
	}
}

func resolveMembers(members []TextFragment, byID map[string]TextFragment) []TextFragment {
	resolved := make([]TextFragment, len(members))
	for i, m := range members {
		if f, ok := byID[m.ID]; ok {
			resolved[i] = f
		} else {
			resolved[i] = m
		}
	}
	return resolved
}

func separateGroup(g Group) []Group {
	if len(g.Members) <= 1 {
		return []Group{g}
	}

	candidates := [][][]TextFragment{
		splitVertical(g.Members),
		splitHorizontal(g.Members),
		splitByDistance(g.Members),
	}

	var best [][]TextFragment
	bestScore := 0.0
	for _, c := range candidates {
		if score := evaluateQuality(c); score > bestScore {
			best, bestScore = c, score
		}
	}

	if !acceptSplit(bestScore, len(best)) {
		return []Group{g}
	}

	parts := make([]Group, len(best))
	for i, members := range best {
		parts[i] = subgroup(g, members)
	}
	return parts
}

// acceptSplit gates a candidate on its quality score and subgroup count
func acceptSplit(score float64, subgroups int) bool {
	return score > splitAcceptScore && subgroups > 1
}

func subgroup(parent Group, members []TextFragment) Group {
	g := Group{
		ID:          AutoGroupID(members),
		BoundingBox: FragmentsBox(members),
		Members:     members,
		Confidence:  GroupConfidence(members),
		Origin:      parent.Origin,
	}
	if parent.Origin == OriginManual {
		g.ID = ManualSubgroupID(parent.ID, members)
		g.Confidence = 1.0
	}
	return g
}

// splitVertical cuts members sorted by top at the largest vertical gaps
func splitVertical(members []TextFragment) [][]TextFragment {
	sorted := sortedCopy(members, func(a, b TextFragment) bool {
		return a.BoundingBox.Top < b.BoundingBox.Top
	})
	return splitAtGaps(sorted, verticalGapThreshold, func(prev, cur TextFragment) float64 {
		return cur.BoundingBox.Top - prev.BoundingBox.Bottom()
	})
}

// splitHorizontal cuts members sorted by left at the largest horizontal gaps
func splitHorizontal(members []TextFragment) [][]TextFragment {
	sorted := sortedCopy(members, func(a, b TextFragment) bool {
		return a.BoundingBox.Left < b.BoundingBox.Left
	})
	return splitAtGaps(sorted, horizontalGapThreshold, func(prev, cur TextFragment) float64 {
		return cur.BoundingBox.Left - prev.BoundingBox.Right()
	})
}

func sortedCopy(members []TextFragment, less func(a, b TextFragment) bool) []TextFragment {
	sorted := append([]TextFragment(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})
	return sorted
}

type gap struct {
	index int
	size  float64
}

func splitAtGaps(sorted []TextFragment, threshold float64, gapAt func(prev, cur TextFragment) float64) [][]TextFragment {
	var gaps []gap
	for i := 1; i < len(sorted); i++ {
		if size := gapAt(sorted[i-1], sorted[i]); size > threshold {
			gaps = append(gaps, gap{index: i, size: size})
		}
	}
	if len(gaps) == 0 {
		return [][]TextFragment{sorted}
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].size > gaps[j].size
	})
	if len(gaps) > maxGapCuts {
		gaps = gaps[:maxGapCuts]
	}
	sort.Slice(gaps, func(i, j int) bool {
		return gaps[i].index < gaps[j].index
	})

	parts := make([][]TextFragment, 0, len(gaps)+1)
	start := 0
	for _, g := range gaps {
		parts = append(parts, sorted[start:g.index])
		start = g.index
	}
	return append(parts, sorted[start:])
}

// splitByDistance is single-linkage clustering: pairs within clusterDistance
// are unioned in ascending distance order, components become subgroups.
func splitByDistance(members []TextFragment) [][]TextFragment {
	if len(members) <= 2 {
		return [][]TextFragment{members}
	}

	type pair struct {
		i, j int
		dist float64
	}
	var pairs []pair
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			pairs = append(pairs, pair{i, j, CenterDistance(members[i].BoundingBox, members[j].BoundingBox)})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].dist < pairs[b].dist
	})

	uf := newUnionFind(len(members))
	for _, p := range pairs {
		if p.dist > clusterDistance {
			break
		}
		uf.union(p.i, p.j)
	}

	index := make(map[int]int)
	var parts [][]TextFragment
	for i, m := range members {
		root := uf.find(i)
		pos, ok := index[root]
		if !ok {
			pos = len(parts)
			index[root] = pos
			parts = append(parts, nil)
		}
		parts[pos] = append(parts[pos], m)
	}
	return parts
}

// evaluateQuality scores a candidate split in [0,1]: the share of the mean
// between-subgroup distance in the sum of mean within- and between-subgroup
// distances. Degenerate candidates score 0.
func evaluateQuality(parts [][]TextFragment) float64 {
	if len(parts) <= 1 {
		return 0
	}

	internalSum, internalPairs := 0.0, 0
	for _, p := range parts {
		for i := 0; i < len(p); i++ {
			for j := i + 1; j < len(p); j++ {
				internalSum += CenterDistance(p[i].BoundingBox, p[j].BoundingBox)
				internalPairs++
			}
		}
	}

	boxes := make([]BoundingBox, len(parts))
	for i, p := range parts {
		boxes[i] = FragmentsBox(p)
	}
	externalSum, externalPairs := 0.0, 0
	for i := 0; i < len(boxes); i++ {
		for j := i + 1; j < len(boxes); j++ {
			externalSum += CenterDistance(boxes[i], boxes[j])
			externalPairs++
		}
	}

	if internalPairs == 0 || externalPairs == 0 {
		return 0
	}
	avgInternal := internalSum / float64(internalPairs)
	avgExternal := externalSum / float64(externalPairs)
	if avgInternal == 0 || avgExternal == 0 {
		return 0
	}

	return clamp(avgExternal/(avgInternal+avgExternal), 0, 1)
}

// FindOverlapping returns the groups whose union box intersects at least one
// other group's box, in input order.
func FindOverlapping(groups []Group) []Group {
	flagged := make([]bool, len(groups))
	for i := range groups {
		for j := i + 1; j < len(groups); j++ {
			if IoU(groups[i].BoundingBox, groups[j].BoundingBox) > 0 {
				flagged[i], flagged[j] = true, true
			}
		}
	}

	var out []Group
	for i, g := range groups {
		if flagged[i] {
			out = append(out, g)
		}
	}
	return out
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
