package grouping

// resolveOverlaps makes a single forward pass: group i absorbs every later,
// not yet absorbed group whose union box overlaps i's current union box by
// more than overlapThreshold. i's box grows after each absorption, so a
// later group can be pulled in through an earlier absorption in the same pass.
func resolveOverlaps(fragments []TextFragment, groups [][]int, opts Options) [][]int {
	absorbed := make([]bool, len(groups))
	boxes := make([]BoundingBox, len(groups))
	for i, g := range groups {
		boxes[i] = indexBox(fragments, g)
	}

	var out [][]int
	for i := range groups {
		if absorbed[i] {
			continue
		}
		members := append([]int(nil), groups[i]...)
		for j := i + 1; j < len(groups); j++ {
			if absorbed[j] {
				continue
			}
			if IoU(boxes[i], boxes[j]) > opts.OverlapThreshold {
				members = append(members, groups[j]...)
				absorbed[j] = true
				boxes[i] = indexBox(fragments, members)
			}
		}
		out = append(out, members)
	}
	return out
}

func indexBox(fragments []TextFragment, idx []int) BoundingBox {
	boxes := make([]BoundingBox, len(idx))
	for i, f := range idx {
		boxes[i] = fragments[f].BoundingBox
	}
	return UnionBox(boxes)
}
