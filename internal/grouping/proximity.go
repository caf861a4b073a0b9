package grouping

// groupByProximity is the first grouping pass. Fragments are visited in
// input order; each unassigned fragment seeds a group and pulls in every
// other unassigned fragment whose center lies within proximityThreshold of
// the seed. Membership is tested against the seed only, not transitively,
// so a chain whose ends are far apart can be split here. The hierarchical
// refiner partially compensates downstream.
//
// Groups smaller than minGroupSize are discarded and their fragments stay
// ungrouped for the rest of the run.
func groupByProximity(fragments []TextFragment, opts Options) [][]int {
	processed := make([]bool, len(fragments))
	var groups [][]int

	for seed := range fragments {
		if processed[seed] {
			continue
		}
		processed[seed] = true
		members := []int{seed}

		for other := range fragments {
			if processed[other] {
				continue
			}
			if CenterDistance(fragments[seed].BoundingBox, fragments[other].BoundingBox) <= opts.ProximityThreshold {
				members = append(members, other)
				processed[other] = true
			}
		}

		if len(members) >= opts.MinGroupSize {
			groups = append(groups, members)
		}
	}

	return groups
}
