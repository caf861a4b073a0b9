package grouping

// GroupConfidence is the mean member confidence, 0 for an empty group
func GroupConfidence(members []TextFragment) float64 {
	if len(members) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range members {
		sum += m.Confidence
	}
	return sum / float64(len(members))
}

// OverallConfidence weighs coverage (70%) against mean group confidence (30%)
func OverallConfidence(groups []Group, totalFragments int) float64 {
	if totalFragments == 0 {
		return 0
	}

	grouped := 0
	sum := 0.0
	for _, g := range groups {
		grouped += len(g.Members)
		sum += g.Confidence
	}

	mean := 0.0
	if len(groups) > 0 {
		mean = sum / float64(len(groups))
	}

	return 0.7*(float64(grouped)/float64(totalFragments)) + 0.3*mean
}

// normalizeConfidences rescales a run reported on a 0-100 scale to 0-1.
// A run is treated as percentages as soon as any fragment exceeds 1.
func normalizeConfidences(fragments []TextFragment) []TextFragment {
	percent := false
	for _, f := range fragments {
		if f.Confidence > 1 {
			percent = true
			break
		}
	}
	if !percent {
		return fragments
	}

	out := make([]TextFragment, len(fragments))
	for i, f := range fragments {
		f.Confidence = clamp(f.Confidence/100, 0, 1)
		out[i] = f
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
