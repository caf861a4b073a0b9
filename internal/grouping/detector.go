/**
 * Bounding-box grouping pipeline
 *
 * OCR fragments → spatial relationships → proximity groups →
 * hierarchical refinement → overlap resolution → confidence scoring.
 *
 * Detect is a pure function: it owns no state, so any number of images can
 * be grouped concurrently as long as each call gets its own fragment slice.
 */

package grouping

import (
	"fmt"
	"math"

	"github.com/adverant/nexus/notegroup-worker/internal/errors"
)

// Detect groups the fragments of one image
func Detect(fragments []TextFragment, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := validateFragments(fragments); err != nil {
		return nil, err
	}

	result := &Result{
		Groups:             []Group{},
		UngroupedFragments: []TextFragment{},
	}
	if len(fragments) == 0 {
		return result, nil
	}

	fragments = normalizeConfidences(fragments)

	rels := AnalyzeRelationships(fragments)
	clusters := groupByProximity(fragments, opts)
	if opts.Hierarchical() {
		clusters = refineHierarchically(fragments, rels, clusters, opts)
	}
	clusters = resolveOverlaps(fragments, clusters, opts)

	assigned := make([]int, len(fragments))
	for _, c := range clusters {
		members := make([]TextFragment, len(c))
		for i, f := range c {
			members[i] = fragments[f]
			assigned[f]++
		}
		result.Groups = append(result.Groups, newAutoGroup(members))
	}

	for i, f := range fragments {
		switch assigned[i] {
		case 0:
			result.UngroupedFragments = append(result.UngroupedFragments, f)
		case 1:
		default:
			return nil, errors.NewComputationFailureError("fragment assigned to more than one group", map[string]interface{}{
				"fragment_id": f.ID,
				"groups":      assigned[i],
			})
		}
	}

	result.Confidence = OverallConfidence(result.Groups, len(fragments))
	return result, nil
}

func newAutoGroup(members []TextFragment) Group {
	return Group{
		ID:          AutoGroupID(members),
		BoundingBox: FragmentsBox(members),
		Members:     members,
		Confidence:  GroupConfidence(members),
		Origin:      OriginAuto,
	}
}

// Validate checks the option ranges
func (o Options) Validate() error {
	if o.MinGroupSize < 1 {
		return errors.NewInvalidInputError("minGroupSize", fmt.Sprintf("must be >= 1, got %d", o.MinGroupSize))
	}
	if !(o.OverlapThreshold > 0 && o.OverlapThreshold <= 1) {
		return errors.NewInvalidInputError("overlapThreshold", fmt.Sprintf("must be in (0,1], got %v", o.OverlapThreshold))
	}
	if !(o.ProximityThreshold > 0) || math.IsInf(o.ProximityThreshold, 0) {
		return errors.NewInvalidInputError("proximityThreshold", fmt.Sprintf("must be > 0, got %v", o.ProximityThreshold))
	}
	return nil
}

func validateFragments(fragments []TextFragment) error {
	seen := make(map[string]struct{}, len(fragments))
	for _, f := range fragments {
		if f.ID == "" {
			return errors.NewInvalidInputError("fragment.id", "must not be empty")
		}
		if _, dup := seen[f.ID]; dup {
			return errors.NewInvalidInputError("fragment.id", fmt.Sprintf("duplicate id %s", f.ID))
		}
		seen[f.ID] = struct{}{}

		b := f.BoundingBox
		if b.Left < 0 || b.Top < 0 || b.Width < 0 || b.Height < 0 {
			return errors.NewInvalidInputError("fragment.boundingBox", fmt.Sprintf("negative dimension on %s", f.ID))
		}
	}
	return nil
}
