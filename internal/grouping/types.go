/**
 * Grouping engine data model
 *
 * Text fragments come from the OCR collaborator and are read-only inputs.
 * Groups are produced by the engine (Auto) or drawn by a user (Manual).
 */

package grouping

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// FragmentKind is the OCR granularity a fragment was recognized at
type FragmentKind string

const (
	KindLine FragmentKind = "LINE"
	KindWord FragmentKind = "WORD"
	KindCell FragmentKind = "CELL"
)

// TextFragment is one OCR-recognized text unit
type TextFragment struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Confidence  float64      `json:"confidence"`
	BoundingBox BoundingBox  `json:"boundingBox"`
	Kind        FragmentKind `json:"kind"`
}

// Origin records who produced a group
type Origin string

const (
	OriginAuto   Origin = "AUTO"
	OriginManual Origin = "MANUAL"
)

// Group is a logical cluster of fragments, e.g. one sticky note
type Group struct {
	ID          string         `json:"id"`
	BoundingBox BoundingBox    `json:"boundingBox"`
	Members     []TextFragment `json:"members"`
	Confidence  float64        `json:"confidence"`
	Origin      Origin         `json:"origin"`
}

// MemberIDs returns the ids of the group's members in member order
func (g Group) MemberIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

// Options tunes a detection run. Zero fields take their defaults; a nil
// UseHierarchicalGrouping leaves the refiner on.
type Options struct {
	MinGroupSize            int     `json:"minGroupSize"`
	OverlapThreshold        float64 `json:"overlapThreshold"`
	ProximityThreshold      float64 `json:"proximityThreshold"`
	UseHierarchicalGrouping *bool   `json:"useHierarchicalGrouping,omitempty"`
}

const (
	DefaultMinGroupSize       = 1
	DefaultOverlapThreshold   = 0.1
	DefaultProximityThreshold = 50.0
)

// DefaultOptions returns the options used when the caller supplies none
func DefaultOptions() Options {
	return Options{
		MinGroupSize:            DefaultMinGroupSize,
		OverlapThreshold:        DefaultOverlapThreshold,
		ProximityThreshold:      DefaultProximityThreshold,
		UseHierarchicalGrouping: Bool(true),
	}
}

// Bool returns a pointer to b, for UseHierarchicalGrouping
func Bool(b bool) *bool {
	return &b
}

// Hierarchical reports whether the hierarchical refiner runs
func (o Options) Hierarchical() bool {
	return o.UseHierarchicalGrouping == nil || *o.UseHierarchicalGrouping
}

// Merge fills the zero or unset fields of o from base
func (o Options) Merge(base Options) Options {
	if o.MinGroupSize == 0 {
		o.MinGroupSize = base.MinGroupSize
	}
	if o.OverlapThreshold == 0 {
		o.OverlapThreshold = base.OverlapThreshold
	}
	if o.ProximityThreshold == 0 {
		o.ProximityThreshold = base.ProximityThreshold
	}
	if o.UseHierarchicalGrouping == nil {
		o.UseHierarchicalGrouping = base.UseHierarchicalGrouping
	}
	return o
}

// withDefaults fills zero numeric fields with their defaults
func (o Options) withDefaults() Options {
	if o.MinGroupSize == 0 {
		o.MinGroupSize = DefaultMinGroupSize
	}
	if o.OverlapThreshold == 0 {
		o.OverlapThreshold = DefaultOverlapThreshold
	}
	if o.ProximityThreshold == 0 {
		o.ProximityThreshold = DefaultProximityThreshold
	}
	return o
}

// Result is the output of one detection run
type Result struct {
	Groups             []Group        `json:"groups"`
	UngroupedFragments []TextFragment `json:"ungroupedFragments"`
	Confidence         float64        `json:"confidence"`
}

var groupNamespace = uuid.MustParse("6f1c8a52-3d0e-4b8e-9a57-2c4f1e7d9b10")

// AutoGroupID derives a stable group id from the member fragment ids, so
// repeated runs over the same input produce the same ids.
func AutoGroupID(members []TextFragment) string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	return uuid.NewSHA1(groupNamespace, []byte(strings.Join(ids, "\x00"))).String()
}

// ManualSubgroupID derives the id of a piece split off a manual group. It is
// keyed on the parent id so it never matches an automatic group's id.
func ManualSubgroupID(parentID string, members []TextFragment) string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	name := "manual\x00" + parentID + "\x00" + strings.Join(ids, "\x00")
	return uuid.NewSHA1(groupNamespace, []byte(name)).String()
}
