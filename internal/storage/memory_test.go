package storage

import (
	"context"
	"testing"

	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
)

func testFragment(id string, left, top float64) grouping.TextFragment {
	return grouping.TextFragment{
		ID:          id,
		Text:        id,
		Confidence:  0.8,
		BoundingBox: grouping.BoundingBox{Left: left, Top: top, Width: 40, Height: 10},
		Kind:        grouping.KindLine,
	}
}

func testGroup(id string, origin grouping.Origin, members ...grouping.TextFragment) grouping.Group {
	return grouping.Group{
		ID:          id,
		BoundingBox: grouping.FragmentsBox(members),
		Members:     members,
		Confidence:  0.8,
		Origin:      origin,
	}
}

func TestMemoryStoreSaveGroupsReplacesAutoOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, b, c := testFragment("a", 0, 0), testFragment("b", 0, 20), testFragment("c", 200, 200)
	fragments := []grouping.TextFragment{a, b, c}

	if _, err := store.SaveGroups(ctx, "img-1", []grouping.Group{testGroup("auto-1", grouping.OriginAuto, a, b)}); err != nil {
		t.Fatalf("SaveGroups failed: %v", err)
	}
	if _, err := store.SaveGroup(ctx, "img-1", testGroup("manual-1", grouping.OriginManual, c)); err != nil {
		t.Fatalf("SaveGroup failed: %v", err)
	}
	if _, err := store.SaveGroups(ctx, "img-2", []grouping.Group{testGroup("other", grouping.OriginAuto, a)}); err != nil {
		t.Fatalf("SaveGroups failed: %v", err)
	}

	// Second detection run replaces auto-1 but keeps the manual box
	if _, err := store.SaveGroups(ctx, "img-1", []grouping.Group{testGroup("auto-2", grouping.OriginAuto, a)}); err != nil {
		t.Fatalf("SaveGroups failed: %v", err)
	}

	groups, err := store.LoadGroups(ctx, "img-1", fragments)
	if err != nil {
		t.Fatalf("LoadGroups failed: %v", err)
	}
	got := map[string]grouping.Group{}
	for _, g := range groups {
		got[g.ID] = g
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(got), groups)
	}
	if _, ok := got["auto-1"]; ok {
		t.Error("stale automatic group survived")
	}
	if g, ok := got["manual-1"]; !ok || len(g.Members) != 1 || g.Members[0].ID != "c" {
		t.Errorf("manual group = %+v", g)
	}

	other, _ := store.LoadGroups(ctx, "img-2", fragments)
	if len(other) != 1 {
		t.Errorf("other image lost its groups: %+v", other)
	}
}

func TestMemoryStoreLoadGroupsHydration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, b := testFragment("a", 0, 0), testFragment("b", 0, 20)

	if _, err := store.SaveGroups(ctx, "img", []grouping.Group{testGroup("g", grouping.OriginAuto, a, b)}); err != nil {
		t.Fatalf("SaveGroups failed: %v", err)
	}

	withoutFragments, _ := store.LoadGroups(ctx, "img", nil)
	if len(withoutFragments) != 1 || withoutFragments[0].Members == nil || len(withoutFragments[0].Members) != 0 {
		t.Errorf("expected empty members without fragments, got %+v", withoutFragments)
	}

	// Fragment b is gone from the image: its id is dropped
	partial, _ := store.LoadGroups(ctx, "img", []grouping.TextFragment{a})
	if len(partial[0].Members) != 1 || partial[0].Members[0].ID != "a" {
		t.Errorf("members = %+v", partial[0].Members)
	}
}

func TestMemoryStoreDeleteAndImageOf(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if _, err := store.SaveGroup(ctx, "img", testGroup("g", grouping.OriginManual, testFragment("a", 0, 0))); err != nil {
		t.Fatalf("SaveGroup failed: %v", err)
	}

	imageID, ok, err := store.ImageOf(ctx, "g")
	if err != nil || !ok || imageID != "img" {
		t.Errorf("ImageOf = %q, %v, %v", imageID, ok, err)
	}

	deleted, err := store.DeleteGroup(ctx, "g")
	if err != nil || !deleted {
		t.Fatalf("DeleteGroup = %v, %v", deleted, err)
	}
	deleted, _ = store.DeleteGroup(ctx, "g")
	if deleted {
		t.Error("second delete reported success")
	}
	if _, ok, _ := store.ImageOf(ctx, "g"); ok {
		t.Error("deleted group still resolves to an image")
	}
}

func TestMemoryStoreSanitizesConfidence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	g := testGroup("g", grouping.OriginAuto, testFragment("a", 0, 0))
	g.Confidence = 0.123456

	stored, _ := store.SaveGroup(ctx, "img", g)
	if stored.Confidence != 0.1235 {
		t.Errorf("confidence = %v, want 0.1235", stored.Confidence)
	}
}

func TestSanitizeConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.25, 0.25},
		{0.5, 0.5},
		{1.7, 1},
	}

	for _, tt := range tests {
		if got := sanitizeConfidence(tt.in); got != tt.want {
			t.Errorf("sanitizeConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMemoryStoreFragmentsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	in := []grouping.TextFragment{testFragment("a", 0, 0), testFragment("b", 0, 20)}

	if err := store.SaveFragments(ctx, "img", in); err != nil {
		t.Fatalf("SaveFragments failed: %v", err)
	}
	in[0].Text = "mutated"

	out, _ := store.LoadFragments(ctx, "img")
	if len(out) != 2 || out[0].Text != "a" {
		t.Errorf("fragments = %+v", out)
	}

	empty, _ := store.LoadFragments(ctx, "unknown")
	if len(empty) != 0 {
		t.Errorf("expected no fragments, got %+v", empty)
	}
}
