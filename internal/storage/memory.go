/**
 * In-memory group store
 *
 * Used when no DATABASE_URL is configured and as the persistence double in
 * tests. Like the PostgreSQL store it keeps member ids only; members are
 * rehydrated from the fragments passed to LoadGroups.
 */

package storage

import (
	"context"
	"sync"

	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
)

type groupRecord struct {
	imageID   string
	group     grouping.Group
	memberIDs []string
}

// MemoryStore is a mutex-guarded map-backed GroupRepository
type MemoryStore struct {
	mu        sync.RWMutex
	fragments map[string][]grouping.TextFragment
	groups    map[string]*groupRecord
	order     []string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fragments: make(map[string][]grouping.TextFragment),
		groups:    make(map[string]*groupRecord),
	}
}

// SaveFragments replaces the OCR fragments stored for an image
func (m *MemoryStore) SaveFragments(ctx context.Context, imageID string, fragments []grouping.TextFragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragments[imageID] = append([]grouping.TextFragment(nil), fragments...)
	return nil
}

// LoadFragments returns the OCR fragments stored for an image
func (m *MemoryStore) LoadFragments(ctx context.Context, imageID string) ([]grouping.TextFragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]grouping.TextFragment(nil), m.fragments[imageID]...), nil
}

// SaveGroups replaces the image's automatic groups, leaving manual groups alone
func (m *MemoryStore) SaveGroups(ctx context.Context, imageID string, groups []grouping.Group) ([]grouping.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, id := range m.order {
		rec := m.groups[id]
		if rec.imageID == imageID && rec.group.Origin == grouping.OriginAuto {
			delete(m.groups, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept

	stored := make([]grouping.Group, 0, len(groups))
	for _, g := range groups {
		stored = append(stored, m.putLocked(imageID, g))
	}
	return stored, nil
}

// LoadGroups returns every group of the image in save order
func (m *MemoryStore) LoadGroups(ctx context.Context, imageID string, fragments []grouping.TextFragment) ([]grouping.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []grouping.Group
	for _, id := range m.order {
		rec := m.groups[id]
		if rec.imageID != imageID {
			continue
		}
		g := rec.group
		g.Members = hydrateMembers(rec.memberIDs, fragments)
		out = append(out, g)
	}
	return out, nil
}

// SaveGroup upserts one group by id
func (m *MemoryStore) SaveGroup(ctx context.Context, imageID string, group grouping.Group) (grouping.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(imageID, group), nil
}

// DeleteGroup removes a group and reports whether it existed
func (m *MemoryStore) DeleteGroup(ctx context.Context, groupID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[groupID]; !ok {
		return false, nil
	}
	delete(m.groups, groupID)
	for i, id := range m.order {
		if id == groupID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// ImageOf returns the image a stored group belongs to
func (m *MemoryStore) ImageOf(ctx context.Context, groupID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.groups[groupID]
	if !ok {
		return "", false, nil
	}
	return rec.imageID, true, nil
}

func (m *MemoryStore) putLocked(imageID string, g grouping.Group) grouping.Group {
	if _, exists := m.groups[g.ID]; !exists {
		m.order = append(m.order, g.ID)
	}
	stored := g
	stored.Members = append([]grouping.TextFragment(nil), g.Members...)
	stored.Confidence = sanitizeConfidence(g.Confidence)

	rec := stored
	rec.Members = nil
	m.groups[g.ID] = &groupRecord{imageID: imageID, group: rec, memberIDs: g.MemberIDs()}
	return stored
}

// hydrateMembers resolves member ids against fragments. Without fragments
// the member list is empty; ids that cannot be resolved are dropped.
func hydrateMembers(ids []string, fragments []grouping.TextFragment) []grouping.TextFragment {
	members := []grouping.TextFragment{}
	if len(fragments) == 0 {
		return members
	}
	byID := make(map[string]grouping.TextFragment, len(fragments))
	for _, f := range fragments {
		byID[f.ID] = f
	}
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			members = append(members, f)
		}
	}
	return members
}
