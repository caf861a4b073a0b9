/**
 * Manual override handler
 *
 * Create, update and delete user-drawn group boxes. Membership of a manual
 * box is every fragment whose center point lies inside it. Manual groups
 * are an overlay on top of the automatic grouping: a fragment can sit in a
 * manual box and still belong to its automatic group.
 */

package manual

import (
	"context"
	"fmt"
	"sort"

	"github.com/adverant/nexus/notegroup-worker/internal/errors"
	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
	"github.com/adverant/nexus/notegroup-worker/internal/logging"
	"github.com/google/uuid"
	"github.com/tidwall/rtree"
)

// Action is a manual edit on one group
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Store is the persistence collaborator the handler writes through
type Store interface {
	LoadFragments(ctx context.Context, imageID string) ([]grouping.TextFragment, error)
	LoadGroups(ctx context.Context, imageID string, fragments []grouping.TextFragment) ([]grouping.Group, error)
	SaveGroup(ctx context.Context, imageID string, group grouping.Group) (grouping.Group, error)
	DeleteGroup(ctx context.Context, groupID string) (bool, error)
	ImageOf(ctx context.Context, groupID string) (string, bool, error)
}

// Request is one manual edit
type Request struct {
	Action  Action                `json:"action"`
	GroupID string                `json:"groupId,omitempty"`
	Box     *grouping.BoundingBox `json:"boundingBox,omitempty"`
	ImageID string                `json:"imageId"`
}

// Outcome is either the stored group (create/update) or a deletion signal
type Outcome struct {
	Group     *grouping.Group `json:"group,omitempty"`
	Deleted   bool            `json:"deleted"`
	DeletedID string          `json:"deletedId,omitempty"`
}

// Handler applies manual edits against a Store
type Handler struct {
	store  Store
	logger *logging.Logger
	newID  func() string
}

// NewHandler creates a new manual override handler
func NewHandler(store Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewLogger("manual")
	}
	return &Handler{
		store:  store,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
	}
}

// Apply validates the request and runs the action
func (h *Handler) Apply(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionCreate:
		return h.create(ctx, req)
	case ActionUpdate:
		return h.update(ctx, req)
	default:
		return h.delete(ctx, req)
	}
}

// Validate fails fast on missing fields before any store is touched
func (r Request) Validate() error {
	if r.ImageID == "" {
		return errors.NewInvalidInputError("imageId", "is required")
	}

	switch r.Action {
	case ActionCreate, ActionUpdate:
		if r.Box == nil {
			return errors.NewInvalidInputError("boundingBox", fmt.Sprintf("is required for %s", r.Action))
		}
		if !r.Box.IsValid() {
			return errors.NewInvalidInputError("boundingBox", "width and height must be positive and origin non-negative")
		}
		if r.Action == ActionUpdate && r.GroupID == "" {
			return errors.NewInvalidInputError("groupId", "is required for update")
		}
	case ActionDelete:
		if r.GroupID == "" {
			return errors.NewInvalidInputError("groupId", "is required for delete")
		}
	case "":
		return errors.NewInvalidInputError("action", "is required")
	default:
		return errors.NewInvalidInputError("action", fmt.Sprintf("unknown action %q", r.Action))
	}
	return nil
}

func (h *Handler) create(ctx context.Context, req Request) (*Outcome, error) {
	fragments, err := h.store.LoadFragments(ctx, req.ImageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fragments: %w", err)
	}

	groupID := h.newID()
	group := grouping.Group{
		ID:          groupID,
		BoundingBox: *req.Box,
		Members:     ReassignMembers(groupID, *req.Box, fragments),
		Confidence:  1.0,
		Origin:      grouping.OriginManual,
	}

	stored, err := h.store.SaveGroup(ctx, req.ImageID, group)
	if err != nil {
		return nil, fmt.Errorf("failed to save manual group: %w", err)
	}

	h.logger.Info("Manual group created", "image", req.ImageID, "group", stored.ID, "members", len(stored.Members))
	return &Outcome{Group: &stored}, nil
}

func (h *Handler) update(ctx context.Context, req Request) (*Outcome, error) {
	fragments, err := h.store.LoadFragments(ctx, req.ImageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fragments: %w", err)
	}

	groups, err := h.store.LoadGroups(ctx, req.ImageID, fragments)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}

	var existing *grouping.Group
	for i := range groups {
		if groups[i].ID == req.GroupID {
			existing = &groups[i]
			break
		}
	}
	if existing == nil {
		return nil, errors.NewNotFoundError(req.ImageID, req.GroupID)
	}

	// An edited automatic group becomes manual under a new id. Automatic ids
	// are derived from members, so keeping the id would let the next
	// detection run overwrite the edit.
	replaced := ""
	if existing.Origin != grouping.OriginManual {
		replaced = existing.ID
		existing.ID = h.newID()
	}

	existing.BoundingBox = *req.Box
	existing.Members = ReassignMembers(existing.ID, *req.Box, fragments)
	existing.Confidence = 1.0
	existing.Origin = grouping.OriginManual

	stored, err := h.store.SaveGroup(ctx, req.ImageID, *existing)
	if err != nil {
		return nil, fmt.Errorf("failed to save manual group: %w", err)
	}

	if replaced != "" {
		if _, err := h.store.DeleteGroup(ctx, replaced); err != nil {
			return nil, fmt.Errorf("failed to remove replaced automatic group %s: %w", replaced, err)
		}
		h.logger.Debug("Automatic group converted to manual", "image", req.ImageID, "from", replaced, "to", stored.ID)
	}

	h.logger.Info("Manual group updated", "image", req.ImageID, "group", stored.ID, "members", len(stored.Members))
	return &Outcome{Group: &stored}, nil
}

func (h *Handler) delete(ctx context.Context, req Request) (*Outcome, error) {
	owner, found, err := h.store.ImageOf(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up group: %w", err)
	}
	if !found || owner != req.ImageID {
		return nil, errors.NewNotFoundError(req.ImageID, req.GroupID)
	}

	deleted, err := h.store.DeleteGroup(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete group: %w", err)
	}
	if !deleted {
		return nil, errors.NewNotFoundError(req.ImageID, req.GroupID)
	}

	h.logger.Info("Manual group deleted", "image", req.ImageID, "group", req.GroupID)
	return &Outcome{Deleted: true, DeletedID: req.GroupID}, nil
}

// ReassignMembers returns the fragments whose center point lies inside box,
// in input order. Points on the box edge count as inside.
func ReassignMembers(groupID string, box grouping.BoundingBox, fragments []grouping.TextFragment) []grouping.TextFragment {
	var index rtree.RTreeG[int]
	for i, f := range fragments {
		cx, cy := f.BoundingBox.Center()
		pt := [2]float64{cx, cy}
		index.Insert(pt, pt, i)
	}

	var hits []int
	index.Search(
		[2]float64{box.Left, box.Top},
		[2]float64{box.Right(), box.Bottom()},
		func(min, max [2]float64, i int) bool {
			if box.ContainsPoint(min[0], min[1]) {
				hits = append(hits, i)
			}
			return true
		},
	)
	sort.Ints(hits)

	members := make([]grouping.TextFragment, 0, len(hits))
	for _, i := range hits {
		members = append(members, fragments[i])
	}
	return members
}
