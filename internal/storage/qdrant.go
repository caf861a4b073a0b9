/**
 * Qdrant placement index for the notegroup worker
 *
 * Each group is indexed as a 4-d point: its center and size normalised to
 * the extent of its page. Nearest neighbours are groups drawn at a similar
 * place on other images (the same sticky note across photos of a board).
 * Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// PlacementDimensions is the size of a placement vector
const PlacementDimensions = 4

// PlacementIndex handles placement vector operations
type PlacementIndex struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
}

// PlacementMatch is a group found by a placement search
type PlacementMatch struct {
	GroupID string  `json:"groupId"`
	ImageID string  `json:"imageId"`
	Origin  string  `json:"origin"`
	Score   float32 `json:"score"`
}

// NewPlacementIndex connects to Qdrant and ensures the collection exists
func NewPlacementIndex(address string, collectionName string) (*PlacementIndex, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	idx := &PlacementIndex{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
	}

	if err := idx.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return idx, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *PlacementIndex) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     PlacementDimensions,
					Distance: qdrant.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// PlacementVector normalises a group box against its page extent
func PlacementVector(box grouping.BoundingBox, page grouping.BoundingBox) []float32 {
	if page.Width <= 0 || page.Height <= 0 {
		return nil
	}
	cx, cy := box.Center()
	return []float32{
		float32((cx - page.Left) / page.Width),
		float32((cy - page.Top) / page.Height),
		float32(box.Width / page.Width),
		float32(box.Height / page.Height),
	}
}

// UpsertGroups indexes the groups of one image
func (q *PlacementIndex) UpsertGroups(ctx context.Context, imageID string, groups []grouping.Group) error {
	if len(groups) == 0 {
		return nil
	}

	boxes := make([]grouping.BoundingBox, len(groups))
	for i, g := range groups {
		boxes[i] = g.BoundingBox
	}
	page := grouping.UnionBox(boxes)

	points := make([]*qdrant.PointStruct, 0, len(groups))
	for _, g := range groups {
		vector := PlacementVector(g.BoundingBox, page)
		if vector == nil {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id: pointID(g.ID),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: vector},
				},
			},
			Payload: map[string]*qdrant.Value{
				"image_id": stringValue(imageID),
				"group_id": stringValue(g.ID),
				"origin":   stringValue(string(g.Origin)),
			},
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert placements: %w", err)
	}
	return nil
}

// ReplaceImage drops every placement of the image and indexes groups in
// their place
func (q *PlacementIndex) ReplaceImage(ctx context.Context, imageID string, groups []grouping.Group) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: imageFilter(imageID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to clear placements (image=%s): %w", imageID, err)
	}
	return q.UpsertGroups(ctx, imageID, groups)
}

// SearchSimilar returns the groups nearest to the group's placement,
// excluding the query group itself.
func (q *PlacementIndex) SearchSimilar(ctx context.Context, groupID string, limit int) ([]PlacementMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	got, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collectionName,
		Ids:            []*qdrant.PointId{pointID(groupID)},
		WithVectors: &qdrant.WithVectorsSelector{
			SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get placement: %w", err)
	}
	if len(got.Result) == 0 || got.Result[0].Vectors.GetVector() == nil {
		return nil, fmt.Errorf("placement not found: %s", groupID)
	}

	results, err := q.client.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         got.Result[0].Vectors.GetVector().Data,
		Limit:          uint64(limit + 1),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search placements: %w", err)
	}

	matches := make([]PlacementMatch, 0, len(results.Result))
	for _, r := range results.Result {
		m := PlacementMatch{
			GroupID: r.Payload["group_id"].GetStringValue(),
			ImageID: r.Payload["image_id"].GetStringValue(),
			Origin:  r.Payload["origin"].GetStringValue(),
			Score:   r.Score,
		}
		if m.GroupID == groupID {
			continue
		}
		matches = append(matches, m)
		if len(matches) == limit {
			break
		}
	}
	return matches, nil
}

// DeleteGroup removes a group's placement point
func (q *PlacementIndex) DeleteGroup(ctx context.Context, groupID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{pointID(groupID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete placement: %w", err)
	}
	return nil
}

// GetCollectionInfo returns collection statistics
func (q *PlacementIndex) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"points_count":    info.Result.GetPointsCount(),
		"status":          info.Result.GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *PlacementIndex) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func pointID(groupID string) *qdrant.PointId {
	return &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Uuid{Uuid: groupID},
	}
}

// imageFilter matches every point whose image_id payload equals imageID
func imageFilter(imageID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "image_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: imageID},
						},
					},
				},
			},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}
