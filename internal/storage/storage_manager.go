/**
 * Storage Manager for the notegroup worker
 *
 * Coordinates the group store (PostgreSQL or in-memory), the Qdrant
 * placement index and the Redis result cache. The group store is the source
 * of truth: its failures are retried with exponential backoff and surfaced;
 * index and cache failures are logged and never fail the write.
 */

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/errors"
	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
	"github.com/adverant/nexus/notegroup-worker/internal/logging"
	"github.com/cenkalti/backoff/v4"
)

// Backend is a source-of-truth group store
type Backend interface {
	SaveFragments(ctx context.Context, imageID string, fragments []grouping.TextFragment) error
	LoadFragments(ctx context.Context, imageID string) ([]grouping.TextFragment, error)
	SaveGroups(ctx context.Context, imageID string, groups []grouping.Group) ([]grouping.Group, error)
	LoadGroups(ctx context.Context, imageID string, fragments []grouping.TextFragment) ([]grouping.Group, error)
	SaveGroup(ctx context.Context, imageID string, group grouping.Group) (grouping.Group, error)
	DeleteGroup(ctx context.Context, groupID string) (bool, error)
	ImageOf(ctx context.Context, groupID string) (string, bool, error)
}

// Placements is the similar-placement index kept beside the group store
type Placements interface {
	ReplaceImage(ctx context.Context, imageID string, groups []grouping.Group) error
	SearchSimilar(ctx context.Context, groupID string, limit int) ([]PlacementMatch, error)
	DeleteGroup(ctx context.Context, groupID string) error
	GetCollectionInfo(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

// ManagerConfig holds storage manager dependencies
type ManagerConfig struct {
	Backend    Backend
	Index      *PlacementIndex // optional
	Cache      *ResultCache    // optional
	Logger     *logging.Logger
	MaxRetries uint64
}

// StorageManager coordinates the group store, placement index and cache
type StorageManager struct {
	backend    Backend
	index      Placements
	cache      *ResultCache
	logger     *logging.Logger
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewStorageManager creates a new storage manager
func NewStorageManager(cfg *ManagerConfig) (*StorageManager, error) {
	if cfg == nil || cfg.Backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("storage")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	sm := &StorageManager{
		backend:    cfg.Backend,
		cache:      cfg.Cache,
		logger:     logger,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	if cfg.Index != nil {
		sm.index = cfg.Index
	}
	return sm, nil
}

func withRetry[T any](ctx context.Context, sm *StorageManager, imageID string, op string, fn func() (T, error)) (T, error) {
	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(sm.newBackOff(), sm.maxRetries), ctx)

	result, err := backoff.RetryWithData(func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil {
			if errors.IsPermanent(err) {
				return v, backoff.Permanent(err)
			}
			sm.logger.Warn("Storage operation failed", "op", op, "image", imageID, "attempt", attempt, "error", err)
		}
		return v, err
	}, policy)

	if err != nil && !errors.IsPermanent(err) {
		return result, errors.NewStorageFailedError(imageID, op, err)
	}
	return result, err
}

// SaveFragments persists the OCR fragments of an image
func (sm *StorageManager) SaveFragments(ctx context.Context, imageID string, fragments []grouping.TextFragment) error {
	_, err := withRetry(ctx, sm, imageID, "save fragments", func() (struct{}, error) {
		return struct{}{}, sm.backend.SaveFragments(ctx, imageID, fragments)
	})
	return err
}

// LoadFragments returns the OCR fragments of an image
func (sm *StorageManager) LoadFragments(ctx context.Context, imageID string) ([]grouping.TextFragment, error) {
	return withRetry(ctx, sm, imageID, "load fragments", func() ([]grouping.TextFragment, error) {
		return sm.backend.LoadFragments(ctx, imageID)
	})
}

// SaveGroups replaces the automatic groups of an image
func (sm *StorageManager) SaveGroups(ctx context.Context, imageID string, groups []grouping.Group) ([]grouping.Group, error) {
	stored, err := withRetry(ctx, sm, imageID, "save groups", func() ([]grouping.Group, error) {
		return sm.backend.SaveGroups(ctx, imageID, groups)
	})
	if err != nil {
		return nil, err
	}

	if sm.index != nil {
		if err := sm.reindexImage(ctx, imageID); err != nil {
			sm.logger.Warn("Placement index update failed", "image", imageID, "error", err)
		}
	}
	sm.afterWrite(ctx, "groups:saved", imageID, "")
	return stored, nil
}

// LoadGroups returns every group of an image
func (sm *StorageManager) LoadGroups(ctx context.Context, imageID string, fragments []grouping.TextFragment) ([]grouping.Group, error) {
	return withRetry(ctx, sm, imageID, "load groups", func() ([]grouping.Group, error) {
		return sm.backend.LoadGroups(ctx, imageID, fragments)
	})
}

// SaveGroup upserts one group
func (sm *StorageManager) SaveGroup(ctx context.Context, imageID string, group grouping.Group) (grouping.Group, error) {
	stored, err := withRetry(ctx, sm, imageID, "save group", func() (grouping.Group, error) {
		return sm.backend.SaveGroup(ctx, imageID, group)
	})
	if err != nil {
		return grouping.Group{}, err
	}

	if sm.index != nil {
		if err := sm.reindexImage(ctx, imageID); err != nil {
			sm.logger.Warn("Placement index update failed", "image", imageID, "group", stored.ID, "error", err)
		}
	}
	sm.afterWrite(ctx, "group:saved", imageID, stored.ID)
	return stored, nil
}

// DeleteGroup removes one group and reports whether it existed
func (sm *StorageManager) DeleteGroup(ctx context.Context, groupID string) (bool, error) {
	imageID, err := withRetry(ctx, sm, "", "look up group", func() (string, error) {
		id, _, err := sm.backend.ImageOf(ctx, groupID)
		return id, err
	})
	if err != nil {
		return false, err
	}

	deleted, err := withRetry(ctx, sm, imageID, "delete group", func() (bool, error) {
		return sm.backend.DeleteGroup(ctx, groupID)
	})
	if err != nil || !deleted {
		return deleted, err
	}

	if sm.index != nil {
		if err := sm.index.DeleteGroup(ctx, groupID); err != nil {
			sm.logger.Warn("Placement index delete failed", "group", groupID, "error", err)
		}
	}
	if imageID != "" {
		sm.afterWrite(ctx, "group:deleted", imageID, groupID)
	}
	return true, nil
}

// ImageOf returns the image a group belongs to
func (sm *StorageManager) ImageOf(ctx context.Context, groupID string) (string, bool, error) {
	var found bool
	imageID, err := withRetry(ctx, sm, "", "look up group", func() (string, error) {
		id, ok, err := sm.backend.ImageOf(ctx, groupID)
		found = ok
		return id, err
	})
	return imageID, found, err
}

// SimilarGroups returns groups placed like groupID on other images
func (sm *StorageManager) SimilarGroups(ctx context.Context, groupID string, limit int) ([]PlacementMatch, error) {
	if sm.index == nil {
		return nil, fmt.Errorf("placement index is not configured")
	}
	return sm.index.SearchSimilar(ctx, groupID, limit)
}

// CachedResult returns a cached detection result, nil on miss or without a cache
func (sm *StorageManager) CachedResult(ctx context.Context, imageID string) *grouping.Result {
	if sm.cache == nil {
		return nil
	}
	result, err := sm.cache.Get(ctx, imageID)
	if err != nil {
		sm.logger.Warn("Result cache read failed", "image", imageID, "error", err)
		return nil
	}
	return result
}

// CacheResult stores a detection result
func (sm *StorageManager) CacheResult(ctx context.Context, imageID string, result *grouping.Result) {
	if sm.cache == nil {
		return
	}
	if err := sm.cache.Put(ctx, imageID, result); err != nil {
		sm.logger.Warn("Result cache write failed", "image", imageID, "error", err)
	}
}

// reindexImage rewrites the image's placements from the group store, so
// points of replaced automatic groups do not outlive them.
func (sm *StorageManager) reindexImage(ctx context.Context, imageID string) error {
	groups, err := sm.backend.LoadGroups(ctx, imageID, nil)
	if err != nil {
		return err
	}
	return sm.index.ReplaceImage(ctx, imageID, groups)
}

func (sm *StorageManager) afterWrite(ctx context.Context, event string, imageID string, groupID string) {
	if sm.cache == nil {
		return
	}
	if err := sm.cache.Invalidate(ctx, imageID); err != nil {
		sm.logger.Warn("Result cache invalidation failed", "image", imageID, "error", err)
	}
	if err := sm.cache.Publish(ctx, event, imageID, groupID); err != nil {
		sm.logger.Warn("Group event publish failed", "image", imageID, "event", event, "error", err)
	}
}

// GetStats returns statistics from the configured systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{}

	if pg, ok := sm.backend.(*PostgresClient); ok {
		pgStats := pg.GetStats()
		stats["postgres"] = map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		}
	}

	if sm.index != nil {
		qdrantStats, err := sm.index.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var firstErr error

	if closer, ok := sm.backend.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close group store: %w", err)
		}
	}
	if sm.index != nil {
		if err := sm.index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close Qdrant: %w", err)
		}
	}
	if sm.cache != nil {
		if err := sm.cache.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close Redis: %w", err)
		}
	}

	return firstErr
}
