/**
 * Redis result cache
 *
 * Caches the latest detection result per image and publishes group change
 * events for UI streaming. Any write to an image's groups invalidates its
 * cached result.
 */

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
	"github.com/redis/go-redis/v9"
)

// ResultCache stores detection results in Redis
type ResultCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// GroupEvent is published whenever an image's groups change
type GroupEvent struct {
	Event     string `json:"event"`
	ImageID   string `json:"imageId"`
	GroupID   string `json:"groupId,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewResultCache connects to Redis and verifies the connection
func NewResultCache(redisURL string, namespace string, ttl time.Duration) (*ResultCache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newResultCache(client, namespace, ttl), nil
}

func newResultCache(client *redis.Client, namespace string, ttl time.Duration) *ResultCache {
	if namespace == "" {
		namespace = "notegroup"
	}
	return &ResultCache{client: client, namespace: namespace, ttl: ttl}
}

func (c *ResultCache) resultKey(imageID string) string {
	return fmt.Sprintf("%s:results:%s", c.namespace, imageID)
}

func (c *ResultCache) eventsChannel() string {
	return fmt.Sprintf("%s:events", c.namespace)
}

// Get returns the cached result for an image, or nil on a miss
func (c *ResultCache) Get(ctx context.Context, imageID string) (*grouping.Result, error) {
	data, err := c.client.Get(ctx, c.resultKey(imageID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached result: %w", err)
	}

	var result grouping.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	return &result, nil
}

// Put caches a result for the configured TTL
func (c *ResultCache) Put(ctx context.Context, imageID string, result *grouping.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.client.Set(ctx, c.resultKey(imageID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// Invalidate drops the cached result of an image
func (c *ResultCache) Invalidate(ctx context.Context, imageID string) error {
	if err := c.client.Del(ctx, c.resultKey(imageID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached result: %w", err)
	}
	return nil
}

// Publish announces a group change on the events channel
func (c *ResultCache) Publish(ctx context.Context, event string, imageID string, groupID string) error {
	data, err := json.Marshal(GroupEvent{
		Event:     event,
		ImageID:   imageID,
		GroupID:   groupID,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := c.client.Publish(ctx, c.eventsChannel(), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *ResultCache) Close() error {
	return c.client.Close()
}
