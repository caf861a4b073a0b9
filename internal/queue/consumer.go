/**
 * Queue Consumer for the notegroup worker
 *
 * Consumes grouping tasks from Redis via Asynq. Results are written back with
 * the task's result writer so producers can read them from the task info.
 * Caller mistakes (INVALID_INPUT, NOT_FOUND) and broken invariants are not
 * retried.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/errors"
	"github.com/adverant/nexus/notegroup-worker/internal/logging"
	"github.com/adverant/nexus/notegroup-worker/internal/manual"
	"github.com/adverant/nexus/notegroup-worker/internal/processor"
	"github.com/hibiken/asynq"
)

// Consumer handles task consumption from the Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.GroupingProcessorInterface
	producer  *Producer
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.GroupingProcessorInterface
	ProcessingTimeout int64 // Processing timeout in milliseconds (default: 300000 = 5 minutes)
	ResultRetention   time.Duration
	AutoSeparate      bool // enqueue grouping:separate when detection leaves overlaps
	Logger            *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("queue")
	}

	// Parse Redis connection options
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Client is used to enqueue follow-up separation tasks
	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "code", errors.CodeOf(err), "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		producer:  NewProducer(client, cfg.QueueName, cfg.ResultRetention),
		config:    cfg,
		logger:    logger,
	}
	consumer.register(mux)

	return consumer, nil
}

func (c *Consumer) register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeDetect, c.handleDetect)
	mux.HandleFunc(TypeSeparate, c.handleSeparate)
	mux.HandleFunc(TypeManual, c.handleManual)
	mux.HandleFunc(TypeSimilar, c.handleSimilar)
}

func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	const maxDelay = 60 * time.Second
	if n < 0 {
		n = 0
	}
	if n >= 4 {
		return maxDelay
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	c.logger.Info("Queue consumer stopped")
	return nil
}

// Producer returns the producer sharing the consumer's Redis connection
func (c *Consumer) Producer() *Producer {
	return c.producer
}

func (c *Consumer) timeout() time.Duration {
	timeout := time.Duration(300000) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	return timeout
}

// run executes fn under the processing timeout and maps its error for asynq
func (c *Consumer) run(ctx context.Context, task *asynq.Task, imageID string, fn func(ctx context.Context) (interface{}, error)) error {
	startTime := time.Now()
	timeout := c.timeout()

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(processCtx)
	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			c.logger.Error("Task timed out", "type", task.Type(), "image", imageID, "duration", duration, "timeout", timeout)
			return fmt.Errorf("processing timeout: %w", errors.NewProcessingTimeoutError(imageID, timeout, err))
		}

		c.logger.Warn("Task failed", "type", task.Type(), "image", imageID, "duration", duration, "error", err)
		if errors.IsPermanent(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("%s failed: %w", task.Type(), err)
	}

	c.writeResult(task, result)
	c.logger.Debug("Task completed", "type", task.Type(), "image", imageID, "duration", duration)
	return nil
}

func (c *Consumer) writeResult(task *asynq.Task, result interface{}) {
	w := task.ResultWriter()
	if w == nil || result == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("Failed to marshal task result", "type", task.Type(), "error", err)
		return
	}
	if _, err := w.Write(data); err != nil {
		c.logger.Warn("Failed to write task result", "type", task.Type(), "error", err)
	}
}

// handleDetect runs a detection and schedules separation of any overlaps
func (c *Consumer) handleDetect(ctx context.Context, task *asynq.Task) error {
	var payload DetectPayload
	if err := parsePayload(task, &payload); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	return c.run(ctx, task, payload.ImageID, func(ctx context.Context) (interface{}, error) {
		resp, err := c.processor.DetectGroups(ctx, &processor.DetectRequest{
			ImageID:   payload.ImageID,
			Fragments: payload.Fragments,
			ImageData: payload.ImageData,
			ImageURL:  payload.ImageURL,
			Options:   payload.Options,
		})
		if err != nil {
			return nil, err
		}

		if c.config.AutoSeparate && len(resp.OverlappingGroupIDs) > 0 {
			if _, err := c.producer.EnqueueSeparate(ctx, SeparatePayload{
				ImageID:  resp.ImageID,
				GroupIDs: resp.OverlappingGroupIDs,
			}); err != nil {
				c.logger.Warn("Failed to enqueue separation", "image", resp.ImageID, "error", err)
			} else {
				c.logger.Info("Separation enqueued", "image", resp.ImageID, "groups", len(resp.OverlappingGroupIDs))
			}
		}
		return resp, nil
	})
}

func (c *Consumer) handleSeparate(ctx context.Context, task *asynq.Task) error {
	var payload SeparatePayload
	if err := parsePayload(task, &payload); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	return c.run(ctx, task, payload.ImageID, func(ctx context.Context) (interface{}, error) {
		return c.processor.SeparateGroups(ctx, payload.ImageID, payload.GroupIDs)
	})
}

func (c *Consumer) handleManual(ctx context.Context, task *asynq.Task) error {
	var req manual.Request
	if err := parsePayload(task, &req); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	return c.run(ctx, task, req.ImageID, func(ctx context.Context) (interface{}, error) {
		return c.processor.ApplyManual(ctx, req)
	})
}

func (c *Consumer) handleSimilar(ctx context.Context, task *asynq.Task) error {
	var payload SimilarPayload
	if err := parsePayload(task, &payload); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	return c.run(ctx, task, payload.ImageID, func(ctx context.Context) (interface{}, error) {
		return c.processor.SimilarGroups(ctx, payload.ImageID, payload.GroupID, payload.Limit)
	})
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency":   c.config.Concurrency,
		"queue":         c.config.QueueName,
		"auto_separate": c.config.AutoSeparate,
	}
}
