/**
 * Task payloads and producer for the notegroup queue
 *
 * Image bytes arrive either as a base64 string or as a serialized Node.js
 * Buffer object ({"type":"Buffer","data":[...]}) from TypeScript producers.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/errors"
	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
	"github.com/adverant/nexus/notegroup-worker/internal/manual"
	"github.com/hibiken/asynq"
)

// Task types
const (
	TypeDetect   = "grouping:detect"
	TypeSeparate = "grouping:separate"
	TypeManual   = "grouping:manual"
	TypeSimilar  = "grouping:similar"
)

// DetectPayload is the payload of a grouping:detect task
type DetectPayload struct {
	ImageID   string                  `json:"imageId"`
	Fragments []grouping.TextFragment `json:"fragments,omitempty"`
	ImageData []byte                  `json:"-"`
	ImageURL  string                  `json:"imageUrl,omitempty"`
	Options   *grouping.Options       `json:"options,omitempty"`
}

// SeparatePayload is the payload of a grouping:separate task
type SeparatePayload struct {
	ImageID  string   `json:"imageId"`
	GroupIDs []string `json:"groupIds"`
}

// SimilarPayload is the payload of a grouping:similar task
type SimilarPayload struct {
	ImageID string `json:"imageId"`
	GroupID string `json:"groupId"`
	Limit   int    `json:"limit,omitempty"`
}

// UnmarshalJSON accepts imageData as a base64 string or a Node.js Buffer object
func (p *DetectPayload) UnmarshalJSON(data []byte) error {
	type Alias DetectPayload
	aux := &struct {
		ImageData interface{} `json:"imageData,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal detect payload: %w", err)
	}

	imageData, err := decodeBuffer(aux.ImageData)
	if err != nil {
		return err
	}
	p.ImageData = imageData
	return nil
}

// MarshalJSON writes imageData as base64
func (p DetectPayload) MarshalJSON() ([]byte, error) {
	type Alias DetectPayload
	return json.Marshal(&struct {
		ImageData []byte `json:"imageData,omitempty"`
		Alias
	}{
		ImageData: p.ImageData,
		Alias:     Alias(p),
	})
}

func decodeBuffer(v interface{}) ([]byte, error) {
	switch buf := v.(type) {
	case nil:
		return nil, nil

	case string:
		decoded, err := base64.StdEncoding.DecodeString(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 imageData: %w", err)
		}
		return decoded, nil

	case map[string]interface{}:
		if bufferType, ok := buf["type"].(string); !ok || bufferType != "Buffer" {
			return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := buf["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("Buffer object missing 'data' array")
		}
		out := make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return nil, fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			out[i] = byte(byteVal)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("imageData must be either base64 string or Buffer object, got %T", v)
	}
}

// parsePayload decodes a task payload; malformed payloads are INVALID_INPUT
func parsePayload(task *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		return errors.NewInvalidInputError("payload", err.Error())
	}
	return nil
}

// NewDetectTask builds a grouping:detect task
func NewDetectTask(p DetectPayload, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detect payload: %w", err)
	}
	return asynq.NewTask(TypeDetect, payload, opts...), nil
}

// NewSeparateTask builds a grouping:separate task
func NewSeparateTask(p SeparatePayload, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal separate payload: %w", err)
	}
	return asynq.NewTask(TypeSeparate, payload, opts...), nil
}

// NewManualTask builds a grouping:manual task
func NewManualTask(req manual.Request, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manual payload: %w", err)
	}
	return asynq.NewTask(TypeManual, payload, opts...), nil
}

// NewSimilarTask builds a grouping:similar task
func NewSimilarTask(p SimilarPayload, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal similar payload: %w", err)
	}
	return asynq.NewTask(TypeSimilar, payload, opts...), nil
}

// Enqueuer submits tasks to the queue
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Producer enqueues grouping tasks
type Producer struct {
	enqueuer  Enqueuer
	queueName string
	retention time.Duration
}

// NewProducer creates a producer on top of an asynq client
func NewProducer(enqueuer Enqueuer, queueName string, retention time.Duration) *Producer {
	return &Producer{enqueuer: enqueuer, queueName: queueName, retention: retention}
}

func (p *Producer) options() []asynq.Option {
	opts := []asynq.Option{asynq.Queue(p.queueName)}
	if p.retention > 0 {
		opts = append(opts, asynq.Retention(p.retention))
	}
	return opts
}

// EnqueueDetect submits a detection run
func (p *Producer) EnqueueDetect(ctx context.Context, payload DetectPayload) (*asynq.TaskInfo, error) {
	task, err := NewDetectTask(payload, p.options()...)
	if err != nil {
		return nil, err
	}
	return p.enqueuer.EnqueueContext(ctx, task)
}

// EnqueueSeparate submits a separation of overlapping groups. Identical
// requests within a minute collapse into one task.
func (p *Producer) EnqueueSeparate(ctx context.Context, payload SeparatePayload) (*asynq.TaskInfo, error) {
	opts := append(p.options(), asynq.Unique(time.Minute))
	task, err := NewSeparateTask(payload, opts...)
	if err != nil {
		return nil, err
	}
	info, err := p.enqueuer.EnqueueContext(ctx, task)
	if stderrors.Is(err, asynq.ErrDuplicateTask) {
		return nil, nil
	}
	return info, err
}
