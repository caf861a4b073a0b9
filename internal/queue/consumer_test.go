package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/errors"
	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
	"github.com/adverant/nexus/notegroup-worker/internal/logging"
	"github.com/adverant/nexus/notegroup-worker/internal/manual"
	"github.com/adverant/nexus/notegroup-worker/internal/processor"
	"github.com/adverant/nexus/notegroup-worker/internal/storage"
	"github.com/hibiken/asynq"
)

type fakeProcessor struct {
	detectResp *processor.DetectResponse
	err        error
	block      bool
	lastDetect *processor.DetectRequest
	lastGroups []string
	lastManual manual.Request
}

func (f *fakeProcessor) DetectGroups(ctx context.Context, req *processor.DetectRequest) (*processor.DetectResponse, error) {
	f.lastDetect = req
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.detectResp, nil
}

func (f *fakeProcessor) SeparateGroups(ctx context.Context, imageID string, groupIDs []string) (*grouping.SeparationResult, error) {
	f.lastGroups = groupIDs
	if f.err != nil {
		return nil, f.err
	}
	return &grouping.SeparationResult{OriginalCount: len(groupIDs), ResultCount: len(groupIDs)}, nil
}

func (f *fakeProcessor) ApplyManual(ctx context.Context, req manual.Request) (*manual.Outcome, error) {
	f.lastManual = req
	if f.err != nil {
		return nil, f.err
	}
	return &manual.Outcome{Deleted: true, DeletedID: req.GroupID}, nil
}

func (f *fakeProcessor) SimilarGroups(ctx context.Context, imageID string, groupID string, limit int) ([]storage.PlacementMatch, error) {
	return nil, f.err
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func newTestConsumer(proc processor.GroupingProcessorInterface, enq *fakeEnqueuer, autoSeparate bool) *Consumer {
	cfg := &ConsumerConfig{
		QueueName:         "notegroup",
		Concurrency:       1,
		Processor:         proc,
		ProcessingTimeout: 50,
		AutoSeparate:      autoSeparate,
	}
	return &Consumer{
		processor: proc,
		producer:  NewProducer(enq, cfg.QueueName, 0),
		config:    cfg,
		logger:    logging.NewLoggerTo(io.Discard, "queue", logging.LevelError),
	}
}

func mustTask(t *testing.T, taskType string, payload interface{}) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(taskType, data)
}

func TestHandleDetectEnqueuesSeparation(t *testing.T) {
	proc := &fakeProcessor{detectResp: &processor.DetectResponse{
		ImageID:             "img-1",
		Result:              &grouping.Result{},
		OverlappingGroupIDs: []string{"g1", "g2"},
	}}
	enq := &fakeEnqueuer{}
	c := newTestConsumer(proc, enq, true)

	task := mustTask(t, TypeDetect, DetectPayload{ImageID: "img-1", ImageData: []byte{1, 2, 3}})
	if err := c.handleDetect(context.Background(), task); err != nil {
		t.Fatalf("handleDetect failed: %v", err)
	}

	if proc.lastDetect == nil || proc.lastDetect.ImageID != "img-1" || string(proc.lastDetect.ImageData) != "\x01\x02\x03" {
		t.Errorf("processor received %+v", proc.lastDetect)
	}
	if len(enq.tasks) != 1 || enq.tasks[0].Type() != TypeSeparate {
		t.Fatalf("expected one separate task, got %d", len(enq.tasks))
	}

	var payload SeparatePayload
	if err := json.Unmarshal(enq.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("unmarshal separate payload: %v", err)
	}
	if payload.ImageID != "img-1" || len(payload.GroupIDs) != 2 {
		t.Errorf("separate payload = %+v", payload)
	}
}

func TestHandleDetectWithoutOverlapsOrAutoSeparate(t *testing.T) {
	tests := []struct {
		name         string
		overlapping  []string
		autoSeparate bool
	}{
		{"no overlaps", nil, true},
		{"auto separate disabled", []string{"g1", "g2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{detectResp: &processor.DetectResponse{
				ImageID:             "img-1",
				Result:              &grouping.Result{},
				OverlappingGroupIDs: tt.overlapping,
			}}
			enq := &fakeEnqueuer{}
			c := newTestConsumer(proc, enq, tt.autoSeparate)

			if err := c.handleDetect(context.Background(), mustTask(t, TypeDetect, DetectPayload{ImageID: "img-1"})); err != nil {
				t.Fatalf("handleDetect failed: %v", err)
			}
			if len(enq.tasks) != 0 {
				t.Errorf("unexpected %d enqueued tasks", len(enq.tasks))
			}
		})
	}
}

func TestHandleDetectEnqueueFailureIsNotFatal(t *testing.T) {
	proc := &fakeProcessor{detectResp: &processor.DetectResponse{
		ImageID:             "img-1",
		Result:              &grouping.Result{},
		OverlappingGroupIDs: []string{"g1", "g2"},
	}}
	c := newTestConsumer(proc, &fakeEnqueuer{err: fmt.Errorf("redis down")}, true)

	if err := c.handleDetect(context.Background(), mustTask(t, TypeDetect, DetectPayload{ImageID: "img-1"})); err != nil {
		t.Errorf("handleDetect failed: %v", err)
	}
}

func TestHandlersSkipRetryForPermanentErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"invalid input", errors.NewInvalidInputError("imageId", "is required"), true},
		{"not found", errors.NewNotFoundError("img", "g"), true},
		{"computation failure", errors.NewComputationFailureError("coverage", nil), true},
		{"storage failure", errors.NewStorageFailedError("img", "save groups", fmt.Errorf("reset")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConsumer(&fakeProcessor{err: tt.err}, &fakeEnqueuer{}, true)

			err := c.handleSeparate(context.Background(), mustTask(t, TypeSeparate, SeparatePayload{ImageID: "img", GroupIDs: []string{"g"}}))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := stderrors.Is(err, asynq.SkipRetry); got != tt.skipRetry {
				t.Errorf("SkipRetry = %v, want %v (err=%v)", got, tt.skipRetry, err)
			}
			if errors.CodeOf(err) != errors.CodeOf(tt.err) {
				t.Errorf("code = %s, want %s", errors.CodeOf(err), errors.CodeOf(tt.err))
			}
		})
	}
}

func TestHandlerRejectsMalformedPayload(t *testing.T) {
	c := newTestConsumer(&fakeProcessor{}, &fakeEnqueuer{}, true)

	err := c.handleManual(context.Background(), asynq.NewTask(TypeManual, []byte("{not json")))
	if !stderrors.Is(err, asynq.SkipRetry) || !errors.IsCode(err, errors.ErrorInvalidInput) {
		t.Errorf("expected INVALID_INPUT with SkipRetry, got %v", err)
	}
}

func TestHandleManualPassesRequest(t *testing.T) {
	proc := &fakeProcessor{}
	c := newTestConsumer(proc, &fakeEnqueuer{}, true)

	req := manual.Request{Action: manual.ActionDelete, GroupID: "g-1", ImageID: "img-1"}
	if err := c.handleManual(context.Background(), mustTask(t, TypeManual, req)); err != nil {
		t.Fatalf("handleManual failed: %v", err)
	}
	if proc.lastManual != req {
		t.Errorf("processor received %+v", proc.lastManual)
	}
}

func TestHandleDetectTimeout(t *testing.T) {
	c := newTestConsumer(&fakeProcessor{block: true}, &fakeEnqueuer{}, true)

	start := time.Now()
	err := c.handleDetect(context.Background(), mustTask(t, TypeDetect, DetectPayload{ImageID: "img-1"}))
	if !errors.IsCode(err, errors.ErrorProcessingTimeout) {
		t.Errorf("expected PROCESSING_TIMEOUT, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout was not applied")
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{4, 60 * time.Second},
		{40, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := retryDelay(tt.n, nil, nil); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}
