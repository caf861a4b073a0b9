/**
 * Grouping Processor for the notegroup worker
 *
 * Orchestrates one image at a time:
 * - OCR (Tesseract) when the caller sends pixels instead of fragments
 * - Bounding-box grouping and overlap detection
 * - Persistence of fragments and automatic groups
 * - Manual overrides, overlap separation and similar-placement lookup
 *
 * Writes for the same image are serialized inside the process.
 */

package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/errors"
	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
	"github.com/adverant/nexus/notegroup-worker/internal/logging"
	"github.com/adverant/nexus/notegroup-worker/internal/manual"
	"github.com/adverant/nexus/notegroup-worker/internal/ocr"
	"github.com/adverant/nexus/notegroup-worker/internal/storage"
	"github.com/cenkalti/backoff/v4"
)

// GroupingProcessorInterface defines the operations the queue consumer drives
type GroupingProcessorInterface interface {
	DetectGroups(ctx context.Context, req *DetectRequest) (*DetectResponse, error)
	SeparateGroups(ctx context.Context, imageID string, groupIDs []string) (*grouping.SeparationResult, error)
	ApplyManual(ctx context.Context, req manual.Request) (*manual.Outcome, error)
	SimilarGroups(ctx context.Context, imageID string, groupID string, limit int) ([]storage.PlacementMatch, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	StorageManager *storage.StorageManager
	OCR            ocr.Recognizer   // optional; required only for image requests
	Options        grouping.Options // defaults for requests without options
	MaxImageSize   int64
	Logger         *logging.Logger
}

// DetectRequest is one detection run. Exactly one source is used, in order:
// Fragments, ImageData, ImageURL. With none, the image's stored fragments are
// re-grouped (served from cache when possible).
type DetectRequest struct {
	ImageID   string                  `json:"imageId"`
	Fragments []grouping.TextFragment `json:"fragments,omitempty"`
	ImageData []byte                  `json:"imageData,omitempty"`
	ImageURL  string                  `json:"imageUrl,omitempty"`
	Options   *grouping.Options       `json:"options,omitempty"`
}

// DetectResponse is the detection result plus worker metadata
type DetectResponse struct {
	ImageID             string           `json:"imageId"`
	Result              *grouping.Result `json:"result"`
	OverlappingGroupIDs []string         `json:"overlappingGroupIds"`
	FromCache           bool             `json:"fromCache"`
	ProcessingTimeMs    int64            `json:"processingTimeMs"`
}

// GroupingProcessor handles grouping requests
type GroupingProcessor struct {
	config  *ProcessorConfig
	storage *storage.StorageManager
	ocr     ocr.Recognizer
	manual  *manual.Handler
	logger  *logging.Logger

	httpClient *http.Client
	imageLocks sync.Map // imageID → *sync.Mutex
}

// NewGroupingProcessor creates a new grouping processor
func NewGroupingProcessor(cfg *ProcessorConfig) (*GroupingProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.StorageManager == nil {
		return nil, fmt.Errorf("storage manager is required")
	}

	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = 50 * 1024 * 1024
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("processor")
	}

	if cfg.OCR == nil {
		logger.Warn("No OCR configured: image requests will be rejected")
	}

	return &GroupingProcessor{
		config:     cfg,
		storage:    cfg.StorageManager,
		ocr:        cfg.OCR,
		manual:     manual.NewHandler(cfg.StorageManager, logger.Named("manual")),
		logger:     logger,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// DetectGroups runs the grouping pipeline for one image
func (p *GroupingProcessor) DetectGroups(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	startTime := time.Now()

	if req == nil || req.ImageID == "" {
		return nil, errors.NewInvalidInputError("imageId", "is required")
	}

	opts := p.config.Options
	if req.Options != nil {
		opts = req.Options.Merge(p.config.Options)
	}

	unlock := p.lockImage(req.ImageID)
	defer unlock()

	// Step 1: Resolve fragments
	fragments, fresh, err := p.resolveFragments(ctx, req)
	if err != nil {
		return nil, err
	}

	// Re-grouping stored fragments with the default options can come from cache
	if !fresh && req.Options == nil {
		if cached := p.storage.CachedResult(ctx, req.ImageID); cached != nil {
			p.logger.Debug("Detection served from cache", "image", req.ImageID)
			return p.respond(req.ImageID, cached, true, startTime), nil
		}
	}

	// Step 2: Group
	result, err := grouping.Detect(fragments, opts)
	if err != nil {
		return nil, err
	}

	// Step 3: Persist
	if fresh {
		if err := p.storage.SaveFragments(ctx, req.ImageID, fragments); err != nil {
			return nil, fmt.Errorf("failed to save fragments: %w", err)
		}
	}
	if _, err := p.storage.SaveGroups(ctx, req.ImageID, result.Groups); err != nil {
		return nil, fmt.Errorf("failed to save groups: %w", err)
	}
	if req.Options == nil {
		p.storage.CacheResult(ctx, req.ImageID, result)
	}

	resp := p.respond(req.ImageID, result, false, startTime)
	p.logger.Info("Groups detected",
		"image", req.ImageID,
		"fragments", len(fragments),
		"groups", len(result.Groups),
		"ungrouped", len(result.UngroupedFragments),
		"overlapping", len(resp.OverlappingGroupIDs),
		"confidence", result.Confidence,
		"duration_ms", resp.ProcessingTimeMs)

	return resp, nil
}

func (p *GroupingProcessor) respond(imageID string, result *grouping.Result, fromCache bool, startTime time.Time) *DetectResponse {
	overlapping := grouping.FindOverlapping(result.Groups)
	ids := make([]string, len(overlapping))
	for i, g := range overlapping {
		ids[i] = g.ID
	}
	return &DetectResponse{
		ImageID:             imageID,
		Result:              result,
		OverlappingGroupIDs: ids,
		FromCache:           fromCache,
		ProcessingTimeMs:    time.Since(startTime).Milliseconds(),
	}
}

// resolveFragments returns the fragments to group and whether they are new
// for this image (and so must be persisted).
func (p *GroupingProcessor) resolveFragments(ctx context.Context, req *DetectRequest) ([]grouping.TextFragment, bool, error) {
	if len(req.Fragments) > 0 {
		return req.Fragments, true, nil
	}

	if len(req.ImageData) > 0 || req.ImageURL != "" {
		if p.ocr == nil {
			return nil, false, errors.NewInvalidInputError("imageData", "OCR is not configured on this worker")
		}

		imageData, err := p.loadImage(ctx, req)
		if err != nil {
			return nil, false, err
		}

		fragments, err := p.ocr.Recognize(ctx, req.ImageID, imageData)
		if err != nil {
			return nil, false, err
		}
		p.logger.Info("OCR complete", "image", req.ImageID, "fragments", len(fragments))
		return fragments, true, nil
	}

	fragments, err := p.storage.LoadFragments(ctx, req.ImageID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load fragments: %w", err)
	}
	return fragments, false, nil
}

// loadImage loads image bytes from the request buffer or URL
func (p *GroupingProcessor) loadImage(ctx context.Context, req *DetectRequest) ([]byte, error) {
	if len(req.ImageData) > 0 {
		return req.ImageData, nil
	}

	p.logger.Info("Downloading image", "image", req.ImageID, "url", req.ImageURL)

	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	data, err := backoff.RetryWithData(func() ([]byte, error) {
		attempt++
		data, err := p.download(ctx, req.ImageURL)
		if err != nil {
			p.logger.Warn("Image download failed", "image", req.ImageID, "attempt", attempt, "error", err)
		}
		return data, err
	}, policy)
	if err != nil {
		return nil, errors.NewOCRFailedError(req.ImageID, fmt.Errorf("failed to download image: %w", err))
	}
	return data, nil
}

func (p *GroupingProcessor) download(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid image URL: %w", err))
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > p.config.MaxImageSize {
		return nil, backoff.Permanent(fmt.Errorf("image exceeds %d bytes", p.config.MaxImageSize))
	}
	return data, nil
}

// SeparateGroups re-splits the given groups of an image and replaces them
// in storage with the separated result.
func (p *GroupingProcessor) SeparateGroups(ctx context.Context, imageID string, groupIDs []string) (*grouping.SeparationResult, error) {
	if imageID == "" {
		return nil, errors.NewInvalidInputError("imageId", "is required")
	}
	if len(groupIDs) == 0 {
		return nil, errors.NewInvalidInputError("groupIds", "at least one group is required")
	}

	unlock := p.lockImage(imageID)
	defer unlock()

	fragments, err := p.storage.LoadFragments(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fragments: %w", err)
	}
	stored, err := p.storage.LoadGroups(ctx, imageID, fragments)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}

	byID := make(map[string]grouping.Group, len(stored))
	for _, g := range stored {
		byID[g.ID] = g
	}

	selected := make([]grouping.Group, 0, len(groupIDs))
	original := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		g, ok := byID[id]
		if !ok {
			return nil, errors.NewNotFoundError(imageID, id)
		}
		if original[id] {
			continue
		}
		original[id] = true
		selected = append(selected, g)
	}

	result := grouping.SeparateOverlapping(selected, fragments)

	kept := make(map[string]bool, len(result.Groups))
	for _, g := range result.Groups {
		kept[g.ID] = true
	}
	for id := range original {
		if kept[id] {
			continue
		}
		if _, err := p.storage.DeleteGroup(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to delete separated group %s: %w", id, err)
		}
	}
	for _, g := range result.Groups {
		if original[g.ID] {
			continue
		}
		if _, err := p.storage.SaveGroup(ctx, imageID, g); err != nil {
			return nil, fmt.Errorf("failed to save separated group %s: %w", g.ID, err)
		}
	}

	p.logger.Info("Groups separated",
		"image", imageID,
		"original", result.OriginalCount,
		"result", result.ResultCount)

	return &result, nil
}

// ApplyManual applies a user edit to an image's groups
func (p *GroupingProcessor) ApplyManual(ctx context.Context, req manual.Request) (*manual.Outcome, error) {
	if req.ImageID != "" {
		unlock := p.lockImage(req.ImageID)
		defer unlock()
	}
	return p.manual.Apply(ctx, req)
}

// SimilarGroups returns groups on other images placed like groupID
func (p *GroupingProcessor) SimilarGroups(ctx context.Context, imageID string, groupID string, limit int) ([]storage.PlacementMatch, error) {
	if imageID == "" || groupID == "" {
		return nil, errors.NewInvalidInputError("groupId", "imageId and groupId are required")
	}

	owner, found, err := p.storage.ImageOf(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !found || owner != imageID {
		return nil, errors.NewNotFoundError(imageID, groupID)
	}

	matches, err := p.storage.SimilarGroups(ctx, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar groups: %w", err)
	}

	others := make([]storage.PlacementMatch, 0, len(matches))
	for _, m := range matches {
		if m.ImageID != imageID {
			others = append(others, m)
		}
	}
	return others, nil
}

func (p *GroupingProcessor) lockImage(imageID string) func() {
	v, _ := p.imageLocks.LoadOrStore(imageID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
