/**
 * Tesseract OCR collaborator
 *
 * Turns an image into positioned text fragments for the grouping engine.
 * Line-level recognition is the default; word-level is available for dense
 * whiteboards where lines run across several notes.
 */

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/notegroup-worker/internal/errors"
	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
	"github.com/otiai10/gosseract/v2"
)

// Level is the granularity fragments are recognized at
type Level string

const (
	LevelLine Level = "line"
	LevelWord Level = "word"
)

// Recognizer produces text fragments from image bytes
type Recognizer interface {
	Recognize(ctx context.Context, imageID string, imageData []byte) ([]grouping.TextFragment, error)
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language string
	Level    Level
}

// TesseractOCR recognizes fragments with Tesseract
type TesseractOCR struct {
	language string
	level    Level
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) (*TesseractOCR, error) {
	if cfg == nil {
		cfg = &TesseractConfig{}
	}

	language := cfg.Language
	if language == "" {
		language = "eng"
	}

	level := cfg.Level
	switch level {
	case "":
		level = LevelLine
	case LevelLine, LevelWord:
	default:
		return nil, fmt.Errorf("unsupported OCR level %q", level)
	}

	return &TesseractOCR{language: language, level: level}, nil
}

// Recognize runs Tesseract over one image
func (t *TesseractOCR) Recognize(ctx context.Context, imageID string, imageData []byte) ([]grouping.TextFragment, error) {
	if len(imageData) == 0 {
		return nil, errors.NewInvalidInputError("imageData", "is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewOCRFailedError(imageID, err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return nil, errors.NewOCRFailedError(imageID, fmt.Errorf("failed to set language: %w", err))
	}
	if err := client.SetImageFromBytes(imageData); err != nil {
		return nil, errors.NewOCRFailedError(imageID, fmt.Errorf("failed to set image: %w", err))
	}

	iteratorLevel, kind := gosseract.RIL_TEXTLINE, grouping.KindLine
	if t.level == LevelWord {
		iteratorLevel, kind = gosseract.RIL_WORD, grouping.KindWord
	}

	boxes, err := client.GetBoundingBoxes(iteratorLevel)
	if err != nil {
		return nil, errors.NewOCRFailedError(imageID, fmt.Errorf("tesseract OCR failed: %w", err))
	}

	return toFragments(boxes, kind), nil
}

// toFragments converts Tesseract boxes, dropping blank and degenerate ones.
// Tesseract reports confidence on a 0-100 scale.
func toFragments(boxes []gosseract.BoundingBox, kind grouping.FragmentKind) []grouping.TextFragment {
	prefix := strings.ToLower(string(kind))
	fragments := make([]grouping.TextFragment, 0, len(boxes))

	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" || b.Box.Dx() <= 0 || b.Box.Dy() <= 0 {
			continue
		}

		confidence := b.Confidence / 100
		if confidence < 0 {
			confidence = 0
		} else if confidence > 1 {
			confidence = 1
		}

		fragments = append(fragments, grouping.TextFragment{
			ID:         fmt.Sprintf("%s-%04d", prefix, len(fragments)+1),
			Text:       text,
			Confidence: confidence,
			BoundingBox: grouping.BoundingBox{
				Left:   float64(b.Box.Min.X),
				Top:    float64(b.Box.Min.Y),
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
			Kind: kind,
		})
	}

	return fragments
}
