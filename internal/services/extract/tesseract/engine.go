// Package tesseract adapts the Tesseract OCR engine to extract.OCREngine.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
	"github.com/samber/lo"

	"multimodal-agent/internal/services/extract"
)

// Engine creates a short-lived Tesseract client per call; gosseract clients
// are not safe for concurrent use.
type Engine struct {
	languages []string
}

func NewEngine(languages ...string) *Engine {
	return &Engine{languages: languages}
}

func (e *Engine) Recognize(ctx context.Context, image []byte) (extract.OCRText, error) {
	if err := ctx.Err(); err != nil {
		return extract.OCRText{}, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if len(e.languages) > 0 {
		if err := client.SetLanguage(e.languages...); err != nil {
			return extract.OCRText{}, fmt.Errorf("set language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return extract.OCRText{}, fmt.Errorf("load image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return extract.OCRText{}, fmt.Errorf("recognize: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return extract.OCRText{Text: text}, nil
	}
	mean := lo.SumBy(boxes, func(b gosseract.BoundingBox) float64 { return b.Confidence }) / float64(len(boxes))

	return extract.OCRText{Text: text, Confidence: mean}, nil
}
