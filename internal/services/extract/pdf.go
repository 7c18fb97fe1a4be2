package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// pdfStep is a state of the PDF fallback sequence.
type pdfStep string

const (
	stepAttemptText pdfStep = "attempt_text"
	stepAttemptOCR  pdfStep = "attempt_ocr"
	stepFail        pdfStep = "fail"
	stepDone        pdfStep = "done"
)

// stepOutcome is what a step reports back to the sequence.
type stepOutcome string

const (
	outcomeOK           stepOutcome = "ok"
	outcomeInsufficient stepOutcome = "insufficient"
	outcomeError        stepOutcome = "error"
)

// pdfTransitions is the whole fallback policy. One OCR attempt, never a loop.
var pdfTransitions = map[pdfStep]map[stepOutcome]pdfStep{
	stepAttemptText: {
		outcomeOK:           stepDone,
		outcomeInsufficient: stepAttemptOCR,
		outcomeError:        stepAttemptOCR,
	},
	stepAttemptOCR: {
		outcomeOK:           stepDone,
		outcomeInsufficient: stepDone,
		outcomeError:        stepFail,
	},
}

func nextPDFStep(cur pdfStep, outcome stepOutcome) pdfStep {
	if next, ok := pdfTransitions[cur][outcome]; ok {
		return next
	}
	return stepFail
}

// pdfRun accumulates what each step learned about the document.
type pdfRun struct {
	trace      []pdfStep
	text       string
	pages      int
	source     SourceKind
	confidence *float64
	textErr    error
	ocrErr     error
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (*Result, error) {
	run := &pdfRun{}
	step := stepAttemptText

	for step != stepDone && step != stepFail {
		run.trace = append(run.trace, step)

		var outcome stepOutcome
		switch step {
		case stepAttemptText:
			outcome = e.attemptPDFText(ctx, path, run)
		case stepAttemptOCR:
			outcome = e.attemptPDFOCR(ctx, path, run)
		}

		log.Debug().Str("step", string(step)).Str("outcome", string(outcome)).Msg("PDF extraction step")
		step = nextPDFStep(step, outcome)
	}
	run.trace = append(run.trace, step)

	if step == stepDone {
		res := &Result{
			Text:       run.text,
			SourceKind: run.source,
			Confidence: run.confidence,
			Method:     methodFor(run.source),
		}
		if run.pages > 0 {
			pages := run.pages
			res.Pages = &pages
		}
		return res, nil
	}

	// A short text layer still beats nothing when OCR could not run.
	if run.source == SourcePDFText && run.text != "" {
		pages := run.pages
		return &Result{
			Text:       run.text,
			SourceKind: SourcePDFText,
			Pages:      &pages,
			Method:     methodFor(SourcePDFText),
			Warning:    fmt.Sprintf("limited text extracted; OCR fallback failed: %v", run.ocrErr),
		}, nil
	}

	return nil, fmt.Errorf("%w: pdf: %w", ErrExtractionFailed, errors.Join(run.textErr, run.ocrErr))
}

func (e *Extractor) attemptPDFText(ctx context.Context, path string, run *pdfRun) stepOutcome {
	if e.pdfText == nil {
		run.textErr = errors.New("text reader not configured")
		return outcomeError
	}

	text, pages, err := e.pdfText.ReadText(ctx, path)
	if err != nil {
		run.textErr = fmt.Errorf("text layer: %w", err)
		return outcomeError
	}

	run.text = strings.TrimSpace(text)
	run.pages = pages
	run.source = SourcePDFText

	if len([]rune(run.text)) < e.opts.MinPDFTextChars {
		log.Warn().Int("chars", len(run.text)).Int("pages", pages).Msg("PDF appears to be scanned, attempting OCR")
		return outcomeInsufficient
	}
	return outcomeOK
}

func (e *Extractor) attemptPDFOCR(ctx context.Context, path string, run *pdfRun) stepOutcome {
	if e.rasterizer == nil || e.ocr == nil {
		run.ocrErr = errors.New("OCR not available")
		return outcomeError
	}

	images, err := e.rasterizer.Rasterize(ctx, path, e.opts.PDFOCRDPI)
	if err != nil {
		run.ocrErr = fmt.Errorf("rasterize: %w", err)
		return outcomeError
	}

	pages, err := e.ocrPages(ctx, images)
	if err != nil {
		run.ocrErr = err
		return outcomeError
	}

	texts := lo.FilterMap(pages, func(p OCRText, _ int) (string, bool) {
		t := strings.TrimSpace(p.Text)
		return t, t != ""
	})
	confidence := 0.0
	if len(pages) > 0 {
		confidence = round2(lo.SumBy(pages, func(p OCRText) float64 { return p.Confidence }) / float64(len(pages)))
	}

	run.text = strings.Join(texts, "\n\n")
	run.pages = len(images)
	run.source = SourcePDFOCR
	run.confidence = &confidence

	if run.text == "" {
		return outcomeInsufficient
	}
	return outcomeOK
}

// ocrPages recognizes every page with bounded concurrency, keeping page order.
func (e *Extractor) ocrPages(ctx context.Context, images [][]byte) ([]OCRText, error) {
	out := make([]OCRText, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.OCRConcurrency)
	for i, img := range images {
		g.Go(func() error {
			res, err := e.ocr.Recognize(gctx, img)
			if err != nil {
				return fmt.Errorf("ocr page %d: %w", i+1, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func methodFor(source SourceKind) string {
	if source == SourcePDFOCR {
		return "ocr_fallback"
	}
	return "text_extraction"
}
