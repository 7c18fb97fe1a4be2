// Package extract turns uploaded images, PDFs and audio into plain text.
//
// The package only sequences third-party engines: OCR, PDF text decoding,
// page rasterization and speech-to-text are supplied through the interfaces
// below so that each can be swapped or faked independently.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtractionFailed  = errors.New("extraction failed")
)

// Kind is the declared media family of an uploaded file.
type Kind string

const (
	KindUnknown Kind = ""
	KindImage   Kind = "image"
	KindPDF     Kind = "pdf"
	KindAudio   Kind = "audio"
)

// SourceKind records which extraction path produced the text.
type SourceKind string

const (
	SourceImage   SourceKind = "image"
	SourcePDFText SourceKind = "pdf_text"
	SourcePDFOCR  SourceKind = "pdf_ocr"
	SourceAudio   SourceKind = "audio"
)

// Result is the output of a single extraction.
type Result struct {
	Text            string
	SourceKind      SourceKind
	Confidence      *float64
	Pages           *int
	Duration        *float64
	TranscriptChars *int
	Language        string
	Method          string
	Warning         string
}

// OCRText is the recognized text of one image and the engine's mean word confidence (0-100).
type OCRText struct {
	Text       string
	Confidence float64
}

type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (OCRText, error)
}

type PDFTextReader interface {
	// ReadText returns the concatenated text layer of every page and the page count.
	ReadText(ctx context.Context, path string) (string, int, error)
}

type PDFRasterizer interface {
	// Rasterize renders every page as an encoded image, in page order.
	Rasterize(ctx context.Context, path string, dpi float64) ([][]byte, error)
}

// Transcript is the speech-to-text output for one audio file. Duration is
// zero when the speech model does not report it.
type Transcript struct {
	Text     string
	Duration float64
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (Transcript, error)
}

// Options tunes the extraction policy.
type Options struct {
	MinPDFTextChars int
	PDFOCRDPI       float64
	OCRConcurrency  int
}

// Extractor routes a file to the engine that understands its kind.
type Extractor struct {
	ocr         OCREngine
	pdfText     PDFTextReader
	rasterizer  PDFRasterizer
	transcriber Transcriber
	opts        Options
}

// NewExtractor creates an Extractor. Any engine may be nil; extracting a kind
// whose engine is missing fails with ErrExtractionFailed.
func NewExtractor(ocr OCREngine, pdfText PDFTextReader, rasterizer PDFRasterizer, transcriber Transcriber, opts Options) *Extractor {
	if opts.MinPDFTextChars <= 0 {
		opts.MinPDFTextChars = 50
	}
	if opts.PDFOCRDPI <= 0 {
		opts.PDFOCRDPI = 300
	}
	if opts.OCRConcurrency <= 0 {
		opts.OCRConcurrency = 1
	}
	return &Extractor{
		ocr:         ocr,
		pdfText:     pdfText,
		rasterizer:  rasterizer,
		transcriber: transcriber,
		opts:        opts,
	}
}

// KindFromMIME maps a MIME type to the file family it belongs to.
func KindFromMIME(mimeType string) Kind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case mt == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	default:
		return KindUnknown
	}
}

// Extract pulls text out of the file at path according to kind.
func (e *Extractor) Extract(ctx context.Context, path string, kind Kind) (*Result, error) {
	start := time.Now()

	var (
		res *Result
		err error
	)
	switch kind {
	case KindImage:
		res, err = e.extractImage(ctx, path)
	case KindPDF:
		res, err = e.extractPDF(ctx, path)
	case KindAudio:
		res, err = e.extractAudio(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, kind)
	}
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Extraction failed")
		return nil, err
	}

	res.Language = detectLanguage(res.Text)

	log.Info().
		Str("source_kind", string(res.SourceKind)).
		Int("chars", len(res.Text)).
		Str("language", res.Language).
		Dur("duration", time.Since(start)).
		Msg("File extracted")

	return res, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (*Result, error) {
	if e.ocr == nil {
		return nil, fmt.Errorf("%w: image: OCR engine not configured", ErrExtractionFailed)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: image: read file: %w", ErrExtractionFailed, err)
	}

	out, err := e.ocr.Recognize(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: image: ocr: %w", ErrExtractionFailed, err)
	}

	confidence := round2(out.Confidence)
	return &Result{
		Text:       strings.TrimSpace(out.Text),
		SourceKind: SourceImage,
		Confidence: &confidence,
		Method:     "ocr",
	}, nil
}

func (e *Extractor) extractAudio(ctx context.Context, path string) (*Result, error) {
	if e.transcriber == nil {
		return nil, fmt.Errorf("%w: audio: transcriber not configured", ErrExtractionFailed)
	}

	tr, err := e.transcriber.Transcribe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: audio: transcribe: %w", ErrExtractionFailed, err)
	}

	text := strings.TrimSpace(tr.Text)
	chars := len([]rune(text))
	res := &Result{
		Text:            text,
		SourceKind:      SourceAudio,
		TranscriptChars: &chars,
		Method:          "speech_to_text",
	}
	if tr.Duration > 0 {
		d := round2(tr.Duration)
		res.Duration = &d
	}
	return res, nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
