package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOCR struct {
	byImage map[string]OCRText
	err     error
	calls   atomic.Int32
}

func (f *fakeOCR) Recognize(_ context.Context, image []byte) (OCRText, error) {
	f.calls.Add(1)
	if f.err != nil {
		return OCRText{}, f.err
	}
	return f.byImage[string(image)], nil
}

type fakePDFText struct {
	text  string
	pages int
	err   error
	calls int
}

func (f *fakePDFText) ReadText(context.Context, string) (string, int, error) {
	f.calls++
	return f.text, f.pages, f.err
}

type fakeRasterizer struct {
	pages [][]byte
	err   error
	calls int
}

func (f *fakeRasterizer) Rasterize(context.Context, string, float64) ([][]byte, error) {
	f.calls++
	return f.pages, f.err
}

type fakeTranscriber struct {
	transcript Transcript
	err        error
}

func (f *fakeTranscriber) Transcribe(context.Context, string) (Transcript, error) {
	return f.transcript, f.err
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

const longText = "This quarterly report describes revenue growth across every region and explains the drivers in detail."

func TestKindFromMIME(t *testing.T) {
	tests := []struct {
		mime     string
		expected Kind
	}{
		{"image/png", KindImage},
		{"image/jpeg", KindImage},
		{"IMAGE/GIF", KindImage},
		{"application/pdf", KindPDF},
		{"application/pdf; charset=binary", KindPDF},
		{"audio/mpeg", KindAudio},
		{"audio/x-wav", KindAudio},
		{"video/mp4", KindUnknown},
		{"text/plain", KindUnknown},
		{"", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindFromMIME(tt.mime))
		})
	}
}

func TestExtractor_UnsupportedFormat(t *testing.T) {
	e := NewExtractor(&fakeOCR{}, &fakePDFText{}, &fakeRasterizer{}, &fakeTranscriber{}, Options{})

	_, err := e.Extract(context.Background(), "/does/not/matter", KindUnknown)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.NotErrorIs(t, err, ErrExtractionFailed)
}

func TestExtractor_Image(t *testing.T) {
	path := writeTempFile(t, "scan.png", []byte("img"))

	t.Run("records OCR confidence", func(t *testing.T) {
		ocr := &fakeOCR{byImage: map[string]OCRText{"img": {Text: "  TODO: fix bug \n", Confidence: 91.456}}}
		e := NewExtractor(ocr, nil, nil, nil, Options{})

		res, err := e.Extract(context.Background(), path, KindImage)

		require.NoError(t, err)
		assert.Equal(t, SourceImage, res.SourceKind)
		assert.Equal(t, "TODO: fix bug", res.Text)
		require.NotNil(t, res.Confidence)
		assert.Equal(t, 91.46, *res.Confidence)
		assert.Nil(t, res.Pages)
	})

	t.Run("engine error is an extraction failure", func(t *testing.T) {
		e := NewExtractor(&fakeOCR{err: errors.New("tesseract crashed")}, nil, nil, nil, Options{})

		_, err := e.Extract(context.Background(), path, KindImage)

		assert.ErrorIs(t, err, ErrExtractionFailed)
		assert.Contains(t, err.Error(), "tesseract crashed")
	})

	t.Run("missing engine is an extraction failure", func(t *testing.T) {
		e := NewExtractor(nil, nil, nil, nil, Options{})

		_, err := e.Extract(context.Background(), path, KindImage)

		assert.ErrorIs(t, err, ErrExtractionFailed)
	})

	t.Run("missing file is an extraction failure", func(t *testing.T) {
		e := NewExtractor(&fakeOCR{}, nil, nil, nil, Options{})

		_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "gone.png"), KindImage)

		assert.ErrorIs(t, err, ErrExtractionFailed)
	})
}

func TestExtractor_Audio(t *testing.T) {
	t.Run("records transcript length and duration", func(t *testing.T) {
		tr := &fakeTranscriber{transcript: Transcript{Text: " hello team ", Duration: 12.3456}}
		e := NewExtractor(nil, nil, nil, tr, Options{})

		res, err := e.Extract(context.Background(), "clip.mp3", KindAudio)

		require.NoError(t, err)
		assert.Equal(t, SourceAudio, res.SourceKind)
		assert.Equal(t, "hello team", res.Text)
		require.NotNil(t, res.TranscriptChars)
		assert.Equal(t, 10, *res.TranscriptChars)
		require.NotNil(t, res.Duration)
		assert.Equal(t, 12.35, *res.Duration)
	})

	t.Run("transcriber error is an extraction failure", func(t *testing.T) {
		e := NewExtractor(nil, nil, nil, &fakeTranscriber{err: errors.New("unsupported codec")}, Options{})

		_, err := e.Extract(context.Background(), "clip.ogg", KindAudio)

		assert.ErrorIs(t, err, ErrExtractionFailed)
		assert.Contains(t, err.Error(), "unsupported codec")
	})
}

func TestExtractor_PDF(t *testing.T) {
	t.Run("text layer is used when long enough", func(t *testing.T) {
		text := &fakePDFText{text: longText, pages: 2}
		raster := &fakeRasterizer{}
		e := NewExtractor(&fakeOCR{}, text, raster, nil, Options{})

		res, err := e.Extract(context.Background(), "doc.pdf", KindPDF)

		require.NoError(t, err)
		assert.Equal(t, SourcePDFText, res.SourceKind)
		assert.Equal(t, "text_extraction", res.Method)
		assert.Equal(t, longText, res.Text)
		require.NotNil(t, res.Pages)
		assert.Equal(t, 2, *res.Pages)
		assert.Equal(t, 0, raster.calls)
	})

	t.Run("short text falls back to OCR", func(t *testing.T) {
		text := &fakePDFText{text: "p. 1", pages: 2}
		raster := &fakeRasterizer{pages: [][]byte{[]byte("p1"), []byte("p2")}}
		ocr := &fakeOCR{byImage: map[string]OCRText{
			"p1": {Text: "first page", Confidence: 80},
			"p2": {Text: "second page", Confidence: 90},
		}}
		e := NewExtractor(ocr, text, raster, nil, Options{OCRConcurrency: 2})

		res, err := e.Extract(context.Background(), "scan.pdf", KindPDF)

		require.NoError(t, err)
		assert.Equal(t, SourcePDFOCR, res.SourceKind)
		assert.Equal(t, "ocr_fallback", res.Method)
		assert.Equal(t, "first page\n\nsecond page", res.Text)
		require.NotNil(t, res.Confidence)
		assert.Equal(t, 85.0, *res.Confidence)
		assert.Equal(t, 2, *res.Pages)
		assert.Equal(t, int32(2), ocr.calls.Load())
	})

	t.Run("text layer error falls back to OCR", func(t *testing.T) {
		text := &fakePDFText{err: errors.New("xref broken")}
		raster := &fakeRasterizer{pages: [][]byte{[]byte("p1")}}
		ocr := &fakeOCR{byImage: map[string]OCRText{"p1": {Text: "recovered", Confidence: 70}}}
		e := NewExtractor(ocr, text, raster, nil, Options{})

		res, err := e.Extract(context.Background(), "broken.pdf", KindPDF)

		require.NoError(t, err)
		assert.Equal(t, SourcePDFOCR, res.SourceKind)
		assert.Equal(t, "recovered", res.Text)
	})

	t.Run("both steps failing is an extraction failure", func(t *testing.T) {
		text := &fakePDFText{err: errors.New("xref broken")}
		raster := &fakeRasterizer{err: errors.New("mupdf: cannot open")}
		e := NewExtractor(&fakeOCR{}, text, raster, nil, Options{})

		_, err := e.Extract(context.Background(), "broken.pdf", KindPDF)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExtractionFailed)
		assert.Contains(t, err.Error(), "xref broken")
		assert.Contains(t, err.Error(), "mupdf: cannot open")
		assert.Equal(t, 1, text.calls)
		assert.Equal(t, 1, raster.calls)
	})

	t.Run("short text survives an OCR failure with a warning", func(t *testing.T) {
		text := &fakePDFText{text: "Invoice 42", pages: 1}
		e := NewExtractor(nil, text, nil, nil, Options{})

		res, err := e.Extract(context.Background(), "invoice.pdf", KindPDF)

		require.NoError(t, err)
		assert.Equal(t, SourcePDFText, res.SourceKind)
		assert.Equal(t, "Invoice 42", res.Text)
		assert.Contains(t, res.Warning, "OCR not available")
	})

	t.Run("page OCR error fails the OCR step", func(t *testing.T) {
		text := &fakePDFText{text: "", pages: 1}
		raster := &fakeRasterizer{pages: [][]byte{[]byte("p1")}}
		e := NewExtractor(&fakeOCR{err: errors.New("bad page")}, text, raster, nil, Options{})

		_, err := e.Extract(context.Background(), "scan.pdf", KindPDF)

		assert.ErrorIs(t, err, ErrExtractionFailed)
		assert.Contains(t, err.Error(), "ocr page 1")
	})

	t.Run("re-extracting the same file is idempotent", func(t *testing.T) {
		text := &fakePDFText{text: "tiny", pages: 3}
		raster := &fakeRasterizer{pages: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}
		ocr := &fakeOCR{byImage: map[string]OCRText{
			"a": {Text: "alpha"}, "b": {Text: "beta"}, "c": {Text: "gamma"},
		}}
		e := NewExtractor(ocr, text, raster, nil, Options{OCRConcurrency: 3})

		first, err := e.Extract(context.Background(), "scan.pdf", KindPDF)
		require.NoError(t, err)
		second, err := e.Extract(context.Background(), "scan.pdf", KindPDF)
		require.NoError(t, err)

		assert.Equal(t, first.SourceKind, second.SourceKind)
		assert.Equal(t, len(first.Text), len(second.Text))
		assert.Equal(t, first.Text, second.Text)
	})
}

func TestNextPDFStep(t *testing.T) {
	tests := []struct {
		from     pdfStep
		outcome  stepOutcome
		expected pdfStep
	}{
		{stepAttemptText, outcomeOK, stepDone},
		{stepAttemptText, outcomeInsufficient, stepAttemptOCR},
		{stepAttemptText, outcomeError, stepAttemptOCR},
		{stepAttemptOCR, outcomeOK, stepDone},
		{stepAttemptOCR, outcomeInsufficient, stepDone},
		{stepAttemptOCR, outcomeError, stepFail},
		{stepDone, outcomeOK, stepFail},
		{stepFail, outcomeOK, stepFail},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.outcome), func(t *testing.T) {
			assert.Equal(t, tt.expected, nextPDFStep(tt.from, tt.outcome))
		})
	}
}

func TestNextPDFStep_NeverRevisitsText(t *testing.T) {
	// Walking the table from the start on any outcome sequence terminates
	// within two steps and never re-enters the text attempt.
	outcomes := []stepOutcome{outcomeOK, outcomeInsufficient, outcomeError}
	for _, first := range outcomes {
		for _, second := range outcomes {
			step := nextPDFStep(stepAttemptText, first)
			if step == stepAttemptOCR {
				step = nextPDFStep(step, second)
			}
			assert.Contains(t, []pdfStep{stepDone, stepFail}, step)
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "", detectLanguage("too short"))
	// The detector may decline on borderline samples but never guesses wrong here.
	if lang := detectLanguage(strings.Repeat("The weather today is sunny and pleasant for a walk in the park. ", 4)); lang != "" {
		assert.Equal(t, "eng", lang)
	}
}
