// Package agent runs one request through validation, extraction,
// classification and task dispatch.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"multimodal-agent/internal/services/extract"
	"multimodal-agent/internal/services/intent"
	"multimodal-agent/internal/services/task"
)

const (
	clarifyFileMessage = "What would you like me to do with this file? I can summarize it, analyze its sentiment, explain code, extract action items, or answer questions about it."
	clarifyTextMessage = "What can I help you with? I can summarize text, analyze sentiment, explain code, extract action items, or just chat."
)

type Extractor interface {
	Extract(ctx context.Context, path string, kind extract.Kind) (*extract.Result, error)
}

type Classifier interface {
	Classify(text string, hasFile bool) intent.Intent
}

type Dispatcher interface {
	Execute(ctx context.Context, in intent.Intent, content task.Content) (*task.Result, error)
}

// Observer receives pipeline outcomes. metrics.Metrics implements it.
type Observer interface {
	ObserveRequest(in intent.Intent, outcome string)
	ObserveStageFailure(stage, kind string)
	ObserveExtraction(sourceKind string, elapsed time.Duration)
}

type Options struct {
	MaxFileSize  int64
	PreviewChars int
}

type Service struct {
	extractor  Extractor
	classifier Classifier
	dispatcher Dispatcher
	observer   Observer
	validate   *validator.Validate
	opts       Options
}

func NewService(extractor Extractor, classifier Classifier, dispatcher Dispatcher, observer Observer, opts Options) *Service {
	if opts.PreviewChars <= 0 {
		opts.PreviewChars = 500
	}
	return &Service{
		extractor:  extractor,
		classifier: classifier,
		dispatcher: dispatcher,
		observer:   observer,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		opts:       opts,
	}
}

// Process runs req through the pipeline. Every error it returns is a
// *StageError.
func (s *Service) Process(ctx context.Context, req Request) (*TaskResult, error) {
	logger := zerolog.Ctx(ctx)

	kind, err := s.validateRequest(req)
	if err != nil {
		return nil, s.fail(ctx, StageValidate, err)
	}

	hasFile := req.File != nil
	meta := Metadata{FileType: fileTypeTextOnly}
	var extracted string

	// Without instructions the answer is a clarification whatever the file
	// holds, so the file is not read.
	if hasFile && strings.TrimSpace(req.Text) != "" {
		start := time.Now()
		res, err := s.extractor.Extract(ctx, req.File.Path, kind)
		if err != nil {
			return nil, s.fail(ctx, StageExtract, err)
		}
		s.observeExtraction(string(res.SourceKind), time.Since(start))

		extracted = res.Text
		meta = metadataFrom(res)
	} else if hasFile {
		meta.FileType = string(kind)
	}

	in := s.classifier.Classify(req.Text, hasFile)
	logger.Info().
		Str("intent", string(in)).
		Bool("has_file", hasFile).
		Int("extracted_chars", len(extracted)).
		Msg("Intent classified")

	result := &TaskResult{
		Intent:           in,
		ExtractedContent: preview(extracted, s.opts.PreviewChars),
		Metadata:         meta,
	}

	if in == intent.ClarificationNeeded {
		result.Result = clarifyTextMessage
		if hasFile {
			result.Result = clarifyFileMessage
		}
		s.observeRequest(in, "clarification")
		return result, nil
	}

	out, err := s.dispatcher.Execute(ctx, in, task.Content{
		Query: req.Text,
		Body:  buildBody(req.Text, extracted),
	})
	if err != nil {
		return nil, s.fail(ctx, StageDispatch, err)
	}

	result.Result = out.Text
	result.Structured = out.Structured
	result.Metadata.Model = out.Model
	result.Metadata.Attempts = out.Attempts
	if out.Unstructured {
		result.Metadata.Format = "unstructured"
	}

	s.observeRequest(in, "success")
	return result, nil
}

// validateRequest checks size and type limits and resolves the file's kind.
func (s *Service) validateRequest(req Request) (extract.Kind, error) {
	normalized := req
	normalized.Text = strings.TrimSpace(req.Text)
	if err := s.validate.Struct(normalized); err != nil {
		return extract.KindUnknown, fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}

	if req.File == nil {
		return extract.KindUnknown, nil
	}
	if s.opts.MaxFileSize > 0 && req.File.Size > s.opts.MaxFileSize {
		return extract.KindUnknown, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, req.File.Size, s.opts.MaxFileSize)
	}

	mimeType := resolveMIME(req.File)
	kind := extract.KindFromMIME(mimeType)
	if kind == extract.KindUnknown {
		return kind, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, mimeType)
	}
	return kind, nil
}

// resolveMIME trusts the declared type unless it is missing or generic, in
// which case the file content is sniffed.
func resolveMIME(f *File) string {
	declared := strings.TrimSpace(f.DeclaredMIME)
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}

	detected, err := mimetype.DetectFile(f.Path)
	if err != nil {
		return declared
	}
	return detected.String()
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fe := verrs[0]
	switch {
	case fe.Field() == "Text" && fe.Tag() == "required_without":
		return "either text or file must be provided"
	case fe.Field() == "Text" && fe.Tag() == "max":
		return fmt.Sprintf("text must be at most %s characters", fe.Param())
	case fe.Field() == "Size":
		return "uploaded file is empty"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
	}
}

func buildBody(text, extracted string) string {
	if extracted == "" {
		return text
	}
	return text + "\n\n[Extracted Content]:\n" + extracted
}

func metadataFrom(res *extract.Result) Metadata {
	return Metadata{
		FileType:         string(res.SourceKind),
		Pages:            res.Pages,
		Confidence:       res.Confidence,
		Duration:         res.Duration,
		TranscriptChars:  res.TranscriptChars,
		Language:         res.Language,
		ExtractionMethod: res.Method,
		Warning:          res.Warning,
	}
}

// preview cuts s to at most n runes.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (s *Service) fail(ctx context.Context, stage Stage, err error) *StageError {
	se := stageError(stage, err)

	event := zerolog.Ctx(ctx).Warn()
	if se.Kind == KindInternal || se.Kind == KindUpstream {
		event = zerolog.Ctx(ctx).Error()
	}
	event.Err(err).Str("stage", string(stage)).Str("error_kind", string(se.Kind)).Msg("Request failed")

	if s.observer != nil {
		s.observer.ObserveStageFailure(string(stage), string(se.Kind))
	}
	return se
}

func (s *Service) observeRequest(in intent.Intent, outcome string) {
	if s.observer != nil {
		s.observer.ObserveRequest(in, outcome)
	}
}

func (s *Service) observeExtraction(sourceKind string, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveExtraction(sourceKind, elapsed)
	}
}
