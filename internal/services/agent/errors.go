package agent

import (
	"errors"
	"fmt"

	"multimodal-agent/internal/services/extract"
	"multimodal-agent/internal/services/task"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrFileTooLarge   = errors.New("file too large")
)

// Stage names the pipeline step a failure came from.
type Stage string

const (
	StageValidate Stage = "validate"
	StageExtract  Stage = "extract"
	StageDispatch Stage = "dispatch"
)

// Kind is the caller-visible error category.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindUnsupportedFormat Kind = "UnsupportedFormat"
	KindExtraction        Kind = "ExtractionFailure"
	KindUpstream          Kind = "UpstreamError"
	KindRateLimited       Kind = "RateLimited"
	KindInternal          Kind = "InternalError"
)

// StageError is returned by Service.Process for every failure.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: kindOf(err), Err: err}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrFileTooLarge):
		return KindValidation
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, extract.ErrExtractionFailed):
		return KindExtraction
	case errors.Is(err, task.ErrUpstream):
		return KindUpstream
	default:
		return KindInternal
	}
}
