package http

import (
	"context"
	"errors"
	"net/http"

	"multimodal-agent/internal/services/agent"
)

// ErrorResponse is the HTTP rendering of a pipeline failure.
type ErrorResponse struct {
	StatusCode int
	Kind       agent.Kind
	Stage      agent.Stage
	Message    string
}

// MapError maps service errors to HTTP error responses.
func MapError(err error) ErrorResponse {
	var se *agent.StageError
	if !errors.As(err, &se) {
		return ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Kind:       agent.KindInternal,
			Message:    "internal server error",
		}
	}

	resp := ErrorResponse{Kind: se.Kind, Stage: se.Stage}
	switch se.Kind {
	case agent.KindValidation:
		resp.StatusCode = http.StatusBadRequest
		if errors.Is(err, agent.ErrFileTooLarge) {
			resp.StatusCode = http.StatusRequestEntityTooLarge
		}
		resp.Message = se.Err.Error()
	case agent.KindUnsupportedFormat:
		resp.StatusCode = http.StatusUnsupportedMediaType
		resp.Message = se.Err.Error()
	case agent.KindExtraction:
		resp.StatusCode = http.StatusUnprocessableEntity
		resp.Message = "could not extract content from the uploaded file"
	case agent.KindUpstream:
		resp.StatusCode = http.StatusBadGateway
		resp.Message = "the language model service failed to respond"
		if errors.Is(err, context.DeadlineExceeded) {
			resp.StatusCode = http.StatusGatewayTimeout
			resp.Message = "the language model service timed out"
		}
	default:
		resp.StatusCode = http.StatusInternalServerError
		resp.Kind = agent.KindInternal
		resp.Message = "internal server error"
	}
	return resp
}
