package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"multimodal-agent/internal/services/agent"
)

type processResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	*agent.TaskResult
}

type errorBody struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	ErrorKind string `json:"error_kind"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, resp ErrorResponse) {
	writeJSON(w, r, resp.StatusCode, errorBody{
		RequestID: requestID(r),
		ErrorKind: string(resp.Kind),
		Stage:     string(resp.Stage),
		Message:   resp.Message,
	})
}

func respondValidation(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondError(w, r, ErrorResponse{
		StatusCode: status,
		Kind:       agent.KindValidation,
		Stage:      agent.StageValidate,
		Message:    message,
	})
}
