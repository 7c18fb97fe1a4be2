package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"multimodal-agent/internal/services/agent"
)

type errorBody struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind agent.Kind, message string) {
	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{
		RequestID: requestID,
		ErrorKind: string(kind),
		Message:   message,
	}); err != nil {
		http.Error(w, message, status)
	}
}
