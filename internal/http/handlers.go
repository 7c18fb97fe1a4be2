package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"multimodal-agent/internal/services/agent"
	"multimodal-agent/internal/services/cost"
)

const (
	Version = "1.0.0"

	// multipartOverhead is the room left above the file limit for form
	// fields and part headers.
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)

type Processor interface {
	Process(ctx context.Context, req agent.Request) (*agent.TaskResult, error)
}

type CostEstimator interface {
	Estimate(text string, fileSize int64) (*cost.Estimate, error)
}

// AgentHandler handles the processing API.
type AgentHandler struct {
	processor   Processor
	estimator   CostEstimator
	maxFileSize int64
}

func NewAgentHandler(processor Processor, estimator CostEstimator, maxFileSize int64) *AgentHandler {
	return &AgentHandler{
		processor:   processor,
		estimator:   estimator,
		maxFileSize: maxFileSize,
	}
}

// RegisterRoutes registers all processing routes
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Route("/api", func(r chi.Router) {
		r.Post("/process", h.Process)
		r.Get("/health", h.Health)
		r.Post("/estimate-cost", h.EstimateCost)
	})
}

// Process handles POST /api/process
func (h *AgentHandler) Process(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			respondValidation(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request exceeds the %d byte file limit", h.maxFileSize))
			return
		}
		respondValidation(w, r, http.StatusBadRequest, "request must be multipart/form-data")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove multipart temp files")
		}
	}()

	req := agent.Request{Text: r.FormValue("text")}

	part, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		respondValidation(w, r, http.StatusBadRequest, "could not read uploaded file")
		return
	default:
		defer part.Close()

		path, err := spool(part, header)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to spool upload")
			respondError(w, r, MapError(err))
			return
		}
		defer func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn().Err(err).Str("path", path).Msg("Failed to remove upload")
			}
		}()

		req.File = &agent.File{
			Path:         path,
			Name:         header.Filename,
			DeclaredMIME: header.Header.Get("Content-Type"),
			Size:         header.Size,
		}
	}

	logger.Info().
		Int("text_length", len(req.Text)).
		Bool("has_file", req.File != nil).
		Msg("Processing request")

	result, err := h.processor.Process(r.Context(), req)
	if err != nil {
		respondError(w, r, MapError(err))
		return
	}

	writeJSON(w, r, http.StatusOK, processResponse{
		Success:    true,
		RequestID:  requestID(r),
		TaskResult: result,
	})
}

func isBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

// spool copies an uploaded part to its own temporary file.
func spool(part multipart.File, header *multipart.FileHeader) (string, error) {
	tmp, err := os.CreateTemp("", "upload-*"+safeExt(header.Filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, part); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\*`) {
		return ""
	}
	return ext
}

type estimateRequest struct {
	text     string
	fileSize int64
}

// EstimateCost handles POST /api/estimate-cost
func (h *AgentHandler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	req, err := parseEstimateRequest(w, r)
	if err != nil {
		respondValidation(w, r, http.StatusBadRequest, err.Error())
		return
	}

	estimate, err := h.estimator.Estimate(req.text, req.fileSize)
	if err != nil {
		if errors.Is(err, cost.ErrInvalidInput) {
			respondValidation(w, r, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, r, MapError(err))
		return
	}

	writeJSON(w, r, http.StatusOK, estimate)
}

func parseEstimateRequest(w http.ResponseWriter, r *http.Request) (estimateRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, multipartMemory)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return estimateRequest{}, errors.New("invalid form body")
		}
	} else if err := r.ParseForm(); err != nil {
		return estimateRequest{}, errors.New("invalid form body")
	}

	req := estimateRequest{text: r.FormValue("text")}
	if raw := strings.TrimSpace(r.FormValue("file_size")); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return estimateRequest{}, errors.New("file_size must be an integer")
		}
		req.fileSize = size
	}
	return req, nil
}

type serviceHealth struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

// Health handles GET /api/health. It reports the pipeline components and
// does not probe dependencies.
func (h *AgentHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, serviceHealth{
		Status:  "healthy",
		Version: Version,
		Services: map[string]string{
			"file_extractor":    "active",
			"intent_classifier": "active",
			"task_dispatcher":   "active",
		},
	})
}

// Root handles GET /
func (h *AgentHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"message": "Multimodal Agent Processing Service",
		"version": Version,
		"status":  "operational",
	})
}

// Pinger is implemented by optional dependencies checked on readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeHandler serves liveness and readiness probes.
type ProbeHandler struct {
	redis Pinger
}

// NewProbeHandler creates a ProbeHandler. redis may be nil when rate
// limiting runs in process.
func NewProbeHandler(redis Pinger) *ProbeHandler {
	return &ProbeHandler{redis: redis}
}

// Live handles GET /health
func (h *ProbeHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready
func (h *ProbeHandler) Ready(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{"redis": "not configured"}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := h.redis.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check failed")
			components["redis"] = "unreachable"
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{
				"status":     "not ready",
				"components": components,
			})
			return
		}
		components["redis"] = "ok"
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":     "ready",
		"components": components,
	})
}
