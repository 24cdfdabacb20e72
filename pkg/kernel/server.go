package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/GedeBrawidya/convert-project/internal/config"
	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/GedeBrawidya/convert-project/internal/core/ports"
	"github.com/GedeBrawidya/convert-project/internal/core/services"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/routers"
	"github.com/oapi-codegen/runtime"
)

const (
	serviceName = "convertd"

	defaultFormat   = domain.FormatPDF
	defaultJobLimit = 50
	maxJobLimit     = 500

	// room for multipart boundaries and the format field on top of the source cap
	multipartOverhead = 1 << 20
	maxFormMemory     = 32 << 20

	kindNotFound domain.FailureKind = "not_found"
)

type Server struct {
	logger     *slog.Logger
	orch       *services.Orchestrator
	eventBus   *services.EventBus
	settings   *config.SettingsStore
	repo       ports.JobRepository
	spec       *openapi3.T
	specRouter routers.Router
}

func NewServer(
	logger *slog.Logger,
	orch *services.Orchestrator,
	eventBus *services.EventBus,
	settings *config.SettingsStore,
	repo ports.JobRepository,
) (*Server, error) {
	spec, err := LoadSpec(context.Background())
	if err != nil {
		return nil, err
	}
	specRouter, err := newSpecRouter(spec)
	if err != nil {
		return nil, err
	}
	return &Server{
		logger:     logger,
		orch:       orch,
		eventBus:   eventBus,
		settings:   settings,
		repo:       repo,
		spec:       spec,
		specRouter: specRouter,
	}, nil
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/formats", s.handleFormats)
	mux.HandleFunc("GET /v1/openapi.json", s.handleOpenAPI)

	mux.HandleFunc("POST /v1/convert", s.handleConvert)

	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobEvents)
	mux.HandleFunc("GET /v1/events", s.handleBroadcastSSE)

	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)

	return s.validateRequests(mux)
}

type healthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Engine        string `json:"engine"`
	InFlight      int64  `json:"in_flight"`
	MaxConcurrent int64  `json:"max_concurrent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	scheduler := s.orch.Scheduler()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Service:       serviceName,
		Engine:        s.orch.RunnerName(),
		InFlight:      scheduler.InFlight(),
		MaxConcurrent: scheduler.Limit(),
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"formats": domain.SupportedFormats(),
		"default": defaultFormat,
	})
}

// handleConvert accepts a multipart upload (file, format) and streams back the converted document.
// POST /v1/convert
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	limits := s.orch.Settings()
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxSourceBytes+multipartOverhead)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(w, limits.MaxSourceBytes)
			return
		}
		writeFailure(w, http.StatusBadRequest, "", domain.KindInvalidInput, "expected a multipart/form-data upload")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Warn("failed to remove multipart temp files", "error", err)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "", domain.KindInvalidInput, "the \"file\" field is required")
		return
	}
	defer file.Close()

	source, err := io.ReadAll(io.LimitReader(file, limits.MaxSourceBytes+1))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "", domain.KindInvalidInput, "could not read the uploaded document")
		return
	}
	// the body cap leaves room for multipart framing, so the file itself may still be over
	if int64(len(source)) > limits.MaxSourceBytes {
		writeTooLarge(w, limits.MaxSourceBytes)
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = string(defaultFormat)
	}

	result, err := s.orch.Convert(r.Context(), domain.ConversionRequest{
		Source:   source,
		FileName: header.Filename,
		Format:   format,
	})
	if err != nil {
		s.writeConversionError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.MIMEType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Output)))
	w.Header().Set("X-Job-ID", string(result.JobID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Output); err != nil {
		s.logger.Warn("failed to write conversion result", "job_id", result.JobID, "error", err)
	}
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	writeFailure(w, http.StatusRequestEntityTooLarge, "", domain.KindInvalidInput,
		fmt.Sprintf("the uploaded document exceeds the %d byte limit", limit))
}

func (s *Server) writeConversionError(w http.ResponseWriter, err error) {
	var cerr *domain.ConversionError
	if !errors.As(err, &cerr) {
		s.logger.Error("unexpected conversion error", "error", err)
		writeFailure(w, http.StatusInternalServerError, "", domain.KindInternal, "internal error")
		return
	}
	w.Header().Set("X-Job-ID", string(cerr.JobID))
	writeFailure(w, StatusForKind(cerr.Kind), cerr.JobID, cerr.Kind, cerr.Public())
}

// StatusForKind maps a failure kind to the HTTP status returned to callers.
func StatusForKind(kind domain.FailureKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindConversionRejected, domain.KindOutputTooLarge:
		return http.StatusUnprocessableEntity
	case domain.KindToolUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case kindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleListJobs returns job history, newest first.
// GET /v1/jobs?limit=50
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeFailure(w, http.StatusBadRequest, "", domain.KindInvalidInput, "limit must be an integer")
		return
	}
	if limit < 1 || limit > maxJobLimit {
		writeFailure(w, http.StatusBadRequest, "", domain.KindInvalidInput,
			fmt.Sprintf("limit must be between 1 and %d", maxJobLimit))
		return
	}

	jobs, err := s.repo.ListJobs(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		writeFailure(w, http.StatusInternalServerError, "", domain.KindInternal, "internal error")
		return
	}
	if jobs == nil {
		jobs = []domain.JobRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GET /v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobIDParam(w, r)
	if !ok {
		return
	}

	job, err := s.repo.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeFailure(w, http.StatusNotFound, id, kindNotFound, "job not found")
			return
		}
		s.logger.Error("failed to get job", "job_id", id, "error", err)
		writeFailure(w, http.StatusInternalServerError, id, domain.KindInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) jobIDParam(w http.ResponseWriter, r *http.Request) (domain.JobID, bool) {
	var raw string
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &raw, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "", domain.KindInvalidInput, "invalid job id")
		return "", false
	}
	id, err := domain.ParseJobID(raw)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "", domain.KindInvalidInput, "invalid job id")
		return "", false
	}
	return id, true
}

type failureBody struct {
	JobID domain.JobID  `json:"job_id,omitempty"`
	Error failureDetail `json:"error"`
}

type failureDetail struct {
	Kind    domain.FailureKind `json:"kind"`
	Message string             `json:"message"`
}

func writeFailure(w http.ResponseWriter, status int, id domain.JobID, kind domain.FailureKind, message string) {
	writeJSON(w, status, failureBody{
		JobID: id,
		Error: failureDetail{Kind: kind, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
