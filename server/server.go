// Package server exposes the runtime's control surface over HTTP: start an
// analysis (multipart upload), stop it, subscribe to its event stream (SSE),
// fetch the final report, and check liveness.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	analyst "github.com/nevindra/analyst"
)

// Server wires the session manager to the HTTP surface.
type Server struct {
	mgr       *analyst.Manager
	logger    *slog.Logger
	uploadDir string
	maxUpload int64
}

// Config tunes the HTTP layer.
type Config struct {
	UploadDir        string
	MaxFileSizeBytes int64
	Logger           *slog.Logger
}

// New creates a Server.
func New(mgr *analyst.Manager, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxFileSizeBytes
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	return &Server{
		mgr:       mgr,
		logger:    logger,
		uploadDir: cfg.UploadDir,
		maxUpload: maxUpload,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Post("/{id}/stop", s.handleStop)
		r.Get("/{id}/events", s.handleEvents)
		r.Get("/{id}/report", s.handleFetch)
	})
	return r
}

// errorCode maps runtime errors to the wire error codes and HTTP statuses.
func errorCode(err error) (int, string) {
	var (
		invalidInput  *analyst.ErrInvalidInput
		badFormat     *analyst.ErrUnsupportedFormat
		unknown       *analyst.ErrUnknownSession
		notReady      *analyst.ErrSessionNotReady
		invalidState  *analyst.ErrInvalidState
		executorError *analyst.ErrExecutorUnavailable
	)
	switch {
	case errors.As(err, &invalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.As(err, &badFormat):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT"
	case errors.As(err, &unknown):
		return http.StatusNotFound, "UNKNOWN_SESSION"
	case errors.As(err, &notReady):
		return http.StatusConflict, "SESSION_NOT_READY"
	case errors.As(err, &invalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.As(err, &executorError):
		return http.StatusServiceUnavailable, "EXECUTOR_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
