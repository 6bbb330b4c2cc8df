// Package api exposes the HTTP interface for the download service.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/udown/udownd/internal/config"
	"github.com/udown/udownd/internal/fetch"
	"github.com/udown/udownd/internal/job"
	"github.com/udown/udownd/internal/metrics"
)

//go:embed web/index.html
var webFS embed.FS

// Starter launches one job run. *worker.Worker.Run satisfies it; tests
// substitute their own.
type Starter interface {
	Run(ctx context.Context, jobID string, ch *job.Channel, playlistURL string, opts fetch.Options)
}

// Server wires HTTP handlers to the registry and the job worker.
type Server struct {
	router   chi.Router
	baseCtx  context.Context
	registry *job.Registry
	starter  Starter
	cfg      config.Config
	logger   *zap.Logger
	index    *template.Template
}

// NewServer constructs a Server with middleware and routes. baseCtx bounds
// the lifetime of the workers the server launches; process shutdown cancels
// it, while individual request contexts never do.
func NewServer(baseCtx context.Context, registry *job.Registry, starter Starter, cfg config.Config, logger *zap.Logger) *Server {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		baseCtx:  baseCtx,
		registry: registry,
		starter:  starter,
		cfg:      cfg,
		logger:   logger,
		index:    template.Must(template.ParseFS(webFS, "web/index.html")),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/", s.indexPage)
	r.Post("/download", s.startDownload)
	r.Post("/format_versions", s.formatVersions)
	r.Get("/stream/{job_id}", s.streamJob)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The registry and engine are in-process; ready as soon as we serve.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) indexPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, map[string]string{
		"DefaultOutputDir": s.cfg.Downloads.Dir,
		"DefaultQuality":   s.cfg.Downloads.QualityDefault,
		"DefaultTemplate":  s.cfg.Downloads.NameTemplate,
	}); err != nil {
		s.logger.Error("render index failed", zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
