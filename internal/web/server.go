package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/travelbingo/internal/metrics"
	"github.com/vbonduro/travelbingo/internal/photostore"
	"github.com/vbonduro/travelbingo/internal/service"
)

type Server struct {
	service *service.BingoService
	metrics *metrics.Metrics
	mux     *http.ServeMux
	logger  *slog.Logger
}

func NewServer(svc *service.BingoService, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		service: svc,
		metrics: m,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/cities", s.handleListCities)
	s.mux.HandleFunc("GET /api/cities/{city}", s.handleGetCity)
	s.mux.HandleFunc("POST /api/cities/{city}/items/{item}/toggle", s.handleToggleItem)
	s.mux.HandleFunc("POST /api/cities/{city}/reset", s.handleResetCity)

	s.mux.HandleFunc("PUT /api/cities/{city}/items/{item}/photo", s.handlePutPhoto)
	s.mux.HandleFunc("GET /api/cities/{city}/items/{item}/photo", s.handleGetPhoto)
	s.mux.HandleFunc("DELETE /api/cities/{city}/items/{item}/photo", s.handleDeletePhoto)

	s.mux.HandleFunc("POST /api/generate-image", s.handleGenerateImage)
	s.mux.HandleFunc("POST /api/generate-description", s.handleGenerateDescription)

	s.mux.HandleFunc("POST /api/admin/cities/{city}/fix-missing-images", s.handleFixMissingImages)
	s.mux.HandleFunc("POST /api/admin/cities/{city}/generate-images", s.handleGenerateAllImages)
	s.mux.HandleFunc("POST /api/admin/cities/{city}/generate-descriptions", s.handleGenerateAllDescriptions)

	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working behind the logger.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	// No WriteTimeout: admin event streams outlive any fixed deadline.
	srv := &http.Server{
		Addr:        addr,
		Handler:     s,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to HTTP statuses. Unexpected errors are
// logged with msg and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrCenterItem):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrGeneratorUnavailable), errors.Is(err, photostore.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(msg, append(attrs, "error", err)...)
		writeJSON(w, status, errorBody{Error: msg})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
