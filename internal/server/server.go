// Package server exposes the upload gate and the mutation API over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/raphaelgruber/datahub-gate/internal/metrics"
	"github.com/raphaelgruber/datahub-gate/internal/service"
	"github.com/rs/cors"
)

// requestIDHeader carries the request id in and out of the services.
const requestIDHeader = "X-Request-Id"

// Options configures the routers shared by both binaries.
type Options struct {
	Logger         *slog.Logger
	Metrics        *metrics.Collector
	AllowedOrigins []string
	// MaxUploadBytes bounds uploaded files and request bodies.
	MaxUploadBytes int64
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	logger         *slog.Logger
	metrics        *metrics.Collector
	origins        []string
	maxUploadBytes int64
	now            func() time.Time
}

// New creates a server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &Server{
		logger:         logger,
		metrics:        opts.Metrics,
		origins:        opts.AllowedOrigins,
		maxUploadBytes: maxBytes,
		now:            time.Now,
	}
}

// router returns a chi router with the common middleware and endpoints.
func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/hello", s.handleHello)
	r.Get("/stats", s.handleStats)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// UploadHandler returns the routes of the file upload gate.
func (s *Server) UploadHandler(uploads *service.UploadService) http.Handler {
	r := s.router()
	r.Post("/upload", s.handleUpload(uploads))
	return r
}

// MutationHandler returns the routes of the metadata mutation API.
func (s *Server) MutationHandler(mutations *service.MutationService) http.Handler {
	r := s.router()
	r.Group(func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(middleware.RequestSize(s.maxUploadBytes))
		r.Post("/update_browsepath", s.handleUpdateBrowsePath(mutations))
		r.Post("/update_schema", s.handleUpdateSchema(mutations))
		r.Post("/update_properties", s.handleUpdateProperties(mutations))
		r.Post("/update_dataset_status", s.handleUpdateStatus(mutations))
		r.Post("/update_container", s.handleUpdateContainer(mutations))
		r.Post("/update_name", s.handleUpdateName(mutations))
		r.Post("/update_samples", s.handleUpdateSamples(mutations))
		r.Post("/make_dataset", s.handleMakeDataset(mutations))
	})
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHello(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Hello world",
		"timestamp": s.now().UnixMilli(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, metrics.Snapshot{Operations: map[string]*metrics.OperationSnapshot{}})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// Serve runs httpServer until ctx is cancelled or SIGINT/SIGTERM arrives,
// then shuts it down gracefully.
func Serve(ctx context.Context, logger *slog.Logger, httpServer *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
