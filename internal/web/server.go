// Package web provides the HTTP surface of the ingest pipeline: the
// upload endpoint that feeds the job chain and the read endpoints over
// the catalog.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dx-insights/attp-pipeline/internal/blob"
	"github.com/dx-insights/attp-pipeline/internal/catalog"
	"github.com/dx-insights/attp-pipeline/internal/config"
	"github.com/dx-insights/attp-pipeline/internal/features"
	"github.com/dx-insights/attp-pipeline/internal/web/middleware"
)

// Catalog is the slice of the catalog the handlers read and write.
type Catalog interface {
	EnsureSource(ctx context.Context, params catalog.SourceParams) (catalog.Source, error)
	RegisterRawFile(ctx context.Context, sourceID pgtype.UUID, path, checksum string) (catalog.RawFile, bool, error)
	ListFeatures(ctx context.Context) ([]features.FeatureRow, error)
	FeaturesByCity(ctx context.Context, city string) ([]features.FeatureRow, error)
	ListSources(ctx context.Context) ([]catalog.Source, error)
	ListIngestLogs(ctx context.Context, limit int) ([]catalog.IngestLog, error)
}

// Enqueuer submits background jobs and returns their task ids.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
}

// Server is the HTTP server for the ingest pipeline.
type Server struct {
	cfg     *config.Config
	catalog Catalog
	blobs   blob.Store
	queue   Enqueuer
	router  *chi.Mux
}

// NewServer wires the handlers to their dependencies.
func NewServer(cfg *config.Config, cat Catalog, blobs blob.Store, queue Enqueuer) *Server {
	s := &Server{
		cfg:     cfg,
		catalog: cat,
		blobs:   blobs,
		queue:   queue,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger)

	timeout := s.cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s.router.Use(chimiddleware.Timeout(timeout))
}

func (s *Server) setupRoutes() {
	s.router.Post("/upload/data", s.handleUploadData)

	s.router.Get("/attp/all", s.handleAllFeatures)
	s.router.Get("/attp/indicators", s.handleFeaturesByCity)

	s.router.Get("/sources/all", s.handleListSources)
	s.router.Get("/logs/ingest-logs", s.handleIngestLogs)

	s.router.Get("/healthz", s.handleHealthz)
}

// Handler exposes the router for an http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}
