// Package portal serves the read API over ingested detections and the
// authenticated upload endpoint that feeds files through the ingester.
package portal

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
	"github.com/EmpoweredVote/geo-ingest/internal/middleware"
	"github.com/EmpoweredVote/geo-ingest/internal/pgstore"
)

// Querier is the read side of the store.
type Querier interface {
	Now(ctx context.Context) (time.Time, error)
	ListDetections(ctx context.Context, f pgstore.DetectionFilter) (pgstore.DetectionPage, error)
	Summarize(ctx context.Context, f pgstore.DetectionFilter) (pgstore.Summary, error)
	ListFiles(ctx context.Context, limit int) ([]ingest.IngestFile, error)
}

// Ingestor runs uploaded files through the pipeline.
type Ingestor interface {
	IngestAll(ctx context.Context, inputs []ingest.Input) []ingest.Result
}

// Server holds the API's dependencies.
type Server struct {
	Query Querier
	// NewIngestor builds an ingestor honoring the request's saveRaw flag.
	NewIngestor func(saveRaw bool) Ingestor
	UploadDir   string
	// Tokens guards uploads; nil leaves the upload route unmounted.
	Tokens      middleware.TokenVerifier
	UploadRate  rate.Limit
	UploadBurst int
	Logger      *zap.Logger
}

func (s *Server) SetupRoutes() http.Handler {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Get("/health", s.HealthHandler)
	r.Get("/detections", s.DetectionsHandler)
	r.Get("/detections/summary", s.SummaryHandler)
	r.Get("/ingest/files", s.FilesHandler)

	if s.Tokens != nil && s.NewIngestor != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(s.UploadRate, s.UploadBurst))
			r.Use(middleware.TokenMiddleware(s.Tokens))
			r.Post("/ingest/upload", s.UploadHandler)
		})
	}

	return r
}
