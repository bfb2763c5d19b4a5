// Package api exposes the query cache service over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"duck-flight/internal/domain"
	"duck-flight/internal/middleware"
	"duck-flight/internal/service/discovery"
	"duck-flight/internal/service/query"
)

// QueryService is the query surface the handlers need.
// Implemented by query.Service.
type QueryService interface {
	Submit(ctx context.Context, req query.SubmitRequest) (*query.SubmitResult, error)
	Status(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int64, error)
	Download(ctx context.Context, jobID string) (*query.Download, error)
	Schema(ctx context.Context, sqlQuery string) (*query.SchemaResult, error)
	Metadata(ctx context.Context, sqlQuery string) (*query.Metadata, error)
	QueueStats(ctx context.Context) (*query.QueueStats, error)
}

// FileService is the discovery surface the handlers need.
// Implemented by discovery.Service.
type FileService interface {
	Scan(ctx context.Context) (*discovery.ScanResult, error)
	Status() discovery.Status
	List(ctx context.Context, filter domain.FileFilter) ([]domain.DiscoveredFile, int64, error)
	Count(ctx context.Context, fileType string) (int64, error)
	Types(ctx context.Context) ([]domain.FileTypeCount, error)
}

// Metrics instruments the router and serves /metrics.
// Implemented by metrics.Prometheus.
type Metrics interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// Handler serves every route.
type Handler struct {
	query  QueryService
	files  FileService
	logger *slog.Logger
}

// NewHandler creates a Handler. files may be nil when discovery is disabled.
func NewHandler(q QueryService, files FileService, logger *slog.Logger) *Handler {
	return &Handler{query: q, files: files, logger: logger.With("component", "api")}
}

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	Logger      *slog.Logger
	Metrics     Metrics
	CORSOrigins []string
	RateLimit   middleware.RateLimitConfig
}

// NewRouter mounts h behind the standard middleware stack.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.Logger != nil {
		r.Use(middleware.RequestLogger(opts.Logger))
	}
	r.Use(chimw.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(middleware.CORS(opts.CORSOrigins))

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimiter(opts.RateLimit))

		r.Route("/query", func(r chi.Router) {
			r.Post("/", h.SubmitQuery)
			r.Get("/", h.ListJobs)
			r.Post("/schema", h.QuerySchema)
			r.Post("/metadata", h.QueryMetadata)
			r.Get("/{job_id}", h.JobStatus)
			r.Get("/{job_id}/result", h.DownloadResult)
		})
		r.Get("/system/queue", h.QueueStats)

		r.Route("/files", func(r chi.Router) {
			r.Get("/registry", h.ListFiles)
			r.Get("/registry/count", h.CountFiles)
			r.Get("/registry/types", h.FileTypes)
			r.Post("/discovery/scan", h.ScanFiles)
			r.Get("/discovery/status", h.DiscoveryStatus)
		})
	})
	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
