package httpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/core/queuefeed"
	"github.com/kirillkom/docvault/internal/observability/metrics"
)

const streamPath = "/v1/queue/stream"

// QueueService reads and cancels queue rows.
type QueueService interface {
	ports.QueueReader
	ports.QueueCanceller
}

// Services are the inbound ports the API exposes.
type Services struct {
	Ingestor  ports.QueueIngestor
	Processor ports.QueueProcessor
	Sweeper   ports.QueueSweeper
	Queue     QueueService
	Review    ports.ReviewService
	Documents ports.DocumentService
	Entities  ports.EntityService
	Folders   ports.FolderService
	Sessions  ports.SessionService
	Feed      *queuefeed.Hub
}

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.HTTPServerMetrics

	AuthSecret string

	RateLimitRPS      float64
	RateLimitBurst    int
	BackpressureMax   int
	BackpressureWait  time.Duration
	UploadMaxBytes    int64
	ProcessTimeout    time.Duration
	ValidateRequests  bool
	StreamKeepAlive   time.Duration
	StreamResyncEvery time.Duration
	HealthCheck       func(context.Context) error
}

type Router struct {
	svc     Services
	opts    Options
	logger  *slog.Logger
	openAPI http.Handler
}

func NewRouter(svc Services, opts Options) (*Router, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UploadMaxBytes <= 0 {
		opts.UploadMaxBytes = 50 << 20
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 5 * time.Minute
	}
	if opts.StreamKeepAlive <= 0 {
		opts.StreamKeepAlive = 25 * time.Second
	}
	if opts.StreamResyncEvery <= 0 {
		opts.StreamResyncEvery = 30 * time.Second
	}
	rt := &Router{svc: svc, opts: opts, logger: opts.Logger}

	api := http.Handler(rt.apiMux())
	if opts.ValidateRequests {
		router, err := loadOpenAPIRouter(context.Background())
		if err != nil {
			return nil, fmt.Errorf("init request validation: %w", err)
		}
		api = openAPIValidationMiddleware(api, router)
	}
	rt.openAPI = authMiddleware(api, []byte(opts.AuthSecret))
	return rt, nil
}

func (rt *Router) apiMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/queue", rt.uploadQueueItem)
	mux.HandleFunc("GET /v1/queue", rt.listQueue)
	mux.HandleFunc("GET "+streamPath, rt.streamQueue)
	mux.HandleFunc("POST /v1/queue/health-sweep", rt.healthSweep)
	mux.HandleFunc("GET /v1/queue/{id}", withPathIDs(rt.getQueueItem))
	mux.HandleFunc("DELETE /v1/queue/{id}", withPathIDs(rt.cancelQueueItem))
	mux.HandleFunc("POST /v1/queue/{id}/process", withPathIDs(rt.processQueueItem))
	mux.HandleFunc("GET /v1/queue/{id}/review", withPathIDs(rt.getReview))
	mux.HandleFunc("POST /v1/queue/{id}/revalidate", withPathIDs(rt.revalidateCandidate))
	mux.HandleFunc("POST /v1/queue/{id}/resolve", withPathIDs(rt.resolveConflict))
	mux.HandleFunc("POST /v1/queue/{id}/approve", withPathIDs(rt.approveQueueItem))
	mux.HandleFunc("POST /v1/queue/{id}/reject", withPathIDs(rt.rejectQueueItem))

	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", withPathIDs(rt.getDocument))
	mux.HandleFunc("DELETE /v1/documents/{id}", withPathIDs(rt.deleteDocument))
	mux.HandleFunc("DELETE /v1/documents/{id}/entities/{entityID}", withPathIDs(rt.unlinkEntity))

	mux.HandleFunc("GET /v1/entities", rt.listEntities)
	mux.HandleFunc("PUT /v1/entities/{id}", withPathIDs(rt.updateEntity))
	mux.HandleFunc("GET /v1/entity-types", rt.listEntityTypes)

	mux.HandleFunc("GET /v1/folders", rt.listFolders)
	mux.HandleFunc("POST /v1/folders", rt.createFolder)
	mux.HandleFunc("POST /v1/folders/{id}/analysis", withPathIDs(rt.analyzeFolder))
	mux.HandleFunc("GET /v1/folders/{id}/analysis.html", withPathIDs(rt.renderFolderAnalysis))
	mux.HandleFunc("GET /v1/folders/{id}/export.xlsx", withPathIDs(rt.exportFolder))

	mux.HandleFunc("GET /v1/session", rt.getSession)
	mux.HandleFunc("PUT /v1/session/last-folder", rt.setLastFolder)
	return mux
}

// withPathIDs answers 400 for {id} and {entityID} values that are not UUIDs,
// before they reach a UUID column.
func withPathIDs(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, name := range [...]string{"id", "entityID"} {
			raw := r.PathValue(name)
			if raw == "" {
				continue
			}
			if _, err := uuid.Parse(raw); err != nil {
				writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "parse path", fmt.Errorf("%s %q is not a uuid", name, raw)))
				return
			}
		}
		next(w, r)
	}
}

// Handler builds the full middleware chain. The event stream is long lived
// and stays outside the backpressure gate.
func (rt *Router) Handler() http.Handler {
	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	if rt.opts.Metrics != nil {
		root.Handle("GET /metrics", rt.opts.Metrics.Handler())
	}

	gated := backpressureMiddleware(rt.openAPI, rt.opts.BackpressureMax, rt.opts.BackpressureWait)
	root.Handle("/v1/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == streamPath {
			rt.openAPI.ServeHTTP(w, r)
			return
		}
		gated.ServeHTTP(w, r)
	}))

	handler := rateLimitMiddleware(root, newRateLimiter(rt.opts.RateLimitRPS, rt.opts.RateLimitBurst))
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler, rt.logger)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	if rt.opts.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.opts.HealthCheck(ctx); err != nil {
			rt.logger.Warn("health_check_failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
