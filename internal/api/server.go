package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/dunamismax/kirkproxy/internal/queue"
	"github.com/dunamismax/kirkproxy/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const (
	detailNoImage    = "No se pudo obtener la imagen procesada."
	detailInternal   = "Error interno del servidor. Inténtalo más tarde."
	detailInvalidArg = "Petición inválida. El parámetro 'size' debe estar entre 1 y 1024."
)

type Server struct {
	logger      zerolog.Logger
	renderer    renderer
	queueClient queueEnqueuer
	runs        store.RunStore
	images      imageReader
	faviconPath string
	rateLimiter RateLimiter
	metrics     *metrics
	tracer      trace.Tracer
	now         func() time.Time
	mux         *http.ServeMux
}

type renderer interface {
	Run(ctx context.Context, runID string, size int) (domain.Result, error)
}

type queueEnqueuer interface {
	EnqueueRender(ctx context.Context, payload queue.RenderPayload) (*asynq.TaskInfo, error)
}

type imageReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Options wires the server. Queue, RateLimiter and Tracer are optional:
// without a queue the /v1/renders routes answer 503.
type Options struct {
	Logger      zerolog.Logger
	Renderer    renderer
	Queue       queueEnqueuer
	Runs        store.RunStore
	Images      imageReader
	FaviconPath string
	RateLimiter RateLimiter
	Tracer      trace.Tracer
}

func NewServer(opts Options) *Server {
	runs := opts.Runs
	if runs == nil {
		runs = store.NewMemoryRunStore()
	}

	s := &Server{
		logger:      opts.Logger,
		renderer:    opts.Renderer,
		queueClient: opts.Queue,
		runs:        runs,
		images:      opts.Images,
		faviconPath: opts.FaviconPath,
		rateLimiter: opts.RateLimiter,
		metrics:     newMetrics(),
		tracer:      opts.Tracer,
		now:         time.Now,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withTracing(h)
	h = withCORS(h)
	return s.withAccessLog(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ping", s.handlePing)
	s.mux.HandleFunc("GET /favicon.ico", s.handleFavicon)
	s.mux.HandleFunc("GET /{$}", s.handleInline)
	s.mux.HandleFunc("GET /download", s.handleDownload)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/renders", s.handleCreateRender)
	s.mux.HandleFunc("GET /v1/renders/{id}", s.handleGetRender)
	s.mux.HandleFunc("GET /v1/renders/{id}/image", s.handleGetRenderImage)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ping": "pong"})
}

func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	if s.faviconPath == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.faviconPath)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
