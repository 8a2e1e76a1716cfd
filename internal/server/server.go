package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/tarja/internal/evidence"
	"github.com/dativo-io/tarja/internal/otel"
	"github.com/dativo-io/tarja/internal/pipeline"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxBodyBytes = 10 << 20
	maxBatchDocuments   = 1000
)

// Server holds all dependencies for the HTTP API.
type Server struct {
	router        *chi.Mux
	pipeline      *pipeline.Pipeline
	evidenceStore *evidence.Store
	apiKeys       map[string]string
	corsOrigins   []string
	limiter       *RateLimiter
	maxBodyBytes  int64
	startTime     time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithEvidenceStore persists an audit record for every request that runs
// the pipeline and enables the /v1/evidence and /v1/batches routes.
func WithEvidenceStore(store *evidence.Store) Option {
	return func(s *Server) { s.evidenceStore = store }
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRateLimiter enables per-caller rate limiting on authenticated routes.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithMaxBodyBytes caps request bodies on the pipeline routes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// NewServer builds a Server around a pipeline. apiKeys maps key -> caller.
func NewServer(p *pipeline.Pipeline, apiKeys map[string]string, opts ...Option) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		pipeline:     p,
		apiKeys:      apiKeys,
		corsOrigins:  []string{"*"},
		maxBodyBytes: defaultMaxBodyBytes,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler (chi router with all middleware and routes).
// /v1/batch is registered without the default request timeout; it is bounded
// by the body size and the document cap instead.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.MiddlewareWithStatus())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequestSize(s.maxBodyBytes))
			r.Post("/v1/batch", s.handleBatch)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(defaultTimeout))
				r.Post("/v1/scan", s.handleScan)
				r.Post("/v1/redact", s.handleRedact)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Use(s.requireEvidenceStore)
			r.Get("/v1/evidence", s.handleEvidenceList)
			r.Get("/v1/evidence/timeline", s.handleEvidenceTimeline)
			r.Get("/v1/evidence/{id}", s.handleEvidenceGet)
			r.Get("/v1/evidence/{id}/verify", s.handleEvidenceVerify)
			r.Post("/v1/evidence/export", s.handleEvidenceExport)

			r.Get("/v1/batches", s.handleBatchList)
			r.Get("/v1/batches/{id}", s.handleBatchGet)
			r.Get("/v1/batches/{id}/verify", s.handleBatchVerify)

			r.Get("/v1/stats", s.handleStats)
		})
	})

	return r
}

func (s *Server) requireEvidenceStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.evidenceStore == nil {
			writeError(w, http.StatusServiceUnavailable, "evidence_disabled", "evidence store is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
