// Package api serves the humansign HTTP interface: capture sessions, seal
// and token verification.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"humansign/internal/config"
	"humansign/internal/health"
	"humansign/internal/logging"
	"humansign/internal/metrics"
	"humansign/internal/ratelimit"
	"humansign/internal/seal"
	"humansign/internal/session"
	"humansign/internal/store"
	"humansign/internal/verify"
)

// Sessions is the session manager surface the API drives.
type Sessions interface {
	Start(ctx context.Context, meta seal.Metadata) (*session.Session, error)
	Resume(ctx context.Context, id string) (*session.Session, error)
	End(ctx context.Context, id string) error
	Sessions() []string
	Seals(ctx context.Context, id string) ([]store.SealRecord, error)
}

// Verifier checks a token and an optional document.
type Verifier interface {
	Verify(ctx context.Context, tok string, document []byte) *verify.Result
}

// Options configures a Server.
type Options struct {
	// Sessions enables the /sessions routes. Nil serves verification only.
	Sessions Sessions
	// Verifier is required.
	Verifier Verifier

	Verify      config.VerifyConfig
	MetricsPath string
	// DefaultSubject fills in sessions started without a subject.
	DefaultSubject string

	// RateLimit throttles /api/v1 per client IP. Nil disables it.
	RateLimit *ratelimit.KeyedLimiter

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Health  *health.Checker
}

// Server holds the HTTP handlers.
type Server struct {
	sessions Sessions
	verifier Verifier
	limits   config.VerifyConfig
	subject  string

	metricsPath string
	limiter     *ratelimit.KeyedLimiter
	logger      *logging.Logger
	metrics     *metrics.Metrics
	health      *health.Checker
}

// NewServer creates a server from opts. Zero verify limits fall back to
// the configuration defaults.
func NewServer(opts Options) *Server {
	limits := opts.Verify
	defaults := config.DefaultConfig().Verify
	if limits.MaxArtifactBytes <= 0 {
		limits.MaxArtifactBytes = defaults.MaxArtifactBytes
	}
	if limits.ArtifactExtension == "" {
		limits.ArtifactExtension = defaults.ArtifactExtension
	}
	if len(limits.AllowedDocumentTypes) == 0 {
		limits.AllowedDocumentTypes = defaults.AllowedDocumentTypes
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Server{
		sessions:    opts.Sessions,
		verifier:    opts.Verifier,
		limits:      limits,
		subject:     opts.DefaultSubject,
		metricsPath: opts.MetricsPath,
		limiter:     opts.RateLimit,
		logger:      logger.WithComponent("api"),
		metrics:     opts.Metrics,
		health:      opts.Health,
	}
}

// Router returns the chi router with every route mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestContext)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	if s.health != nil {
		r.Method(http.MethodGet, "/livez", s.health.LivenessHandler())
		r.Method(http.MethodGet, "/readyz", s.health.ReadinessHandler())
		r.Method(http.MethodGet, "/healthz", s.health.HealthHandler())
	}
	if s.metrics != nil && s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimit)
		}
		r.Post("/verify", s.handleVerify)
		r.Post("/verify-files", s.handleVerifyFiles)

		if s.sessions != nil {
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Post("/", s.handleStartSession)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSession)
					r.Delete("/", s.handleEndSession)
					r.Post("/end", s.handleEndSession)
					r.Post("/events", s.handleAddEvents)
					r.Post("/flush", s.handleFlush)
					r.Post("/seal", s.handleSeal)
					r.Get("/seals", s.handleListSeals)
				})
			})
		}
	})

	return r
}

// requestContext copies chi's request ID into the logging context so
// audit events and log lines carry it.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		if id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
			r = r.WithContext(logging.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.WithContext(r.Context()).Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
