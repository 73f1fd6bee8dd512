// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/ipenforcer/internal/auth"
	casesTransport "github.com/pendergraft/ipenforcer/internal/cases/transport"
	"github.com/pendergraft/ipenforcer/internal/config"
	"github.com/pendergraft/ipenforcer/internal/middleware/logging"
	"github.com/pendergraft/ipenforcer/internal/middleware/ratelimit"
	"github.com/pendergraft/ipenforcer/internal/middleware/realip"
	"github.com/pendergraft/ipenforcer/internal/middleware/security"
	"github.com/pendergraft/ipenforcer/internal/observability/metrics"
	sessionsTransport "github.com/pendergraft/ipenforcer/internal/sessions/transport"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CaseAPI enables the operator case routes.
type CaseAPI struct {
	Service   casesTransport.Service
	Operators auth.Validator
}

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  Pinger
	logger *slog.Logger
	router *chi.Mux

	sessionsSvc sessionsTransport.Service
	cases       *CaseAPI
}

// New creates a new server. The operator case API is served only when
// cases is non-nil.
func New(cfg *config.Config, store Pinger, sessionsSvc sessionsTransport.Service, cases *CaseAPI, logger *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		router:      chi.NewRouter(),
		sessionsSvc: sessionsSvc,
		cases:       cases,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	// Order matters! Security middleware runs first to block malicious requests early.

	// 1. Real IP extraction (must be first to set client IP for other middleware)
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Security filter (blocks malicious patterns, bypasses health checks)
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled))

	// 3. Body size limit
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeMB))

	// 4. Rate limiting (bypasses health checks)
	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	}))

	// 5. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// 6. CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	if metrics.Enabled() {
		s.router.Handle("/metrics", metrics.Handler())
	}

	maxEvidence := int64(s.cfg.Evidence.MaxSizeMB) << 20
	sessionsHandler := sessionsTransport.NewHandler(s.sessionsSvc, maxEvidence, s.logger)

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/artworks", sessionsHandler.RegisterArtworkRoutes)
		r.Route("/sessions", sessionsHandler.RegisterRoutes)

		if s.cases != nil {
			casesHandler := casesTransport.NewHandler(s.cases.Service, s.logger)
			r.Route("/cases", func(r chi.Router) {
				r.Use(auth.Middleware(s.cases.Operators, casesTransport.WriteError))
				casesHandler.RegisterRoutes(r)
			})
		}
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once the case store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
