package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"spl-copilot/internal/config"
	"spl-copilot/internal/monitor"
)

// Server is the HTTP front end for the query pipeline.
type Server struct {
	cfg             *config.Config
	pipe            Pipeline
	backend         Backend
	audit           AuditStore
	metrics         *monitor.Metrics
	version         string
	translatorReady bool

	httpServer *http.Server
}

// NewServer wires handlers, middleware and routes. audit may be nil
// when no database is configured.
func NewServer(cfg *config.Config, pipe Pipeline, backend Backend, audit AuditStore, metrics *monitor.Metrics, version string, translatorReady bool) *Server {
	s := &Server{
		cfg:             cfg,
		pipe:            pipe,
		backend:         backend,
		audit:           audit,
		metrics:         metrics,
		version:         version,
		translatorReady: translatorReady,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics skip auth and rate limiting so probes and
	// scrapers keep working when the API is locked down.
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		mux.Handle("GET "+s.cfg.Metrics.Path,
			promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/v1/ask", s.handleAsk)
	apiMux.HandleFunc("POST /api/v1/search", s.handleSearch)
	apiMux.HandleFunc("POST /api/v1/enhance", s.handleEnhance)
	apiMux.HandleFunc("GET /api/v1/suggestions", s.handleSuggestions)
	apiMux.HandleFunc("GET /api/v1/history", s.handleHistory)
	apiMux.HandleFunc("GET /api/v1/indexes", s.handleIndexes)

	mux.Handle("/api/v1/", chain(apiMux,
		apiKeyAuth(s.cfg.Security.APIKeyHeader, s.cfg.Security.AllowedKeys),
		rateLimit(s.cfg.Security.RateLimitRPS, s.cfg.Security.RateLimitBurst),
		maxBody(s.cfg.Server.MaxRequestBody),
		inFlight(s.metrics),
	))

	return chain(mux,
		recovery,
		requestID,
		logging,
		securityHeaders,
	)
}

// Start begins serving. Blocks until the listener stops.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTPS server")
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}
	log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests up to the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
