package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"sandbox-gateway/internal/auth"
	"sandbox-gateway/internal/config"
	"sandbox-gateway/internal/monitor"
	"sandbox-gateway/internal/sandbox"
)

// HealthChecker reports reachability of a dependency.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Server is the main HTTP server for the gateway API.
type Server struct {
	httpServer *http.Server
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, manager *sandbox.Manager, verifier auth.Verifier, db, be HealthChecker, metrics *monitor.Metrics) *Server {
	handlers := NewHandlers(manager, cfg.Development())

	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
	}

	// Sandbox API, wrapped with auth
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/v1/sandboxes", handlers.HandleCreate)
	apiMux.HandleFunc("GET /api/v1/sandboxes", handlers.HandleList)
	apiMux.HandleFunc("GET /api/v1/sandboxes/{id}", handlers.HandleGet)
	apiMux.HandleFunc("POST /api/v1/sandboxes/{id}/start", handlers.HandleStart)
	apiMux.HandleFunc("POST /api/v1/sandboxes/{id}/stop", handlers.HandleStop)
	apiMux.HandleFunc("POST /api/v1/sandboxes/{id}/execute", handlers.HandleExecute)
	apiMux.HandleFunc("POST /api/v1/sandboxes/{id}/install", handlers.HandleInstall)
	apiMux.HandleFunc("POST /api/v1/sandboxes/{id}/upload", handlers.HandleUpload)
	apiMux.HandleFunc("GET /api/v1/sandboxes/{id}/stats", handlers.HandleStats)
	apiMux.HandleFunc("DELETE /api/v1/sandboxes/{id}", handlers.HandleDelete)

	authedAPI := AuthMiddleware(verifier, metrics)(apiMux)

	// Top-level mux: health/metrics bypass auth, everything else goes through auth
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth(db, be))
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/api/v1/", authedAPI)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled, running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(db, be HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbOK := db == nil || db.Healthy(r.Context())
		beOK := be == nil || be.Healthy(r.Context())

		resp := HealthResponse{
			Status:   "ok",
			Database: dbOK,
			Backend:  beOK,
			Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		}

		if !dbOK || !beOK {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
