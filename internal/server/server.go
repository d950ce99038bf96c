// Package server exposes the HTTP API: ingestion and sleep-session admission
// through the gateway, the query surface, and operational endpoints for
// health, stats, and dead letters.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/xtxerr/somnia/config"
	"github.com/xtxerr/somnia/internal/gateway"
	"github.com/xtxerr/somnia/internal/logging"
	"github.com/xtxerr/somnia/internal/query"
)

var log = logging.Component("server")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address the HTTP listener binds.
	Listen string

	// MaxBodyBytes caps request body size for ingest and session payloads.
	MaxBodyBytes int64

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration

	// AuthFailureLimit and AuthFailureWindow configure the failed-auth
	// rate limiter. A limit of 0 disables it.
	AuthFailureLimit  int
	AuthFailureWindow time.Duration
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Listen:            config.DefaultListenAddress,
		MaxBodyBytes:      config.DefaultMaxBodyBytes,
		DrainTimeout:      config.DefaultDrainTimeout,
		AuthFailureLimit:  config.DefaultAuthFailureLimit,
		AuthFailureWindow: config.DefaultAuthFailureWindow,
	}
}

// =============================================================================
// Server
// =============================================================================

// Server is the HTTP front end. It owns no pipeline state; everything is
// delegated to the gateway, the query service, and the stores behind them.
type Server struct {
	cfg      Config
	gw       *gateway.Gateway
	queries  *query.Service
	sessions SessionStore
	dead     DeadLetterLister
	statsFn  StatsFunc

	limiter *RateLimiter
	httpSrv *http.Server
}

// New creates a Server. statsFn may be nil; the stats endpoint then reports
// an empty document.
func New(cfg Config, gw *gateway.Gateway, queries *query.Service, sessions SessionStore, dead DeadLetterLister, statsFn StatsFunc) *Server {
	s := &Server{
		cfg:      cfg,
		gw:       gw,
		queries:  queries,
		sessions: sessions,
		dead:     dead,
		statsFn:  statsFn,
	}
	if cfg.AuthFailureLimit > 0 {
		s.limiter = NewRateLimiter(cfg.AuthFailureLimit, cfg.AuthFailureWindow)
	}

	router := s.routes()
	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           handlers.LoggingHandler(os.Stdout, router),
		ReadHeaderTimeout: config.DefaultReadHeaderTimeout,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/readings", s.handleIngest).Methods("POST")
	r.HandleFunc("/v1/sessions", s.handlePutSession).Methods("PUT")

	r.HandleFunc("/v1/devices/{device}/buckets", s.handleBuckets).Methods("GET")
	r.HandleFunc("/v1/devices/{device}/summary", s.handleSummary).Methods("GET")
	r.HandleFunc("/v1/devices/{device}/correlations", s.handleCorrelations).Methods("GET")
	r.HandleFunc("/v1/devices/{device}/weekly", s.handleWeekly).Methods("GET")

	r.HandleFunc("/v1/deadletters", s.handleDeadLetters).Methods("GET")
	r.HandleFunc("/v1/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/v1/stats", s.handleStats).Methods("GET")

	return r
}

// Handler returns the root HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run starts the listener and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Run() error {
	log.Info("http server listening", "addr", s.cfg.Listen)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, bounded by DrainTimeout.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
}
