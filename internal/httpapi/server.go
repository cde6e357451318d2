// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package httpapi exposes the hub control plane over HTTP: REST for the
// session lifecycle, SSE and WebSocket for the event streams, Prometheus
// for scraping.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/provider"
	"github.com/ManuGH/asrhub/internal/session/manager"
	"github.com/ManuGH/asrhub/internal/snapshot"
)

// Config bounds the HTTP surface.
type Config struct {
	Listen          string
	RateLimit       int           // requests per window per client IP, 0 disables
	RateWindow      time.Duration
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
	Version         string
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8990"
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 64 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// ConfigReloader revalidates and swaps the runtime configuration.
type ConfigReloader interface {
	Reload(ctx context.Context) error
}

// Server wires the handlers over the manager facade.
type Server struct {
	cfg     Config
	mgr     *manager.Manager
	pool    *provider.Pool
	archive *snapshot.Archive // optional
	holder  ConfigReloader    // optional
	logger  zerolog.Logger

	httpSrv *http.Server
}

// New builds the server. archive may be nil.
func New(cfg Config, mgr *manager.Manager, pool *provider.Pool, archive *snapshot.Archive) *Server {
	cfg.defaults()
	s := &Server{
		cfg:     cfg,
		mgr:     mgr,
		pool:    pool,
		archive: archive,
		logger:  log.WithComponent("httpapi"),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           otelhttp.NewHandler(s.Router(), "asrhub.http"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetConfigHolder enables the reload endpoint. Call before Start.
func (s *Server) SetConfigHolder(h ConfigReloader) {
	s.holder = h
}

// Router builds the chi router; exported for tests.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, s.cfg.RateWindow))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDestroySession)
				r.Post("/active", s.handleSetActive)
				r.Post("/listen", s.handleStartListening)
				r.Post("/audio", s.handlePushAudio)
				r.Post("/actions", s.handleDispatchAction)
				r.Post("/upload", s.handleUpload)
				r.Get("/events", s.handleEvents)
				r.Get("/ws", s.handleWebSocket)
			})
		})

		r.Get("/pool", s.handlePoolStats)

		if s.archive != nil {
			r.Get("/archive", s.handleArchiveList)
			r.Get("/archive/{sessionID}", s.handleArchiveGet)
		}
	})

	r.Post("/internal/config/reload", s.handleConfigReload)

	return r
}

// Start serves until ctx is cancelled, then drains with the configured
// shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Listen).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
