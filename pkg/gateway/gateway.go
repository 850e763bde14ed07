// Package gateway implements the Frontend Gateway (C9): a thin HTTP
// and WebSocket surface over the Session Registry (C3), Message Fabric
// (C4) and Work Queue (C5), grounded on telnet2-opencode's chi router
// setup for the HTTP side and vanducng-goclaw's per-connection Client
// shape for the chat socket.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/fabric"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/log"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/ports"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/queue"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/registry"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
)

// Version is the gateway's reported version string for /health.
const Version = "0.1.0"

// Config holds the gateway's fixed, env-sourced settings (spec §6.5).
type Config struct {
	Host         string // advertised host, used to build desktop_url/chat_url
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	// No write timeout: the chat socket is long-lived.
}

// Gateway is the Frontend Gateway's HTTP server.
type Gateway struct {
	cfg       Config
	router    *chi.Mux
	httpSrv   *http.Server
	registry  *registry.Registry
	fabric    *fabric.Fabric
	queue     *queue.Queue
	desktop   *ports.Allocator
	tool      *ports.Allocator
	s         *store.Store
	startedAt time.Time
	logger    zerolog.Logger
}

// New constructs a Gateway and wires its routes.
func New(cfg Config, reg *registry.Registry, fb *fabric.Fabric, q *queue.Queue, desktop, tool *ports.Allocator, s *store.Store) *Gateway {
	cfg.setDefaults()
	g := &Gateway{
		cfg:       cfg,
		router:    chi.NewRouter(),
		registry:  reg,
		fabric:    fb,
		queue:     q,
		desktop:   desktop,
		tool:      tool,
		s:         s,
		startedAt: time.Now(),
		logger:    log.WithComponent("gateway"),
	}
	g.setupMiddleware()
	g.setupRoutes()
	return g
}

// Handler exposes the gateway's router for use by tests or an
// alternate listener.
func (g *Gateway) Handler() http.Handler { return g.router }

func (g *Gateway) setupMiddleware() {
	g.router.Use(middleware.RequestID)
	g.router.Use(middleware.RealIP)
	g.router.Use(middleware.Recoverer)
	g.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// Start begins listening; it blocks until the server stops.
func (g *Gateway) Start() error {
	g.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", g.cfg.Port),
		Handler:      g.router,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}
	g.logger.Info().Int("port", g.cfg.Port).Msg("gateway listening")
	err := g.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.httpSrv == nil {
		return nil
	}
	return g.httpSrv.Shutdown(ctx)
}
