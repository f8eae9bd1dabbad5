// Package server is a preview web server for rewritten records. It lists the
// records of the store, renders their rewritten HTML together with the
// generated derivatives, exposes Prometheus metrics and can trigger a run.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eringen/inlineimages"
)

// Store is the read side of the record store.
type Store interface {
	Records(ctx context.Context) ([]*inlineimages.ContentRecord, error)
	Record(ctx context.Context, id string) (*inlineimages.ContentRecord, error)
}

// Runner starts a rewrite run.
type Runner interface {
	Run(ctx context.Context) (inlineimages.Report, error)
}

// Config holds the server settings.
type Config struct {
	Addr       string        // Listen address (default "localhost:3000")
	StaticDir  string        // Directory holding generated derivatives (default "public")
	StaticPath string        // URL prefix for StaticDir (default "/static")
	RunTimeout time.Duration // Bound on runs started over HTTP (default 10min)
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:3000"
	}
	if c.StaticDir == "" {
		c.StaticDir = "public"
	}
	if c.StaticPath == "" {
		c.StaticPath = "/static"
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = 10 * time.Minute
	}
}

// Option configures additional Server behavior.
type Option func(*Server)

// WithRunner enables POST /api/process.
func WithRunner(r Runner) Option {
	return func(s *Server) {
		s.runner = r
	}
}

// WithGatherer enables GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the request and error logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server wires the echo instance to the store.
type Server struct {
	Config Config
	Echo   *echo.Echo

	store    Store
	runner   Runner
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a Server with its middleware and routes in place.
func New(cfg Config, store Store, opts ...Option) *Server {
	cfg.setDefaults()
	s := &Server{
		Config: cfg,
		Echo:   echo.New(),
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Echo.HideBanner = true
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	e := s.Echo
	e.Static(s.Config.StaticPath, s.Config.StaticDir)
	e.GET("/healthz", handleHealth)
	e.GET("/", s.handleIndex)
	e.GET("/records/:id/", s.handleRecord)
	e.GET("/api/records/:id", s.handleRecordJSON)
	if s.runner != nil {
		e.POST("/api/process", s.handleProcess)
	}
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Start listens on Config.Addr until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("preview server listening", "addr", s.Config.Addr)
	if err := s.Echo.Start(s.Config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}
