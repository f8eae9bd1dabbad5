package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/eringen/inlineimages"
	"github.com/eringen/inlineimages/derive"
	"github.com/eringen/inlineimages/fetch"
)

type globalFlags struct {
	dbPath   string
	logLevel string
}

// pipelineFlags configure the collaborators of a run.
type pipelineFlags struct {
	configPath string
	cacheDir   string
	publicDir  string
	publicPath string
	cacheTTL   time.Duration
	hostLimit  int
	userAgent  string

	fetchTimeout     time.Duration
	fetchConcurrency int
}

func (p *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.configPath, "config", "c", "", "Options file path (YAML)")
	cmd.Flags().StringVar(&p.cacheDir, "cache-dir", filepath.Join(".cache", "files"), "Directory for downloaded originals")
	cmd.Flags().StringVar(&p.publicDir, "public-dir", "public", "Directory for generated derivatives")
	cmd.Flags().StringVar(&p.publicPath, "public-path", "/static", "URL prefix under which public-dir is served")
	cmd.Flags().DurationVar(&p.cacheTTL, "cache-ttl", time.Hour, "Lifetime of memoised derivative sets")
	cmd.Flags().IntVar(&p.hostLimit, "host-limit", 60, "Downloads per minute per media host (0 disables the limit)")
	cmd.Flags().StringVar(&p.userAgent, "user-agent", "", "User-Agent for media downloads")
	cmd.Flags().DurationVar(&p.fetchTimeout, "fetch-timeout", 30*time.Second, "Timeout for one media download")
	cmd.Flags().IntVar(&p.fetchConcurrency, "fetch-concurrency", 8, "Media downloads in flight")
}

func (p pipelineFlags) validate() error {
	if p.fetchTimeout <= 0 {
		return fmt.Errorf("--fetch-timeout must be positive, got %s", p.fetchTimeout)
	}
	if p.fetchConcurrency < 1 {
		return fmt.Errorf("--fetch-concurrency must be at least 1, got %d", p.fetchConcurrency)
	}
	if p.cacheTTL < 0 {
		return fmt.Errorf("--cache-ttl must not be negative, got %s", p.cacheTTL)
	}
	return nil
}

// app holds what every command needs: the logger, the store and the metrics
// registry.
type app struct {
	logger   *slog.Logger
	store    *inlineimages.Store
	registry *prometheus.Registry
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openApp(g *globalFlags) (*app, error) {
	logger := newLogger(g.logLevel)
	slog.SetDefault(logger)

	store, err := inlineimages.NewStore(g.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &app{logger: logger, store: store, registry: reg}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// plugin builds a Plugin over the store. The returned func releases the
// fetcher's host limiter.
func (a *app) plugin(p pipelineFlags) (*inlineimages.Plugin, func(), error) {
	if err := p.validate(); err != nil {
		return nil, nil, err
	}
	opts := inlineimages.DefaultOptions()
	if p.configPath != "" {
		var err error
		if opts, err = inlineimages.LoadOptions(p.configPath); err != nil {
			return nil, nil, err
		}
	}

	limiter := fetch.NewHostLimiter(p.hostLimit, time.Minute)
	fetchOpts := []fetch.Option{
		fetch.WithHostLimiter(limiter),
		fetch.WithClient(&http.Client{Timeout: p.fetchTimeout}),
		fetch.WithConcurrency(p.fetchConcurrency),
	}
	if p.userAgent != "" {
		fetchOpts = append(fetchOpts, fetch.WithUserAgent(p.userAgent))
	}
	fetcher, err := fetch.NewRemoteFetcher(p.cacheDir, fetchOpts...)
	if err != nil {
		limiter.Stop()
		return nil, nil, err
	}

	generator := derive.NewCache(derive.NewProcessor(p.publicDir, p.publicPath), p.cacheTTL)

	plugin, err := inlineimages.New(opts, a.store, fetcher, generator,
		inlineimages.WithLogger(a.logger),
		inlineimages.WithMetrics(inlineimages.NewMetrics(a.registry)),
	)
	if err != nil {
		limiter.Stop()
		return nil, nil, err
	}
	return plugin, limiter.Stop, nil
}
