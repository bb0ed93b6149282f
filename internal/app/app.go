// Package app builds the long-lived services behind both the CLI and the HTTP
// server, acting as a dependency injection container.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tiered-crawler/internal/api"
	"github.com/JakeFAU/tiered-crawler/internal/clock/system"
	"github.com/JakeFAU/tiered-crawler/internal/config"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	"github.com/JakeFAU/tiered-crawler/internal/detector"
	"github.com/JakeFAU/tiered-crawler/internal/dispatcher"
	apifetcher "github.com/JakeFAU/tiered-crawler/internal/fetcher/api"
	collyfetcher "github.com/JakeFAU/tiered-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/tiered-crawler/internal/fetcher/extract"
	"github.com/JakeFAU/tiered-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/tiered-crawler/internal/hash/sha256"
	"github.com/JakeFAU/tiered-crawler/internal/id/uuid"
	"github.com/JakeFAU/tiered-crawler/internal/metrics"
	"github.com/JakeFAU/tiered-crawler/internal/policy/breaker"
	"github.com/JakeFAU/tiered-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/tiered-crawler/internal/routing"
	"github.com/JakeFAU/tiered-crawler/internal/worker"
)

// App holds the shared services for one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	routes     *routing.Table
	dispatcher *dispatcher.Dispatcher
	pool       *worker.Pool
	browser    *headless.Browser
}

// New wires every tier from cfg. A headless browser that fails to start
// degrades to the disabled renderer instead of failing startup.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	routes, err := routing.LoadFile(cfg.Routing.File)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	logger.Info("routes loaded", zap.Int("domains", routes.Len()))

	clock := system.New()
	brk := breaker.New(breaker.Config{
		Threshold: cfg.Breaker.FailureThreshold,
		Window:    cfg.BreakerWindow(),
		Cooldown:  cfg.BreakerCooldown(),
	}, clock)
	throttle := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Throttle.RequestsPerSecond,
		Burst:             cfg.Throttle.Burst,
		BlockPenalty:      cfg.BlockPenalty(),
		MaxPenalty:        cfg.MaxPenalty(),
	}, brk, clock)
	detect := detector.NewHeuristic(cfg.Detector.MinTextChars, cfg.Detector.Keywords)

	pageClient := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.RequestTimeout(),
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
	})
	// The API client never consults robots.txt; crawler.respect_robots applies
	// to page fetches only.
	apiClient := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: false,
		Timeout:       cfg.RequestTimeout(),
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
	})

	a := &App{
		cfg:    cfg,
		logger: logger,
		routes: routes,
	}

	var renderer crawler.Renderer = headless.NewDisabled()
	if cfg.Headless.Enabled {
		browser, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.NavigationTimeout(),
			Endpoint:          cfg.Headless.Endpoint,
		})
		if err != nil {
			logger.Warn("headless renderer init failed", zap.Error(err))
		} else {
			a.browser = browser
			renderer = headless.NewRenderer(browser, throttle, detect, logger.Named("browser"))
		}
	}

	a.dispatcher = dispatcher.New(dispatcher.Options{
		Routes:   routes,
		Breaker:  brk,
		API:      apifetcher.New(apiClient, throttle, logger.Named("api")),
		HTTP:     extract.New(extract.Config{Accept: cfg.Crawler.Accept}, pageClient, throttle, detect, logger.Named("http")),
		Renderer: renderer,
		Hasher:   sha256.New(),
		Clock:    clock,
		Logger:   logger.Named("dispatcher"),
	})
	a.pool = worker.New(a.dispatcher, worker.Config{Concurrency: cfg.Crawler.Concurrency}, logger.Named("worker"))
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Dispatcher returns the tiered dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Pool returns the batch worker pool.
func (a *App) Pool() *worker.Pool {
	return a.pool
}

// Routes returns the loaded route table.
func (a *App) Routes() *routing.Table {
	return a.routes
}

// Server builds the HTTP API over the app's services.
func (a *App) Server() *api.Server {
	return api.NewServer(a.dispatcher, a.pool, a.routes, uuid.New(), a.cfg, a.logger.Named("api"))
}

// Close releases the browser and flushes the logger.
func (a *App) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

// Fetcher exposes the dispatcher through the API's fetch surface.
func (a *App) Fetcher() api.Fetcher {
	return a.dispatcher
}
