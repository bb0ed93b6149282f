// Package dispatcher selects and sequences fetch tiers for a URL.
//
// A call tries the structured API when the domain has a route, then plain
// HTTP extraction, then browser rendering. The first tier that produces
// content wins; the browser result is final whatever it holds.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tiered-crawler/internal/clock/system"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	"github.com/JakeFAU/tiered-crawler/internal/metrics"
)

// Options wires a Dispatcher. Routes, API, HTTP, Breaker, Hasher, and Clock may
// be nil; a nil Renderer makes the last tier fail with crawler.ErrRendererDisabled.
type Options struct {
	Routes   crawler.RouteTable
	Breaker  crawler.CircuitBreaker
	API      crawler.APIFetcher
	HTTP     crawler.HTTPFetcher
	Renderer crawler.Renderer
	Hasher   crawler.Hasher
	Clock    crawler.Clock
	// RendererEndpoint is passed to every Render call; empty keeps the
	// renderer's own default.
	RendererEndpoint string
	Logger           *zap.Logger
}

// Dispatcher implements the tiered fetch. It holds no mutable state and is
// safe for concurrent use.
type Dispatcher struct {
	routes           crawler.RouteTable
	breaker          crawler.CircuitBreaker
	api              crawler.APIFetcher
	http             crawler.HTTPFetcher
	renderer         crawler.Renderer
	hasher           crawler.Hasher
	clock            crawler.Clock
	rendererEndpoint string
	logger           *zap.Logger
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Dispatcher{
		routes:           opts.Routes,
		breaker:          opts.Breaker,
		api:              opts.API,
		http:             opts.HTTP,
		renderer:         opts.Renderer,
		hasher:           opts.Hasher,
		clock:            clock,
		rendererEndpoint: opts.RendererEndpoint,
		logger:           logger,
	}
}

// Fetch runs the tiers for rawURL in order. The only error it returns wraps
// crawler.ErrInvalidURL; every other failure is carried in FetchResult.Error.
func (d *Dispatcher) Fetch(ctx context.Context, rawURL string) (crawler.FetchResult, error) {
	start := time.Now()
	domain, err := d.admit(rawURL)
	if err != nil {
		return crawler.Failure(rawURL, "", err.Error(), 0), err
	}
	if res, open := d.shortCircuit(rawURL, domain, start); open {
		return res, nil
	}

	var attempts []crawler.Attempt
	logger := d.logger.With(zap.String("url", rawURL), zap.String("domain", domain))

	if route, ok := d.lookup(domain); ok && route.HasAPI() && d.api != nil {
		res, err := d.runTier(crawler.TierAPI, func() (crawler.FetchResult, error) {
			return d.api.FetchViaAPI(ctx, rawURL, route.APIEndpoint)
		})
		if err == nil {
			return d.finish(res, rawURL, domain, start, attempts), nil
		}
		attempts = d.fellThrough(logger, attempts, crawler.TierAPI, err)
	}

	if d.http != nil {
		res, err := d.runTier(crawler.TierHTTP, func() (crawler.FetchResult, error) {
			return d.http.FetchViaHTTP(ctx, rawURL)
		})
		if err == nil {
			return d.finish(res, rawURL, domain, start, attempts), nil
		}
		attempts = d.fellThrough(logger, attempts, crawler.TierHTTP, err)
	}

	res := d.render(ctx, rawURL, domain)
	if res.Failed() {
		logger.Warn("all tiers failed", zap.String("tier", crawler.TierBrowser.String()), zap.String("error", res.Error))
	}
	return d.finish(res, rawURL, domain, start, attempts), nil
}

// FetchBrowser skips straight to the rendering tier. The breaker is still
// consulted.
func (d *Dispatcher) FetchBrowser(ctx context.Context, rawURL string) (crawler.FetchResult, error) {
	start := time.Now()
	domain, err := d.admit(rawURL)
	if err != nil {
		return crawler.Failure(rawURL, "", err.Error(), 0), err
	}
	if res, open := d.shortCircuit(rawURL, domain, start); open {
		return res, nil
	}
	return d.finish(d.render(ctx, rawURL, domain), rawURL, domain, start, nil), nil
}

func (d *Dispatcher) admit(rawURL string) (string, error) {
	domain, _, err := crawler.ParseTarget(rawURL)
	if err != nil {
		d.logger.Warn("rejecting url", zap.String("url", rawURL), zap.Error(err))
		return "", fmt.Errorf("dispatch: %w", err)
	}
	return domain, nil
}

func (d *Dispatcher) shortCircuit(rawURL, domain string, start time.Time) (crawler.FetchResult, bool) {
	if d.breaker == nil || !d.breaker.Tripped(domain) {
		return crawler.FetchResult{}, false
	}
	metrics.ObserveShortCircuit(domain)
	d.logger.Warn("circuit open, skipping all tiers",
		zap.String("url", rawURL),
		zap.String("domain", domain),
		zap.String("reason", crawler.Reason(crawler.ErrCircuitOpen)),
	)
	errText := fmt.Errorf("%w for %s", crawler.ErrCircuitOpen, domain).Error()
	return d.finish(crawler.Failure(rawURL, domain, errText, 0), rawURL, domain, start, nil), true
}

func (d *Dispatcher) lookup(domain string) (crawler.SiteRoute, bool) {
	if d.routes == nil {
		return crawler.SiteRoute{}, false
	}
	return d.routes.Lookup(domain)
}

func (d *Dispatcher) runTier(tier crawler.Tier, fetch func() (crawler.FetchResult, error)) (crawler.FetchResult, error) {
	start := time.Now()
	res, err := fetch()
	if err == nil && !res.HasContent() {
		err = fmt.Errorf("%w: %s tier returned no content", crawler.ErrEmptyContent, tier)
	}
	metrics.ObserveTier(tier.String(), crawler.Reason(err), time.Since(start))
	if err != nil {
		return crawler.FetchResult{}, err
	}
	res.Tier = tier
	return res, nil
}

func (d *Dispatcher) fellThrough(logger *zap.Logger, attempts []crawler.Attempt, tier crawler.Tier, err error) []crawler.Attempt {
	reason := crawler.Reason(err)
	logger.Info("tier fell through",
		zap.String("tier", tier.String()),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return append(attempts, crawler.Attempt{Tier: tier, Reason: reason})
}

func (d *Dispatcher) render(ctx context.Context, rawURL, domain string) crawler.FetchResult {
	start := time.Now()
	var res crawler.FetchResult
	if d.renderer == nil {
		res = crawler.Failure(rawURL, domain, crawler.ErrRendererDisabled.Error(), 0)
	} else {
		res = d.renderer.Render(ctx, rawURL, d.rendererEndpoint)
	}
	res.Tier = crawler.TierBrowser
	if !res.HasContent() && !res.Failed() {
		res.Error = fmt.Errorf("%w: renderer returned nothing", crawler.ErrEmptyContent).Error()
	}
	outcome := "ok"
	if res.Failed() {
		outcome = "failed"
	}
	metrics.ObserveTier(crawler.TierBrowser.String(), outcome, time.Since(start))
	return res
}

// finish stamps the bookkeeping fields every returned result carries.
func (d *Dispatcher) finish(
	res crawler.FetchResult,
	rawURL, domain string,
	start time.Time,
	attempts []crawler.Attempt,
) crawler.FetchResult {
	res.URL = rawURL
	if res.Domain == "" {
		res.Domain = domain
	}
	if res.Tier == "" {
		res.Tier = crawler.TierBrowser
	}
	if res.Links == nil {
		res.Links = []string{}
	}
	if res.FinalURL == "" && !res.Failed() {
		res.FinalURL = rawURL
	}
	res.Attempts = attempts
	res.FetchedAt = d.clock.Now()
	res.Duration = time.Since(start)
	res.DurationMs = res.Duration.Milliseconds()
	res.ContentHash = d.contentHash(res)
	metrics.ObserveFetch(res.Tier.String(), res.Failed())
	return res
}

func (d *Dispatcher) contentHash(res crawler.FetchResult) string {
	if d.hasher == nil || !res.HasContent() {
		return ""
	}
	sum, err := d.hasher.Hash([]byte(res.Content))
	if err != nil {
		d.logger.Warn("content hash failed", zap.String("url", res.URL), zap.Error(err))
		return ""
	}
	return sum
}
