package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/tiered-crawler/internal/content"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
)

// PageDetector recognizes challenge pages in rendered HTML.
type PageDetector interface {
	IsBlockedPage(html string) bool
}

type pageRenderer interface {
	render(ctx context.Context, rawURL, endpoint string) (page, error)
}

// Renderer implements crawler.Renderer on top of a Browser. It never returns an
// error; failures are reported in FetchResult.Error.
type Renderer struct {
	browser    pageRenderer
	throttle   crawler.Throttle
	detector   PageDetector
	normalizer *content.Normalizer
	logger     *zap.Logger
}

// NewRenderer wraps browser. throttle and detector may be nil.
func NewRenderer(browser *Browser, throttle crawler.Throttle, detector PageDetector, logger *zap.Logger) *Renderer {
	return newRenderer(browser, throttle, detector, logger)
}

func newRenderer(browser pageRenderer, throttle crawler.Throttle, detector PageDetector, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		browser:    browser,
		throttle:   throttle,
		detector:   detector,
		normalizer: content.NewNormalizer(),
		logger:     logger,
	}
}

// Render loads rawURL in the browser and normalizes the rendered DOM.
func (r *Renderer) Render(ctx context.Context, rawURL string, endpoint string) crawler.FetchResult {
	domain, target, err := crawler.ParseTarget(rawURL)
	if err != nil {
		return crawler.Failure(rawURL, "", err.Error(), 0)
	}
	if r.throttle != nil {
		if err := r.throttle.Wait(ctx, domain); err != nil {
			return crawler.Failure(rawURL, domain, fmt.Errorf("%w: throttle wait: %w", crawler.ErrTransport, err).Error(), 0)
		}
	}

	p, err := r.browser.render(ctx, target.String(), endpoint)
	if err != nil {
		r.logger.Warn("browser render failed", zap.String("url", rawURL), zap.Error(err))
		return crawler.Failure(rawURL, domain, fmt.Errorf("%w: %w", crawler.ErrTransport, err).Error(), 0)
	}

	res := r.buildResult(rawURL, domain, target, p)
	r.logger.Debug("browser render finished",
		zap.String("url", rawURL),
		zap.Int("status", p.StatusCode),
		zap.String("error", res.Error),
	)
	return res
}

func (r *Renderer) buildResult(rawURL, domain string, target *url.URL, p page) crawler.FetchResult {
	fail := func(err error) crawler.FetchResult {
		res := crawler.Failure(rawURL, domain, err.Error(), p.StatusCode)
		res.FinalURL = p.FinalURL
		res.Duration = p.Duration
		return res
	}

	switch {
	case p.StatusCode == http.StatusForbidden || p.StatusCode == http.StatusTooManyRequests:
		r.reportBlocked(domain)
		return fail(fmt.Errorf("%w: status %d", crawler.ErrBlocked, p.StatusCode))
	case p.StatusCode < 200 || p.StatusCode >= 300:
		return fail(fmt.Errorf("%w: status %d", crawler.ErrBadStatus, p.StatusCode))
	}
	if r.detector != nil && r.detector.IsBlockedPage(p.HTML) {
		r.reportBlocked(domain)
		return fail(fmt.Errorf("%w: rendered challenge page", crawler.ErrBlocked))
	}

	md := r.normalizer.ToMarkdown(p.HTML)
	if md == "" {
		return fail(fmt.Errorf("%w: rendered page has no text", crawler.ErrEmptyContent))
	}
	if r.throttle != nil {
		r.throttle.ReportSuccess(domain)
	}

	base := target
	if final, err := url.Parse(p.FinalURL); err == nil && final.Host != "" {
		base = final
	}
	return crawler.FetchResult{
		URL:        rawURL,
		FinalURL:   p.FinalURL,
		Domain:     domain,
		Title:      content.Title(p.HTML),
		Content:    md,
		Links:      content.ExtractLinks(p.HTML, base, domain),
		HTTPStatus: p.StatusCode,
		Tier:       crawler.TierBrowser,
		Duration:   p.Duration,
	}
}

func (r *Renderer) reportBlocked(domain string) {
	if r.throttle != nil {
		r.throttle.ReportBlocked(domain)
	}
}

// Disabled is the Renderer used when no browser is configured.
type Disabled struct{}

// NewDisabled creates a Disabled renderer.
func NewDisabled() Disabled {
	return Disabled{}
}

// Render returns a terminal failure without contacting anything.
func (Disabled) Render(_ context.Context, rawURL string, _ string) crawler.FetchResult {
	domain, _, _ := crawler.ParseTarget(rawURL)
	return crawler.Failure(rawURL, domain, crawler.ErrRendererDisabled.Error(), 0)
}
