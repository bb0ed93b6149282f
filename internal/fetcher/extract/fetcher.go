// Package extract implements the plain HTTP tier: a browser-like GET followed
// by readability main-content extraction.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/tiered-crawler/internal/content"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/tiered-crawler/internal/fetcher/colly"
)

// Getter issues a single GET request.
type Getter interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (collyfetcher.Response, error)
}

// Config tunes the request headers.
type Config struct {
	Accept string
}

// Fetcher implements crawler.HTTPFetcher.
type Fetcher struct {
	client     Getter
	throttle   crawler.Throttle
	detector   crawler.BlockDetector
	normalizer *content.Normalizer
	headers    http.Header
	logger     *zap.Logger
}

// New builds a Fetcher. throttle and detector may be nil.
func New(cfg Config, client Getter, throttle crawler.Throttle, detector crawler.BlockDetector, logger *zap.Logger) *Fetcher {
	if cfg.Accept == "" {
		cfg.Accept = collyfetcher.DefaultAccept
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:     client,
		throttle:   throttle,
		detector:   detector,
		normalizer: content.NewNormalizer(),
		headers: http.Header{
			"Accept":          {cfg.Accept},
			"Accept-Language": {"en-US,en;q=0.9"},
		},
		logger: logger,
	}
}

// FetchViaHTTP downloads rawURL and extracts its main content. A non-nil error
// means the caller should fall through to the browser tier. A detected
// challenge page is reported to the throttle before failing with
// crawler.ErrBlocked.
func (f *Fetcher) FetchViaHTTP(ctx context.Context, rawURL string) (crawler.FetchResult, error) {
	domain, target, err := crawler.ParseTarget(rawURL)
	if err != nil {
		return crawler.FetchResult{}, err
	}
	if f.throttle != nil {
		if err := f.throttle.Wait(ctx, domain); err != nil {
			return crawler.FetchResult{}, fmt.Errorf("%w: throttle wait: %w", crawler.ErrTransport, err)
		}
	}
	resp, err := f.client.Get(ctx, target.String(), f.headers)
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("http request: %w", err)
	}
	if !resp.Success() {
		return crawler.FetchResult{}, fmt.Errorf("%w: status %d", crawler.ErrBadStatus, resp.StatusCode)
	}
	if !IsHTML(resp.ContentType()) {
		return crawler.FetchResult{}, fmt.Errorf("%w: %q", crawler.ErrNotHTML, resp.ContentType())
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return crawler.FetchResult{}, crawler.ErrEmptyBody
	}

	page := target
	if final, err := url.Parse(resp.FinalURL); err == nil && final.Host != "" {
		page = final
	}
	fullHTML := string(resp.Body)
	title, articleHTML := f.mainContent(resp.Body, page)
	md := f.normalizer.ToMarkdown(articleHTML)
	if md == "" {
		md = f.normalizer.ToMarkdown(fullHTML)
	}
	if md == "" {
		return crawler.FetchResult{}, fmt.Errorf("%w: nothing extracted", crawler.ErrEmptyContent)
	}

	if f.detector != nil && f.detector.IsBlocked(md) {
		if f.throttle != nil {
			f.throttle.ReportBlocked(domain)
		}
		return crawler.FetchResult{}, fmt.Errorf("%w: %s", crawler.ErrBlocked, resp.FinalURL)
	}

	if title == "" {
		title = content.Title(fullHTML)
	}
	if f.throttle != nil {
		f.throttle.ReportSuccess(domain)
	}
	links := content.ExtractLinks(fullHTML, page, domain)
	f.logger.Debug("http fetch succeeded",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("links", len(links)),
	)
	return crawler.FetchResult{
		URL:        rawURL,
		FinalURL:   resp.FinalURL,
		Domain:     domain,
		Title:      title,
		Content:    md,
		Links:      links,
		HTTPStatus: resp.StatusCode,
		Tier:       crawler.TierHTTP,
		Duration:   resp.Duration,
	}, nil
}

// mainContent runs readability over body. Both values are empty when it finds
// no article.
func (f *Fetcher) mainContent(body []byte, page *url.URL) (string, string) {
	article, err := readability.FromReader(bytes.NewReader(body), page)
	if err != nil || article.Node == nil {
		f.logger.Debug("readability found no article", zap.String("url", page.String()), zap.Error(err))
		return "", ""
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, article.Node); err != nil {
		return article.Title(), ""
	}
	return strings.TrimSpace(article.Title()), buf.String()
}

// IsHTML reports whether contentType names an HTML document. A missing header
// is accepted since many servers omit it for HTML.
func IsHTML(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}
