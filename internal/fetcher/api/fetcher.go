// Package apifetcher implements the structured-API tier: wiki pages are read
// through the MediaWiki action=parse JSON endpoint instead of scraping HTML.
package apifetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/tiered-crawler/internal/content"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/tiered-crawler/internal/fetcher/colly"
)

// Getter issues a single GET request.
type Getter interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (collyfetcher.Response, error)
}

// Fetcher implements crawler.APIFetcher.
type Fetcher struct {
	client     Getter
	throttle   crawler.Throttle
	normalizer *content.Normalizer
	logger     *zap.Logger
}

// New builds a Fetcher. throttle may be nil.
func New(client Getter, throttle crawler.Throttle, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:     client,
		throttle:   throttle,
		normalizer: content.NewNormalizer(),
		logger:     logger,
	}
}

var jsonHeaders = http.Header{"Accept": {"application/json"}}

// FetchViaAPI reads rawURL's page through endpoint. A non-nil error means the
// tier does not apply or failed, and the caller should try the next tier. No
// request is made when no page identifier can be derived from rawURL.
func (f *Fetcher) FetchViaAPI(ctx context.Context, rawURL string, endpoint string) (crawler.FetchResult, error) {
	domain, target, err := crawler.ParseTarget(rawURL)
	if err != nil {
		return crawler.FetchResult{}, err
	}
	id, ok := crawler.PageIdentifier(target)
	if !ok {
		return crawler.FetchResult{}, fmt.Errorf("%w: %s", crawler.ErrNoIdentifier, target.Path)
	}
	reqURL, err := ParseRequestURL(endpoint, id)
	if err != nil {
		return crawler.FetchResult{}, err
	}

	if f.throttle != nil {
		if err := f.throttle.Wait(ctx, domain); err != nil {
			return crawler.FetchResult{}, fmt.Errorf("%w: throttle wait: %w", crawler.ErrTransport, err)
		}
	}
	resp, err := f.client.Get(ctx, reqURL, jsonHeaders)
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("api request: %w", err)
	}

	section, err := decode(resp)
	if err != nil {
		return crawler.FetchResult{}, err
	}
	md := f.normalizer.ToMarkdown(string(section.Text))
	if md == "" {
		return crawler.FetchResult{}, fmt.Errorf("%w: page %q rendered no text", crawler.ErrEmptyContent, id)
	}

	title := section.Title
	if title == "" {
		title = content.TitleFromIdentifier(id)
	}
	if f.throttle != nil {
		f.throttle.ReportSuccess(domain)
	}
	f.logger.Debug("api fetch succeeded",
		zap.String("url", rawURL),
		zap.String("page", id),
		zap.Int("links", len(section.Links)),
	)
	return crawler.FetchResult{
		URL:        rawURL,
		FinalURL:   crawler.ArticleURL(target, title),
		Domain:     domain,
		Title:      title,
		Content:    md,
		Links:      content.WikiLinks(target, section.wikiLinks()),
		Categories: section.categoryNames(),
		HTTPStatus: resp.StatusCode,
		Tier:       crawler.TierAPI,
		Duration:   resp.Duration,
	}, nil
}

// ParseRequestURL builds the action=parse request for page id under endpoint,
// keeping any query parameters the endpoint already carries.
func ParseRequestURL(endpoint, id string) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("%w: bad api endpoint %q", crawler.ErrAPIError, endpoint)
	}
	q := base.Query()
	q.Set("action", "parse")
	q.Set("page", id)
	q.Set("prop", "text|links|categories")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("redirects", "1")
	q.Set("disableeditsection", "1")
	q.Set("disabletoc", "1")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func decode(resp collyfetcher.Response) (*parseSection, error) {
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", crawler.ErrServerError, resp.StatusCode)
	case !resp.Success():
		return nil, fmt.Errorf("%w: status %d", crawler.ErrBadStatus, resp.StatusCode)
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, crawler.ErrEmptyBody
	}
	var payload parseResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", crawler.ErrAPIError, err)
	}
	if payload.Error != nil {
		return nil, classify(payload.Error)
	}
	if payload.Parse == nil {
		return nil, fmt.Errorf("%w: payload has no parse section", crawler.ErrAPIError)
	}
	return payload.Parse, nil
}

func classify(e *apiError) error {
	switch e.Code {
	case "missingtitle", "nosuchpageid", "missing":
		return fmt.Errorf("%w: %s", crawler.ErrPageMissing, e.Info)
	case "invalidtitle", "invalid", "badtitle", "invalidparammix":
		return fmt.Errorf("%w: %s", crawler.ErrInvalidIdentifier, e.Info)
	case "internal_api_error_DBQueryError", "readonly", "maxlag":
		return fmt.Errorf("%w: %s: %s", crawler.ErrServerError, e.Code, e.Info)
	default:
		return fmt.Errorf("%w: %s: %s", crawler.ErrAPIError, e.Code, e.Info)
	}
}
