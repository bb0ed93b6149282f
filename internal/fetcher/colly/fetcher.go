// Package collyfetcher implements the plain GET used by the API and extraction tiers on top of gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/tiered-crawler/internal/crawler"
)

// Default request settings.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 << 20
	DefaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	DefaultAccept       = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Response is one completed HTTP exchange, whatever its status.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the response Content-Type header.
func (r Response) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// Success reports a 2xx status.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client issues single GET requests through a shared Colly collector and transport.
type Client struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	c := colly.NewCollector(colly.Async(false))
	// Every Get is independent; the shared visited store must not reject repeats.
	c.AllowURLRevisit = true
	// Non-2xx responses are delivered to OnResponse so callers can read the status.
	c.ParseHTTPErrorResponse = true

	// Clones share the backend, so transport and timeout are fixed here once.
	transport := newHTTPTransport()
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Client{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Get fetches rawURL, following redirects. Any status is returned as a Response;
// only transport failures (including timeouts and robots denials) produce an
// error wrapping crawler.ErrTransport.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := c.buildCollector(rawURL, headers, start, &result, &fetchErr)

	if err := c.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return Response{}, fmt.Errorf("%w: %w", crawler.ErrTransport, err)
	}
	if result.StatusCode == 0 {
		return Response{}, fmt.Errorf("%w: no response received", crawler.ErrTransport)
	}
	return result, nil
}

func (c *Client) buildCollector(
	rawURL string,
	headers http.Header,
	start time.Time,
	result *Response,
	fetchErr *error,
) *colly.Collector {
	collector := c.baseCollector.Clone()
	collector.UserAgent = c.cfg.UserAgent
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots
	collector.MaxBodySize = c.cfg.MaxBodyBytes
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true

	c.configureCollectorHooks(collector, rawURL, headers, start, result, fetchErr)
	return collector
}

func (c *Client) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	headers http.Header,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := rawURL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		var respHeaders http.Header
		if r.Headers != nil {
			respHeaders = r.Headers.Clone()
		}
		*result = Response{
			URL:        rawURL,
			FinalURL:   finalURL,
			StatusCode: r.StatusCode,
			Headers:    respHeaders,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	if headers == nil || r.Headers == nil {
		return
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
