// Package headless contains the browser-rendering tier backed by chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// DefaultNavigationTimeout bounds one page render.
const DefaultNavigationTimeout = 45 * time.Second

// Config controls the behavior of the chromedp browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Endpoint is a DevTools websocket URL of an already running browser. When
	// empty a local Chrome is launched.
	Endpoint string
}

// page is one rendered document.
type page struct {
	HTML       string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Duration   time.Duration
}

// Browser drives headless Chrome through chromedp.
type Browser struct {
	cfg     Config
	limiter chan struct{}

	mu         sync.Mutex
	allocators map[string]allocator
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChromedp creates a Browser. Allocators are created lazily on first use.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Browser{
		cfg:        cfg,
		limiter:    limiter,
		allocators: make(map[string]allocator),
	}, nil
}

// Close cancels every allocator context, shutting down launched browsers.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, a := range b.allocators {
		a.cancel()
		delete(b.allocators, key)
	}
}

// render navigates to rawURL and returns the fully rendered DOM. endpoint
// overrides Config.Endpoint for this call.
func (b *Browser) render(ctx context.Context, rawURL, endpoint string) (page, error) {
	if err := b.acquire(ctx); err != nil {
		return page{}, err
	}
	defer b.release()

	if endpoint == "" {
		endpoint = b.cfg.Endpoint
	}
	taskCtx, taskCancel := chromedp.NewContext(b.allocatorFor(endpoint))
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := b.run(taskCtx, rawURL)
	if err != nil {
		return page{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	return page{
		HTML:       html,
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		Duration:   time.Since(start),
	}, nil
}

func (b *Browser) allocatorFor(endpoint string) context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.allocators[endpoint]; ok {
		return a.ctx
	}
	var a allocator
	if endpoint != "" {
		a.ctx, a.cancel = chromedp.NewRemoteAllocator(context.Background(), endpoint)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
		a.ctx, a.cancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	b.allocators[endpoint] = a
	return a.ctx
}

func (b *Browser) run(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		b.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		headers := network.Headers{"Accept-Language": "en-US,en;q=0.9"}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return DefaultNavigationTimeout
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

// capture keeps the first document response; later ones are subframes or
// client-side navigations.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
