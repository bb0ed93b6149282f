package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tiered-crawler/internal/config"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
)

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Crawler: config.CrawlerConfig{Concurrency: 2, MaxBodyBytes: 1 << 20},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5},
		Breaker: config.BreakerConfig{FailureThreshold: 5, WindowSeconds: 60, CooldownSeconds: 60},
	}
}

func TestNewWiresAPITier(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"parse":{"title":"Hogger","pageid":7,"text":"<p>Hogger is an elite gnoll.</p>",` +
			`"links":[{"ns":0,"title":"Elwynn Forest","exists":true}],"categories":[{"category":"Gnolls"}]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	host, err := url.Parse(srv.URL)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(host.Hostname()+": "+srv.URL+"/w/api.php\n"), 0o600))

	cfg := testConfig()
	cfg.Routing.File = path
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.Equal(t, []string{host.Hostname()}, a.Routes().Domains())
	require.Equal(t, 2, a.Pool().Concurrency())

	res, err := a.Dispatcher().Fetch(context.Background(), srv.URL+"/wiki/Hogger")
	require.NoError(t, err)
	require.Equal(t, crawler.TierAPI, res.Tier)
	require.Contains(t, res.Content, "elite gnoll")
	require.Equal(t, []string{"Gnolls"}, res.Categories)
	require.NotEmpty(t, res.ContentHash)
}

func TestNewAPITierIgnoresRobots(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /w/\n"))
	})
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"parse":{"title":"Hogger","pageid":7,"text":"<p>Hogger is an elite gnoll.</p>"}}`))
	})
	mux.HandleFunc("/w/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><p>Disallowed page.</p></body></html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	host, err := url.Parse(srv.URL)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(host.Hostname()+": "+srv.URL+"/w/api.php\n"), 0o600))

	cfg := testConfig()
	cfg.Routing.File = path
	cfg.Crawler.RespectRobots = true
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	res, err := a.Dispatcher().Fetch(context.Background(), srv.URL+"/wiki/Hogger")
	require.NoError(t, err)
	require.Equal(t, crawler.TierAPI, res.Tier)
	require.Contains(t, res.Content, "elite gnoll")

	res, err = a.Dispatcher().Fetch(context.Background(), srv.URL+"/w/page")
	require.NoError(t, err)
	require.Equal(t, crawler.TierBrowser, res.Tier)
	require.Equal(t, []crawler.Attempt{
		{Tier: crawler.TierAPI, Reason: crawler.ErrNoIdentifier.Error()},
		{Tier: crawler.TierHTTP, Reason: crawler.ErrTransport.Error()},
	}, res.Attempts)
}

func TestNewWithoutHeadlessUsesDisabledRenderer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	a, err := New(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	res, err := a.Dispatcher().Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, crawler.TierBrowser, res.Tier)
	require.Equal(t, crawler.ErrRendererDisabled.Error(), res.Error)
}

func TestNewRejectsMissingRoutesFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Routing.File = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestServerServesProbes(t *testing.T) {
	t.Parallel()

	a, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
