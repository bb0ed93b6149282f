package apifetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/tiered-crawler/internal/fetcher/colly"
)

const parsePayload = `{
  "parse": {
    "title": "Elwynn Forest",
    "pageid": 42,
    "text": "<div class=\"mw-parser-output\"><h2>Geography</h2><p>A <b>peaceful</b> forest.</p><img src=\"map.png\"><table><tr><th>Zone</th><th>Level</th></tr><tr><td>Goldshire</td><td>1-10</td></tr></table></div>",
    "links": [
      {"ns": 0, "title": "Goldshire", "exists": true},
      {"ns": 0, "title": "Stormwind City", "exists": true},
      {"ns": 0, "title": "Red link page", "exists": false},
      {"ns": 2, "title": "User:Someone", "exists": true},
      {"ns": 14, "title": "Category:Zones", "exists": true},
      {"ns": 0, "title": "Goldshire", "exists": true}
    ],
    "categories": [{"sortkey": "", "category": "Zones"}, {"category": "Eastern_Kingdoms"}]
  }
}`

func TestFetchViaAPISuccess(t *testing.T) {
	t.Parallel()

	var (
		query url.Values
		path  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(parsePayload))
	}))
	t.Cleanup(srv.Close)

	throttle := &recordingThrottle{}
	f := New(collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}), throttle, nil)

	res, err := f.FetchViaAPI(context.Background(), "https://wiki.example.org/wiki/Elwynn_Forest", srv.URL+"/api.php")
	require.NoError(t, err)

	require.Equal(t, "/api.php", path)
	require.Equal(t, "parse", query.Get("action"))
	require.Equal(t, "Elwynn_Forest", query.Get("page"))
	require.Equal(t, "json", query.Get("format"))
	require.Contains(t, query.Get("prop"), "links")

	require.Equal(t, crawler.TierAPI, res.Tier)
	require.Equal(t, "wiki.example.org", res.Domain)
	require.Equal(t, "Elwynn Forest", res.Title)
	require.Equal(t, "https://wiki.example.org/wiki/Elwynn_Forest", res.FinalURL)
	require.Equal(t, http.StatusOK, res.HTTPStatus)
	require.Empty(t, res.Error)
	require.Contains(t, res.Content, "## Geography")
	require.Contains(t, res.Content, "**peaceful**")
	require.Regexp(t, `\|\s*Zone\s*\|\s*Level\s*\|`, res.Content)
	require.NotContains(t, res.Content, "map.png")
	require.Equal(t, []string{
		"https://wiki.example.org/wiki/Goldshire",
		"https://wiki.example.org/wiki/Stormwind_City",
	}, res.Links)
	require.Equal(t, []string{"Zones", "Eastern Kingdoms"}, res.Categories)

	require.Equal(t, []string{"wiki.example.org"}, throttle.waited())
	require.Equal(t, 1, throttle.successes())
}

func TestFetchViaAPIWithoutIdentifierMakesNoRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(parsePayload))
	}))
	t.Cleanup(srv.Close)

	throttle := &recordingThrottle{}
	f := New(collyfetcher.New(collyfetcher.Config{}), throttle, nil)

	_, err := f.FetchViaAPI(context.Background(), "https://wiki.example.org/about", srv.URL)
	require.ErrorIs(t, err, crawler.ErrNoIdentifier)
	require.Zero(t, hits.Load())
	require.Empty(t, throttle.waited())
}

func TestFetchViaAPIFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "missing page", status: http.StatusOK, body: `{"error":{"code":"missingtitle","info":"The page you specified doesn't exist."}}`, want: crawler.ErrPageMissing},
		{name: "invalid title", status: http.StatusOK, body: `{"error":{"code":"invalidtitle","info":"Bad title"}}`, want: crawler.ErrInvalidIdentifier},
		{name: "other api error", status: http.StatusOK, body: `{"error":{"code":"unknown_action","info":"nope"}}`, want: crawler.ErrAPIError},
		{name: "not json", status: http.StatusOK, body: `<html>oops</html>`, want: crawler.ErrAPIError},
		{name: "no parse section", status: http.StatusOK, body: `{"batchcomplete":true}`, want: crawler.ErrAPIError},
		{name: "empty body", status: http.StatusOK, body: ``, want: crawler.ErrEmptyBody},
		{name: "empty text", status: http.StatusOK, body: `{"parse":{"title":"Blank","text":"<div></div>"}}`, want: crawler.ErrEmptyContent},
		{name: "server error", status: http.StatusBadGateway, body: `upstream down`, want: crawler.ErrServerError},
		{name: "not found", status: http.StatusNotFound, body: `{}`, want: crawler.ErrBadStatus},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			throttle := &recordingThrottle{}
			f := New(collyfetcher.New(collyfetcher.Config{}), throttle, nil)
			res, err := f.FetchViaAPI(context.Background(), "https://wiki.example.org/wiki/Page", srv.URL)
			require.ErrorIs(t, err, tc.want)
			require.Empty(t, res.Content)
			require.Zero(t, throttle.successes())
		})
	}
}

func TestFetchViaAPILegacyFormat(t *testing.T) {
	t.Parallel()

	const legacy = `{"parse":{"title":"Goldshire","text":{"*":"<p>A small town.</p>"},` +
		`"links":[{"ns":0,"exists":"","*":"Elwynn Forest"},{"ns":0,"*":"Mirror Lake"},{"ns":6,"exists":"","*":"File:Inn.png"}],` +
		`"categories":[{"sortkey":"","*":"Towns"}]}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(legacy))
	}))
	t.Cleanup(srv.Close)

	f := New(collyfetcher.New(collyfetcher.Config{}), nil, nil)
	res, err := f.FetchViaAPI(context.Background(), "https://wiki.example.org/index.php?title=Goldshire", srv.URL)
	require.NoError(t, err)
	require.Equal(t, "A small town.", res.Content)
	require.Equal(t, []string{
		"https://wiki.example.org/wiki/Elwynn_Forest",
		"https://wiki.example.org/wiki/Mirror_Lake",
	}, res.Links)
	require.Equal(t, []string{"Towns"}, res.Categories)
}

func TestFetchViaAPITransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	f := New(collyfetcher.New(collyfetcher.Config{Timeout: time.Second}), nil, nil)
	_, err := f.FetchViaAPI(context.Background(), "https://wiki.example.org/wiki/Page", endpoint)
	require.ErrorIs(t, err, crawler.ErrTransport)
}

func TestFetchViaAPIInvalidInput(t *testing.T) {
	t.Parallel()

	f := New(collyfetcher.New(collyfetcher.Config{}), nil, nil)
	_, err := f.FetchViaAPI(context.Background(), "ftp://wiki.example.org/wiki/Page", "https://api.example.org")
	require.ErrorIs(t, err, crawler.ErrInvalidURL)

	_, err = f.FetchViaAPI(context.Background(), "https://wiki.example.org/wiki/Page", "not a url")
	require.ErrorIs(t, err, crawler.ErrAPIError)
}

func TestParseRequestURLKeepsEndpointQuery(t *testing.T) {
	t.Parallel()

	raw, err := ParseRequestURL("https://api.example.org/w/api.php?origin=*", "Elwynn Forest")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "*", u.Query().Get("origin"))
	require.Equal(t, "Elwynn Forest", u.Query().Get("page"))
	require.Equal(t, "2", u.Query().Get("formatversion"))
	require.True(t, strings.HasPrefix(raw, "https://api.example.org/w/api.php?"))
}

type recordingThrottle struct {
	mu      sync.Mutex
	waits   []string
	success int
}

func (r *recordingThrottle) Wait(_ context.Context, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, domain)
	return nil
}

func (r *recordingThrottle) ReportSuccess(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success++
}

func (r *recordingThrottle) ReportBlocked(string) {}

func (r *recordingThrottle) waited() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.waits...)
}

func (r *recordingThrottle) successes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.success
}
