package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tiered-crawler/internal/api"
	"github.com/JakeFAU/tiered-crawler/internal/config"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	"github.com/JakeFAU/tiered-crawler/internal/worker"
)

func TestFetchCommandWritesResultsInOrder(t *testing.T) {
	t.Parallel()

	fake := newFakeApp()
	out := runRoot(t, fake, "fetch", "https://example.com/a", "https://example.com/b", "ftp://bad")

	lines := decodeLines(t, out)
	require.Len(t, lines, 3)
	require.Equal(t, "https://example.com/a", lines[0].URL)
	require.Equal(t, "content of https://example.com/a", lines[0].Content)
	require.Equal(t, "https://example.com/b", lines[1].URL)
	require.Equal(t, "ftp://bad", lines[2].URL)
	require.Contains(t, lines[2].Rejected, "invalid url")
	require.True(t, fake.closed())
}

func TestFetchCommandBrowserFlag(t *testing.T) {
	t.Parallel()

	fake := newFakeApp()
	out := runRoot(t, fake, "fetch", "--browser", "https://example.com/a")

	lines := decodeLines(t, out)
	require.Len(t, lines, 1)
	require.Equal(t, crawler.TierBrowser, lines[0].Tier)
	require.Equal(t, []string{"browser:https://example.com/a"}, fake.fetcher.calls())
}

func TestFetchCommandRequiresURL(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd(func(config.Config, *zap.Logger) (App, error) { return newFakeApp(), nil })
	cmd.SetArgs([]string{"fetch"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestRootCommandFactoryError(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd(func(config.Config, *zap.Logger) (App, error) { return nil, errors.New("boom") })
	cmd.SetArgs([]string{"fetch", "https://example.com"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "boom")
}

func TestResolveStateWithoutApp(t *testing.T) {
	t.Parallel()

	_, err := resolveState(context.Background())
	require.Error(t, err)
}

func TestListenPort(t *testing.T) {
	t.Setenv("PORT", "")
	require.Equal(t, 8080, listenPort(8080, 0))
	require.Equal(t, 9000, listenPort(8080, 9000))

	t.Setenv("PORT", "7070")
	require.Equal(t, 7070, listenPort(8080, 0))
	require.Equal(t, 9000, listenPort(8080, 9000))
}

func runRoot(t *testing.T, fake *fakeApp, args ...string) string {
	t.Helper()

	cmd := newRootCmd(func(config.Config, *zap.Logger) (App, error) { return fake, nil })
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

type outputLine struct {
	URL      string       `json:"url"`
	Content  string       `json:"content"`
	Tier     crawler.Tier `json:"tier"`
	Rejected string       `json:"rejected"`
}

func decodeLines(t *testing.T, out string) []outputLine {
	t.Helper()

	var lines []outputLine
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var line outputLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	return lines
}

type fakeFetcher struct {
	mu  sync.Mutex
	log []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (crawler.FetchResult, error) {
	f.record("fetch:" + rawURL)
	if strings.HasPrefix(rawURL, "ftp://") {
		return crawler.FetchResult{}, crawler.ErrInvalidURL
	}
	return crawler.FetchResult{URL: rawURL, Content: "content of " + rawURL, Tier: crawler.TierHTTP}, nil
}

func (f *fakeFetcher) FetchBrowser(_ context.Context, rawURL string) (crawler.FetchResult, error) {
	f.record("browser:" + rawURL)
	return crawler.FetchResult{URL: rawURL, Content: "rendered", Tier: crawler.TierBrowser}, nil
}

func (f *fakeFetcher) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, call)
}

func (f *fakeFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

type fakeApp struct {
	fetcher *fakeFetcher
	pool    *worker.Pool

	mu       sync.Mutex
	isClosed bool
}

func newFakeApp() *fakeApp {
	fetcher := &fakeFetcher{}
	return &fakeApp{
		fetcher: fetcher,
		pool:    worker.New(fetcher, worker.Config{Concurrency: 2}, zap.NewNop()),
	}
}

func (f *fakeApp) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isClosed = true
}

func (f *fakeApp) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isClosed
}

func (f *fakeApp) Logger() *zap.Logger {
	return zap.NewNop()
}

func (f *fakeApp) Fetcher() api.Fetcher {
	return f.fetcher
}

func (f *fakeApp) Pool() *worker.Pool {
	return f.pool
}

func (f *fakeApp) Server() *api.Server {
	return api.NewServer(f.fetcher, f.pool, nil, nil, config.Config{}, zap.NewNop())
}
