package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tiered-crawler/internal/crawler"
)

func TestFetchAllPreservesOrder(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{delay: func(raw string) time.Duration {
		// Earlier URLs finish later so completion order differs from input order.
		if strings.HasSuffix(raw, "/0") {
			return 30 * time.Millisecond
		}
		return time.Millisecond
	}}
	p := New(f, Config{Concurrency: 3}, nil)

	urls := []string{"https://a.example/0", "https://b.example/1", "not a url", "https://c.example/3"}
	items, err := p.FetchAll(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, items, len(urls))

	require.Equal(t, "https://a.example/0", items[0].Result.URL)
	require.Equal(t, "https://b.example/1", items[1].Result.URL)
	require.ErrorIs(t, items[2].Err, crawler.ErrInvalidURL)
	require.Equal(t, "https://c.example/3", items[3].Result.URL)
	require.NoError(t, items[3].Err)
}

func TestFetchAllBoundsConcurrency(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{delay: func(string) time.Duration { return 10 * time.Millisecond }}
	p := New(f, Config{Concurrency: 2}, nil)

	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site%d.example/", i)
	}
	_, err := p.FetchAll(context.Background(), urls)
	require.NoError(t, err)
	require.LessOrEqual(t, f.peak.Load(), int32(2))
	require.Equal(t, int32(10), f.total.Load())
}

func TestFetchAllCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFetcher{}
	p := New(f, Config{}, nil)
	items, err := p.FetchAll(ctx, []string{"https://a.example/", "https://b.example/"})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, items, 2)
	for _, item := range items {
		require.ErrorIs(t, item.Err, context.Canceled)
	}
	require.Zero(t, f.total.Load())
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultConcurrency, New(&fakeFetcher{}, Config{}, nil).Concurrency())
	require.Equal(t, 7, New(&fakeFetcher{}, Config{Concurrency: 7}, nil).Concurrency())

	items, err := New(&fakeFetcher{}, Config{}, nil).FetchAll(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, items)
}

type fakeFetcher struct {
	delay  func(string) time.Duration
	mu     sync.Mutex
	active int32
	peak   atomic.Int32
	total  atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (crawler.FetchResult, error) {
	if _, _, err := crawler.ParseTarget(rawURL); err != nil {
		return crawler.Failure(rawURL, "", err.Error(), 0), err
	}
	f.total.Add(1)
	f.mu.Lock()
	f.active++
	if f.active > f.peak.Load() {
		f.peak.Store(f.active)
	}
	f.mu.Unlock()

	if f.delay != nil {
		time.Sleep(f.delay(rawURL))
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return crawler.FetchResult{URL: rawURL, Content: "ok", Tier: crawler.TierHTTP}, nil
}
