// Package worker fans batches of URLs out to the dispatcher with bounded
// concurrency.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	"github.com/JakeFAU/tiered-crawler/internal/metrics"
)

// DefaultConcurrency bounds in-flight fetches when Config leaves it unset.
const DefaultConcurrency = 4

// Fetcher is the tiered fetch entry point.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (crawler.FetchResult, error)
}

// Config controls Pool behavior.
type Config struct {
	Concurrency int
}

// Item is the outcome for one input URL. Err is set only when the URL was
// rejected or never attempted.
type Item struct {
	Result crawler.FetchResult
	Err    error
}

// Pool runs fetches for a batch.
type Pool struct {
	fetcher     Fetcher
	concurrency int
	logger      *zap.Logger
}

// New constructs a Pool.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{fetcher: fetcher, concurrency: cfg.Concurrency, logger: logger}
}

// Concurrency reports the in-flight bound.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// FetchAll fetches every URL and returns one Item per input, in input order.
// Per-URL failures never stop the batch. When ctx ends early, URLs not yet
// started carry ctx's error and FetchAll returns it too.
func (p *Pool) FetchAll(ctx context.Context, urls []string) ([]Item, error) {
	items := make([]Item, len(urls))
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, rawURL := range urls {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(urls); j++ {
				items[j] = Item{Err: fmt.Errorf("batch canceled: %w", err)}
			}
			break
		}
		g.Go(func() error {
			items[i] = p.fetchOne(ctx, rawURL)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, item := range items {
		if item.Err != nil || item.Result.Failed() {
			failed++
		}
	}
	p.logger.Info("batch finished",
		zap.Int("urls", len(urls)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err := ctx.Err(); err != nil {
		return items, fmt.Errorf("batch canceled: %w", err)
	}
	return items, nil
}

func (p *Pool) fetchOne(ctx context.Context, rawURL string) Item {
	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()

	res, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		p.logger.Warn("batch url rejected", zap.String("url", rawURL), zap.Error(err))
		return Item{Result: res, Err: err}
	}
	p.logger.Debug("batch url fetched",
		zap.String("url", rawURL),
		zap.String("tier", res.Tier.String()),
		zap.Bool("failed", res.Failed()),
	)
	return Item{Result: res}
}
