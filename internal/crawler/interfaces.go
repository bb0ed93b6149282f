package crawler

import (
	"context"
	"time"
)

// Throttle paces requests per domain. Every tier waits on it before a network call.
type Throttle interface {
	Wait(ctx context.Context, domain string) error
	ReportSuccess(domain string)
	ReportBlocked(domain string)
}

// CircuitBreaker suspends fetches to a domain after repeated failures.
type CircuitBreaker interface {
	Tripped(domain string) bool
}

// BlockDetector classifies normalized text as an anti-bot challenge page.
type BlockDetector interface {
	IsBlocked(text string) bool
}

// APIFetcher is the Tier 1 structured-API strategy.
type APIFetcher interface {
	FetchViaAPI(ctx context.Context, rawURL string, endpoint string) (FetchResult, error)
}

// HTTPFetcher is the Tier 2 plain-HTTP extraction strategy.
type HTTPFetcher interface {
	FetchViaHTTP(ctx context.Context, rawURL string) (FetchResult, error)
}

// Renderer is the Tier 3 browser-rendering backend. It always returns a result;
// failures are carried in FetchResult.Error.
type Renderer interface {
	Render(ctx context.Context, rawURL string, endpoint string) FetchResult
}

// RouteTable resolves a domain to its site route.
type RouteTable interface {
	Lookup(domain string) (SiteRoute, bool)
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
