// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Tier identifies which fetch strategy produced a result.
type Tier string

// Tier values in preference order.
const (
	TierAPI     Tier = "api"
	TierHTTP    Tier = "http"
	TierBrowser Tier = "browser"
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	return string(t)
}

// FetchResult is the uniform output of every tier.
//
// Exactly one of Content or Error is populated. An empty Content means the
// content is absent.
type FetchResult struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url,omitempty"`
	Domain      string        `json:"domain"`
	Title       string        `json:"title"`
	Content     string        `json:"content,omitempty"`
	Links       []string      `json:"links"`
	Categories  []string      `json:"categories,omitempty"`
	HTTPStatus  int           `json:"http_status"`
	ContentHash string        `json:"content_hash"`
	Error       string        `json:"error,omitempty"`
	Tier        Tier          `json:"tier"`
	FetchedAt   time.Time     `json:"fetched_at"`
	Duration    time.Duration `json:"-"`
	DurationMs  int64         `json:"duration_ms"`
	Attempts    []Attempt     `json:"attempts,omitempty"`
}

// HasContent reports whether the result carries a normalized body.
func (r FetchResult) HasContent() bool {
	return r.Content != ""
}

// Failed reports whether the result is a terminal failure.
func (r FetchResult) Failed() bool {
	return r.Error != ""
}

// Attempt records a tier that was tried and fell through before the result.
type Attempt struct {
	Tier   Tier   `json:"tier"`
	Reason string `json:"reason"`
}

// SiteRoute maps a domain to its structured-API base endpoint.
type SiteRoute struct {
	Domain      string `json:"domain" yaml:"domain"`
	APIEndpoint string `json:"api_endpoint" yaml:"api_endpoint"`
}

// HasAPI reports whether the route enables Tier 1.
func (r SiteRoute) HasAPI() bool {
	return r.APIEndpoint != ""
}

// Failure builds a terminal browser-tier result carrying errText.
func Failure(rawURL, domain, errText string, status int) FetchResult {
	return FetchResult{
		URL:        rawURL,
		Domain:     domain,
		HTTPStatus: status,
		Error:      errText,
		Links:      []string{},
		Tier:       TierBrowser,
	}
}
