package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseTarget validates rawURL and returns its domain alongside the parsed URL.
// Only absolute http(s) URLs with a host are accepted.
func ParseTarget(rawURL string) (string, *url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	domain := Domain(u)
	if domain == "" {
		return "", nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return domain, u, nil
}

// Domain returns the lowercase host of u without port. Routing, throttling, and
// link filtering all key on this value.
func Domain(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// SameDomain reports whether u belongs to domain.
func SameDomain(u *url.URL, domain string) bool {
	return domain != "" && Domain(u) == strings.ToLower(domain)
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and removes fragments.
// Query parameter order is left alone since wiki endpoints are order-insensitive
// and re-encoding would rewrite titles.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	cp := *u
	cp.Scheme = strings.ToLower(cp.Scheme)
	cp.Host = strings.ToLower(cp.Host)
	if cp.Scheme == "http" && strings.HasSuffix(cp.Host, ":80") {
		cp.Host = strings.TrimSuffix(cp.Host, ":80")
	}
	if cp.Scheme == "https" && strings.HasSuffix(cp.Host, ":443") {
		cp.Host = strings.TrimSuffix(cp.Host, ":443")
	}
	cp.Fragment = ""
	cp.RawFragment = ""
	if cp.Path == "" {
		cp.Path = "/"
	}
	return cp.String()
}
