// Package routing loads the static domain -> structured-API endpoint table.
//
// The table is read once at startup from a YAML file whose entries have the
// form `domain: api_base_url`, and is immutable afterwards. Lookups match the
// domain exactly; there is no wildcarding.
package routing

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/tiered-crawler/internal/crawler"
)

// Table is an immutable set of site routes keyed by domain.
type Table struct {
	routes map[string]crawler.SiteRoute
}

// Empty returns a table without routes; every URL skips Tier 1.
func Empty() *Table {
	return &Table{routes: map[string]crawler.SiteRoute{}}
}

// New validates entries and builds a Table. Domains are lowercased.
func New(entries map[string]string) (*Table, error) {
	routes := make(map[string]crawler.SiteRoute, len(entries))
	for rawDomain, endpoint := range entries {
		domain := strings.ToLower(strings.TrimSpace(rawDomain))
		if domain == "" {
			return nil, fmt.Errorf("route with empty domain")
		}
		if strings.ContainsAny(domain, "/*") {
			return nil, fmt.Errorf("route %q: domain must be a bare host", rawDomain)
		}
		endpoint = strings.TrimSpace(endpoint)
		if endpoint != "" {
			if err := validateEndpoint(endpoint); err != nil {
				return nil, fmt.Errorf("route %q: %w", rawDomain, err)
			}
		}
		if _, dup := routes[domain]; dup {
			return nil, fmt.Errorf("route %q: duplicate domain", rawDomain)
		}
		routes[domain] = crawler.SiteRoute{Domain: domain, APIEndpoint: endpoint}
	}
	return &Table{routes: routes}, nil
}

// LoadFile reads a YAML mapping of domain to API base URL. An empty path yields
// an empty table.
func LoadFile(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML route data.
func Parse(data []byte) (*Table, error) {
	entries := map[string]string{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	table, err := New(entries)
	if err != nil {
		return nil, fmt.Errorf("build routes: %w", err)
	}
	return table, nil
}

// Lookup implements crawler.RouteTable.
func (t *Table) Lookup(domain string) (crawler.SiteRoute, bool) {
	if t == nil {
		return crawler.SiteRoute{}, false
	}
	route, ok := t.routes[strings.ToLower(domain)]
	return route, ok
}

// Domains lists configured domains in sorted order.
func (t *Table) Domains() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.routes))
	for d := range t.routes {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse api endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api endpoint %q must be http or https", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("api endpoint %q has no host", endpoint)
	}
	return nil
}
