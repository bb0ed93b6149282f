package content

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tiered-crawler/internal/crawler"
)

// MainNamespace is the wiki namespace id of regular articles.
const MainNamespace = 0

// excludedNamespaces are path prefixes that never lead to article content.
var excludedNamespaces = map[string]struct{}{
	"special":   {},
	"user":      {},
	"talk":      {},
	"file":      {},
	"image":     {},
	"media":     {},
	"template":  {},
	"category":  {},
	"help":      {},
	"mediawiki": {},
	"module":    {},
	"project":   {},
	"portal":    {},
	"draft":     {},
}

var mediaNamespaces = map[string]struct{}{
	"file":  {},
	"image": {},
	"media": {},
}

// administrativeActions mark non-view wiki requests (edit forms, histories, raw dumps).
var administrativeActions = map[string]struct{}{
	"edit":    {},
	"history": {},
	"raw":     {},
	"delete":  {},
	"protect": {},
	"info":    {},
	"submit":  {},
	"watch":   {},
	"unwatch": {},
	"purge":   {},
}

// WikiLink is one entry of a structured API link list.
type WikiLink struct {
	Namespace int
	Title     string
	// Exists is nil when the API did not report existence.
	Exists *bool
}

// ExtractLinks returns content links found in html that belong to domain,
// resolved against base, without fragments, deduplicated in first-seen order.
// base is the page's final URL and may sit on another host after a redirect;
// an empty domain falls back to base's.
func ExtractLinks(html string, base *url.URL, domain string) []string {
	links := newLinkSet()
	if base == nil || strings.TrimSpace(html) == "" {
		return links.list()
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return links.list()
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		domain = crawler.Domain(base)
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		target, ok := resolve(base, href)
		if !ok || !crawler.SameDomain(target, domain) || !IsContentPath(target) {
			return
		}
		links.add(crawler.NormalizeURL(target))
	})
	return links.list()
}

// WikiLinks rebuilds article URLs under base from an API link list, keeping only
// main-namespace entries that are not reported missing.
func WikiLinks(base *url.URL, entries []WikiLink) []string {
	links := newLinkSet()
	if base == nil {
		return links.list()
	}
	for _, entry := range entries {
		if entry.Namespace != MainNamespace || strings.TrimSpace(entry.Title) == "" {
			continue
		}
		if entry.Exists != nil && !*entry.Exists {
			continue
		}
		links.add(crawler.ArticleURL(base, entry.Title))
	}
	return links.list()
}

// IsContentPath reports whether u looks like an article rather than a wiki
// administrative, user, talk, file, template, or category page.
func IsContentPath(u *url.URL) bool {
	if u == nil {
		return false
	}
	query := u.Query()
	if action := strings.ToLower(query.Get("action")); action != "" {
		if _, admin := administrativeActions[action]; admin {
			return false
		}
	}
	if title := query.Get("title"); title != "" && isExcludedName(title) {
		return false
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if isExcludedName(segment) {
			return false
		}
	}
	return true
}

// IsMediaLink reports whether href targets a wiki file, image, or media page.
func IsMediaLink(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	if _, ok := mediaNamespaces[namespaceOf(u.Query().Get("title"))]; ok {
		return true
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if _, ok := mediaNamespaces[namespaceOf(segment)]; ok {
			return true
		}
	}
	return false
}

func isExcludedName(name string) bool {
	ns := namespaceOf(name)
	if ns == "" {
		return false
	}
	if ns == "talk" || strings.HasSuffix(ns, "_talk") {
		return true
	}
	_, excluded := excludedNamespaces[ns]
	return excluded
}

// namespaceOf returns the lowercased "Namespace:" prefix of a page name, or "".
func namespaceOf(name string) string {
	prefix, _, found := strings.Cut(name, ":")
	if !found {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(prefix, " ", "_")))
}

func resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	target := base.ResolveReference(ref)
	switch strings.ToLower(target.Scheme) {
	case "http", "https":
	default:
		return nil, false
	}
	target.Fragment = ""
	target.RawFragment = ""
	return target, true
}

type linkSet struct {
	seen  map[string]struct{}
	order []string
}

func newLinkSet() *linkSet {
	return &linkSet{seen: make(map[string]struct{})}
}

func (l *linkSet) add(link string) {
	if link == "" {
		return
	}
	if _, ok := l.seen[link]; ok {
		return
	}
	l.seen[link] = struct{}{}
	l.order = append(l.order, link)
}

func (l *linkSet) list() []string {
	if l.order == nil {
		return []string{}
	}
	return l.order
}
