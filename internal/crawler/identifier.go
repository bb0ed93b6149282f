package crawler

import (
	"net/url"
	"strings"
)

// WikiPathPrefix is the conventional article path used by wiki sites.
const WikiPathPrefix = "/wiki/"

// PageIdentifier derives the wiki page identifier from u.
//
// A "/wiki/<identifier>" path yields the percent-decoded identifier; otherwise
// the "title" query parameter is used. ok is false when neither is present.
func PageIdentifier(u *url.URL) (string, bool) {
	if u == nil {
		return "", false
	}
	escaped := u.EscapedPath()
	if idx := strings.Index(escaped, WikiPathPrefix); idx >= 0 {
		raw := escaped[idx+len(WikiPathPrefix):]
		if decoded, err := url.PathUnescape(raw); err == nil {
			raw = decoded
		}
		if raw = strings.TrimSpace(raw); raw != "" {
			return raw, true
		}
	}
	if title := strings.TrimSpace(u.Query().Get("title")); title != "" {
		return title, true
	}
	return "", false
}

// ArticleURL rebuilds the canonical article URL for title under base's scheme and host.
func ArticleURL(base *url.URL, title string) string {
	name := strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
	out := url.URL{
		Scheme: base.Scheme,
		Host:   base.Host,
		Path:   WikiPathPrefix + name,
	}
	return out.String()
}
