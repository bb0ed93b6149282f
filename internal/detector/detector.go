// Package detector recognizes anti-bot challenge pages that were served in
// place of real content.
package detector

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMinTextChars is the length above which text is treated as real content
// even when it mentions a challenge phrase.
const DefaultMinTextChars = 2000

// DefaultKeywords are phrases that interstitial challenge pages commonly carry.
var DefaultKeywords = []string{
	"checking your browser before accessing",
	"checking if the site connection is secure",
	"verify you are human",
	"verifying you are human",
	"enable javascript and cookies to continue",
	"please complete the security check",
	"attention required! | cloudflare",
	"just a moment...",
	"ddos protection by",
	"pardon our interruption",
	"request unsuccessful. incapsula incident",
	"are you a robot",
	"unusual traffic from your computer network",
	"access to this page has been denied",
}

// challengeSelectors flag challenge widgets in raw HTML.
var challengeSelectors = []string{
	"#challenge-form",
	"#challenge-running",
	"#cf-challenge-running",
	"#cf-wrapper",
	".cf-browser-verification",
	"div.g-recaptcha",
	"div.h-captcha",
	`iframe[src*="captcha"]`,
	`script[src*="/cdn-cgi/challenge-platform/"]`,
	"#px-captcha",
}

// Heuristic classifies content by phrase matching on short texts.
type Heuristic struct {
	minTextChars int
	keywords     []string
}

// NewHeuristic creates a detector. Zero or negative minTextChars selects
// DefaultMinTextChars; an empty keyword list selects DefaultKeywords.
func NewHeuristic(minTextChars int, keywords []string) *Heuristic {
	if minTextChars <= 0 {
		minTextChars = DefaultMinTextChars
	}
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lower = append(lower, kw)
		}
	}
	return &Heuristic{minTextChars: minTextChars, keywords: lower}
}

// IsBlocked reports whether normalized text looks like a challenge page.
// Long documents are never flagged; articles about captchas are still articles.
func (h *Heuristic) IsBlocked(text string) bool {
	if h == nil {
		return false
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) >= h.minTextChars {
		return false
	}
	return h.containsKeyword(strings.ToLower(text))
}

// IsBlockedPage inspects raw HTML for challenge widgets, then falls back to the
// text check on the page title and body text.
func (h *Heuristic) IsBlockedPage(html string) bool {
	if h == nil || strings.TrimSpace(html) == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	for _, sel := range challengeSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	if title != "" && h.containsKeyword(title) {
		return true
	}
	return h.IsBlocked(doc.Find("body").Text())
}

func (h *Heuristic) containsKeyword(lower string) bool {
	for _, kw := range h.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
