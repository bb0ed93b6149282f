// Package content converts fetched HTML into the single markdown dialect used by
// every tier, and extracts outbound crawl links.
package content

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
)

// strippedSelectors never reach the converter. Media references are dropped
// entirely, and script-like elements carry no readable text.
const strippedSelectors = "script, style, noscript, template, img, picture, source, svg, video, audio, iframe, object, embed, canvas"

var (
	blankRun   = regexp.MustCompile(`\n[ \t]*(?:\n[ \t]*){2,}`)
	trailingWS = regexp.MustCompile(`[ \t]+\n`)
)

// Normalizer converts HTML fragments to markdown with a fixed ruleset.
// It is safe for concurrent use.
type Normalizer struct {
	conv *converter.Converter
}

// NewNormalizer builds the shared converter: ATX headings, pipe tables, no media.
func NewNormalizer() *Normalizer {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(
				commonmark.WithHeadingStyle(commonmark.HeadingStyleATX),
			),
			table.NewTablePlugin(),
		),
	)
	return &Normalizer{conv: conv}
}

var defaultNormalizer = NewNormalizer()

// ToMarkdown converts html using the package default Normalizer.
func ToMarkdown(html string) string {
	return defaultNormalizer.ToMarkdown(html)
}

// ToMarkdown converts html to markdown. It never fails: malformed input
// degrades to the document's plain text.
func (n *Normalizer) ToMarkdown(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return tidy(html)
	}
	doc.Find(strippedSelectors).Remove()
	dropMediaAnchors(doc)

	cleaned, err := doc.Html()
	if err != nil {
		return tidy(doc.Text())
	}
	md, err := n.conv.ConvertString(cleaned)
	if err != nil {
		return tidy(doc.Text())
	}
	return tidy(md)
}

// dropMediaAnchors removes links left empty once their media is gone and
// unwraps captions that link to a file page, keeping only their text.
func dropMediaAnchors(doc *goquery.Document) {
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.Text()) == "" {
			s.Remove()
			return
		}
		if href, ok := s.Attr("href"); ok && IsMediaLink(href) {
			s.ReplaceWithSelection(s.Contents())
		}
	})
}

// tidy collapses runs of blank lines into a single blank line and trims the result.
func tidy(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = trailingWS.ReplaceAllString(s, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
