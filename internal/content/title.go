package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Title picks a best-effort page title from html: <title>, then og:title, then
// the first <h1>. It returns "" when none is present.
func Title(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if t := collapseSpace(doc.Find("head title").First().Text()); t != "" {
		return t
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := collapseSpace(og); t != "" {
			return t
		}
	}
	return collapseSpace(doc.Find("h1").First().Text())
}

// TitleFromIdentifier renders a page identifier the way wikis display it.
func TitleFromIdentifier(id string) string {
	return collapseSpace(strings.ReplaceAll(id, "_", " "))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
