package apifetcher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/tiered-crawler/internal/content"
)

// parseResponse is the subset of a MediaWiki action=parse reply we consume.
// Both formatversion=1 and formatversion=2 shapes decode into it.
type parseResponse struct {
	Parse *parseSection `json:"parse"`
	Error *apiError     `json:"error"`
}

type parseSection struct {
	Title      string          `json:"title"`
	PageID     int64           `json:"pageid"`
	Text       flexibleText    `json:"text"`
	Links      []parseLink     `json:"links"`
	Categories []parseCategory `json:"categories"`
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

// flexibleText accepts "text": "<html>" (v2) and "text": {"*": "<html>"} (v1).
type flexibleText string

func (t *flexibleText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = flexibleText(s)
		return nil
	}
	var legacy struct {
		Star string `json:"*"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("decode parse text: %w", err)
	}
	*t = flexibleText(legacy.Star)
	return nil
}

type parseLink struct {
	Namespace int
	Title     string
	Exists    *bool
}

func (l *parseLink) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode parse link: %w", err)
	}
	if ns, ok := raw["ns"]; ok {
		if err := json.Unmarshal(ns, &l.Namespace); err != nil {
			return fmt.Errorf("decode link namespace: %w", err)
		}
	}
	for _, key := range []string{"title", "*"} {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, &l.Title); err != nil {
				return fmt.Errorf("decode link title: %w", err)
			}
			break
		}
	}
	if v, ok := raw["exists"]; ok {
		exists := true
		var b bool
		// v1 marks existence with an empty-string key; v2 uses a boolean.
		if err := json.Unmarshal(v, &b); err == nil {
			exists = b
		}
		l.Exists = &exists
	}
	return nil
}

type parseCategory struct {
	Name string
}

func (c *parseCategory) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode category: %w", err)
	}
	for _, key := range []string{"category", "*"} {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, &c.Name); err != nil {
				return fmt.Errorf("decode category name: %w", err)
			}
			return nil
		}
	}
	return errors.New("category entry without name")
}

func (p *parseSection) wikiLinks() []content.WikiLink {
	out := make([]content.WikiLink, 0, len(p.Links))
	for _, l := range p.Links {
		out = append(out, content.WikiLink{Namespace: l.Namespace, Title: l.Title, Exists: l.Exists})
	}
	return out
}

func (p *parseSection) categoryNames() []string {
	if len(p.Categories) == 0 {
		return nil
	}
	out := make([]string, 0, len(p.Categories))
	for _, c := range p.Categories {
		if c.Name != "" {
			out = append(out, content.TitleFromIdentifier(c.Name))
		}
	}
	return out
}
