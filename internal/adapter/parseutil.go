// Package adapter implements the per-source fetch-and-parse variants that
// turn upstream feed documents into the canonical record shape.
package adapter

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
)

// dateLayouts are tried in order when normalizing published timestamps.
// RFC-1123 variants come first because most RSS feeds emit them.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
}

// CleanHTML strips markup from a fragment and collapses runs of whitespace
// into single spaces. Input that is not HTML passes through unchanged apart
// from whitespace normalization.
func CleanHTML(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseWhitespace(fragment)
	}
	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeDate parses a published timestamp into RFC-3339 form, trying the
// extra source-preferred layouts before the common ones. Unparseable input
// falls back to now.
func NormalizeDate(raw string, preferred []string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range preferred {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.Format(time.RFC3339)
			}
		}
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.Format(time.RFC3339)
			}
		}
	}
	return now.UTC().Format(time.RFC3339)
}

// ExtractLink pulls an item's link, preferring an href attribute on the link
// element (Atom style) over its text content (RSS style).
func ExtractLink(item *xmlquery.Node) string {
	for _, link := range xmlquery.Find(item, "link") {
		if href := strings.TrimSpace(link.SelectAttr("href")); href != "" {
			return href
		}
	}
	if link := xmlquery.FindOne(item, "link"); link != nil {
		return strings.TrimSpace(link.InnerText())
	}
	return ""
}

func childText(item *xmlquery.Node, name string) string {
	if name == "" {
		return ""
	}
	if n := xmlquery.FindOne(item, name); n != nil {
		return strings.TrimSpace(n.InnerText())
	}
	return ""
}
