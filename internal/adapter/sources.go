package adapter

import (
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/feed"
	"github.com/dongwoo46/bottlen/internal/fetch"
)

// edgarForms is the set of SEC form types worth ingesting. Entries for any
// other form are skipped before parsing.
var edgarForms = map[string]struct{}{
	"8-K":    {},
	"4":      {},
	"13F-HR": {},
	"SC 13D": {},
	"SC 13G": {},
	"6-K":    {},
}

// edgarCIKPattern extracts the filer CIK from an entry's id element.
var edgarCIKPattern = regexp.MustCompile(`CIK(\d+)`)

// Builtin constructs the closed set of source adapters, keyed by the feed
// source field. The scheduler dispatches through this table; unknown source
// keys are a registration-time error, never a runtime scan.
func Builtin(client *fetch.Client, clock feed.Clock, rec *Recorder, logger *zap.Logger) map[string]feed.Adapter {
	adapters := []feed.Adapter{
		NewXMLAdapter("cnbc", standardRSSRules(), client, nil, clock, logger).WithRecorder(rec),
		NewXMLAdapter("arstechnica", standardRSSRules(), client, nil, clock, logger).WithRecorder(rec),
		newEdgarAdapter(client, clock, logger).WithRecorder(rec),
		NewDartAdapter(client, nil, clock, logger).WithRecorder(rec),
	}
	table := make(map[string]feed.Adapter, len(adapters))
	for _, a := range adapters {
		table[a.Source()] = a
	}
	return table
}

// standardRSSRules covers conventional RSS 2.0 feeds: item elements with a
// text link, content:encoded body and RFC-1123 pubDate.
func standardRSSRules() XMLRules {
	return XMLRules{
		ItemPath:  "//item",
		Title:     "title",
		Summary:   "description",
		Body:      "encoded", // content:encoded, matched by local name
		Published: "pubDate",
		Author:    "creator", // dc:creator
		Finish: func(rec *feed.Record, item *xmlquery.Node) {
			if rec.Author == "" {
				rec.Author = childText(item, "author")
			}
		},
	}
}

// newEdgarAdapter builds the SEC EDGAR Atom adapter. SEC throttles clients
// aggressively, so it retries less and backs off harder than the default
// policy.
func newEdgarAdapter(client *fetch.Client, clock feed.Clock, logger *zap.Logger) *XMLAdapter {
	policy := fetch.NewRetryPolicy(2, 2*time.Second, 16*time.Second)
	rules := XMLRules{
		ItemPath:  "//entry",
		Title:     "title",
		Summary:   "summary",
		Published: "updated",
		Keep: func(item *xmlquery.Node) bool {
			category := xmlquery.FindOne(item, "category")
			if category == nil {
				return false
			}
			_, ok := edgarForms[strings.TrimSpace(category.SelectAttr("term"))]
			return ok
		},
		Finish: func(rec *feed.Record, item *xmlquery.Node) {
			if m := edgarCIKPattern.FindStringSubmatch(childText(item, "id")); m != nil {
				rec.Author = "CIK" + m[1]
			}
		},
	}
	return NewXMLAdapter("edgar", rules, client, policy, clock, logger)
}
