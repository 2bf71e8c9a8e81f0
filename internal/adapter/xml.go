package adapter

import (
	"bytes"
	"context"
	"fmt"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/feed"
	"github.com/dongwoo46/bottlen/internal/fetch"
)

// XMLRules encodes the source-specific extraction layout of an RSS or Atom
// document. Paths are XPath expressions evaluated relative to one item node.
type XMLRules struct {
	// ItemPath selects the repeating item nodes, e.g. "//item" or "//entry".
	ItemPath string

	Title     string
	Summary   string
	Body      string
	Published string
	Author    string

	// DateLayouts are tried before the shared layouts when normalizing the
	// published timestamp.
	DateLayouts []string

	// Keep filters items before parsing; nil keeps everything. Filtered
	// items are skipped silently, they are not parse failures.
	Keep func(item *xmlquery.Node) bool

	// Finish can adjust the parsed record using the raw item node, e.g. to
	// derive a link or author the flat paths cannot express.
	Finish func(rec *feed.Record, item *xmlquery.Node)
}

// XMLAdapter parses one RSS/Atom feed shape into canonical records. One
// instance serves all feeds registered under its source key.
type XMLAdapter struct {
	source   string
	rules    XMLRules
	client   *fetch.Client
	policy   *fetch.RetryPolicy
	clock    feed.Clock
	recorder *Recorder
	logger   *zap.Logger
}

// NewXMLAdapter constructs an adapter for the given source key. A nil policy
// uses the client's default retry policy.
func NewXMLAdapter(source string, rules XMLRules, client *fetch.Client, policy *fetch.RetryPolicy, clock feed.Clock, logger *zap.Logger) *XMLAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XMLAdapter{
		source: source,
		rules:  rules,
		client: client,
		policy: policy,
		clock:  clock,
		logger: logger.With(zap.String("source", source)),
	}
}

// WithRecorder enables raw payload archiving for this adapter.
func (a *XMLAdapter) WithRecorder(r *Recorder) *XMLAdapter {
	a.recorder = r
	return a
}

// Source returns the adapter-selecting key.
func (a *XMLAdapter) Source() string {
	return a.source
}

// FetchAndParse fetches the feed document and streams canonical records in
// document order. A fetch failure is returned as an error; any parse-level
// failure yields an empty stream instead so one bad document never aborts
// the run.
func (a *XMLAdapter) FetchAndParse(ctx context.Context, src feed.Source) (<-chan feed.Record, error) {
	body, err := a.client.GetWithPolicy(ctx, src.URL, a.policy)
	if err != nil {
		return nil, fmt.Errorf("fetch %s feed: %w", a.source, err)
	}
	a.recorder.Record(ctx, a.source, "xml", body)

	out := make(chan feed.Record)
	items, ok := a.parseDocument(body)
	if !ok {
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		for _, item := range items {
			if a.rules.Keep != nil && !a.rules.Keep(item) {
				continue
			}
			rec, err := a.parseItem(item, src)
			if err != nil {
				a.logger.Warn("dropping unparseable item", zap.Error(err))
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// parseDocument validates and parses the raw payload. Returns ok=false when
// the document as a whole cannot be used.
func (a *XMLAdapter) parseDocument(body []byte) ([]*xmlquery.Node, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		a.logger.Error("empty feed document")
		return nil, false
	}
	if len(body) > a.client.MaxBodyBytes() {
		a.logger.Error("feed document exceeds size ceiling",
			zap.Int("limit_bytes", a.client.MaxBodyBytes()))
		return nil, false
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		a.logger.Error("feed document parse failed", zap.Error(err))
		return nil, false
	}
	return xmlquery.Find(doc, a.rules.ItemPath), true
}

func (a *XMLAdapter) parseItem(item *xmlquery.Node, src feed.Source) (feed.Record, error) {
	title := CleanHTML(childText(item, a.rules.Title))
	link := ExtractLink(item)

	rec := feed.Record{
		Source:      a.source,
		Topic:       src.Topic,
		Title:       title,
		Link:        link,
		Summary:     CleanHTML(childText(item, a.rules.Summary)),
		Body:        CleanHTML(a.bodyText(item)),
		PublishedAt: NormalizeDate(childText(item, a.rules.Published), a.rules.DateLayouts, a.clock.Now()),
		Author:      childText(item, a.rules.Author),
		CollectedAt: a.clock.Now().UTC(),
	}
	if a.rules.Finish != nil {
		a.rules.Finish(&rec, item)
	}
	if !rec.Valid() {
		return feed.Record{}, fmt.Errorf("item missing title or link (title=%q)", truncate(rec.Title, 60))
	}
	return rec, nil
}

// bodyText prefers the configured body element and falls back to the summary
// element, mirroring how most RSS publishers use content:encoded with a
// description fallback.
func (a *XMLAdapter) bodyText(item *xmlquery.Node) string {
	if s := childText(item, a.rules.Body); s != "" {
		return s
	}
	return childText(item, a.rules.Summary)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
