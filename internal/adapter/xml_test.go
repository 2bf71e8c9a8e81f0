package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/feed"
	"github.com/dongwoo46/bottlen/internal/fetch"
	"github.com/dongwoo46/bottlen/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time {
	return c.t
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func serve(t *testing.T, status int, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRSSAdapter(t *testing.T, cfg fetch.Config) *XMLAdapter {
	t.Helper()
	client := fetch.New(cfg, fastPolicy(1), zap.NewNop())
	t.Cleanup(client.Close)
	return NewXMLAdapter("cnbc", standardRSSRules(), client, fastPolicy(1), fixedClock{testNow}, zap.NewNop())
}

func fastPolicy(attempts int) *fetch.RetryPolicy {
	return fetch.NewRetryPolicy(attempts, time.Millisecond, 2*time.Millisecond)
}

func collect(t *testing.T, stream <-chan feed.Record) []feed.Record {
	t.Helper()
	var out []feed.Record
	for rec := range stream {
		out = append(out, rec)
	}
	return out
}

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Markets</title>
  <item>
    <title>First story</title>
    <link>https://news.example/a?utm_source=rss</link>
    <description><![CDATA[<p>Summary <b>one</b></p>]]></description>
    <content:encoded><![CDATA[<p>Body one</p>]]></content:encoded>
    <pubDate>Mon, 02 Jun 2025 09:00:00 -0400</pubDate>
    <dc:creator>Jane Reporter</dc:creator>
  </item>
  <item>
    <title>Broken story</title>
    <description>no link at all</description>
  </item>
  <item>
    <title>Second story</title>
    <link>https://news.example/b</link>
    <description>plain summary</description>
    <pubDate>not a date</pubDate>
  </item>
  <item>
    <title>Third story</title>
    <link>https://news.example/c</link>
    <author>desk@news.example</author>
  </item>
</channel>
</rss>`

func TestFetchAndParseIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	srv := serve(t, http.StatusOK, sampleRSS)
	a := newRSSAdapter(t, fetch.Config{})

	stream, err := a.FetchAndParse(context.Background(), feed.Source{URL: srv.URL, Topic: feed.TopicFinance})
	require.NoError(t, err)

	records := collect(t, stream)
	require.Len(t, records, 3, "one malformed item drops, the rest survive")

	first := records[0]
	require.Equal(t, "cnbc", first.Source)
	require.Equal(t, feed.TopicFinance, first.Topic)
	require.Equal(t, "First story", first.Title)
	require.Equal(t, "https://news.example/a?utm_source=rss", first.Link)
	require.Equal(t, "Summary one", first.Summary)
	require.Equal(t, "Body one", first.Body)
	require.Equal(t, "2025-06-02T09:00:00-04:00", first.PublishedAt)
	require.Equal(t, "Jane Reporter", first.Author)
	require.Equal(t, testNow, first.CollectedAt)

	// Document order is preserved.
	require.Equal(t, "Second story", records[1].Title)
	require.Equal(t, "Third story", records[2].Title)

	// Missing body falls back to the summary; missing pubDate to now.
	require.Equal(t, "plain summary", records[1].Body)
	require.Equal(t, testNow.Format(time.RFC3339), records[1].PublishedAt)

	// dc:creator missing, plain author element used instead.
	require.Equal(t, "desk@news.example", records[2].Author)
}

func TestFetchAndParseEmptyDocument(t *testing.T) {
	t.Parallel()

	srv := serve(t, http.StatusOK, "   \n ")
	a := newRSSAdapter(t, fetch.Config{})

	stream, err := a.FetchAndParse(context.Background(), feed.Source{URL: srv.URL})
	require.NoError(t, err)
	require.Empty(t, collect(t, stream))
}

func TestFetchAndParseMalformedDocument(t *testing.T) {
	t.Parallel()

	srv := serve(t, http.StatusOK, `<rss><item><title>x</title></wrong></rss>`)
	a := newRSSAdapter(t, fetch.Config{})

	stream, err := a.FetchAndParse(context.Background(), feed.Source{URL: srv.URL})
	require.NoError(t, err, "document-level parse failure must not abort the run")
	require.Empty(t, collect(t, stream))
}

func TestFetchAndParseOversizedDocument(t *testing.T) {
	t.Parallel()

	srv := serve(t, http.StatusOK, strings.Repeat("a", 4096))
	a := newRSSAdapter(t, fetch.Config{MaxBodyBytes: 512})

	stream, err := a.FetchAndParse(context.Background(), feed.Source{URL: srv.URL})
	require.NoError(t, err, "oversized payload is rejected, not raised")
	require.Empty(t, collect(t, stream))
}

func TestFetchAndParseFetchFailure(t *testing.T) {
	t.Parallel()

	srv := serve(t, http.StatusInternalServerError, "boom")
	a := newRSSAdapter(t, fetch.Config{})

	stream, err := a.FetchAndParse(context.Background(), feed.Source{URL: srv.URL})
	require.Error(t, err, "fetch failure aborts the run")
	require.Nil(t, stream)
	require.True(t, fetch.IsServerError(err))
}

const sampleAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>EDGAR filings</title>
  <entry>
    <title>8-K - ACME CORP</title>
    <link rel="alternate" href="https://www.sec.gov/Archives/edgar/data/1/0001-26-000001-index.htm"/>
    <summary>Current report</summary>
    <updated>2026-02-27T16:01:10-05:00</updated>
    <category term="8-K" label="form type"/>
    <id>urn:tag:sec.gov,2008:accession-number=0001-26-000001;CIK0000320193</id>
  </entry>
  <entry>
    <title>10-Q - OTHER CORP</title>
    <link rel="alternate" href="https://www.sec.gov/Archives/edgar/data/2/0002-26-000002-index.htm"/>
    <updated>2026-02-27T16:05:00-05:00</updated>
    <category term="10-Q" label="form type"/>
    <id>urn:tag:sec.gov,2008:accession-number=0002-26-000002;CIK0000000002</id>
  </entry>
  <entry>
    <title>SC 13D - BIG STAKE LLC</title>
    <link rel="alternate" href="https://www.sec.gov/Archives/edgar/data/3/0003-26-000003-index.htm"/>
    <updated>2026-02-27T16:10:00-05:00</updated>
    <category term="SC 13D" label="form type"/>
    <id>urn:tag:sec.gov,2008:accession-number=0003-26-000003;CIK0000000003</id>
  </entry>
</feed>`

func TestEdgarAdapterFiltersFormTypes(t *testing.T) {
	t.Parallel()

	srv := serve(t, http.StatusOK, sampleAtom)
	client := fetch.New(fetch.Config{}, fastPolicy(1), zap.NewNop())
	t.Cleanup(client.Close)

	a := newEdgarAdapter(client, fixedClock{testNow}, zap.NewNop())
	require.Equal(t, "edgar", a.Source())

	stream, err := a.FetchAndParse(context.Background(), feed.Source{URL: srv.URL, Topic: feed.TopicDisclosure})
	require.NoError(t, err)

	records := collect(t, stream)
	require.Len(t, records, 2, "10-Q entry is outside the form allowlist")

	first := records[0]
	require.Equal(t, "8-K - ACME CORP", first.Title)
	require.Equal(t, "https://www.sec.gov/Archives/edgar/data/1/0001-26-000001-index.htm", first.Link)
	require.Equal(t, "Current report", first.Summary)
	require.Equal(t, "2026-02-27T16:01:10-05:00", first.PublishedAt)
	require.Equal(t, "CIK0000320193", first.Author)
	require.Equal(t, feed.TopicDisclosure, first.Topic)

	require.Equal(t, "SC 13D - BIG STAKE LLC", records[1].Title)
	require.Equal(t, "CIK0000000003", records[1].Author)
}
