package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/feed"
	"github.com/dongwoo46/bottlen/internal/fetch"
)

// dartViewerURL is the public viewer page for one filing, keyed by receipt
// number. It serves as the record's canonical link.
const dartViewerURL = "https://dart.fss.or.kr/dsaf001/main.do?rcpNo="

// dartReportKeywords selects filings with direct market impact. A filing is
// kept when its report name contains any of these.
var dartReportKeywords = []string{
	"주요사항보고서",
	"증권발행실적보고서",
	"단일판매ㆍ공급계약체결",
	"자기주식취득",
	"자기주식처분",
	"합병",
	"영업양수",
	"영업양도",
	"전환사채발행",
	"신주인수권부사채발행",
	"유상증자결정",
	"감자결정",
}

type dartListResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	List    []dartListItem `json:"list"`
}

type dartListItem struct {
	CorpCode  string `json:"corp_code"`
	CorpName  string `json:"corp_name"`
	ReportNm  string `json:"report_nm"`
	ReceiptNo string `json:"rcept_no"`
	ReceiptDt string `json:"rcept_dt"` // yyyyMMdd
	FilerName string `json:"flr_nm"`
}

// DartAdapter ingests the Korean DART disclosure list endpoint (list.json).
type DartAdapter struct {
	source   string
	client   *fetch.Client
	policy   *fetch.RetryPolicy
	clock    feed.Clock
	recorder *Recorder
	logger   *zap.Logger
}

// NewDartAdapter constructs the DART list adapter.
func NewDartAdapter(client *fetch.Client, policy *fetch.RetryPolicy, clock feed.Clock, logger *zap.Logger) *DartAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DartAdapter{
		source: "dart",
		client: client,
		policy: policy,
		clock:  clock,
		logger: logger.With(zap.String("source", "dart")),
	}
}

// WithRecorder enables raw payload archiving for this adapter.
func (a *DartAdapter) WithRecorder(r *Recorder) *DartAdapter {
	a.recorder = r
	return a
}

// Source returns the adapter-selecting key.
func (a *DartAdapter) Source() string {
	return a.source
}

// FetchAndParse fetches the disclosure list and streams the filings whose
// report names match the market-impact keywords. Parse-level failures yield
// an empty stream.
func (a *DartAdapter) FetchAndParse(ctx context.Context, src feed.Source) (<-chan feed.Record, error) {
	body, err := a.client.GetWithPolicy(ctx, src.URL, a.policy)
	if err != nil {
		return nil, fmt.Errorf("fetch dart list: %w", err)
	}
	a.recorder.Record(ctx, a.source, "json", body)

	out := make(chan feed.Record)
	items, ok := a.parseList(body)
	if !ok {
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		for _, item := range items {
			reportName := strings.TrimSpace(item.ReportNm)
			if !matchesAnyKeyword(reportName, dartReportKeywords) {
				continue
			}
			rec, err := a.toRecord(item, src, reportName)
			if err != nil {
				a.logger.Warn("dropping unparseable filing", zap.Error(err))
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

func (a *DartAdapter) parseList(body []byte) ([]dartListItem, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		a.logger.Error("empty disclosure list document")
		return nil, false
	}
	if len(body) > a.client.MaxBodyBytes() {
		a.logger.Error("disclosure list exceeds size ceiling",
			zap.Int("limit_bytes", a.client.MaxBodyBytes()))
		return nil, false
	}
	var resp dartListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		a.logger.Error("disclosure list parse failed", zap.Error(err))
		return nil, false
	}
	if resp.Status != "" && resp.Status != "000" {
		a.logger.Error("disclosure list rejected by upstream",
			zap.String("status", resp.Status),
			zap.String("message", resp.Message))
		return nil, false
	}
	return resp.List, true
}

func (a *DartAdapter) toRecord(item dartListItem, src feed.Source, reportName string) (feed.Record, error) {
	if item.ReceiptNo == "" {
		return feed.Record{}, fmt.Errorf("filing %q missing receipt number", truncate(reportName, 60))
	}
	rec := feed.Record{
		Source:      a.source,
		Topic:       src.Topic,
		Title:       reportName,
		Link:        dartViewerURL + item.ReceiptNo,
		Summary:     strings.TrimSpace(item.CorpName),
		PublishedAt: normalizeDartDate(item.ReceiptDt, a.clock.Now()),
		Author:      strings.TrimSpace(item.FilerName),
		CollectedAt: a.clock.Now().UTC(),
	}
	if !rec.Valid() {
		return feed.Record{}, fmt.Errorf("filing missing title (receipt=%s)", item.ReceiptNo)
	}
	return rec, nil
}

// normalizeDartDate converts the yyyyMMdd receipt date to RFC-3339 midnight
// UTC, falling back to now on bad input.
func normalizeDartDate(raw string, now time.Time) string {
	ts, err := time.Parse("20060102", strings.TrimSpace(raw))
	if err != nil {
		return now.UTC().Format(time.RFC3339)
	}
	return ts.UTC().Format(time.RFC3339)
}

func matchesAnyKeyword(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
