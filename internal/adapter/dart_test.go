package adapter

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/feed"
	"github.com/dongwoo46/bottlen/internal/fetch"
)

func newDartAdapter(t *testing.T, cfg fetch.Config) *DartAdapter {
	t.Helper()
	client := fetch.New(cfg, fastPolicy(1), zap.NewNop())
	t.Cleanup(client.Close)
	return NewDartAdapter(client, fastPolicy(1), fixedClock{testNow}, zap.NewNop())
}

const sampleDartList = `{
  "status": "000",
  "message": "정상",
  "list": [
    {
      "corp_code": "00126380",
      "corp_name": "삼성전자",
      "report_nm": "주요사항보고서(유상증자결정)",
      "rcept_no": "20260227000123",
      "rcept_dt": "20260227",
      "flr_nm": "삼성전자"
    },
    {
      "corp_code": "00164742",
      "corp_name": "현대자동차",
      "report_nm": "기업설명회(IR)개최(안내공시)",
      "rcept_no": "20260227000456",
      "rcept_dt": "20260227",
      "flr_nm": "현대자동차"
    },
    {
      "corp_code": "00258801",
      "corp_name": "카카오",
      "report_nm": "합병등종료보고서",
      "rcept_no": "20260227000789",
      "rcept_dt": "20260227",
      "flr_nm": "카카오"
    },
    {
      "corp_code": "00999999",
      "corp_name": "결번사",
      "report_nm": "자기주식취득결정",
      "rcept_no": "",
      "rcept_dt": "20260227",
      "flr_nm": "결번사"
    }
  ]
}`

func TestDartFetchAndParseFiltersReports(t *testing.T) {
	t.Parallel()

	srv := serve(t, http.StatusOK, sampleDartList)
	a := newDartAdapter(t, fetch.Config{})
	require.Equal(t, "dart", a.Source())

	stream, err := a.FetchAndParse(context.Background(), feed.Source{URL: srv.URL, Topic: feed.TopicDisclosure})
	require.NoError(t, err)

	records := collect(t, stream)
	require.Len(t, records, 2, "IR notice is filtered out, missing receipt number dropped")

	first := records[0]
	require.Equal(t, "dart", first.Source)
	require.Equal(t, feed.TopicDisclosure, first.Topic)
	require.Equal(t, "주요사항보고서(유상증자결정)", first.Title)
	require.Equal(t, dartViewerURL+"20260227000123", first.Link)
	require.Equal(t, "삼성전자", first.Summary)
	require.Equal(t, "2026-02-27T00:00:00Z", first.PublishedAt)
	require.Equal(t, "삼성전자", first.Author)
	require.Equal(t, testNow, first.CollectedAt)

	require.Equal(t, "합병등종료보고서", records[1].Title)
}

func TestDartFetchAndParseBadPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"status": "000", "list": [`},
		{"upstream rejection", `{"status": "020", "message": "사용한도 초과"}`},
		{"empty body", "  "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := serve(t, http.StatusOK, tc.payload)
			a := newDartAdapter(t, fetch.Config{})

			stream, err := a.FetchAndParse(context.Background(), feed.Source{URL: srv.URL})
			require.NoError(t, err)
			require.Empty(t, collect(t, stream))
		})
	}
}

func TestNormalizeDartDate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2024-01-02T00:00:00Z", normalizeDartDate("20240102", testNow))
	require.Equal(t, testNow.Format("2006-01-02T15:04:05Z"), normalizeDartDate("2024", testNow))
	require.Equal(t, testNow.Format("2006-01-02T15:04:05Z"), normalizeDartDate("", testNow))
}
