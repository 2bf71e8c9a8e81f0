package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/config"
	"github.com/dongwoo46/bottlen/internal/feed"
	"github.com/dongwoo46/bottlen/internal/id/uuid"
	"github.com/dongwoo46/bottlen/internal/metrics"
	registrymem "github.com/dongwoo46/bottlen/internal/registry/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeExecutor struct {
	report feed.RunReport
	err    error
	lastID string
}

func (f *fakeExecutor) ExecuteFeed(_ context.Context, feedID string) (feed.RunReport, error) {
	f.lastID = feedID
	return f.report, f.err
}

func newTestServer(t *testing.T, exec Executor) (*Server, *registrymem.Registry) {
	t.Helper()
	registry := registrymem.NewRegistry(uuid.NewUUIDGenerator(), fixedClock{testNow})
	if exec == nil {
		exec = &fakeExecutor{}
	}
	return NewServer(registry, exec, config.ServerConfig{Port: 8080}, zap.NewNop()), registry
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type feedEnvelope struct {
	Feed feed.Source `json:"feed"`
}

func decodeFeed(t *testing.T, rec *httptest.ResponseRecorder) feed.Source {
	t.Helper()
	var env feedEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Feed
}

func TestCreateAndGetFeed(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/feeds", map[string]any{
		"source": "cnbc",
		"topic":  "finance",
		"url":    "https://feeds.example/cnbc.rss",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeFeed(t, rec)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "cnbc", created.Source)
	require.Equal(t, feed.TopicFinance, created.Topic)
	require.True(t, created.Enabled)
	require.Equal(t, defaultIntervalSeconds, created.IntervalSeconds)
	require.Nil(t, created.LastRunAt)

	rec = doRequest(t, s, http.MethodGet, "/v1/feeds/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeFeed(t, rec)
	require.Equal(t, created.ID, got.ID)

	rec = doRequest(t, s, http.MethodGet, "/v1/feeds/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateFeedValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing source", map[string]any{"url": "https://feeds.example/a.rss"}},
		{"missing url", map[string]any{"source": "cnbc"}},
		{"bad interval", map[string]any{"source": "cnbc", "url": "https://feeds.example/a.rss", "interval_seconds": 0}},
	}
	for _, tc := range cases {
		rec := doRequest(t, s, http.MethodPost, "/v1/feeds", tc.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/feeds", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateFeedKeepsOmittedFields(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/feeds", map[string]any{
		"source":           "dart",
		"topic":            "disclosure",
		"url":              "https://opendart.example/list.json",
		"interval_seconds": 120,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeFeed(t, rec)

	rec = doRequest(t, s, http.MethodPut, "/v1/feeds/"+created.ID, map[string]any{
		"enabled":          false,
		"interval_seconds": 60,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeFeed(t, rec)
	require.False(t, updated.Enabled)
	require.Equal(t, 60, updated.IntervalSeconds)
	require.Equal(t, "dart", updated.Source)
	require.Equal(t, "https://opendart.example/list.json", updated.URL)

	rec = doRequest(t, s, http.MethodPut, "/v1/feeds/missing", map[string]any{"enabled": true})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteFeed(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/feeds", map[string]any{
		"source": "edgar",
		"url":    "https://filings.example/atom",
	})
	created := decodeFeed(t, rec)

	rec = doRequest(t, s, http.MethodDelete, "/v1/feeds/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/feeds/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/v1/feeds/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFeeds(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/feeds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var empty struct {
		Feeds []feed.Source `json:"feeds"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&empty))
	require.Empty(t, empty.Feeds)

	for i := 0; i < 2; i++ {
		rec = doRequest(t, s, http.MethodPost, "/v1/feeds", map[string]any{
			"source": fmt.Sprintf("source-%d", i),
			"url":    fmt.Sprintf("https://feeds.example/%d.rss", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/v1/feeds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Feeds []feed.Source `json:"feeds"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	require.Len(t, listed.Feeds, 2)
}

func TestRunFeed(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{report: feed.RunReport{
		FeedID:    "feed-1",
		Source:    "cnbc",
		Status:    feed.RunCompleted,
		TotalSeen: 5,
		TotalNew:  3,
		Dropped:   2,
		Duration:  1200 * time.Millisecond,
	}}
	s, _ := newTestServer(t, exec)

	rec := doRequest(t, s, http.MethodPost, "/v1/feeds/feed-1/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "feed-1", exec.lastID)

	var resp runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, feed.RunCompleted, resp.Status)
	require.Equal(t, 5, resp.TotalSeen)
	require.Equal(t, 3, resp.TotalNew)
	require.Equal(t, 2, resp.Dropped)
	require.Equal(t, int64(1200), resp.DurationMs)
	require.Empty(t, resp.Error)
}

func TestRunFeedErrorMapping(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeExecutor{err: fmt.Errorf("load feed x: %w", feed.ErrNotFound)})
	rec := doRequest(t, s, http.MethodPost, "/v1/feeds/x/run", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	s, _ = newTestServer(t, &fakeExecutor{err: fmt.Errorf("feed x: %w", feed.ErrDisabled)})
	rec = doRequest(t, s, http.MethodPost, "/v1/feeds/x/run", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	s, _ = newTestServer(t, &fakeExecutor{err: errors.New("boom")})
	rec = doRequest(t, s, http.MethodPost, "/v1/feeds/x/run", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunFeedReportsAbort(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{report: feed.RunReport{
		FeedID: "feed-1",
		Source: "cnbc",
		Status: feed.RunAborted,
		Err:    errors.New("fetch cnbc feed: status 503"),
	}}
	s, _ := newTestServer(t, exec)

	rec := doRequest(t, s, http.MethodPost, "/v1/feeds/feed-1/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, feed.RunAborted, resp.Status)
	require.Contains(t, resp.Error, "503")
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := doRequest(t, s, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	registry := registrymem.NewRegistry(uuid.NewUUIDGenerator(), fixedClock{testNow})
	s := NewServer(registry, &fakeExecutor{}, config.ServerConfig{Port: 8080, APIKey: "secret"}, zap.NewNop())

	rec := doRequest(t, s, http.MethodGet, "/v1/feeds", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/feeds", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/feeds?api_key=secret", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
