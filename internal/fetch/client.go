// Package fetch implements the shared HTTP client used by all source
// adapters: pooled connections, layered timeouts, size-capped bodies and a
// status-aware retry loop.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/metrics"
)

const snippetLimit = 200

// Config controls client behavior. Zero values pick sensible defaults.
type Config struct {
	UserAgent      string
	ConnectTimeout time.Duration // dial deadline
	ReadTimeout    time.Duration // response-header deadline
	RequestTimeout time.Duration // whole-request deadline
	MaxBodyBytes   int
	MaxIdleConns   int
	IdleTimeout    time.Duration
	ConnLifetime   time.Duration // idle pool flushed on this period
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "bottlen-ingest/0.1"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 * 1024 * 1024
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 500
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	return c
}

// Client fetches single documents over a shared pooled transport.
// It is safe for concurrent use by many feed runs.
type Client struct {
	cfg           Config
	transport     *http.Transport
	baseCollector *colly.Collector
	retry         *RetryPolicy
	logger        *zap.Logger
	janitorStop   chan struct{}
}

// New builds a Client with the given config and default retry policy.
func New(cfg Config, retry *RetryPolicy, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if retry == nil {
		retry = NewRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := newPooledTransport(cfg)

	// The collector reads one extra byte past the cap so oversized payloads
	// are distinguishable from payloads of exactly the cap size.
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodyBytes+1),
		colly.UserAgent(cfg.UserAgent),
	)
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(transport)

	client := &Client{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		retry:         retry,
		logger:        logger,
		janitorStop:   make(chan struct{}),
	}
	if cfg.ConnLifetime > 0 {
		go client.janitor(cfg.ConnLifetime)
	}
	return client
}

// Close stops background maintenance and releases pooled connections.
func (c *Client) Close() {
	close(c.janitorStop)
	c.transport.CloseIdleConnections()
}

// MaxBodyBytes is the configured payload ceiling.
func (c *Client) MaxBodyBytes() int {
	return c.cfg.MaxBodyBytes
}

// Get fetches the URL with the client's default retry policy.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.GetWithPolicy(ctx, url, c.retry)
}

// GetWithPolicy fetches the URL using an adapter-specific retry policy.
// Only 5xx responses and transport failures are retried; 4xx fails
// immediately. The returned error is always a *Error on failure.
func (c *Client) GetWithPolicy(ctx context.Context, url string, policy *RetryPolicy) ([]byte, error) {
	if policy == nil {
		policy = c.retry
	}
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts(); attempt++ {
		if attempt > 0 {
			wait := policy.Backoff(attempt - 1)
			c.logger.Warn("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			metrics.ObserveFetchRetry(hostOf(url))
			select {
			case <-ctx.Done():
				return nil, &Error{URL: url, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		body, err := c.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !policy.ShouldRetry(err, attempt+1) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	collector := c.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.MaxBodySize = c.cfg.MaxBodyBytes + 1
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.RequestTimeout)
	collector.WithTransport(c.transport)

	var (
		body     []byte
		status   int
		fetchErr error
	)
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		if r.StatusCode >= 400 {
			fetchErr = &Error{
				URL:     url,
				Status:  r.StatusCode,
				Snippet: snippet(r.Body),
			}
			return
		}
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		status = 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &Error{
			URL:     url,
			Status:  status,
			Timeout: isTimeoutErr(err),
			Err:     err,
		}
	})

	if err := c.runCollector(ctx, collector, url, &fetchErr); err != nil {
		metrics.ObserveFetch(hostOf(url), "error", 0, time.Since(start))
		return nil, err
	}

	metrics.ObserveFetch(hostOf(url), fmt.Sprintf("%d", status), len(body), time.Since(start))
	c.logger.Debug("fetched document",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(start)),
	)
	return body, nil
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &Error{URL: url, Err: ctx.Err()}
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return &Error{URL: url, Timeout: isTimeoutErr(err), Err: err}
		}
		return nil
	}
}

// janitor flushes idle pooled connections on a fixed period so connections
// never outlive the configured lifetime and DNS changes are picked up.
func (c *Client) janitor(lifetime time.Duration) {
	ticker := time.NewTicker(lifetime)
	defer ticker.Stop()
	for {
		select {
		case <-c.janitorStop:
			return
		case <-ticker.C:
			c.transport.CloseIdleConnections()
		}
	}
}

func newPooledTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns / 10,
		IdleConnTimeout:       cfg.IdleTimeout,
	}
}

func hostOf(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLimit {
		s = s[:snippetLimit]
	}
	return s
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}
