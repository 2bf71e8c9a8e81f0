// Package ingest drives one feed run end to end: fetch, parse, dedup and
// forward. Runs are linear and non-resumable; a failed run is retried only
// when the feed next comes due.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/dedup"
	"github.com/dongwoo46/bottlen/internal/feed"
	"github.com/dongwoo46/bottlen/internal/metrics"
)

// Orchestrator composes the collaborators of a feed run. All fields are
// shared across runs and must be safe for concurrent use.
type Orchestrator struct {
	registry feed.Registry
	adapters map[string]feed.Adapter
	filter   feed.Filter
	sink     feed.Sink
	hasher   feed.Hasher
	clock    feed.Clock
	logger   *zap.Logger
}

// New wires an Orchestrator.
func New(registry feed.Registry, adapters map[string]feed.Adapter, filter feed.Filter, sink feed.Sink, hasher feed.Hasher, clock feed.Clock, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		adapters: adapters,
		filter:   filter,
		sink:     sink,
		hasher:   hasher,
		clock:    clock,
		logger:   logger,
	}
}

// ExecuteFeed looks the feed up and runs it once. This is the single entry
// point for on-demand runs; the scheduler path calls Run directly with a
// source it already holds.
func (o *Orchestrator) ExecuteFeed(ctx context.Context, feedID string) (feed.RunReport, error) {
	src, err := o.registry.Get(ctx, feedID)
	if err != nil {
		return feed.RunReport{}, fmt.Errorf("load feed %s: %w", feedID, err)
	}
	if !src.Enabled {
		return feed.RunReport{}, fmt.Errorf("feed %s: %w", feedID, feed.ErrDisabled)
	}
	return o.Run(ctx, src), nil
}

// Run executes one feed run and returns its report. A fetch failure aborts
// the run with zero records processed; everything after a successful fetch
// completes the run, possibly with zero new records. Only completed runs
// advance lastRunAt, and they advance it to the run's start time so slow
// runs do not accumulate drift.
func (o *Orchestrator) Run(ctx context.Context, src feed.Source) feed.RunReport {
	start := o.clock.Now()
	report := feed.RunReport{
		FeedID:    src.ID,
		Source:    src.Source,
		StartedAt: start,
	}
	logger := o.logger.With(
		zap.String("feed_id", src.ID),
		zap.String("source", src.Source),
	)

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	adapter, ok := o.adapters[src.Source]
	if !ok {
		return o.abort(report, logger, fmt.Errorf("no adapter registered for source %q", src.Source))
	}

	namespace := dedup.Namespace(src.Source, src.Topic)
	if err := o.filter.Init(ctx, namespace); err != nil {
		// Fail soft: dedup is an optimization, the sink is idempotent on
		// (source, link) as the second line of defense.
		report.Degraded = true
		logger.Warn("membership filter unavailable, running accept-all", zap.Error(err))
		metrics.ObserveDegradedRun(src.Source)
	}

	stream, err := adapter.FetchAndParse(ctx, src)
	if err != nil {
		return o.abort(report, logger, err)
	}

	for rec := range stream {
		report.TotalSeen++
		if !report.Degraded {
			fresh, err := o.admit(ctx, namespace, src.Source, rec.Link)
			if err != nil {
				report.Degraded = true
				logger.Warn("filter add failed, degrading to accept-all", zap.Error(err))
				metrics.ObserveDegradedRun(src.Source)
			} else if !fresh {
				report.Dropped++
				continue
			}
		}
		report.TotalNew++
		if err := o.sink.Store(ctx, rec); err != nil {
			// Sink failures are the sink's concern; the run keeps going.
			logger.Error("sink store failed",
				zap.String("link", rec.Link),
				zap.Error(err))
		}
	}

	if ctx.Err() != nil {
		// A cancelled run leaves lastRunAt untouched so the feed is
		// retried at the next due tick.
		return o.abort(report, logger, ctx.Err())
	}

	report.Status = feed.RunCompleted
	report.Duration = o.clock.Now().Sub(start)
	if err := o.registry.MarkRun(ctx, src.ID, start); err != nil {
		logger.Error("recording last run time failed", zap.Error(err))
	}

	logger.Info("feed run completed",
		zap.Int("total_seen", report.TotalSeen),
		zap.Int("total_new", report.TotalNew),
		zap.Int("dropped", report.Dropped),
		zap.Bool("degraded", report.Degraded),
		zap.Duration("duration", report.Duration),
	)
	metrics.ObserveRun(src.Source, string(report.Status), report.TotalSeen, report.TotalNew, report.Dropped, report.Duration)
	return report
}

// admit test-and-inserts the record's dedup key. True means unseen.
func (o *Orchestrator) admit(ctx context.Context, namespace, source, link string) (bool, error) {
	key, err := o.hasher.Hash([]byte(feed.DedupKeyInput(source, link)))
	if err != nil {
		return false, fmt.Errorf("derive dedup key: %w", err)
	}
	return o.filter.Add(ctx, namespace, key)
}

func (o *Orchestrator) abort(report feed.RunReport, logger *zap.Logger, err error) feed.RunReport {
	report.Status = feed.RunAborted
	report.Err = err
	report.Duration = o.clock.Now().Sub(report.StartedAt)
	logger.Error("feed run aborted",
		zap.Int("total_seen", report.TotalSeen),
		zap.Duration("duration", report.Duration),
		zap.Error(err),
	)
	metrics.ObserveRun(report.Source, string(feed.RunAborted), report.TotalSeen, report.TotalNew, report.Dropped, report.Duration)
	return report
}
