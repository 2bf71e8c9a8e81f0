// Package scheduler drives the polling loop: a fixed-period tick asks the
// registry which feeds are due and launches one ingestion run per due feed.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/feed"
)

// Runner executes one feed run. *ingest.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, src feed.Source) feed.RunReport
}

// Scheduler owns the periodic tick and the lifecycle of launched runs.
// Launches are fire-and-forget with respect to the tick, but every run is
// tracked so shutdown can cancel and drain them.
type Scheduler struct {
	registry   feed.Registry
	runner     Runner
	clock      feed.Clock
	tick       time.Duration
	drainGrace time.Duration
	logger     *zap.Logger

	cron   gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New constructs a stopped Scheduler.
func New(registry feed.Registry, runner Runner, clock feed.Clock, tick, drainGrace time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tick <= 0 {
		tick = 10 * time.Second
	}
	if drainGrace <= 0 {
		drainGrace = 30 * time.Second
	}
	return &Scheduler{
		registry:   registry,
		runner:     runner,
		clock:      clock,
		tick:       tick,
		drainGrace: drainGrace,
		logger:     logger,
		inFlight:   make(map[string]struct{}),
	}
}

// Start begins ticking. The given context is the parent of every launched
// run; cancelling it cancels them all.
func (s *Scheduler) Start(ctx context.Context) error {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron

	if _, err := cron.NewJob(
		gocron.DurationJob(s.tick),
		gocron.NewTask(s.tickOnce),
		gocron.WithName("feed-poll"),
	); err != nil {
		return fmt.Errorf("register poll job: %w", err)
	}

	cron.Start()
	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))
	return nil
}

// Stop cancels in-flight runs and waits up to the drain grace for them to
// finish.
func (s *Scheduler) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	if err := s.cron.Shutdown(); err != nil {
		s.logger.Warn("scheduler shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler drained")
		return nil
	case <-time.After(s.drainGrace):
		return fmt.Errorf("feed runs did not drain within %s", s.drainGrace)
	}
}

// tickOnce launches a run for every due feed. The tick never blocks on run
// completion.
func (s *Scheduler) tickOnce() {
	now := s.clock.Now()
	due, err := s.registry.ListDue(s.ctx, now)
	if err != nil {
		s.logger.Error("listing due feeds failed", zap.Error(err))
		return
	}
	for _, src := range due {
		s.launch(src)
	}
}

// launch starts one run unless the feed's previous run is still in flight,
// in which case this tick skips it. Slow feeds therefore never pile up
// overlapping runs.
func (s *Scheduler) launch(src feed.Source) {
	s.mu.Lock()
	if _, busy := s.inFlight[src.ID]; busy {
		s.mu.Unlock()
		s.logger.Debug("previous run still in flight, skipping",
			zap.String("feed_id", src.ID),
			zap.String("source", src.Source))
		return
	}
	s.inFlight[src.ID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, src.ID)
			s.mu.Unlock()
		}()
		s.runner.Run(s.ctx, src)
	}()
}
