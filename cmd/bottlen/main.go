// Package main wires together the feed ingestion service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/adapter"
	"github.com/dongwoo46/bottlen/internal/api"
	archivegcs "github.com/dongwoo46/bottlen/internal/archive/gcs"
	archivelocal "github.com/dongwoo46/bottlen/internal/archive/local"
	"github.com/dongwoo46/bottlen/internal/clock/system"
	"github.com/dongwoo46/bottlen/internal/config"
	"github.com/dongwoo46/bottlen/internal/dedup"
	"github.com/dongwoo46/bottlen/internal/feed"
	"github.com/dongwoo46/bottlen/internal/fetch"
	"github.com/dongwoo46/bottlen/internal/hash/sha256"
	"github.com/dongwoo46/bottlen/internal/id/uuid"
	"github.com/dongwoo46/bottlen/internal/ingest"
	"github.com/dongwoo46/bottlen/internal/logging"
	"github.com/dongwoo46/bottlen/internal/metrics"
	registrymem "github.com/dongwoo46/bottlen/internal/registry/memory"
	registrypg "github.com/dongwoo46/bottlen/internal/registry/postgres"
	"github.com/dongwoo46/bottlen/internal/scheduler"
	sinkmem "github.com/dongwoo46/bottlen/internal/sink/memory"
	sinkpg "github.com/dongwoo46/bottlen/internal/sink/postgres"
	sinkpubsub "github.com/dongwoo46/bottlen/internal/sink/pubsub"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	hasher := sha256.New()

	registry, closeRegistry, err := buildRegistry(ctx, cfg, idGen, clock)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	defer closeRegistry()

	sink, closeSink, err := buildSink(ctx, cfg, idGen)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}
	defer closeSink()

	archive, closeArchive, err := buildArchive(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build archive: %w", err)
	}
	defer closeArchive()

	filter, closeFilter, err := buildFilter(cfg, logger)
	if err != nil {
		return fmt.Errorf("build membership filter: %w", err)
	}
	defer closeFilter()

	retry := fetch.NewRetryPolicy(
		cfg.Fetch.MaxAttempts,
		time.Duration(cfg.Fetch.BackoffBaseMs)*time.Millisecond,
		time.Duration(cfg.Fetch.BackoffMaxMs)*time.Millisecond,
	)
	client := fetch.New(fetch.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		ConnectTimeout: time.Duration(cfg.Fetch.ConnectTimeoutSec) * time.Second,
		ReadTimeout:    time.Duration(cfg.Fetch.ReadTimeoutSec) * time.Second,
		RequestTimeout: time.Duration(cfg.Fetch.RequestTimeoutSec) * time.Second,
		MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
		MaxIdleConns:   cfg.Fetch.MaxIdleConns,
		IdleTimeout:    time.Duration(cfg.Fetch.IdleTimeoutSec) * time.Second,
		ConnLifetime:   time.Duration(cfg.Fetch.ConnLifetimeSeconds) * time.Second,
	}, retry, logger.Named("fetch"))
	defer client.Close()

	recorder := adapter.NewRecorder(archive, idGen, clock, logger.Named("archive"))
	adapters := adapter.Builtin(client, clock, recorder, logger.Named("adapter"))

	orch := ingest.New(registry, adapters, filter, sink, hasher, clock, logger.Named("ingest"))

	sched := scheduler.New(registry, orch, clock, cfg.Tick(), cfg.DrainGrace(), logger.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	apiServer := api.NewServer(registry, orch, cfg.Server, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildRegistry(ctx context.Context, cfg config.Config, ids *uuid.Generator, clock feed.Clock) (feed.Registry, func(), error) {
	switch cfg.Registry.Provider {
	case "postgres":
		reg, err := registrypg.NewRegistry(ctx, registrypg.Config{
			DSN:      cfg.Registry.DSN,
			MaxConns: cfg.Registry.MaxConns,
			MinConns: cfg.Registry.MinConns,
		}, ids, clock)
		if err != nil {
			return nil, nil, err
		}
		return reg, reg.Close, nil
	default:
		return registrymem.NewRegistry(ids, clock), func() {}, nil
	}
}

func buildSink(ctx context.Context, cfg config.Config, ids *uuid.Generator) (feed.Sink, func(), error) {
	switch cfg.Sink.Provider {
	case "postgres":
		sink, err := sinkpg.NewSink(ctx, sinkpg.Config{DSN: cfg.Sink.DSN}, ids)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Sink.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher := client.Publisher(cfg.Sink.TopicName)
		closer := func() {
			publisher.Stop()
			if err := client.Close(); err != nil {
				zap.L().Error("pubsub client close failed", zap.Error(err))
			}
		}
		return sinkpubsub.NewSink(publisher), closer, nil
	default:
		return sinkmem.NewSink(), func() {}, nil
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (feed.Archive, func(), error) {
	switch cfg.Archive.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("storage client: %w", err)
		}
		archive, err := archivegcs.New(client, archivegcs.Config{
			Bucket: cfg.Archive.Bucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := client.Close(); err != nil {
				zap.L().Error("storage client close failed", zap.Error(err))
			}
		}
		return archive, closer, nil
	case "local":
		archive, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, nil, err
		}
		return archive, func() {}, nil
	default:
		// Archiving is optional; a nil archive disables the recorder.
		return nil, func() {}, nil
	}
}

func buildFilter(cfg config.Config, logger *zap.Logger) (feed.Filter, func(), error) {
	if cfg.Dedup.RedisURL == "" {
		logger.Warn("no redis url configured, using in-memory dedup filter")
		return dedup.NewMemory(), func() {}, nil
	}
	client, err := dedup.OpenRedis(cfg.Dedup.RedisURL, cfg.Dedup.PoolSize, cfg.Dedup.MinIdleConns,
		time.Duration(cfg.Dedup.DialTimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, nil, fmt.Errorf("open redis: %w", err)
	}
	closer := func() {
		if err := client.Close(); err != nil {
			zap.L().Error("redis client close failed", zap.Error(err))
		}
	}
	return dedup.NewRedisBloom(client, cfg.Dedup.ErrorRate, cfg.Dedup.Capacity, logger.Named("dedup")), closer, nil
}
