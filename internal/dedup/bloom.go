// Package dedup provides the probabilistic membership filters that keep
// previously ingested items from being stored twice.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/feed"
)

// Namespace returns the filter name for a source, e.g. "dedup:news:cnbc" or
// "dedup:disclosure:edgar". One namespace per source keeps each feed's
// membership set independent; regulatory filing sources get their own class
// so a news reset never touches filing state.
func Namespace(source string, topic feed.Topic) string {
	if topic == feed.TopicDisclosure {
		return "dedup:disclosure:" + source
	}
	return "dedup:news:" + source
}

// Doer is the slice of the redis client needed for raw Bloom module
// commands. *redis.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
}

// RedisBloom implements the membership filter on a RedisBloom module.
// One named filter per source namespace, e.g. "dedup:news:cnbc".
type RedisBloom struct {
	client    Doer
	errorRate float64
	capacity  int64
	logger    *zap.Logger

	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewRedisBloom builds the filter client. Zero errorRate and capacity fall
// back to 1% and 300k keys.
func NewRedisBloom(client Doer, errorRate float64, capacity int64, logger *zap.Logger) *RedisBloom {
	if errorRate <= 0 {
		errorRate = 0.01
	}
	if capacity <= 0 {
		capacity = 300_000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBloom{
		client:    client,
		errorRate: errorRate,
		capacity:  capacity,
		logger:    logger,
		reserved:  map[string]struct{}{},
	}
}

// OpenRedis dials a redis server from a redis:// URL.
func OpenRedis(redisURL string, poolSize, minIdleConns int, dialTimeout time.Duration) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}
	if minIdleConns > 0 {
		opt.MinIdleConns = minIdleConns
	}
	if dialTimeout > 0 {
		opt.DialTimeout = dialTimeout
	}
	return redis.NewClient(opt), nil
}

// Init reserves the named filter. Reservation is idempotent: an
// already-existing filter is success. Successful reservations are cached so
// repeat runs skip the round trip.
func (b *RedisBloom) Init(ctx context.Context, namespace string) error {
	b.mu.Lock()
	_, done := b.reserved[namespace]
	b.mu.Unlock()
	if done {
		return nil
	}

	err := b.client.Do(ctx, "BF.RESERVE", namespace, b.errorRate, b.capacity).Err()
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("reserve filter %s: %w", namespace, err)
	}
	if err != nil {
		b.logger.Debug("filter already reserved", zap.String("namespace", namespace))
	}

	b.mu.Lock()
	b.reserved[namespace] = struct{}{}
	b.mu.Unlock()
	return nil
}

// Add test-and-inserts the key in one atomic BF.ADD round trip. True means
// the key was not present before.
func (b *RedisBloom) Add(ctx context.Context, namespace, key string) (bool, error) {
	added, err := b.client.Do(ctx, "BF.ADD", namespace, key).Bool()
	if err != nil {
		return false, fmt.Errorf("add to filter %s: %w", namespace, err)
	}
	return added, nil
}

// Exists probes membership without inserting. Debug use only: a check
// followed by a separate Add is racy, production paths use Add directly.
func (b *RedisBloom) Exists(ctx context.Context, namespace, key string) (bool, error) {
	present, err := b.client.Do(ctx, "BF.EXISTS", namespace, key).Bool()
	if err != nil {
		return false, fmt.Errorf("probe filter %s: %w", namespace, err)
	}
	return present, nil
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "exists")
}
