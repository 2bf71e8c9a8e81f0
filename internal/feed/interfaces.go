package feed

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Registry lookups for unknown feed IDs.
var ErrNotFound = errors.New("feed not found")

// ErrDisabled is returned when an on-demand run targets a disabled feed.
var ErrDisabled = errors.New("feed is disabled")

// Registry stores feed configurations and answers which feeds are due.
type Registry interface {
	Create(ctx context.Context, src Source) (Source, error)
	Get(ctx context.Context, id string) (Source, error)
	Update(ctx context.Context, src Source) (Source, error)
	Delete(ctx context.Context, id string) error
	ListEnabled(ctx context.Context) ([]Source, error)
	ListDue(ctx context.Context, now time.Time) ([]Source, error)
	MarkRun(ctx context.Context, id string, at time.Time) error
}

// Adapter fetches and parses one source's documents into canonical records.
// The returned channel is finite, closed by the adapter, and yields items in
// document order. Parse failures never surface as errors: a broken document
// produces an empty stream, a broken item is skipped.
type Adapter interface {
	Source() string
	FetchAndParse(ctx context.Context, src Source) (<-chan Record, error)
}

// Filter is the probabilistic membership set used for dedup.
type Filter interface {
	// Init creates the named filter. Creation is idempotent: an
	// already-existing filter is success.
	Init(ctx context.Context, namespace string) error
	// Add atomically test-and-inserts the key. True means the key was newly
	// inserted and the item should be treated as unseen.
	Add(ctx context.Context, namespace, key string) (bool, error)
	// Exists is a debug-only membership probe. Production paths must use
	// Add, which is atomic.
	Exists(ctx context.Context, namespace, key string) (bool, error)
}

// Sink accepts deduplicated records for storage or publication.
// Implementations are expected to be idempotent on (source, link).
type Sink interface {
	Store(ctx context.Context, rec Record) error
}

// Archive persists raw fetched payloads and returns a URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for dedup keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
