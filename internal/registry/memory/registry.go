// Package memory provides an in-memory feed registry for development and
// testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dongwoo46/bottlen/internal/feed"
)

// IDGenerator mints feed IDs on create.
type IDGenerator interface {
	NewID() (string, error)
}

// Registry keeps feed sources in a map guarded by a RWMutex.
type Registry struct {
	ids   IDGenerator
	clock feed.Clock

	mu    sync.RWMutex
	feeds map[string]feed.Source
}

// NewRegistry constructs an empty Registry.
func NewRegistry(ids IDGenerator, clock feed.Clock) *Registry {
	return &Registry{
		ids:   ids,
		clock: clock,
		feeds: make(map[string]feed.Source),
	}
}

// Create stores a new feed source, minting its ID and timestamps.
func (r *Registry) Create(_ context.Context, src feed.Source) (feed.Source, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return feed.Source{}, fmt.Errorf("mint feed id: %w", err)
	}
	now := r.clock.Now().UTC()
	src.ID = id
	src.LastRunAt = nil
	src.CreatedAt = now
	src.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[id] = src
	return src, nil
}

// Get fetches a feed source by ID.
func (r *Registry) Get(_ context.Context, id string) (feed.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.feeds[id]
	if !ok {
		return feed.Source{}, feed.ErrNotFound
	}
	return src, nil
}

// Update replaces the mutable fields of an existing feed source. lastRunAt
// is owned by MarkRun and never touched here.
func (r *Registry) Update(_ context.Context, src feed.Source) (feed.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.feeds[src.ID]
	if !ok {
		return feed.Source{}, feed.ErrNotFound
	}
	current.Source = src.Source
	current.Topic = src.Topic
	current.URL = src.URL
	current.IntervalSeconds = src.IntervalSeconds
	current.Enabled = src.Enabled
	current.UpdatedAt = r.clock.Now().UTC()
	r.feeds[src.ID] = current
	return current, nil
}

// Delete removes a feed source.
func (r *Registry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.feeds[id]; !ok {
		return feed.ErrNotFound
	}
	delete(r.feeds, id)
	return nil
}

// ListEnabled returns all enabled feed sources ordered by creation time.
func (r *Registry) ListEnabled(_ context.Context) ([]feed.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]feed.Source, 0, len(r.feeds))
	for _, src := range r.feeds {
		if src.Enabled {
			out = append(out, src)
		}
	}
	sortByCreation(out)
	return out, nil
}

// ListDue returns the enabled feed sources due to run at the given instant.
func (r *Registry) ListDue(_ context.Context, now time.Time) ([]feed.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []feed.Source
	for _, src := range r.feeds {
		if src.IsDue(now) {
			out = append(out, src)
		}
	}
	sortByCreation(out)
	return out, nil
}

// MarkRun persists the feed's last run time.
func (r *Registry) MarkRun(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.feeds[id]
	if !ok {
		return feed.ErrNotFound
	}
	ts := at.UTC()
	src.LastRunAt = &ts
	src.UpdatedAt = r.clock.Now().UTC()
	r.feeds[id] = src
	return nil
}

func sortByCreation(feeds []feed.Source) {
	sort.Slice(feeds, func(i, j int) bool {
		if feeds[i].CreatedAt.Equal(feeds[j].CreatedAt) {
			return feeds[i].ID < feeds[j].ID
		}
		return feeds[i].CreatedAt.Before(feeds[j].CreatedAt)
	})
}
