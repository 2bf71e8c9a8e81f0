// Package memory provides an in-memory record sink for development and
// testing.
package memory

import (
	"context"
	"sync"

	"github.com/dongwoo46/bottlen/internal/feed"
)

// Sink stores records in memory, idempotent on (source, normalized link)
// like its durable counterparts.
type Sink struct {
	mu      sync.Mutex
	keys    map[string]struct{}
	records []feed.Record
}

// NewSink constructs an empty Sink.
func NewSink() *Sink {
	return &Sink{keys: make(map[string]struct{})}
}

// Store keeps the record unless one with the same (source, normalized link)
// was stored before.
func (s *Sink) Store(_ context.Context, rec feed.Record) error {
	key := feed.DedupKeyInput(rec.Source, rec.Link)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return nil
	}
	s.keys[key] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything stored, in arrival order.
func (s *Sink) Records() []feed.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]feed.Record, len(s.records))
	copy(out, s.records)
	return out
}
