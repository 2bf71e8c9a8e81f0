// Package memory stores raw feed payloads in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Archive keeps payloads in a map and returns pseudo URIs.
type Archive struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArchive creates an empty in-memory archive.
func NewArchive() *Archive {
	return &Archive{data: make(map[string][]byte)}
}

// PutObject persists the payload and returns a memory:// URI.
func (a *Archive) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a stored payload, for tests and inspection.
func (a *Archive) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.data[path]
	return data, ok
}
