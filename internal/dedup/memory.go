package dedup

import (
	"context"
	"sync"
)

// Memory is an exact in-process membership filter. It backs tests and
// single-node deployments that run without redis; unlike the Bloom variant
// it never reports false positives.
type Memory struct {
	mu         sync.Mutex
	namespaces map[string]map[string]struct{}
}

// NewMemory builds an empty in-process filter.
func NewMemory() *Memory {
	return &Memory{namespaces: map[string]map[string]struct{}{}}
}

// Init creates the namespace if missing. Idempotent.
func (m *Memory) Init(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[namespace]; !ok {
		m.namespaces[namespace] = map[string]struct{}{}
	}
	return nil
}

// Add test-and-inserts the key under the namespace's lock.
func (m *Memory) Add(_ context.Context, namespace, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = map[string]struct{}{}
		m.namespaces[namespace] = ns
	}
	if _, seen := ns[key]; seen {
		return false, nil
	}
	ns[key] = struct{}{}
	return true, nil
}

// Exists probes membership without inserting.
func (m *Memory) Exists(_ context.Context, namespace, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, seen := m.namespaces[namespace][key]
	return seen, nil
}
