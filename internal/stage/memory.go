// Package stage keeps fetched partitions between a fetch worker and the
// coordinator that merges them.
package stage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/store"
)

type key struct {
	cycle     string
	partition feed.Partition
}

// Memory is an in-process stage for the goroutine launcher.
type Memory struct {
	mu    sync.Mutex
	items map[key][]feed.Entity
}

// NewMemory constructs an empty Memory stage.
func NewMemory() *Memory {
	return &Memory{items: make(map[key][]feed.Entity)}
}

// Put stores a copy of entities.
func (m *Memory) Put(_ context.Context, cycle string, p feed.Partition, entities []feed.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key{cycle, p}] = slices.Clone(entities)
	return nil
}

// Take returns and forgets the staged entities.
func (m *Memory) Take(_ context.Context, cycle string, p feed.Partition) ([]feed.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{cycle, p}
	entities, ok := m.items[k]
	if !ok {
		return nil, fmt.Errorf("stage %s@%s: %w", p, cycle, store.ErrNotFound)
	}
	delete(m.items, k)
	return entities, nil
}
