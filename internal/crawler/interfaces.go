package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/ocsync/internal/feed"
)

// Queue provides enqueue/dequeue semantics for fetch tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Stage holds fetched partitions between a worker and the merging coordinator.
type Stage interface {
	// Put replaces whatever was staged for the partition in this cycle.
	Put(ctx context.Context, cycle string, p feed.Partition, entities []feed.Entity) error
	// Take returns and removes the staged entities. It reports store.ErrNotFound
	// when nothing was staged.
	Take(ctx context.Context, cycle string, p feed.Partition) ([]feed.Entity, error)
}

// Launcher starts fetch-and-stage work for a task without waiting for it.
type Launcher interface {
	Launch(ctx context.Context, task Task) (*Job, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
