package crawler

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/metrics"
)

// Coordinator fetches and merges every partition one after another.
type Coordinator struct {
	partitions []feed.Partition
	fetcher    *Fetcher
	merger     *Merger
	clock      Clock
	logger     *zap.Logger
}

// NewCoordinator constructs a sequential Coordinator.
func NewCoordinator(partitions []feed.Partition, fetcher *Fetcher, merger *Merger, clock Clock, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		partitions: partitions,
		fetcher:    fetcher,
		merger:     merger,
		clock:      clock,
		logger:     logger,
	}
}

// FetchAll crawls every partition of the current cycle. Partitions already
// merged for the cycle are skipped, so a rerun within the hour resumes where
// the previous one stopped.
func (c *Coordinator) FetchAll(ctx context.Context) error {
	cycle := CycleOf(c.clock.Now())
	for _, p := range c.partitions {
		if err := c.fetchPartition(ctx, p, cycle); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) fetchPartition(ctx context.Context, p feed.Partition, cycle string) error {
	done, err := c.merger.Merged(ctx, p, cycle)
	if err != nil {
		return err
	}
	if done {
		metrics.ObservePartition(string(p.Sort), "skipped")
		c.logger.Debug("partition already merged", zap.String("partition", p.String()), zap.String("cycle", cycle))
		return nil
	}
	pm := c.merger.Begin(p)
	if err := c.fetcher.Fetch(ctx, p, func(e feed.Entity) error {
		return pm.Add(ctx, e)
	}); err != nil {
		return err
	}
	return pm.Commit(ctx, cycle)
}
