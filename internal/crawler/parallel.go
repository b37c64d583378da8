package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/metrics"
	"github.com/JakeFAU/ocsync/internal/store"
)

// ParallelConfig controls the parallel fetch fan-out.
type ParallelConfig struct {
	// MaxParallel is the number of partition pairs launched per batch.
	MaxParallel int
	// PollInterval is how often the downloaded flags are polled.
	PollInterval time.Duration
}

// ParallelCoordinator fans partition pairs out to a Launcher and merges what
// the workers stage. Workers never write to the catalog.
type ParallelCoordinator struct {
	partitions []feed.Partition
	launcher   Launcher
	stage      Stage
	state      store.SyncState
	merger     *Merger
	clock      Clock
	cfg        ParallelConfig
	logger     *zap.Logger
}

// NewParallelCoordinator constructs a ParallelCoordinator.
func NewParallelCoordinator(
	partitions []feed.Partition,
	launcher Launcher,
	stage Stage,
	state store.SyncState,
	merger *Merger,
	clock Clock,
	cfg ParallelConfig,
	logger *zap.Logger,
) *ParallelCoordinator {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParallelCoordinator{
		partitions: partitions,
		launcher:   launcher,
		stage:      stage,
		state:      state,
		merger:     merger,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

type launched struct {
	job        *Job
	partitions []feed.Partition
}

// FetchAll runs the partition pairs batch by batch. A batch completes only
// once every partition in it is merged. Any failure raises the ranking kill
// flag so sibling workers stop, then propagates.
func (c *ParallelCoordinator) FetchAll(ctx context.Context) error {
	cycle := CycleOf(c.clock.Now())
	batches := Batches(PairPartitions(c.partitions), c.cfg.MaxParallel)
	for i, batch := range batches {
		c.logger.Debug("launching batch",
			zap.Int("batch", i),
			zap.Int("pairs", len(batch)),
			zap.String("cycle", cycle),
		)
		if err := c.runBatch(ctx, cycle, batch); err != nil {
			return c.fail(ctx, fmt.Errorf("batch %d: %w", i, err))
		}
	}
	return nil
}

func (c *ParallelCoordinator) runBatch(ctx context.Context, cycle string, batch [][]feed.Partition) error {
	pending := make(map[feed.Partition]bool)
	var jobs []launched
	for _, pair := range batch {
		var todo []feed.Partition
		for _, p := range pair {
			done, err := c.merger.Merged(ctx, p, cycle)
			if err != nil {
				return err
			}
			if done {
				metrics.ObservePartition(string(p.Sort), "skipped")
				continue
			}
			if err := c.state.SetFalse(ctx, store.DownloadedFlag(p)); err != nil {
				return fmt.Errorf("reset downloaded flag %s: %w", p, err)
			}
			todo = append(todo, p)
		}
		if len(todo) == 0 {
			continue
		}
		task := Task{Partitions: todo, Cycle: cycle}
		job, err := c.launcher.Launch(ctx, task)
		if err != nil {
			return fmt.Errorf("launch %s: %w", EncodeTask(todo), err)
		}
		jobs = append(jobs, launched{job: job, partitions: todo})
		for _, p := range todo {
			pending[p] = true
		}
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for len(pending) > 0 {
		if err := checkKill(ctx, c.state, store.RankingKill); err != nil {
			return err
		}
		// Snapshot completion before reading flags: a job seen finished here
		// has already raised every flag it is going to raise.
		finished := make([]bool, len(jobs))
		for i, j := range jobs {
			finished[i] = j.job.Finished()
		}
		for _, j := range jobs {
			for _, p := range j.partitions {
				if !pending[p] {
					continue
				}
				downloaded, err := c.state.GetBool(ctx, store.DownloadedFlag(p))
				if err != nil {
					return fmt.Errorf("read downloaded flag %s: %w", p, err)
				}
				if !downloaded {
					continue
				}
				if err := c.mergeStaged(ctx, p, cycle); err != nil {
					return err
				}
				delete(pending, p)
			}
		}
		for i, j := range jobs {
			if !finished[i] {
				continue
			}
			if err := j.job.Err(); err != nil {
				return fmt.Errorf("fetch task %s: %w", EncodeTask(j.partitions), err)
			}
			for _, p := range j.partitions {
				if pending[p] {
					return fmt.Errorf("fetch task %s finished without staging %s", EncodeTask(j.partitions), p)
				}
			}
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (c *ParallelCoordinator) mergeStaged(ctx context.Context, p feed.Partition, cycle string) error {
	entities, err := c.stage.Take(ctx, cycle, p)
	if err != nil {
		return fmt.Errorf("take staged %s: %w", p, err)
	}
	if err := c.merger.MergeAll(ctx, p, cycle, entities); err != nil {
		return err
	}
	if err := c.state.SetFalse(ctx, store.DownloadedFlag(p)); err != nil {
		return fmt.Errorf("reset downloaded flag %s: %w", p, err)
	}
	return nil
}

func (c *ParallelCoordinator) fail(ctx context.Context, err error) error {
	if errors.Is(err, ErrCanceled) {
		return err
	}
	// The run context may already be done; the flag still has to reach the workers.
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if kerr := c.state.SetTrue(killCtx, store.RankingKill); kerr != nil {
		c.logger.Error("raise ranking kill flag", zap.Error(kerr))
	}
	return err
}
