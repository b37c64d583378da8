// Package worker implements the fetch-and-stage loop behind the parallel
// crawl. Workers never merge: they stage whole partitions and raise the
// partition's downloaded flag for the coordinator.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/crawler"
	"github.com/JakeFAU/ocsync/internal/metrics"
	"github.com/JakeFAU/ocsync/internal/store"
)

// Worker consumes queue items and stages their partitions.
type Worker struct {
	queue   crawler.Queue
	fetcher *crawler.Fetcher
	stage   crawler.Stage
	state   store.SyncState
	logger  *zap.Logger
}

// New constructs a Worker. queue may be nil for a worker that only serves
// RunTask, as the fetch-partition child process does.
func New(
	queue crawler.Queue,
	fetcher *crawler.Fetcher,
	stage crawler.Stage,
	state store.SyncState,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		fetcher: fetcher,
		stage:   stage,
		state:   state,
		logger:  logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return nil
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	task := crawler.EncodeTask(item.Task.Partitions)
	w.logger.Debug("dequeued task", zap.String("task", task), zap.String("cycle", item.Task.Cycle))
	err := w.RunTask(ctx, item.Task)
	if err != nil {
		w.logger.Error("fetch task failed", zap.String("task", task), zap.Error(err))
	}
	if item.Job != nil {
		item.Job.Finish(err)
	}
}

// RunTask fetches each partition of the task in order, stages it, and raises
// its downloaded flag.
func (w *Worker) RunTask(ctx context.Context, task crawler.Task) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for _, p := range task.Partitions {
		entities, err := w.fetcher.Collect(ctx, p)
		if err != nil {
			return err
		}
		if err := w.stage.Put(ctx, task.Cycle, p, entities); err != nil {
			return fmt.Errorf("stage %s: %w", p, err)
		}
		if err := w.state.SetTrue(ctx, store.DownloadedFlag(p)); err != nil {
			return fmt.Errorf("raise downloaded flag %s: %w", p, err)
		}
		metrics.ObservePartition(string(p.Sort), "staged")
		w.logger.Info("partition staged",
			zap.String("partition", p.String()),
			zap.Int("entities", len(entities)),
		)
	}
	return nil
}
