package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/crawler"
	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/feed/feedtest"
	"github.com/JakeFAU/ocsync/internal/queue/memory"
	"github.com/JakeFAU/ocsync/internal/stage"
	"github.com/JakeFAU/ocsync/internal/store"
	memstore "github.com/JakeFAU/ocsync/internal/storage/memory"
	"github.com/JakeFAU/ocsync/internal/worker"
)

var _ crawler.Launcher = (*Dispatcher)(nil)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(100, 0) }

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- dispatch.Run(ctx)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{})
	require.EqualError(t, err, "queue enqueue: boom")

	job, err := dispatch.Launch(context.Background(), crawler.Task{})
	require.Nil(t, job)
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestDispatcherLaunchStagesThroughPool(t *testing.T) {
	t.Parallel()

	client := feedtest.NewClient()
	p := feed.Partition{Sort: feed.SortRising, Category: 5}
	client.SetPages(p, []feed.Entity{feedtest.Entity("x", 4)})
	state := memstore.NewSyncState()
	st := stage.NewMemory()
	queue := memory.NewQueue(2)
	fetcher := crawler.NewFetcher(client, state, fakeClock{}, crawler.FetchConfig{}, zap.NewNop())
	workers := []*worker.Worker{
		worker.New(queue, fetcher, st, state, zap.NewNop()),
		worker.New(queue, fetcher, st, state, zap.NewNop()),
	}
	dispatch := New(queue, workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatch.Run(ctx) }()

	job, err := dispatch.Launch(ctx, crawler.Task{Partitions: []feed.Partition{p}, Cycle: "c1"})
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(time.Second):
		t.Fatal("job did not finish")
	}
	require.NoError(t, job.Err())

	downloaded, err := state.GetBool(ctx, store.DownloadedFlag(p))
	require.NoError(t, err)
	require.True(t, downloaded)
	staged, err := st.Take(ctx, "c1", p)
	require.NoError(t, err)
	require.Len(t, staged, 1)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, ctx.Err()
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	<-ctx.Done()
	return crawler.QueueItem{}, ctx.Err()
}
