package crawler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/crawler"
	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/feed/feedtest"
	"github.com/JakeFAU/ocsync/internal/stage"
	"github.com/JakeFAU/ocsync/internal/store"
	"github.com/JakeFAU/ocsync/internal/storage/memory"
	"github.com/JakeFAU/ocsync/internal/worker"
)

type parFixture struct {
	client   *feedtest.Client
	catalog  *memory.Catalog
	state    *memory.SyncState
	stage    *stage.Memory
	launcher *fakeLauncher
	coord    *crawler.ParallelCoordinator
}

func newParFixture(partitions []feed.Partition, maxParallel int) *parFixture {
	clock := fixedClock{now: base}
	f := &parFixture{
		client:  feedtest.NewClient(),
		catalog: memory.NewCatalog(),
		state:   memory.NewSyncState(),
		stage:   stage.NewMemory(),
	}
	fetcher := crawler.NewFetcher(f.client, f.state, clock, crawler.FetchConfig{}, zap.NewNop())
	w := worker.New(nil, fetcher, f.stage, f.state, zap.NewNop())
	f.launcher = &fakeLauncher{run: w.RunTask}
	merger := crawler.NewMerger(f.catalog, f.state, clock, zap.NewNop())
	f.coord = crawler.NewParallelCoordinator(
		partitions,
		f.launcher,
		f.stage,
		f.state,
		merger,
		clock,
		crawler.ParallelConfig{MaxParallel: maxParallel, PollInterval: 5 * time.Millisecond},
		zap.NewNop(),
	)
	return f
}

func TestParallelFetchAllMergesStagedPartitions(t *testing.T) {
	t.Parallel()

	parts := feed.Partitions([]int{1, 2})
	f := newParFixture(parts, 1)
	for i, p := range parts {
		id := p.String()
		f.client.SetPages(p,
			[]feed.Entity{feedtest.Entity(id+"-a", 10+i)},
			[]feed.Entity{feedtest.Entity(id+"-b", 20+i)},
		)
	}
	ctx := context.Background()

	require.NoError(t, f.coord.FetchAll(ctx))

	assert.Equal(t, []string{"rising:1,ranking:2", "rising:2,ranking:1"}, f.launcher.Tasks())
	assert.Len(t, f.catalog.OpenChats(), 8)
	for _, p := range parts {
		rows, ok := f.catalog.Snapshot(p)
		require.True(t, ok, p.String())
		assert.Len(t, rows, 2)

		cycle, ok, err := f.state.GetString(ctx, store.LastDownloadedFlag(p))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2024-05-01T10:00:00Z", cycle)

		downloaded, err := f.state.GetBool(ctx, store.DownloadedFlag(p))
		require.NoError(t, err)
		assert.False(t, downloaded)
		_, err = f.stage.Take(ctx, cycle, p)
		require.ErrorIs(t, err, store.ErrNotFound)
	}

	// Rerunning the cycle launches nothing.
	require.NoError(t, f.coord.FetchAll(ctx))
	assert.Len(t, f.launcher.Tasks(), 2)
}

func TestParallelFetchAllLaunchesOnlyUnmergedPartitions(t *testing.T) {
	t.Parallel()

	parts := feed.Partitions([]int{1})
	f := newParFixture(parts, 4)
	ctx := context.Background()
	require.NoError(t, f.state.SetString(ctx, store.LastDownloadedFlag(rising1), "2024-05-01T10:00:00Z"))
	f.client.SetPages(ranking1, []feed.Entity{feedtest.Entity("x", 1)})

	require.NoError(t, f.coord.FetchAll(ctx))
	assert.Equal(t, []string{"ranking:1"}, f.launcher.Tasks())
	assert.Equal(t, []string{"x"}, emids(t, f.catalog))
}

func TestParallelWorkerFailureRaisesKillFlag(t *testing.T) {
	t.Parallel()

	parts := feed.Partitions([]int{1, 2})
	f := newParFixture(parts, 2)
	f.client.FailPages(ranking1, errors.New("feed down"))
	ctx := context.Background()

	err := f.coord.FetchAll(ctx)
	require.ErrorContains(t, err, "fetch ranking:1 page 0: feed down")

	killed, kerr := f.state.GetBool(ctx, store.RankingKill)
	require.NoError(t, kerr)
	assert.True(t, killed)
}

func TestParallelJobWithoutStagingFails(t *testing.T) {
	t.Parallel()

	f := newParFixture([]feed.Partition{rising1}, 1)
	f.launcher.run = func(context.Context, crawler.Task) error { return nil }

	err := f.coord.FetchAll(context.Background())
	require.ErrorContains(t, err, "finished without staging rising:1")
	killed, kerr := f.state.GetBool(context.Background(), store.RankingKill)
	require.NoError(t, kerr)
	assert.True(t, killed)
}

func TestParallelFetchAllHonorsKillFlag(t *testing.T) {
	t.Parallel()

	f := newParFixture([]feed.Partition{rising1}, 1)
	ctx := context.Background()
	release := make(chan struct{})
	f.launcher.run = func(context.Context, crawler.Task) error {
		<-release
		return nil
	}
	defer close(release)
	require.NoError(t, f.state.SetTrue(ctx, store.RankingKill))

	err := f.coord.FetchAll(ctx)
	require.ErrorIs(t, err, crawler.ErrCanceled)
}
