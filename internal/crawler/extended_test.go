package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/crawler"
	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/feed/feedtest"
	"github.com/JakeFAU/ocsync/internal/store"
	"github.com/JakeFAU/ocsync/internal/storage/memory"
)

func newExtended(cfg crawler.ExtendedConfig) (*crawler.ExtendedCrawler, *feedtest.Client, *memory.Catalog, *memory.SyncState) {
	client := feedtest.NewClient()
	catalog := memory.NewCatalog()
	state := memory.NewSyncState()
	x := crawler.NewExtendedCrawler(client, catalog, state, fixedClock{now: base}, cfg, zap.NewNop())
	return x, client, catalog, state
}

func TestExtendedCrawlMergesAndRecordsDeleted(t *testing.T) {
	t.Parallel()

	x, client, catalog, _ := newExtended(crawler.ExtendedConfig{})
	catalog.SetCandidates([]store.Candidate{
		{ID: 1, EMID: "alive"},
		{ID: 2, EMID: "gone"},
		{ID: 3, EMID: "broken"},
	})
	client.SetDetail(feedtest.Entity("alive", 77))
	client.SetDetail(feedtest.Entity("broken", 0))

	require.NoError(t, x.Run(context.Background()))

	chats := catalog.OpenChats()
	require.Len(t, chats, 1)
	assert.Equal(t, "alive", chats[0].EMID)
	assert.Equal(t, 77, chats[0].Member)

	deleted := catalog.Deleted()
	require.Len(t, deleted, 1)
	assert.Equal(t, "gone", deleted[0].Candidate.EMID)
	assert.Equal(t, base, deleted[0].At)
}

func TestExtendedCrawlAbortsAfterConsecutiveErrors(t *testing.T) {
	t.Parallel()

	x, client, catalog, _ := newExtended(crawler.ExtendedConfig{MaxConsecutiveErrors: 2})
	var cands []store.Candidate
	for i := range 6 {
		emid := fmt.Sprintf("e%d", i)
		cands = append(cands, store.Candidate{ID: int64(i + 1), EMID: emid})
		client.FailDetail(emid, fmt.Errorf("timeout %d", i))
	}
	catalog.SetCandidates(cands)

	err := x.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrTooManyErrors)
	assert.ErrorContains(t, err, "timeout 0; timeout 1; timeout 2")
	assert.Len(t, client.DetailRequests(), 3)
}

func TestExtendedCrawlErrorCounterResetsOnSuccess(t *testing.T) {
	t.Parallel()

	x, client, catalog, _ := newExtended(crawler.ExtendedConfig{MaxConsecutiveErrors: 1})
	catalog.SetCandidates([]store.Candidate{{ID: 1, EMID: "f1"}, {ID: 2, EMID: "ok"}, {ID: 3, EMID: "f2"}})
	client.FailDetail("f1", errors.New("503"))
	client.FailDetail("f2", errors.New("503"))
	client.SetDetail(feedtest.Entity("ok", 5))

	require.NoError(t, x.Run(context.Background()))
	assert.Len(t, catalog.OpenChats(), 1)
}

func TestExtendedCrawlHonorsKillFlag(t *testing.T) {
	t.Parallel()

	x, client, catalog, state := newExtended(crawler.ExtendedConfig{})
	catalog.SetCandidates([]store.Candidate{{ID: 1, EMID: "a"}})
	client.SetDetail(feedtest.Entity("a", 5))
	require.NoError(t, state.SetTrue(context.Background(), store.ExtendedCrawlKill))

	err := x.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrCanceled)
	assert.Empty(t, client.DetailRequests())
}

func TestExecLauncherReportsExitStatus(t *testing.T) {
	t.Parallel()

	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	task := crawler.Task{Partitions: []feed.Partition{rising1}, Cycle: "c"}

	ok, err := crawler.NewExecLauncher(sh, []string{"-c", `test "$1" = fetch-partition && test "$3" = rising:1`, "sh"}, zap.NewNop())
	require.NoError(t, err)
	job, err := ok.Launch(context.Background(), task)
	require.NoError(t, err)
	<-job.Done()
	require.NoError(t, job.Err())

	bad, err := crawler.NewExecLauncher(sh, []string{"-c", "exit 3", "sh"}, zap.NewNop())
	require.NoError(t, err)
	job, err = bad.Launch(context.Background(), task)
	require.NoError(t, err)
	<-job.Done()
	var exitErr *exec.ExitError
	require.ErrorAs(t, job.Err(), &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}
