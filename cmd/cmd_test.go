package cmd

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/config"
	"github.com/JakeFAU/ocsync/internal/crawler"
	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/orchestrator"
	"github.com/JakeFAU/ocsync/internal/store"
)

// fakeApp records the calls the commands make.
type fakeApp struct {
	cfg         config.Config
	runErr      error
	calls       []string
	mode        orchestrator.Mode
	killed      store.Flag
	task        crawler.Task
	hadDeadline bool
}

func (f *fakeApp) Close() { f.calls = append(f.calls, "close") }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Config() config.Config { return f.cfg }
func (f *fakeApp) OpsHandler() http.Handler { return http.NotFoundHandler() }
func (f *fakeApp) WaitImports() { f.calls = append(f.calls, "wait_imports") }

func (f *fakeApp) Run(context.Context) error {
	f.calls = append(f.calls, "run")
	return f.runErr
}

func (f *fakeApp) RunMode(_ context.Context, mode orchestrator.Mode) error {
	f.calls = append(f.calls, "run_mode")
	f.mode = mode
	return f.runErr
}

func (f *fakeApp) Import(ctx context.Context) error {
	f.calls = append(f.calls, "import")
	_, f.hadDeadline = ctx.Deadline()
	return nil
}

func (f *fakeApp) Kill(_ context.Context, flag store.Flag) error {
	f.calls = append(f.calls, "kill")
	f.killed = flag
	return nil
}

func (f *fakeApp) FetchPartitions(_ context.Context, task crawler.Task) error {
	f.calls = append(f.calls, "fetch_partitions")
	f.task = task
	return nil
}

// execute runs the root command against fake. Tests touching the package
// level factory cannot run in parallel.
func execute(t *testing.T, fake *fakeApp, args ...string) error {
	t.Helper()
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(context.Context, string) (App, error) { return fake, nil }

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&discard{})
	root.SetErr(&discard{})
	return root.ExecuteContext(context.Background())
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRunAutoModeWaitsForImports(t *testing.T) {
	fake := &fakeApp{}
	require.NoError(t, execute(t, fake, "run"))
	assert.Equal(t, []string{"run", "wait_imports", "close"}, fake.calls)
}

func TestRunForcedMode(t *testing.T) {
	fake := &fakeApp{}
	require.NoError(t, execute(t, fake, "run", "--mode", "retry"))
	assert.Equal(t, orchestrator.ModeRetry, fake.mode)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	fake := &fakeApp{}
	err := execute(t, fake, "run", "--mode", "weekly")
	require.ErrorContains(t, err, "unknown run mode")
	assert.NotContains(t, fake.calls, "run_mode")
}

func TestRunPropagatesFailure(t *testing.T) {
	fake := &fakeApp{runErr: crawler.ErrCanceled}
	err := execute(t, fake, "run")
	require.ErrorIs(t, err, crawler.ErrCanceled)
}

func TestKillTargets(t *testing.T) {
	cases := map[string]store.Flag{
		"ranking": store.RankingKill,
		"daily":   store.ExtendedCrawlKill,
	}
	for target, want := range cases {
		fake := &fakeApp{}
		require.NoError(t, execute(t, fake, "kill", target))
		assert.Equal(t, want, fake.killed, target)
	}

	err := execute(t, &fakeApp{}, "kill", "everything")
	require.ErrorContains(t, err, "unknown kill target")
}

func TestImportAppliesTimeout(t *testing.T) {
	fake := &fakeApp{cfg: config.Config{Import: config.ImportConfig{Timeout: time.Hour}}}
	require.NoError(t, execute(t, fake, "import"))
	assert.True(t, fake.hadDeadline)
}

func TestFetchPartitionParsesTask(t *testing.T) {
	fake := &fakeApp{}
	require.NoError(t, execute(t, fake, "fetch-partition", "--task", "ranking:1,rising:2", "--cycle", "2024-05-01T10:00:00Z"))
	assert.Equal(t, crawler.Task{
		Partitions: []feed.Partition{
			{Sort: feed.SortRanking, Category: 1},
			{Sort: feed.SortRising, Category: 2},
		},
		Cycle: "2024-05-01T10:00:00Z",
	}, fake.task)

	require.ErrorContains(t, execute(t, &fakeApp{}, "fetch-partition", "--task", "ranking:1"), "--cycle is required")
	require.ErrorContains(t, execute(t, &fakeApp{}, "fetch-partition", "--task", "weekly:1", "--cycle", "c"), "parse task")
}

func TestAppFactoryFailure(t *testing.T) {
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("primary.dsn is required") }

	root := newRootCmd()
	root.SetArgs([]string{"run"})
	root.SetOut(&discard{})
	root.SetErr(&discard{})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "failed to initialize application services: primary.dsn is required")
}

func TestNextRun(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{base, base.Add(30 * time.Minute)},
		{base.Add(29 * time.Minute), base.Add(30 * time.Minute)},
		{base.Add(30 * time.Minute), base.Add(90 * time.Minute)},
		{base.Add(59 * time.Minute), base.Add(90 * time.Minute)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, nextRun(tc.now, 30), tc.now.String())
	}
}

func TestSchedulerSkipsOverlappingTick(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	s := newScheduler(func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		<-release
		return nil
	}, 0, zap.NewNop())

	ctx := context.Background()
	s.trigger(ctx)
	s.trigger(ctx)
	close(release)
	s.wg.Wait()
	assert.Equal(t, 1, runs)

	s.trigger(ctx)
	s.wg.Wait()
	assert.Equal(t, 2, runs)
}

func TestSchedulerLoopRunsOnEveryTick(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan time.Time)
	done := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	s := newScheduler(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		return nil
	}, 15, zap.NewNop())
	s.after = func(time.Duration) <-chan time.Time { return ticks }

	go func() {
		s.loop(ctx)
		close(done)
	}()
	ticks <- time.Time{}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
