package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/clock/system"
	"github.com/JakeFAU/ocsync/internal/config"
	"github.com/JakeFAU/ocsync/internal/crawler"
	"github.com/JakeFAU/ocsync/internal/notify"
	"github.com/JakeFAU/ocsync/internal/orchestrator"
	"github.com/JakeFAU/ocsync/internal/stage"
	"github.com/JakeFAU/ocsync/internal/storage/memory"
	"github.com/JakeFAU/ocsync/internal/storage/sqlite"
)

// loadConfig writes extra on top of the required keys and loads it with
// every other key at its default.
func loadConfig(t *testing.T, extra string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "primary:\n  dsn: postgres://ocsync@localhost:5432/ocsync\nfeed:\n  base_url: https://feed.example.com\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

// newTestApp builds an App over in-memory stores, skipping the primary store.
func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	catalog := memory.NewCatalog()
	a := &App{
		cfg:         cfg,
		logger:      zap.NewNop(),
		clock:       system.New(),
		state:       memory.NewSyncState(),
		catalog:     catalog,
		stopWorkers: func() {},
	}
	require.NoError(t, a.initFeed())
	t.Cleanup(a.Close)
	return a
}

func TestInitCrawlSequentialUsesMemoryStage(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, loadConfig(t, ""))
	fetcher, err := a.initCrawl(Options{})
	require.NoError(t, err)

	assert.IsType(t, &crawler.Coordinator{}, fetcher)
	assert.IsType(t, &stage.Memory{}, a.stage)
}

func TestInitCrawlParallelGoroutineStartsWorkerPool(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, loadConfig(t, "crawl:\n  mode: parallel\n  max_parallel: 2\n"))
	fetcher, err := a.initCrawl(Options{})
	require.NoError(t, err)

	assert.IsType(t, &crawler.ParallelCoordinator{}, fetcher)

	// Stopping returns once every worker observed the closed queue.
	a.stopWorkers()
	a.stopWorkers = func() {}
}

func TestInitCrawlExecStagesOnDisk(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "stage")
	a := newTestApp(t, loadConfig(t, "crawl:\n  mode: parallel\n  launcher: exec\n  exec_binary: /bin/true\n  stage_dir: "+dir+"\n"))
	fetcher, err := a.initCrawl(Options{ChildArgs: []string{"--config", "x.yaml"}})
	require.NoError(t, err)

	assert.IsType(t, &crawler.ParallelCoordinator{}, fetcher)
	assert.IsType(t, &stage.File{}, a.stage)
	assert.DirExists(t, dir)
}

func TestInitNotifierWrapsLogSinkInThrottle(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, loadConfig(t, "notify:\n  every_n: 3\n"))
	n, err := a.initNotifier(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &notify.Throttled{}, n)
}

func TestInitExporterSelectsDestination(t *testing.T) {
	t.Parallel()

	db := sqlite.OpenMemory(t, sqlite.WithSchema(sqlite.ArchiveSchema))

	none := newTestApp(t, loadConfig(t, ""))
	x, err := none.initExporter(context.Background(), db)
	require.NoError(t, err)
	assert.Nil(t, x)

	dir := filepath.Join(t.TempDir(), "exports")
	withLocal := newTestApp(t, loadConfig(t, "export:\n  local_dir: "+dir+"\n"))
	x, err = withLocal.initExporter(context.Background(), db)
	require.NoError(t, err)
	require.NotNil(t, x)

	uri, err := x.Export(context.Background())
	require.NoError(t, err)
	assert.Contains(t, uri, "file://")
}

func TestInitSpawnerFollowsDetachedFlag(t *testing.T) {
	t.Parallel()

	inProcess := newTestApp(t, loadConfig(t, ""))
	s, err := inProcess.initSpawner(Options{})
	require.NoError(t, err)
	assert.IsType(t, &orchestrator.GoroutineSpawner{}, s)
	inProcess.WaitImports()

	detached := newTestApp(t, loadConfig(t, "import:\n  detached: true\ncrawl:\n  exec_binary: /bin/true\n"))
	s, err = detached.initSpawner(Options{})
	require.NoError(t, err)
	assert.IsType(t, &orchestrator.ExecSpawner{}, s)
}

func TestNewFailsFastOnBadPrimaryDSN(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, "")
	cfg.Primary.DSN = "postgres://ocsync@localhost:notaport/ocsync"
	_, err := New(context.Background(), cfg, zap.NewNop(), Options{})
	require.ErrorContains(t, err, "init primary store")
}
