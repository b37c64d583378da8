// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/api"
	"github.com/JakeFAU/ocsync/internal/archive"
	"github.com/JakeFAU/ocsync/internal/clock/system"
	"github.com/JakeFAU/ocsync/internal/config"
	"github.com/JakeFAU/ocsync/internal/crawler"
	"github.com/JakeFAU/ocsync/internal/dispatcher"
	"github.com/JakeFAU/ocsync/internal/export"
	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/feed/httpclient"
	"github.com/JakeFAU/ocsync/internal/id/uuid"
	"github.com/JakeFAU/ocsync/internal/logging"
	"github.com/JakeFAU/ocsync/internal/metrics"
	"github.com/JakeFAU/ocsync/internal/notify"
	"github.com/JakeFAU/ocsync/internal/orchestrator"
	queueMemory "github.com/JakeFAU/ocsync/internal/queue/memory"
	"github.com/JakeFAU/ocsync/internal/stage"
	"github.com/JakeFAU/ocsync/internal/storage/gcs"
	"github.com/JakeFAU/ocsync/internal/storage/local"
	"github.com/JakeFAU/ocsync/internal/storage/postgres"
	"github.com/JakeFAU/ocsync/internal/storage/sqlite"
	"github.com/JakeFAU/ocsync/internal/store"
	"github.com/JakeFAU/ocsync/internal/telemetry"
	"github.com/JakeFAU/ocsync/internal/worker"
)

const serviceName = "ocsync"

// App holds all the shared, long-lived services for the application.
// It is built once per command invocation and closed by a Cobra hook.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	pool        *pgxpool.Pool
	state       store.SyncState
	catalog     store.Catalog
	maintenance store.Maintenance
	feed        feed.Client
	fetcher     *crawler.Fetcher
	stage       crawler.Stage

	orchestrator *orchestrator.Orchestrator
	importer     *archive.Importer
	imports      *orchestrator.GoroutineSpawner

	tracer      *sdktrace.TracerProvider
	stopWorkers func()
	closers     []func() error
}

// Options carries invocation details that are not part of the config file.
type Options struct {
	// ChildArgs precede the subcommand of every child process the app
	// starts, typically the --config flag of the parent.
	ChildArgs []string
}

// New creates and initializes an App from cfg. It fails fast when a
// critical service cannot be initialized and releases whatever it opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New(), stopWorkers: func() {}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("initializing application services")
	metrics.Init()

	a.tracer, err = telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if err := a.initPrimary(ctx); err != nil {
		return nil, err
	}
	if err := a.initFeed(); err != nil {
		return nil, err
	}
	rankings, err := a.initCrawl(opts)
	if err != nil {
		return nil, err
	}
	if err := a.initImporter(ctx); err != nil {
		return nil, err
	}
	spawner, err := a.initSpawner(opts)
	if err != nil {
		return nil, err
	}
	if err := a.initOrchestrator(rankings, spawner); err != nil {
		return nil, err
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initPrimary(ctx context.Context) error {
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             a.cfg.Primary.DSN,
		MaxConns:        a.cfg.Primary.MaxConns,
		MinConns:        a.cfg.Primary.MinConns,
		MaxConnLifetime: a.cfg.Primary.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("init primary store: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure primary schema: %w", err)
	}
	if a.state, err = postgres.NewSyncStateStore(pool); err != nil {
		return err
	}
	catalog, err := postgres.NewCatalogStore(pool, a.clock.Now)
	if err != nil {
		return err
	}
	a.catalog, a.maintenance = catalog, catalog
	return nil
}

func (a *App) initFeed() error {
	f := a.cfg.Feed
	client, err := httpclient.New(httpclient.Config{
		BaseURL:      f.BaseURL,
		LocaleHeader: f.LocaleHeader,
		Locale:       f.Locale,
		UserAgent:    f.UserAgent,
		Timeout:      f.Timeout,
		RPS:          f.RPS,
		Burst:        f.Burst,
		MaxAttempts:  f.MaxAttempts,
	}, nil, a.logger.Named("feed"))
	if err != nil {
		return fmt.Errorf("init feed client: %w", err)
	}
	a.feed = client
	a.fetcher = crawler.NewFetcher(client, a.state, a.clock, crawler.FetchConfig{
		PageLimit:         f.PageLimit,
		SlowPageThreshold: f.SlowPageThreshold,
	}, a.logger.Named("fetch"))
	return nil
}

// initCrawl picks the ranking fetch strategy. The stage is built even for
// the sequential crawl because fetch-partition children read it too.
func (a *App) initCrawl(opts Options) (orchestrator.Fetcher, error) {
	c := a.cfg.Crawl
	partitions := feed.Partitions(a.cfg.Feed.Categories)
	merger := crawler.NewMerger(a.catalog, a.state, a.clock, a.logger.Named("merge"))
	logger := a.logger.Named("crawler")

	if c.Launcher == config.LauncherExec {
		fileStage, err := stage.NewFile(c.StageDir)
		if err != nil {
			return nil, fmt.Errorf("init stage: %w", err)
		}
		a.stage = fileStage
	} else {
		a.stage = stage.NewMemory()
	}

	if c.Mode == config.CrawlSequential {
		return crawler.NewCoordinator(partitions, a.fetcher, merger, a.clock, logger), nil
	}

	var launcher crawler.Launcher
	switch c.Launcher {
	case config.LauncherExec:
		execLauncher, err := crawler.NewExecLauncher(c.ExecBinary, opts.ChildArgs, logger)
		if err != nil {
			return nil, fmt.Errorf("init exec launcher: %w", err)
		}
		launcher = execLauncher
	default:
		launcher = a.startWorkers(c.MaxParallel, c.QueueDepth)
	}

	return crawler.NewParallelCoordinator(partitions, launcher, a.stage, a.state, merger, a.clock, crawler.ParallelConfig{
		MaxParallel:  c.MaxParallel,
		PollInterval: c.PollInterval,
	}, logger), nil
}

// startWorkers runs an in-process worker pool behind a dispatcher until Close.
func (a *App) startWorkers(n, depth int) *dispatcher.Dispatcher {
	q := queueMemory.NewQueue(depth)
	workers := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, worker.New(q, a.fetcher, a.stage, a.state, a.logger.Named("worker").With(zap.Int("worker", i))))
	}
	d := dispatcher.New(q, workers)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Run(ctx); err != nil {
			a.logger.Error("worker pool stopped", zap.Error(err))
		}
	}()
	a.stopWorkers = func() {
		cancel()
		q.Close()
		<-done
	}
	return d
}

func (a *App) initImporter(ctx context.Context) error {
	ac := a.cfg.Archive
	limits := sqlite.Limits{MaxParams: ac.MaxParams, SafetyMargin: ac.SafetyMargin}
	engineCfg := archive.Config{ReadChunk: ac.ReadChunk, ReconcilePage: ac.ReconcilePage, FixChunk: ac.FixChunk}

	archiveDB, err := sqlite.Open(ac.Path,
		sqlite.WithBusyTimeout(ac.BusyTimeoutMs),
		sqlite.WithMkdirAll(),
		sqlite.WithSchema(sqlite.ArchiveSchema),
	)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	a.closers = append(a.closers, archiveDB.Close)
	target, err := sqlite.NewTarget(archiveDB, limits)
	if err != nil {
		return err
	}

	notifier, err := a.initNotifier(ctx)
	if err != nil {
		return err
	}

	source, err := postgres.NewArchiveSource(a.pool)
	if err != nil {
		return err
	}
	primary, err := archive.NewEngine("primary", source, target, archive.PrimaryTables(), engineCfg, notifier, a.logger.Named("archive"))
	if err != nil {
		return err
	}
	engines := []*archive.Engine{primary}

	if path := a.cfg.Comments.Path; path != "" {
		commentDB, err := sqlite.Open(path, sqlite.WithBusyTimeout(ac.BusyTimeoutMs), sqlite.WithSchema(sqlite.CommentSchema))
		if err != nil {
			return fmt.Errorf("open comment store: %w", err)
		}
		a.closers = append(a.closers, commentDB.Close)
		commentSource, err := sqlite.NewSource(commentDB, limits)
		if err != nil {
			return err
		}
		comments, err := archive.NewEngine("comment", commentSource, target, archive.CommentTables(), engineCfg, notifier, a.logger.Named("archive"))
		if err != nil {
			return err
		}
		engines = append(engines, comments)
	}

	var importerOpts []archive.ImporterOption
	exporter, err := a.initExporter(ctx, archiveDB)
	if err != nil {
		return err
	}
	if exporter != nil {
		importerOpts = append(importerOpts, archive.WithExporter(exporter))
	}
	importerOpts = append(importerOpts, archive.WithClock(a.clock.Now))

	a.importer, err = archive.NewImporter(a.state, a.logger.Named("import"), engines, importerOpts...)
	return err
}

func (a *App) initNotifier(ctx context.Context) (notify.Notifier, error) {
	var sink notify.Notifier = notify.NewLog(a.logger.Named("notify"))
	if a.cfg.Notify.Sink == config.SinkPubSub {
		ps := a.cfg.PubSub
		client, err := pubsub.NewClient(ctx, ps.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		publisher, err := notify.NewPubSub(client, notify.PubSubConfig{
			TopicID: ps.TopicID,
			Source:  serviceName,
			Timeout: ps.Timeout,
		}, a.logger.Named("notify"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { publisher.Close(); return nil })
		// Drift reports stay in the logs even when publishing fails.
		sink = notify.Fanout{sink, publisher}
	}
	return notify.NewThrottled(sink, a.cfg.Notify.EveryN), nil
}

// initExporter returns nil when no export destination is configured.
func (a *App) initExporter(ctx context.Context, archiveDB *sql.DB) (*export.Exporter, error) {
	ec := a.cfg.Export
	var blobs export.BlobStore
	switch {
	case ec.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		bucket, err := gcs.New(client, gcs.Config{Bucket: ec.GCSBucket, Source: serviceName})
		if err != nil {
			return nil, err
		}
		if err := bucket.CheckBucket(ctx); err != nil {
			return nil, err
		}
		a.logger.Info("exporting archive to GCS", zap.String("bucket", ec.GCSBucket))
		blobs = bucket
	case ec.LocalDir != "":
		dir, err := local.New(local.Config{BaseDir: ec.LocalDir})
		if err != nil {
			return nil, err
		}
		a.logger.Info("exporting archive to local directory", zap.String("dir", ec.LocalDir))
		blobs = dir
	default:
		return nil, nil
	}
	return export.New(archiveDB, blobs, export.Config{Prefix: ec.Prefix}, a.clock.Now, a.logger.Named("export")), nil
}

func (a *App) initSpawner(opts Options) (orchestrator.Spawner, error) {
	if a.cfg.Import.Detached {
		spawner, err := orchestrator.NewExecSpawner(a.cfg.Crawl.ExecBinary, opts.ChildArgs, a.logger.Named("spawn"))
		if err != nil {
			return nil, fmt.Errorf("init exec spawner: %w", err)
		}
		return spawner, nil
	}
	a.imports = orchestrator.NewGoroutineSpawner(a.importer, a.cfg.Import.Timeout, a.logger.Named("spawn"))
	return a.imports, nil
}

func (a *App) initOrchestrator(rankings orchestrator.Fetcher, spawner orchestrator.Spawner) error {
	oc := a.cfg.Orchestrator
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	windowStart, err := config.ParseClock(oc.DailyWindowStart)
	if err != nil {
		return err
	}
	windowEnd, err := config.ParseClock(oc.DailyWindowEnd)
	if err != nil {
		return err
	}

	extended := crawler.NewExtendedCrawler(a.feed, a.catalog, a.state, a.clock, crawler.ExtendedConfig{
		LookbackDays:         oc.ExtendedLookbackDays,
		MaxConsecutiveErrors: oc.ExtendedMaxConsecutiveErrors,
		Limit:                oc.ExtendedLimit,
	}, a.logger.Named("extended"))

	a.orchestrator = orchestrator.New(orchestrator.Deps{
		State:       a.state,
		Fetcher:     rankings,
		Maintenance: a.maintenance,
		Feed:        a.feed,
		Extended:    extended,
		Spawner:     spawner,
		Clock:       a.clock,
		IDs:         uuid.New(),
		Logger:      a.logger.Named("orchestrator"),
	}, orchestrator.Config{
		Location:         loc,
		DailyWindowStart: windowStart,
		DailyWindowEnd:   windowEnd,
		KillGrace:        oc.KillGrace,
		HourlyTimeout:    oc.HourlyTimeout,
		DailyTimeout:     oc.DailyTimeout,
		InvitationBatch:  oc.InvitationBatch,
		BanMinMember:     oc.BanMinMember,
	})
	return nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Run lets the orchestrator pick the mode and runs it.
func (a *App) Run(ctx context.Context) error { return a.orchestrator.Run(ctx) }

// RunMode runs the given mode regardless of the clock.
func (a *App) RunMode(ctx context.Context, mode orchestrator.Mode) error {
	return a.orchestrator.RunMode(ctx, mode)
}

// Import runs the archive import in the foreground.
func (a *App) Import(ctx context.Context) error { return a.importer.Run(ctx) }

// Kill raises a kill flag. Running loops observe it at their next check.
func (a *App) Kill(ctx context.Context, flag store.Flag) error {
	if err := a.state.SetTrue(ctx, flag); err != nil {
		return fmt.Errorf("raise %s: %w", flag, err)
	}
	a.logger.Info("kill flag raised", zap.String("flag", string(flag)))
	return nil
}

// FetchPartitions runs one crawl task in this process, staging the result
// for the parent coordinator.
func (a *App) FetchPartitions(ctx context.Context, task crawler.Task) error {
	logger := logging.ForTask(a.logger.Named("worker"), crawler.EncodeTask(task.Partitions), task.Cycle)
	return worker.New(nil, a.fetcher, a.stage, a.state, logger).RunTask(ctx, task)
}

// OpsHandler returns the router served by the serve command.
func (a *App) OpsHandler() http.Handler {
	var pinger api.Pinger
	if a.pool != nil {
		pinger = a.pool
	}
	return api.NewServer(a.state, pinger, a.logger.Named("ops")).Handler()
}

// WaitImports blocks until every in-process archive import has returned.
func (a *App) WaitImports() {
	if a.imports != nil {
		a.imports.Wait()
	}
}

// Close gracefully shuts down all services in the App container, newest first.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.stopWorkers()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
	_ = a.logger.Sync()
}
