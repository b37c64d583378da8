// Package orchestrator decides which kind of run the current invocation
// performs and sequences the crawl, the post-merge jobs and the archive
// import spawn around it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/crawler"
	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/logging"
	"github.com/JakeFAU/ocsync/internal/metrics"
	"github.com/JakeFAU/ocsync/internal/store"
	"github.com/JakeFAU/ocsync/internal/telemetry"
)

// Mode is the kind of run.
type Mode string

// Run modes.
const (
	ModeHourly Mode = "hourly"
	ModeDaily  Mode = "daily"
	ModeRetry  Mode = "retry"
)

// ParseMode converts a CLI mode name into a Mode.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeHourly, ModeDaily, ModeRetry:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("unknown run mode %q", raw)
	}
}

// Fetcher crawls every ranking partition.
type Fetcher interface {
	FetchAll(ctx context.Context) error
}

// ExtendedCrawler runs the daily crawl outside the ranking partitions.
type ExtendedCrawler interface {
	Run(ctx context.Context) error
}

// Spawner starts the archive import without waiting for it.
type Spawner interface {
	Spawn(ctx context.Context) error
}

// Clock reads time and waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls mode selection, timeouts and the post-merge jobs.
type Config struct {
	Location *time.Location
	// DailyWindowStart and DailyWindowEnd are offsets from local midnight.
	// A window whose end precedes its start wraps past midnight.
	DailyWindowStart time.Duration
	DailyWindowEnd   time.Duration
	KillGrace        time.Duration
	HourlyTimeout    time.Duration
	DailyTimeout     time.Duration
	InvitationBatch  int
	BanMinMember     int
}

// Deps bundles the collaborators of an Orchestrator.
type Deps struct {
	State       store.SyncState
	Fetcher     Fetcher
	Maintenance store.Maintenance
	Feed        feed.Client
	Extended    ExtendedCrawler
	Spawner     Spawner
	Clock       Clock
	IDs         IDGenerator
	Logger      *zap.Logger
}

// Orchestrator runs hourly, daily and retry modes.
type Orchestrator struct {
	Deps
	cfg Config
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{Deps: deps, cfg: cfg}
}

// Run selects the mode from the clock and the persisted flags, then runs it.
func (o *Orchestrator) Run(ctx context.Context) error {
	mode, err := o.SelectMode(ctx)
	if err != nil {
		return err
	}
	return o.RunMode(ctx, mode)
}

// SelectMode picks Daily inside the daily window, Retry when a previous daily
// run never cleared its flag, and Hourly otherwise.
func (o *Orchestrator) SelectMode(ctx context.Context) (Mode, error) {
	if o.inDailyWindow(o.Clock.Now()) {
		return ModeDaily, nil
	}
	pending, err := o.State.GetBool(ctx, store.DailyTaskActive)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", store.DailyTaskActive, err)
	}
	if pending {
		return ModeRetry, nil
	}
	return ModeHourly, nil
}

func (o *Orchestrator) inDailyWindow(now time.Time) bool {
	local := now.In(o.cfg.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, o.cfg.Location)
	offset := local.Sub(midnight)
	start, end := o.cfg.DailyWindowStart, o.cfg.DailyWindowEnd
	if start <= end {
		return offset >= start && offset < end
	}
	return offset >= start || offset < end
}

// RunMode runs one mode under its timeout, with a run id on every log line
// and a span around the whole run.
func (o *Orchestrator) RunMode(ctx context.Context, mode Mode) (err error) {
	runID, err := o.IDs.NewID()
	if err != nil {
		return err
	}
	r := &run{o: o, mode: mode, id: runID, logger: logging.ForRun(o.Logger, runID, string(mode))}

	ctx, end := telemetry.Phase(ctx, "orchestrator.run",
		attribute.String("mode", string(mode)),
		attribute.String("run_id", runID),
	)
	start := o.Clock.Now()
	r.logger.Info("run started")
	defer func() {
		status := "ok"
		switch {
		case errors.Is(err, crawler.ErrCanceled):
			status = "canceled"
		case err != nil:
			status = "error"
		}
		elapsed := o.Clock.Now().Sub(start)
		metrics.ObserveRun(string(mode), status, elapsed)
		if err != nil {
			r.logger.Error("run failed", zap.String("status", status), zap.Duration("elapsed", elapsed), zap.Error(err))
		} else {
			r.logger.Info("run finished", zap.Duration("elapsed", elapsed))
		}
		end(err)
	}()

	switch mode {
	case ModeHourly:
		runCtx, cancel := context.WithTimeout(ctx, o.cfg.HourlyTimeout)
		defer cancel()
		return r.hourly(runCtx)
	case ModeDaily:
		runCtx, cancel := context.WithTimeout(ctx, o.cfg.DailyTimeout)
		defer cancel()
		return r.daily(runCtx)
	case ModeRetry:
		runCtx, cancel := context.WithTimeout(ctx, o.cfg.DailyTimeout+o.cfg.KillGrace)
		defer cancel()
		return r.retry(runCtx)
	default:
		return fmt.Errorf("unknown run mode %q", mode)
	}
}
