package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/store"
	"github.com/JakeFAU/ocsync/internal/telemetry"
)

// run carries the per-invocation state of one orchestrator run.
type run struct {
	o      *Orchestrator
	mode   Mode
	id     string
	logger *zap.Logger
}

func (r *run) hourly(ctx context.Context) error {
	if err := r.releaseStuckRun(ctx); err != nil {
		return err
	}
	if err := r.o.State.SetTrue(ctx, store.HourlyTaskActive); err != nil {
		return fmt.Errorf("set %s: %w", store.HourlyTaskActive, err)
	}
	if err := r.phase(ctx, "fetch", r.o.Fetcher.FetchAll); err != nil {
		return err
	}
	if err := r.o.State.SetFalse(ctx, store.HourlyTaskActive); err != nil {
		return fmt.Errorf("clear %s: %w", store.HourlyTaskActive, err)
	}
	for _, job := range r.postMergeJobs() {
		if err := r.phase(ctx, job.name, job.run); err != nil {
			return err
		}
	}
	if err := r.o.State.SetString(ctx, store.LastHourlyRunAt, r.o.Clock.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("set %s: %w", store.LastHourlyRunAt, err)
	}
	if r.o.Spawner != nil {
		if err := r.o.Spawner.Spawn(ctx); err != nil {
			// The next run imports whatever this one missed.
			r.logger.Error("spawn archive import", zap.Error(err))
		}
	}
	return nil
}

func (r *run) daily(ctx context.Context) error {
	if err := r.o.State.SetTrue(ctx, store.DailyTaskActive); err != nil {
		return fmt.Errorf("set %s: %w", store.DailyTaskActive, err)
	}
	if err := r.hourly(ctx); err != nil {
		return err
	}
	if err := r.phase(ctx, "extended_crawl", r.o.Extended.Run); err != nil {
		return err
	}
	if err := r.o.State.SetFalse(ctx, store.DailyTaskActive); err != nil {
		return fmt.Errorf("clear %s: %w", store.DailyTaskActive, err)
	}
	if err := r.o.State.SetString(ctx, store.LastDailyRunAt, r.o.Clock.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("set %s: %w", store.LastDailyRunAt, err)
	}
	return nil
}

func (r *run) retry(ctx context.Context) error {
	r.logger.Warn("previous daily run did not finish, retrying")
	if err := r.killAndRelease(ctx, store.RankingKill, store.ExtendedCrawlKill); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(ctx, r.o.cfg.DailyTimeout)
	defer cancel()
	return r.daily(runCtx)
}

// releaseStuckRun stops a fetch that still holds the hourly flag.
func (r *run) releaseStuckRun(ctx context.Context) error {
	active, err := r.o.State.GetBool(ctx, store.HourlyTaskActive)
	if err != nil {
		return fmt.Errorf("read %s: %w", store.HourlyTaskActive, err)
	}
	if !active {
		return nil
	}
	r.logger.Warn("hourly flag still set, stopping the previous fetch")
	return r.killAndRelease(ctx, store.RankingKill)
}

// killAndRelease raises the kill flags, gives running loops the grace period
// to observe them, then lowers them again so this run is not canceled too.
func (r *run) killAndRelease(ctx context.Context, flags ...store.Flag) error {
	for _, f := range flags {
		if err := r.o.State.SetTrue(ctx, f); err != nil {
			return fmt.Errorf("raise %s: %w", f, err)
		}
	}
	if err := r.o.Clock.Sleep(ctx, r.o.cfg.KillGrace); err != nil {
		return fmt.Errorf("kill grace: %w", err)
	}
	for _, f := range flags {
		if err := r.o.State.SetFalse(ctx, f); err != nil {
			return fmt.Errorf("lower %s: %w", f, err)
		}
	}
	return nil
}

func (r *run) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, end := telemetry.Phase(ctx, "orchestrator."+name)
	start := r.o.Clock.Now()
	r.logger.Info("phase started", zap.String("phase", name))
	err := fn(ctx)
	end(err)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	r.logger.Info("phase finished", zap.String("phase", name), zap.Duration("elapsed", r.o.Clock.Now().Sub(start)))
	return nil
}

type job struct {
	name string
	run  func(context.Context) error
}

// postMergeJobs lists the jobs that follow every fetch, in order.
func (r *run) postMergeJobs() []job {
	return []job{
		{"member_columns", r.refreshMemberColumns},
		{"ranking_deltas", r.computeRankingDeltas},
		{"invitation_refresh", r.refreshInvitations},
		{"ranking_ban", r.refreshRankingBan},
		{"cache_invalidation", r.bumpCacheVersion},
	}
}

func (r *run) refreshMemberColumns(ctx context.Context) error {
	n, err := r.o.Maintenance.RefreshMemberColumns(ctx, r.o.Clock.Now())
	if err != nil {
		return err
	}
	r.logger.Debug("member columns sampled", zap.Int64("rows", n))
	return nil
}

func (r *run) computeRankingDeltas(ctx context.Context) error {
	n, err := r.o.Maintenance.ComputeRankingDeltas(ctx, r.o.Clock.Now())
	if err != nil {
		return err
	}
	r.logger.Debug("ranking deltas rebuilt", zap.Int64("rows", n))
	return nil
}

// refreshInvitations fills missing invitation links from entity details. When
// another refresh still holds the active flag this cycle is skipped and the
// skip is remembered for the next one. An active flag that survives a skipped
// cycle is stale and the refresh runs anyway.
func (r *run) refreshInvitations(ctx context.Context) error {
	st := r.o.State
	active, err := st.GetBool(ctx, store.InvitationRefreshActive)
	if err != nil {
		return fmt.Errorf("read %s: %w", store.InvitationRefreshActive, err)
	}
	deferred, err := st.GetBool(ctx, store.InvitationRefreshDeferred)
	if err != nil {
		return fmt.Errorf("read %s: %w", store.InvitationRefreshDeferred, err)
	}
	switch {
	case active && !deferred:
		r.logger.Info("invitation refresh still running, deferring one cycle")
		if err := st.SetTrue(ctx, store.InvitationRefreshDeferred); err != nil {
			return fmt.Errorf("set %s: %w", store.InvitationRefreshDeferred, err)
		}
		return nil
	case active:
		r.logger.Warn("invitation refresh flag outlived a deferred cycle, treating it as stale")
	case deferred:
		r.logger.Info("running deferred invitation refresh")
	}
	if deferred {
		if err := st.SetFalse(ctx, store.InvitationRefreshDeferred); err != nil {
			return fmt.Errorf("clear %s: %w", store.InvitationRefreshDeferred, err)
		}
	}

	if err := st.SetTrue(ctx, store.InvitationRefreshActive); err != nil {
		return fmt.Errorf("set %s: %w", store.InvitationRefreshActive, err)
	}
	refreshErr := r.fetchInvitations(ctx)
	if err := st.SetFalse(context.WithoutCancel(ctx), store.InvitationRefreshActive); err != nil {
		return errors.Join(refreshErr, fmt.Errorf("clear %s: %w", store.InvitationRefreshActive, err))
	}
	return refreshErr
}

func (r *run) fetchInvitations(ctx context.Context) error {
	missing, err := r.o.Maintenance.MissingInvitations(ctx, r.o.cfg.InvitationBatch)
	if err != nil {
		return err
	}
	var updated, failed int
	for _, c := range missing {
		e, err := r.o.Feed.FetchDetail(ctx, c.EMID)
		switch {
		case errors.Is(err, feed.ErrNotFound):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			r.logger.Debug("invitation fetch failed", zap.String("emid", c.EMID), zap.Error(err))
			continue
		}
		if e.InvitationURL == "" {
			continue
		}
		if err := r.o.Maintenance.SetInvitationURL(ctx, c.ID, e.InvitationURL); err != nil {
			return err
		}
		updated++
	}
	r.logger.Info("invitation links refreshed",
		zap.Int("candidates", len(missing)),
		zap.Int("updated", updated),
		zap.Int("failed", failed),
	)
	return nil
}

func (r *run) refreshRankingBan(ctx context.Context) error {
	opened, closed, err := r.o.Maintenance.RefreshRankingBan(ctx, r.o.Clock.Now(), r.o.cfg.BanMinMember)
	if err != nil {
		return err
	}
	r.logger.Info("ranking bans refreshed", zap.Int64("opened", opened), zap.Int64("closed", closed))
	return nil
}

// bumpCacheVersion publishes the run id as the new cache version; readers
// drop any cache keyed on an older value.
func (r *run) bumpCacheVersion(ctx context.Context) error {
	if err := r.o.State.SetString(ctx, store.CacheVersion, r.id); err != nil {
		return fmt.Errorf("set %s: %w", store.CacheVersion, err)
	}
	return nil
}
