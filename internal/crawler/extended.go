package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/metrics"
	"github.com/JakeFAU/ocsync/internal/store"
)

const (
	extendedSort = "extended"
	// recentErrors is how many transport errors ErrTooManyErrors carries.
	recentErrors = 3
)

// ExtendedConfig controls the daily extended crawl.
type ExtendedConfig struct {
	LookbackDays         int
	MaxConsecutiveErrors int
	// Limit caps the candidates refetched per run; zero means no cap.
	Limit int
}

// ExtendedCrawler refetches entities that dropped out of every snapshot but
// whose member count still moves.
type ExtendedCrawler struct {
	client  feed.Client
	catalog store.Catalog
	state   store.SyncState
	clock   Clock
	cfg     ExtendedConfig
	logger  *zap.Logger
}

// NewExtendedCrawler constructs an ExtendedCrawler.
func NewExtendedCrawler(
	client feed.Client,
	catalog store.Catalog,
	state store.SyncState,
	clock Clock,
	cfg ExtendedConfig,
	logger *zap.Logger,
) *ExtendedCrawler {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtendedCrawler{client: client, catalog: catalog, state: state, clock: clock, cfg: cfg, logger: logger}
}

// Run refetches every candidate. Entities the feed no longer knows are logged
// as deleted. The crawl aborts with ErrTooManyErrors once transport failures
// exceed the consecutive-error limit.
func (x *ExtendedCrawler) Run(ctx context.Context) error {
	since := x.clock.Now().AddDate(0, 0, -x.cfg.LookbackDays)
	candidates, err := x.catalog.ExtendedCandidates(ctx, since, x.cfg.Limit)
	if err != nil {
		return fmt.Errorf("list extended candidates: %w", err)
	}
	x.logger.Info("extended crawl started", zap.Int("candidates", len(candidates)))

	var (
		consecutive int
		recent      []string
		invalid     []string
		merged      int
		deleted     int
	)
	for _, c := range candidates {
		if err := checkKill(ctx, x.state, store.ExtendedCrawlKill); err != nil {
			return fmt.Errorf("extended crawl: %w", err)
		}
		e, err := x.client.FetchDetail(ctx, c.EMID)
		switch {
		case errors.Is(err, feed.ErrNotFound):
			consecutive = 0
			if err := x.catalog.RecordDeleted(ctx, c, x.clock.Now()); err != nil {
				return fmt.Errorf("record deleted %q: %w", c.EMID, err)
			}
			metrics.ObserveEntity(extendedSort, "deleted")
			deleted++
			continue
		case err != nil:
			if ctx.Err() != nil {
				return fmt.Errorf("extended crawl: %w", ctx.Err())
			}
			consecutive++
			recent = append(recent, err.Error())
			if len(recent) > recentErrors {
				recent = recent[len(recent)-recentErrors:]
			}
			x.logger.Warn("extended fetch failed",
				zap.String("emid", c.EMID),
				zap.Int("consecutive", consecutive),
				zap.Error(err),
			)
			if consecutive > x.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("%w: %s", ErrTooManyErrors, strings.Join(recent, "; "))
			}
			continue
		}
		consecutive = 0
		if err := feed.Validate(e); err != nil {
			metrics.ObserveEntity(extendedSort, "invalid")
			invalid = append(invalid, c.EMID)
			continue
		}
		if _, err := x.catalog.MergeOpenChat(ctx, e); err != nil {
			return fmt.Errorf("merge %q: %w", c.EMID, err)
		}
		metrics.ObserveEntity(extendedSort, "merged")
		merged++
	}
	if len(invalid) > 0 {
		x.logger.Warn("invalid extended entities skipped",
			zap.Int("count", len(invalid)),
			zap.Strings("emids", invalid[:min(len(invalid), maxLoggedInvalid)]),
		)
	}
	x.logger.Info("extended crawl finished", zap.Int("merged", merged), zap.Int("deleted", deleted))
	return nil
}
