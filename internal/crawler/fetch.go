package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/metrics"
	"github.com/JakeFAU/ocsync/internal/store"
)

// FetchConfig controls partition paging.
type FetchConfig struct {
	PageLimit         int
	SlowPageThreshold time.Duration
}

// Fetcher pages through one partition of the feed.
type Fetcher struct {
	client feed.Client
	state  store.SyncState
	clock  Clock
	cfg    FetchConfig
	logger *zap.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(client feed.Client, state store.SyncState, clock Clock, cfg FetchConfig, logger *zap.Logger) *Fetcher {
	if cfg.SlowPageThreshold <= 0 {
		cfg.SlowPageThreshold = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, state: state, clock: clock, cfg: cfg, logger: logger}
}

// Fetch calls visit for every entity of the partition in feed order. The kill
// flag is checked before each page.
func (f *Fetcher) Fetch(ctx context.Context, p feed.Partition, visit func(feed.Entity) error) error {
	start := f.clock.Now()
	last := start
	token := ""
	for page := 0; ; page++ {
		if err := checkKill(ctx, f.state, store.RankingKill); err != nil {
			return fmt.Errorf("fetch %s: %w", p, err)
		}
		result, err := f.client.FetchPage(ctx, feed.PageRequest{Partition: p, Token: token, Limit: f.cfg.PageLimit})
		if err != nil {
			return fmt.Errorf("fetch %s page %d: %w", p, page, err)
		}
		now := f.clock.Now()
		if gap := now.Sub(last); gap > f.cfg.SlowPageThreshold {
			metrics.ObserveSlowPage(string(p.Sort))
			f.logger.Warn("slow feed page",
				zap.String("partition", p.String()),
				zap.Int("page", page),
				zap.Duration("gap", gap),
				zap.Duration("elapsed", now.Sub(start)),
			)
		}
		last = now
		for _, e := range result.Entities {
			if err := visit(e); err != nil {
				return err
			}
		}
		if result.Next == "" {
			return nil
		}
		token = result.Next
	}
}

// Collect fetches the whole partition into memory.
func (f *Fetcher) Collect(ctx context.Context, p feed.Partition) ([]feed.Entity, error) {
	var out []feed.Entity
	err := f.Fetch(ctx, p, func(e feed.Entity) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkKill(ctx context.Context, state store.SyncState, flag store.Flag) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	killed, err := state.GetBool(ctx, flag)
	if err != nil {
		return fmt.Errorf("read %s: %w", flag, err)
	}
	if killed {
		return ErrCanceled
	}
	return nil
}
