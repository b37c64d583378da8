package crawler

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/metrics"
	"github.com/JakeFAU/ocsync/internal/store"
)

// maxLoggedInvalid bounds the entity ids listed in the invalid-entity warning.
const maxLoggedInvalid = 20

// Merger is the single writer that folds feed entities into the catalog.
type Merger struct {
	catalog store.Catalog
	state   store.SyncState
	clock   Clock
	logger  *zap.Logger
}

// NewMerger constructs a Merger.
func NewMerger(catalog store.Catalog, state store.SyncState, clock Clock, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{catalog: catalog, state: state, clock: clock, logger: logger}
}

// Merged reports whether the partition was already merged for the cycle.
func (m *Merger) Merged(ctx context.Context, p feed.Partition, cycle string) (bool, error) {
	last, ok, err := m.state.GetString(ctx, store.LastDownloadedFlag(p))
	if err != nil {
		return false, fmt.Errorf("read last download of %s: %w", p, err)
	}
	return ok && last == cycle, nil
}

// Begin starts a snapshot accumulator for one partition.
func (m *Merger) Begin(p feed.Partition) *PartitionMerge {
	return &PartitionMerge{merger: m, partition: p}
}

// MergeAll merges a fully staged partition and commits it.
func (m *Merger) MergeAll(ctx context.Context, p feed.Partition, cycle string, entities []feed.Entity) error {
	pm := m.Begin(p)
	for _, e := range entities {
		if err := pm.Add(ctx, e); err != nil {
			return err
		}
	}
	return pm.Commit(ctx, cycle)
}

// PartitionMerge accumulates the snapshot of one partition while its entities
// are merged.
type PartitionMerge struct {
	merger    *Merger
	partition feed.Partition
	rows      []store.SnapshotRow
	invalid   []string
}

// Add validates and merges one entity. Invalid entities are collected and
// left out of the snapshot; store failures are returned.
func (pm *PartitionMerge) Add(ctx context.Context, e feed.Entity) error {
	sort := string(pm.partition.Sort)
	if err := feed.Validate(e); err != nil {
		var verr *feed.ValidationError
		if errors.As(err, &verr) {
			metrics.ObserveEntity(sort, "invalid")
			pm.invalid = append(pm.invalid, e.EMID)
			return nil
		}
		return err
	}
	res, err := pm.merger.catalog.MergeOpenChat(ctx, e)
	if err != nil {
		return fmt.Errorf("merge %s entity %q: %w", pm.partition, e.EMID, err)
	}
	switch {
	case res.Created:
		metrics.ObserveEntity(sort, "created")
	case res.Updated:
		metrics.ObserveEntity(sort, "updated")
	default:
		metrics.ObserveEntity(sort, "unchanged")
	}
	pm.rows = append(pm.rows, snapshotRow(len(pm.rows)+1, res, e.MemberCount))
	return nil
}

// Rows returns the accumulated snapshot rows.
func (pm *PartitionMerge) Rows() []store.SnapshotRow {
	return pm.rows
}

// Commit replaces the partition snapshot and records the cycle as merged.
func (pm *PartitionMerge) Commit(ctx context.Context, cycle string) error {
	m := pm.merger
	p := pm.partition
	if len(pm.invalid) > 0 {
		shown := pm.invalid
		if len(shown) > maxLoggedInvalid {
			shown = shown[:maxLoggedInvalid]
		}
		m.logger.Warn("invalid feed entities skipped",
			zap.String("partition", p.String()),
			zap.Int("count", len(pm.invalid)),
			zap.Strings("emids", shown),
		)
	}
	if err := m.catalog.ReplaceSnapshot(ctx, p, pm.rows, m.clock.Now()); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", p, err)
	}
	if err := m.state.SetString(ctx, store.LastDownloadedFlag(p), cycle); err != nil {
		return fmt.Errorf("mark %s merged: %w", p, err)
	}
	metrics.ObservePartition(string(p.Sort), "merged")
	m.logger.Info("partition merged",
		zap.String("partition", p.String()),
		zap.String("cycle", cycle),
		zap.Int("rows", len(pm.rows)),
	)
	return nil
}

func snapshotRow(position int, res store.MergeResult, member int) store.SnapshotRow {
	row := store.SnapshotRow{Position: position, OpenChatID: res.ID}
	if res.Created || res.PrevMember <= 0 {
		return row
	}
	row.DiffMember = member - res.PrevMember
	pct := float64(row.DiffMember) * 100 / float64(res.PrevMember)
	row.PercentIncrease = math.Round(pct*1000) / 1000
	return row
}
