package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/metrics"
	"github.com/JakeFAU/ocsync/internal/notify"
)

// Config sizes the engine's pages and write batches.
type Config struct {
	// ReadChunk is the cursor-phase page size.
	ReadChunk int
	// ReconcilePage is the key page size of the reconciliation walks.
	ReconcilePage int
	// FixChunk is how many healed rows are fetched and written at once.
	FixChunk int
}

func (c Config) withDefaults() Config {
	if c.ReadChunk <= 0 {
		c.ReadChunk = 2000
	}
	if c.ReconcilePage <= 0 {
		c.ReconcilePage = 10000
	}
	if c.FixChunk <= 0 {
		c.FixChunk = 500
	}
	return c
}

// Engine copies a fixed list of tables from one Source into the archive.
type Engine struct {
	name     string
	source   Source
	target   Target
	tables   []Table
	cfg      Config
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewEngine validates tables and builds an Engine. name labels logs and
// notifications ("primary", "comments").
func NewEngine(name string, source Source, target Target, tables []Table, cfg Config, notifier notify.Notifier, logger *zap.Logger) (*Engine, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("archive %s: source and target are required", name)
	}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("archive %s: %w", name, err)
		}
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		name:     name,
		source:   source,
		target:   target,
		tables:   tables,
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		logger:   logger.With(zap.String("import", name)),
	}, nil
}

// Name returns the engine label.
func (e *Engine) Name() string { return e.name }

// Execute runs the cursor phase for every table, then value sync, key
// verification and retraction sync. It stops at the first error; whatever
// was committed stays valid for the next run.
func (e *Engine) Execute(ctx context.Context) error {
	for _, t := range e.tables {
		if _, err := e.ImportTable(ctx, t); err != nil {
			return err
		}
	}
	for _, t := range e.tables {
		for _, col := range t.SyncColumns {
			if _, err := e.SyncValueDifferences(ctx, t, col); err != nil {
				return err
			}
		}
	}
	for _, t := range e.tables {
		if !t.Verify {
			continue
		}
		if _, err := e.VerifyAndFixRecordCount(ctx, t); err != nil {
			return err
		}
	}
	for _, t := range e.tables {
		if !t.Retractable {
			continue
		}
		if _, _, err := e.SyncRetractable(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// ImportTable copies source rows strictly beyond the archive's MAX(cursor).
func (e *Engine) ImportTable(ctx context.Context, t Table) (int64, error) {
	high, err := e.target.MaxCursor(ctx, t)
	if err != nil {
		return 0, err
	}
	pending, err := e.source.CountAfter(ctx, t, high)
	if err != nil {
		return 0, err
	}
	logger := e.logger.With(zap.String("table", t.Target), zap.Stringer("cursor", high))
	if pending == 0 {
		logger.Debug("archive table up to date")
		return 0, nil
	}
	logger.Info("archive import started", zap.Int64("pending", pending))

	var written int64
	pos := Beyond(high)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		raw, err := e.source.ReadAfter(ctx, t, pos, e.cfg.ReadChunk)
		if err != nil {
			return written, err
		}
		if len(raw) == 0 {
			break
		}
		rows, err := normalizeAll(t, raw)
		if err != nil {
			return written, err
		}
		n, err := e.target.Write(ctx, t, rows)
		written += n
		if err != nil {
			return written, err
		}
		if pos, err = t.PositionOf(raw[len(raw)-1]); err != nil {
			return written, err
		}
		if len(raw) < e.cfg.ReadChunk {
			break
		}
	}
	metrics.ObserveArchiveRows(t.Target, "cursor", int(written))
	logger.Info("archive import finished", zap.Int64("written", written))
	return written, nil
}

func normalizeAll(t Table, raw []Row) ([]Row, error) {
	out := make([]Row, 0, len(raw))
	for _, r := range raw {
		n, err := t.Normalize(r)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// SyncValueDifferences compares Columns[column] by key on both sides and
// rewrites the archive value wherever it differs.
func (e *Engine) SyncValueDifferences(ctx context.Context, t Table, column int) (int64, error) {
	src := newStream(e.cfg.ReconcilePage, kvKey, func(ctx context.Context, after int64, limit int) ([]KeyValue, error) {
		return e.source.ValuesAfter(ctx, t, column, after, limit)
	})
	dst := newStream(e.cfg.ReconcilePage, kvKey, func(ctx context.Context, after int64, limit int) ([]KeyValue, error) {
		return e.target.ValuesAfter(ctx, t, column, after, limit)
	})

	var updated int64
	pending := &batcher[KeyValue]{size: e.cfg.FixChunk, flush: func(kvs []KeyValue) error {
		n, err := e.target.UpdateValues(ctx, t, column, kvs)
		updated += n
		return err
	}}
	err := mergeWalk(ctx, src, dst, nil, nil, func(s, d KeyValue) error {
		if s.Value == d.Value {
			return nil
		}
		return pending.add(s)
	})
	if err == nil {
		err = pending.drain()
	}
	if err != nil {
		return updated, fmt.Errorf("sync %s.%s: %w", t.Target, t.Columns[column].Target, err)
	}
	metrics.ObserveArchiveRows(t.Target, "values", int(updated))
	if updated > 0 {
		e.logger.Info("archive values synced",
			zap.String("table", t.Target),
			zap.String("column", t.Columns[column].Target),
			zap.Int64("updated", updated))
	}
	return updated, nil
}

// VerifyAndFixRecordCount inserts every source row whose key is missing from
// the archive. Rows present on both sides are left alone, field drift is the
// job of SyncValueDifferences.
func (e *Engine) VerifyAndFixRecordCount(ctx context.Context, t Table) (int64, error) {
	before, err := e.target.Count(ctx, t)
	if err != nil {
		return 0, err
	}
	var inserted int64
	missing := &batcher[int64]{size: e.cfg.FixChunk, flush: func(keys []int64) error {
		n, err := e.copyKeys(ctx, t, keys)
		inserted += n
		return err
	}}
	err = mergeWalk(ctx, e.sourceKeys(t), e.targetKeys(t), missing.add, nil, nil)
	if err == nil {
		err = missing.drain()
	}
	if err != nil {
		return inserted, fmt.Errorf("verify %s: %w", t.Target, err)
	}
	metrics.ObserveArchiveRows(t.Target, "verify", int(inserted))
	if inserted > 0 {
		after, err := e.target.Count(ctx, t)
		if err != nil {
			return inserted, err
		}
		e.healed(ctx, t, fmt.Sprintf("%d missing rows inserted", inserted), before, after)
	}
	return inserted, nil
}

// SyncRetractable makes the archive key set equal to the source key set:
// source-only rows are inserted and archive-only rows deleted.
func (e *Engine) SyncRetractable(ctx context.Context, t Table) (inserted, deleted int64, err error) {
	before, err := e.target.Count(ctx, t)
	if err != nil {
		return 0, 0, err
	}
	missing := &batcher[int64]{size: e.cfg.FixChunk, flush: func(keys []int64) error {
		n, err := e.copyKeys(ctx, t, keys)
		inserted += n
		return err
	}}
	retracted := &batcher[int64]{size: e.cfg.FixChunk, flush: func(keys []int64) error {
		n, err := e.target.DeleteKeys(ctx, t, keys)
		deleted += n
		return err
	}}
	err = mergeWalk(ctx, e.sourceKeys(t), e.targetKeys(t), missing.add, retracted.add, nil)
	if err == nil {
		err = missing.drain()
	}
	if err == nil {
		err = retracted.drain()
	}
	if err != nil {
		return inserted, deleted, fmt.Errorf("reconcile %s: %w", t.Target, err)
	}
	metrics.ObserveArchiveRows(t.Target, "retract_insert", int(inserted))
	metrics.ObserveArchiveRows(t.Target, "retract_delete", int(deleted))
	if inserted > 0 || deleted > 0 {
		after, err := e.target.Count(ctx, t)
		if err != nil {
			return inserted, deleted, err
		}
		e.healed(ctx, t, fmt.Sprintf("%d rows inserted, %d retracted rows deleted", inserted, deleted), before, after)
	}
	return inserted, deleted, nil
}

func (e *Engine) sourceKeys(t Table) *stream[int64] {
	return newStream(e.cfg.ReconcilePage, identity, func(ctx context.Context, after int64, limit int) ([]int64, error) {
		return e.source.KeysAfter(ctx, t, after, limit)
	})
}

func (e *Engine) targetKeys(t Table) *stream[int64] {
	return newStream(e.cfg.ReconcilePage, identity, func(ctx context.Context, after int64, limit int) ([]int64, error) {
		return e.target.KeysAfter(ctx, t, after, limit)
	})
}

// copyKeys reads keys from the source and writes them to the archive.
func (e *Engine) copyKeys(ctx context.Context, t Table, keys []int64) (int64, error) {
	raw, err := e.source.ReadKeys(ctx, t, keys)
	if err != nil {
		return 0, err
	}
	rows, err := normalizeAll(t, raw)
	if err != nil {
		return 0, err
	}
	return e.target.Write(ctx, t, rows)
}

func (e *Engine) healed(ctx context.Context, t Table, what string, before, after int64) {
	e.logger.Info("archive table healed",
		zap.String("table", t.Target),
		zap.String("detail", what),
		zap.Int64("before", before),
		zap.Int64("after", after))
	e.notifier.Notify(ctx, fmt.Sprintf("archive %s: %s healed, %s (rows %d -> %d)", e.name, t.Target, what, before, after))
}
