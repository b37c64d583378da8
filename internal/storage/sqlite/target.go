package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JakeFAU/ocsync/internal/archive"
	"github.com/JakeFAU/ocsync/internal/sqlbatch"
)

// Limits bounds the statements the SQLite stores build.
type Limits struct {
	// MaxParams is the bound parameter ceiling per statement.
	MaxParams int
	// SafetyMargin rows are subtracted from every computed chunk.
	SafetyMargin int
}

func (l Limits) withDefaults() Limits {
	if l.MaxParams <= 0 {
		l.MaxParams = sqlbatch.SQLiteMaxParams
	}
	if l.SafetyMargin < 0 {
		l.SafetyMargin = 0
	}
	return l
}

func (l Limits) chunk(columns int) int {
	return sqlbatch.ChunkSize(l.MaxParams, columns, l.SafetyMargin)
}

// Target writes archive tables.
type Target struct {
	db     *sql.DB
	limits Limits
}

var _ archive.Target = (*Target)(nil)

// NewTarget wraps an archive database opened with ArchiveSchema.
func NewTarget(db *sql.DB, limits Limits) (*Target, error) {
	if db == nil {
		return nil, fmt.Errorf("archive db is required")
	}
	return &Target{db: db, limits: limits.withDefaults()}, nil
}

func archiveQueries(t archive.Table) archive.Queries {
	return archive.Queries{Dialect: sqlbatch.SQLite, Table: t, Archive: true}
}

// MaxCursor reads MAX(cursor) from the archive table.
func (s *Target) MaxCursor(ctx context.Context, t archive.Table) (archive.Cursor, error) {
	q := archiveQueries(t).MaxCursor()
	var v any
	if err := s.db.QueryRowContext(ctx, q.SQL).Scan(&v); err != nil {
		return archive.Cursor{}, fmt.Errorf("max cursor %s: %w", t.Target, err)
	}
	c, err := t.ParseCursor(v)
	if err != nil {
		return archive.Cursor{}, fmt.Errorf("max cursor %s: %w", t.Target, err)
	}
	return c, nil
}

// Count returns the archive row count.
func (s *Target) Count(ctx context.Context, t archive.Table) (int64, error) {
	q := archiveQueries(t).Count()
	var n int64
	if err := s.db.QueryRowContext(ctx, q.SQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.Target, err)
	}
	return n, nil
}

func (s *Target) builder(t archive.Table) sqlbatch.Builder {
	b := sqlbatch.Builder{
		Dialect:         sqlbatch.SQLite,
		Table:           t.Target,
		Columns:         t.TargetColumns(),
		ConflictColumns: []string{t.Columns[0].Target},
	}
	switch t.Mode {
	case archive.ModeUpsert:
		b.Mode = sqlbatch.Upsert
	default:
		b.Mode = sqlbatch.InsertIgnore
	}
	return b
}

// Write stores rows in chunks sized to the parameter ceiling. Upsert tables
// with a unique column first drop archive rows that hold an incoming unique
// value under another key.
func (s *Target) Write(ctx context.Context, t archive.Table, rows []archive.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	b := s.builder(t)
	size := b.ChunkRows(s.limits.MaxParams, s.limits.SafetyMargin)
	preDelete := t.Mode == archive.ModeUpsert && t.UniqueColumn > 0
	if preDelete {
		size = min(size, s.limits.chunk(2))
	}
	if size <= 0 {
		return 0, fmt.Errorf("write %s: %d columns exceed %d parameters", t.Target, len(t.Columns), s.limits.MaxParams)
	}

	var written int64
	for _, chunk := range sqlbatch.Chunks(rows, size) {
		query, err := b.Build(len(chunk))
		if err != nil {
			return written, fmt.Errorf("write %s: %w", t.Target, err)
		}
		args := make([]any, 0, len(chunk)*len(t.Columns))
		for _, r := range chunk {
			args = append(args, r...)
		}
		var n int64
		err = RunTx(ctx, s.db, func(tx *sql.Tx) error {
			if preDelete {
				if err := deleteUniqueConflicts(ctx, tx, t, chunk); err != nil {
					return err
				}
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			n, _ = res.RowsAffected()
			return nil
		})
		if err != nil {
			return written, fmt.Errorf("write %s: %w", t.Target, err)
		}
		written += n
	}
	return written, nil
}

func deleteUniqueConflicts(ctx context.Context, tx *sql.Tx, t archive.Table, chunk []archive.Row) error {
	n := len(chunk)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN %s AND %s NOT IN %s",
		t.Target,
		t.Columns[t.UniqueColumn].Target, sqlbatch.InList(sqlbatch.SQLite, 1, n),
		t.Columns[0].Target, sqlbatch.InList(sqlbatch.SQLite, n+1, n),
	)
	args := make([]any, 0, 2*n)
	for _, r := range chunk {
		args = append(args, r[t.UniqueColumn])
	}
	for _, r := range chunk {
		args = append(args, r[0])
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s conflicts: %w", t.Columns[t.UniqueColumn].Target, err)
	}
	return nil
}

// KeysAfter pages archive keys.
func (s *Target) KeysAfter(ctx context.Context, t archive.Table, afterKey int64, limit int) ([]int64, error) {
	keys, err := queryKeys(ctx, s.db, archiveQueries(t).KeysAfter(afterKey, limit))
	if err != nil {
		return nil, fmt.Errorf("page %s keys: %w", t.Target, err)
	}
	return keys, nil
}

// ValuesAfter pages (key, value) pairs of one archive column.
func (s *Target) ValuesAfter(ctx context.Context, t archive.Table, column int, afterKey int64, limit int) ([]archive.KeyValue, error) {
	values, err := queryValues(ctx, s.db, archiveQueries(t).ValuesAfter(column, afterKey, limit))
	if err != nil {
		return nil, fmt.Errorf("page %s values: %w", t.Target, err)
	}
	return values, nil
}

// UpdateValues rewrites one column for each key with CASE updates.
func (s *Target) UpdateValues(ctx context.Context, t archive.Table, column int, values []archive.KeyValue) (int64, error) {
	size := s.limits.chunk(sqlbatch.CaseUpdateParamsPerRow)
	var updated int64
	for _, chunk := range sqlbatch.Chunks(values, size) {
		query, err := sqlbatch.BuildCaseUpdate(sqlbatch.SQLite, t.Target, t.Columns[0].Target, t.Columns[column].Target, len(chunk))
		if err != nil {
			return updated, err
		}
		args := make([]any, 0, 3*len(chunk))
		for _, kv := range chunk {
			args = append(args, kv.Key, kv.Value)
		}
		for _, kv := range chunk {
			args = append(args, kv.Key)
		}
		n, err := execTx(ctx, s.db, query, args)
		if err != nil {
			return updated, fmt.Errorf("update %s.%s: %w", t.Target, t.Columns[column].Target, err)
		}
		updated += n
	}
	return updated, nil
}

// DeleteKeys removes rows by key.
func (s *Target) DeleteKeys(ctx context.Context, t archive.Table, keys []int64) (int64, error) {
	var deleted int64
	for _, chunk := range sqlbatch.Chunks(keys, s.limits.chunk(1)) {
		q := archiveQueries(t).DeleteKeys(chunk)
		n, err := execTx(ctx, s.db, q.SQL, q.Args)
		if err != nil {
			return deleted, fmt.Errorf("delete from %s: %w", t.Target, err)
		}
		deleted += n
	}
	return deleted, nil
}

func execTx(ctx context.Context, db *sql.DB, query string, args []any) (int64, error) {
	var n int64
	err := RunTx(ctx, db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
