package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JakeFAU/ocsync/internal/archive"
	"github.com/JakeFAU/ocsync/internal/sqlbatch"
)

// Source reads import source tables from an SQLite database, the comment
// store in production.
type Source struct {
	db     *sql.DB
	limits Limits
}

var _ archive.Source = (*Source)(nil)

// NewSource wraps db.
func NewSource(db *sql.DB, limits Limits) (*Source, error) {
	if db == nil {
		return nil, fmt.Errorf("source db is required")
	}
	return &Source{db: db, limits: limits.withDefaults()}, nil
}

func sourceQueries(t archive.Table) archive.Queries {
	return archive.Queries{Dialect: sqlbatch.SQLite, Table: t}
}

// CountAfter counts rows beyond the archive high-water mark.
func (s *Source) CountAfter(ctx context.Context, t archive.Table, after archive.Cursor) (int64, error) {
	q := sourceQueries(t).CountAfter(after)
	var n int64
	if err := s.db.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s after %s: %w", t.Source, after, err)
	}
	return n, nil
}

// ReadAfter returns one keyset page.
func (s *Source) ReadAfter(ctx context.Context, t archive.Table, pos archive.Position, limit int) ([]archive.Row, error) {
	rows, err := queryRows(ctx, s.db, sourceQueries(t).ReadAfter(pos, limit), len(t.Columns))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.Source, err)
	}
	return rows, nil
}

// ReadKeys returns rows for keys, one parameter-safe chunk at a time.
func (s *Source) ReadKeys(ctx context.Context, t archive.Table, keys []int64) ([]archive.Row, error) {
	var out []archive.Row
	for _, chunk := range sqlbatch.Chunks(keys, s.limits.chunk(1)) {
		rows, err := queryRows(ctx, s.db, sourceQueries(t).ReadKeys(chunk), len(t.Columns))
		if err != nil {
			return nil, fmt.Errorf("read %s by key: %w", t.Source, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// KeysAfter pages source keys.
func (s *Source) KeysAfter(ctx context.Context, t archive.Table, afterKey int64, limit int) ([]int64, error) {
	keys, err := queryKeys(ctx, s.db, sourceQueries(t).KeysAfter(afterKey, limit))
	if err != nil {
		return nil, fmt.Errorf("page %s keys: %w", t.Source, err)
	}
	return keys, nil
}

// ValuesAfter pages (key, value) pairs.
func (s *Source) ValuesAfter(ctx context.Context, t archive.Table, column int, afterKey int64, limit int) ([]archive.KeyValue, error) {
	values, err := queryValues(ctx, s.db, sourceQueries(t).ValuesAfter(column, afterKey, limit))
	if err != nil {
		return nil, fmt.Errorf("page %s values: %w", t.Source, err)
	}
	return values, nil
}
