package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ocsync/internal/archive"
	"github.com/JakeFAU/ocsync/internal/sqlbatch"
)

// ArchiveSource reads primary store tables for the archive import.
type ArchiveSource struct {
	db DB
}

var _ archive.Source = (*ArchiveSource)(nil)

// NewArchiveSource wraps db.
func NewArchiveSource(db DB) (*ArchiveSource, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &ArchiveSource{db: db}, nil
}

func queries(t archive.Table) archive.Queries {
	return archive.Queries{Dialect: sqlbatch.Postgres, Table: t}
}

// CountAfter counts rows beyond the archive high-water mark.
func (s *ArchiveSource) CountAfter(ctx context.Context, t archive.Table, after archive.Cursor) (int64, error) {
	q := queries(t).CountAfter(after)
	var n int64
	if err := s.db.QueryRow(ctx, q.SQL, q.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s after %s: %w", t.Source, after, err)
	}
	return n, nil
}

// ReadAfter returns one keyset page of raw rows.
func (s *ArchiveSource) ReadAfter(ctx context.Context, t archive.Table, pos archive.Position, limit int) ([]archive.Row, error) {
	q := queries(t).ReadAfter(pos, limit)
	return s.readRows(ctx, t, q)
}

// ReadKeys returns the rows for keys.
func (s *ArchiveSource) ReadKeys(ctx context.Context, t archive.Table, keys []int64) ([]archive.Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return s.readRows(ctx, t, queries(t).ReadKeys(keys))
}

func (s *ArchiveSource) readRows(ctx context.Context, t archive.Table, q archive.Query) ([]archive.Row, error) {
	rows, err := s.db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.Source, err)
	}
	defer rows.Close()
	var out []archive.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read %s values: %w", t.Source, err)
		}
		out = append(out, archive.Row(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.Source, err)
	}
	return out, nil
}

// KeysAfter pages source keys.
func (s *ArchiveSource) KeysAfter(ctx context.Context, t archive.Table, afterKey int64, limit int) ([]int64, error) {
	q := queries(t).KeysAfter(afterKey, limit)
	rows, err := s.db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("page %s keys: %w", t.Source, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect %s keys: %w", t.Source, err)
	}
	return keys, nil
}

// ValuesAfter pages (key, value) pairs of one integer column.
func (s *ArchiveSource) ValuesAfter(ctx context.Context, t archive.Table, column int, afterKey int64, limit int) ([]archive.KeyValue, error) {
	q := queries(t).ValuesAfter(column, afterKey, limit)
	rows, err := s.db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("page %s values: %w", t.Source, err)
	}
	defer rows.Close()
	var out []archive.KeyValue
	for rows.Next() {
		var kv archive.KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("scan %s value: %w", t.Source, err)
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s values: %w", t.Source, err)
	}
	return out, nil
}
