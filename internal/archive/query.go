package archive

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/ocsync/internal/sqlbatch"
)

// Query is one rendered statement with its arguments.
type Query struct {
	SQL  string
	Args []any
}

// Queries renders the read statements shared by every Source and Target
// backend for one table, from either its source or its archive side.
type Queries struct {
	Dialect sqlbatch.Dialect
	Table   Table
	// Archive selects target table and column names.
	Archive bool
}

func (q Queries) table() string {
	if q.Archive {
		return q.Table.Target
	}
	return q.Table.Source
}

func (q Queries) column(i int) string {
	if q.Archive {
		return q.Table.Columns[i].Target
	}
	return q.Table.Columns[i].Source
}

func (q Queries) columns() string {
	if q.Archive {
		return strings.Join(q.Table.TargetColumns(), ", ")
	}
	return strings.Join(q.Table.SourceColumns(), ", ")
}

func (q Queries) ph(n int) string {
	return sqlbatch.Placeholder(q.Dialect, n)
}

// CursorArg binds a cursor value the way the backend stores it: SQLite keeps
// times as fixed-width text.
func (q Queries) CursorArg(c Cursor) any {
	if c.Kind == CursorID {
		return c.ID
	}
	if q.Dialect == sqlbatch.SQLite {
		return c.Time.UTC().Format(TimeLayout)
	}
	return c.Time.UTC()
}

// MaxCursor renders SELECT MAX(cursor).
func (q Queries) MaxCursor() Query {
	return Query{SQL: fmt.Sprintf("SELECT MAX(%s) FROM %s", q.column(q.Table.CursorColumn), q.table())}
}

// Count renders a full row count.
func (q Queries) Count() Query {
	return Query{SQL: fmt.Sprintf("SELECT COUNT(*) FROM %s", q.table())}
}

// CountAfter counts rows strictly beyond after.
func (q Queries) CountAfter(after Cursor) Query {
	if !after.Valid {
		return q.Count()
	}
	return Query{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s > %s", q.table(), q.column(q.Table.CursorColumn), q.ph(1)),
		Args: []any{q.CursorArg(after)},
	}
}

// ReadAfter pages rows strictly after pos in (cursor, key) order.
func (q Queries) ReadAfter(pos Position, limit int) Query {
	key := q.column(0)
	cur := q.column(q.Table.CursorColumn)
	cols := q.columns()
	table := q.table()
	switch {
	case q.Table.CursorIsKey():
		after := int64(0)
		if pos.Cursor.Valid {
			after = pos.Cursor.ID
		}
		return Query{
			SQL:  fmt.Sprintf("SELECT %s FROM %s WHERE %s > %s ORDER BY %s LIMIT %s", cols, table, key, q.ph(1), key, q.ph(2)),
			Args: []any{after, limit},
		}
	case !pos.Cursor.Valid:
		return Query{
			SQL:  fmt.Sprintf("SELECT %s FROM %s ORDER BY %s, %s LIMIT %s", cols, table, cur, key, q.ph(1)),
			Args: []any{limit},
		}
	default:
		return Query{
			SQL: fmt.Sprintf("SELECT %s FROM %s WHERE (%s, %s) > (%s, %s) ORDER BY %s, %s LIMIT %s",
				cols, table, cur, key, q.ph(1), q.ph(2), cur, key, q.ph(3)),
			Args: []any{q.CursorArg(pos.Cursor), pos.Key, limit},
		}
	}
}

// KeysAfter pages primary keys.
func (q Queries) KeysAfter(afterKey int64, limit int) Query {
	key := q.column(0)
	return Query{
		SQL:  fmt.Sprintf("SELECT %s FROM %s WHERE %s > %s ORDER BY %s LIMIT %s", key, q.table(), key, q.ph(1), key, q.ph(2)),
		Args: []any{afterKey, limit},
	}
}

// ValuesAfter pages (key, column) pairs.
func (q Queries) ValuesAfter(column int, afterKey int64, limit int) Query {
	key := q.column(0)
	return Query{
		SQL: fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s > %s ORDER BY %s LIMIT %s",
			key, q.column(column), q.table(), key, q.ph(1), key, q.ph(2)),
		Args: []any{afterKey, limit},
	}
}

// ReadKeys selects rows by key. PostgreSQL binds the whole key list as one
// array; SQLite binds one parameter per key, so callers chunk keys first.
func (q Queries) ReadKeys(keys []int64) Query {
	key := q.column(0)
	if q.Dialect == sqlbatch.Postgres {
		return Query{
			SQL:  fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY(%s) ORDER BY %s", q.columns(), q.table(), key, q.ph(1), key),
			Args: []any{keys},
		}
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return Query{
		SQL:  fmt.Sprintf("SELECT %s FROM %s WHERE %s IN %s ORDER BY %s", q.columns(), q.table(), key, sqlbatch.InList(q.Dialect, 1, len(keys)), key),
		Args: args,
	}
}

// DeleteKeys deletes rows by key; callers chunk keys first.
func (q Queries) DeleteKeys(keys []int64) Query {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return Query{
		SQL:  fmt.Sprintf("DELETE FROM %s WHERE %s IN %s", q.table(), q.column(0), sqlbatch.InList(q.Dialect, 1, len(keys))),
		Args: args,
	}
}
