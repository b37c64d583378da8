package archive

import "context"

// Source is the side rows are copied from. Every method reads one bounded
// page and releases its connection before returning.
type Source interface {
	// CountAfter counts rows whose cursor is strictly beyond after.
	CountAfter(ctx context.Context, t Table, after Cursor) (int64, error)
	// ReadAfter returns up to limit raw rows strictly after pos in
	// (cursor, key) order.
	ReadAfter(ctx context.Context, t Table, pos Position, limit int) ([]Row, error)
	// KeysAfter returns up to limit keys greater than afterKey, ascending.
	KeysAfter(ctx context.Context, t Table, afterKey int64, limit int) ([]int64, error)
	// ReadKeys returns the raw rows for keys; missing keys are skipped.
	ReadKeys(ctx context.Context, t Table, keys []int64) ([]Row, error)
	// ValuesAfter returns up to limit (key, Columns[column]) pairs with key
	// greater than afterKey, ascending.
	ValuesAfter(ctx context.Context, t Table, column int, afterKey int64, limit int) ([]KeyValue, error)
}

// Target is the archive side.
type Target interface {
	// MaxCursor returns MAX(cursor column), the empty cursor for an empty table.
	MaxCursor(ctx context.Context, t Table) (Cursor, error)
	// Write stores normalized rows according to t.Mode in parameter-safe
	// chunks and returns the rows affected.
	Write(ctx context.Context, t Table, rows []Row) (int64, error)
	KeysAfter(ctx context.Context, t Table, afterKey int64, limit int) ([]int64, error)
	ValuesAfter(ctx context.Context, t Table, column int, afterKey int64, limit int) ([]KeyValue, error)
	// UpdateValues sets Columns[column] for each key.
	UpdateValues(ctx context.Context, t Table, column int, values []KeyValue) (int64, error)
	DeleteKeys(ctx context.Context, t Table, keys []int64) (int64, error)
	Count(ctx context.Context, t Table) (int64, error)
}
