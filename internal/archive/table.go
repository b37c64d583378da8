package archive

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/JakeFAU/ocsync/internal/sqlbatch"
)

// Archive timestamp layouts. Fixed width keeps text ordering chronological.
const (
	TimeLayout = "2006-01-02 15:04:05.000000"
	DateLayout = "2006-01-02"
)

// CursorKind tells how a table's high-water mark is typed.
type CursorKind int

// Cursor kinds.
const (
	CursorID CursorKind = iota
	CursorTime
)

// Cursor is a table's high-water mark. The zero Cursor means the archive
// table is empty and the whole source is beyond it.
type Cursor struct {
	Kind  CursorKind
	ID    int64
	Time  time.Time
	Valid bool
}

func (c Cursor) String() string {
	switch {
	case !c.Valid:
		return "<empty>"
	case c.Kind == CursorTime:
		return c.Time.UTC().Format(TimeLayout)
	default:
		return strconv.FormatInt(c.ID, 10)
	}
}

// Position is a keyset paging position: rows strictly after (Cursor, Key).
type Position struct {
	Cursor Cursor
	Key    int64
}

// Beyond returns the position that selects rows strictly beyond c.
func Beyond(c Cursor) Position {
	return Position{Cursor: c, Key: math.MaxInt64}
}

// Mode selects the archive write statement.
type Mode int

// Write modes.
const (
	ModeInsertIgnore Mode = iota
	ModeUpsert
)

// Column maps one source column onto its archive column.
type Column struct {
	Source string
	Target string
	// Date formats time values with DateLayout instead of TimeLayout.
	Date bool
}

// Row is one record in column order.
type Row []any

// KeyValue pairs a primary key with one integer column value.
type KeyValue struct {
	Key   int64
	Value int64
}

// Table describes how one source table is copied into one archive table.
// Columns[0] is the integer primary key on both sides.
type Table struct {
	Source  string
	Target  string
	Columns []Column
	// CursorColumn indexes the high-water mark column in Columns.
	CursorColumn int
	CursorKind   CursorKind
	Mode         Mode
	// UniqueColumn indexes a column with its own unique constraint in the
	// archive; rows holding one of the incoming values under a different key
	// are deleted before the upsert. Zero disables the pre-delete.
	UniqueColumn int
	// SyncColumns index integer columns that can change without moving the
	// cursor; they are compared and healed by key.
	SyncColumns []int
	// Verify enables the source-minus-archive key diff.
	Verify bool
	// Retractable rows may disappear from the source; the archive follows
	// both ways.
	Retractable bool
}

// Validate rejects tables whose identifiers or indexes are unusable.
func (t Table) Validate() error {
	if !sqlbatch.ValidIdent(t.Source) || !sqlbatch.ValidIdent(t.Target) {
		return fmt.Errorf("table %q -> %q: invalid name", t.Source, t.Target)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Target)
	}
	for _, c := range t.Columns {
		if !sqlbatch.ValidIdent(c.Source) || !sqlbatch.ValidIdent(c.Target) {
			return fmt.Errorf("table %s: invalid column %q -> %q", t.Target, c.Source, c.Target)
		}
	}
	indexes := append([]int{t.CursorColumn, t.UniqueColumn}, t.SyncColumns...)
	for _, i := range indexes {
		if i < 0 || i >= len(t.Columns) {
			return fmt.Errorf("table %s: column index %d out of range", t.Target, i)
		}
	}
	if t.CursorKind == CursorID && t.CursorColumn != 0 {
		return fmt.Errorf("table %s: id cursors must use the key column", t.Target)
	}
	return nil
}

// SourceColumns lists source column names in order.
func (t Table) SourceColumns() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Source
	}
	return out
}

// TargetColumns lists archive column names in order.
func (t Table) TargetColumns() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Target
	}
	return out
}

// CursorIsKey reports whether the cursor is the primary key itself.
func (t Table) CursorIsKey() bool {
	return t.CursorColumn == 0
}

// Normalize converts driver values of a source row into archive values:
// times become fixed-width UTC text, small integers widen to int64 and
// byte slices become strings.
func (t Table) Normalize(raw Row) (Row, error) {
	if len(raw) != len(t.Columns) {
		return nil, fmt.Errorf("table %s: row has %d values, want %d", t.Target, len(raw), len(t.Columns))
	}
	out := make(Row, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case time.Time:
			if t.Columns[i].Date {
				out[i] = x.UTC().Format(DateLayout)
			} else {
				out[i] = x.UTC().Format(TimeLayout)
			}
		case *time.Time:
			if x == nil {
				out[i] = nil
				continue
			}
			if t.Columns[i].Date {
				out[i] = x.UTC().Format(DateLayout)
			} else {
				out[i] = x.UTC().Format(TimeLayout)
			}
		case int:
			out[i] = int64(x)
		case int16:
			out[i] = int64(x)
		case int32:
			out[i] = int64(x)
		case []byte:
			out[i] = string(x)
		default:
			out[i] = v
		}
	}
	return out, nil
}

// KeyOf extracts the primary key of a row.
func (t Table) KeyOf(row Row) (int64, error) {
	return toInt64(row[0])
}

// PositionOf returns the keyset position of a row.
func (t Table) PositionOf(row Row) (Position, error) {
	key, err := t.KeyOf(row)
	if err != nil {
		return Position{}, fmt.Errorf("table %s: key: %w", t.Target, err)
	}
	c, err := t.cursorValue(row[t.CursorColumn])
	if err != nil {
		return Position{}, fmt.Errorf("table %s: cursor: %w", t.Target, err)
	}
	return Position{Cursor: c, Key: key}, nil
}

// ParseCursor converts a MAX(cursor) value into a Cursor; nil yields the
// empty cursor.
func (t Table) ParseCursor(v any) (Cursor, error) {
	if v == nil {
		return Cursor{Kind: t.CursorKind}, nil
	}
	return t.cursorValue(v)
}

func (t Table) cursorValue(v any) (Cursor, error) {
	if t.CursorKind == CursorID {
		id, err := toInt64(v)
		if err != nil {
			return Cursor{}, err
		}
		return Cursor{Kind: CursorID, ID: id, Valid: true}, nil
	}
	ts, err := toTime(v)
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{Kind: CursorTime, Time: ts, Valid: true}, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected integer value %T", v)
	}
}

var timeLayouts = []string{TimeLayout, "2006-01-02 15:04:05", time.RFC3339Nano, DateLayout}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return x.UTC(), nil
	case []byte:
		return toTime(string(x))
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable time %q", x)
	default:
		return time.Time{}, fmt.Errorf("unexpected time value %T", v)
	}
}
