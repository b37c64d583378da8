// Package sqlbatch builds multi-row INSERT/UPSERT/UPDATE statements whose
// bound-parameter count never exceeds a backend's ceiling.
package sqlbatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Parameter ceilings of the supported backends.
const (
	// SQLiteMaxParams is SQLITE_MAX_VARIABLE_NUMBER for SQLite >= 3.32.
	SQLiteMaxParams = 32766
	// PostgresMaxParams is the wire protocol's int16 parameter count limit.
	PostgresMaxParams = 65535
)

var validIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Dialect selects placeholder and conflict syntax.
type Dialect int

// Supported dialects.
const (
	SQLite Dialect = iota
	Postgres
)

// Mode selects how rows that collide with existing keys are handled.
type Mode int

// Write modes.
const (
	// Insert fails on conflict.
	Insert Mode = iota
	// InsertIgnore keeps the existing row on conflict.
	InsertIgnore
	// Upsert overwrites UpdateColumns of the existing row on conflict.
	Upsert
)

// ChunkSize returns how many rows of columns values fit in one statement:
// floor(maxParams/columns) - margin, at least 1. It returns 0 when a single
// row already exceeds maxParams.
func ChunkSize(maxParams, columns, margin int) int {
	if columns <= 0 || maxParams < columns {
		return 0
	}
	if margin < 0 {
		margin = 0
	}
	n := maxParams/columns - margin
	if n < 1 {
		n = 1
	}
	return n
}

// Chunks splits items into consecutive slices of at most size elements.
func Chunks[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// Flatten concatenates rows into one argument list.
func Flatten(rows [][]any) []any {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]any, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

// Builder renders multi-row write statements for one table.
type Builder struct {
	Dialect Dialect
	Table   string
	Columns []string
	Mode    Mode
	// ConflictColumns name the unique key checked by InsertIgnore and Upsert.
	ConflictColumns []string
	// UpdateColumns are overwritten by Upsert; defaults to every non-conflict column.
	UpdateColumns []string
}

// Validate checks identifiers and mode requirements.
func (b Builder) Validate() error {
	if !validIdent.MatchString(b.Table) {
		return fmt.Errorf("invalid table name %q", b.Table)
	}
	if len(b.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", b.Table)
	}
	for _, group := range [][]string{b.Columns, b.ConflictColumns, b.UpdateColumns} {
		for _, c := range group {
			if !validIdent.MatchString(c) {
				return fmt.Errorf("table %s: invalid column name %q", b.Table, c)
			}
		}
	}
	if b.Mode == Upsert && len(b.ConflictColumns) == 0 {
		return fmt.Errorf("table %s: upsert requires conflict columns", b.Table)
	}
	return nil
}

// Build renders a statement for rows rows. The caller binds
// rows*len(Columns) arguments in row-major order.
func (b Builder) Build(rows int) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	if rows <= 0 {
		return "", fmt.Errorf("table %s: row count must be positive", b.Table)
	}

	var sb strings.Builder
	switch {
	case b.Mode == InsertIgnore && b.Dialect == SQLite:
		sb.WriteString("INSERT OR IGNORE INTO ")
	default:
		sb.WriteString("INSERT INTO ")
	}
	sb.WriteString(b.Table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(b.Columns, ", "))
	sb.WriteString(") VALUES ")

	cols := len(b.Columns)
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.placeholder(r*cols + c + 1))
		}
		sb.WriteByte(')')
	}

	switch b.Mode {
	case InsertIgnore:
		if b.Dialect == Postgres {
			sb.WriteString(" ON CONFLICT DO NOTHING")
		}
	case Upsert:
		sb.WriteString(" ON CONFLICT (")
		sb.WriteString(strings.Join(b.ConflictColumns, ", "))
		sb.WriteString(") DO UPDATE SET ")
		for i, c := range b.updateColumns() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(c)
			sb.WriteString(" = ")
			sb.WriteString(b.excluded())
			sb.WriteString(c)
		}
	}
	return sb.String(), nil
}

// ChunkRows returns the per-statement row count for this builder.
func (b Builder) ChunkRows(maxParams, margin int) int {
	return ChunkSize(maxParams, len(b.Columns), margin)
}

func (b Builder) updateColumns() []string {
	if len(b.UpdateColumns) > 0 {
		return b.UpdateColumns
	}
	conflict := make(map[string]bool, len(b.ConflictColumns))
	for _, c := range b.ConflictColumns {
		conflict[c] = true
	}
	out := make([]string, 0, len(b.Columns))
	for _, c := range b.Columns {
		if !conflict[c] {
			out = append(out, c)
		}
	}
	return out
}

func (b Builder) excluded() string {
	if b.Dialect == Postgres {
		return "EXCLUDED."
	}
	return "excluded."
}

func (b Builder) placeholder(n int) string {
	return Placeholder(b.Dialect, n)
}

// Placeholder renders the n-th (1-based) bind parameter.
func Placeholder(d Dialect, n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// CaseUpdateParamsPerRow is the bound parameters one row costs in BuildCaseUpdate.
const CaseUpdateParamsPerRow = 3

// BuildCaseUpdate renders
//
//	UPDATE table SET column = CASE key WHEN ? THEN ? ... END WHERE key IN (?, ...)
//
// for rows (key, value) pairs. Arguments are bound as all (key, value) pairs
// first, then all keys again.
func BuildCaseUpdate(d Dialect, table, key, column string, rows int) (string, error) {
	for _, ident := range []string{table, key, column} {
		if !validIdent.MatchString(ident) {
			return "", fmt.Errorf("invalid identifier %q", ident)
		}
	}
	if rows <= 0 {
		return "", fmt.Errorf("table %s: row count must be positive", table)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET %s = CASE %s", table, column, key)
	n := 1
	for r := 0; r < rows; r++ {
		fmt.Fprintf(&sb, " WHEN %s THEN %s", Placeholder(d, n), Placeholder(d, n+1))
		n += 2
	}
	fmt.Fprintf(&sb, " END WHERE %s IN (", key)
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Placeholder(d, n))
		n++
	}
	sb.WriteByte(')')
	return sb.String(), nil
}

// InList renders "(?, ?, ...)" for n parameters starting at position start.
func InList(d Dialect, start, n int) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Placeholder(d, start+i))
	}
	sb.WriteByte(')')
	return sb.String()
}

// ValidIdent reports whether s is safe to interpolate as a table or column name.
func ValidIdent(s string) bool {
	return validIdent.MatchString(s)
}
