package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JakeFAU/ocsync/internal/archive"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRows(ctx context.Context, db querier, q archive.Query, columns int) ([]archive.Row, error) {
	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []archive.Row
	for rows.Next() {
		values := make([]any, columns)
		ptrs := make([]any, columns)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, archive.Row(values))
	}
	return out, rows.Err()
}

func queryKeys(ctx context.Context, db querier, q archive.Query) ([]int64, error) {
	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func queryValues(ctx context.Context, db querier, q archive.Query) ([]archive.KeyValue, error) {
	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []archive.KeyValue
	for rows.Next() {
		var kv archive.KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}
