package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ocsync/internal/archive"
)

func openChatTable(t *testing.T) archive.Table {
	t.Helper()
	for _, tbl := range archive.PrimaryTables() {
		if tbl.Source == "open_chat" {
			return tbl
		}
	}
	t.Fatal("open_chat table spec missing")
	return archive.Table{}
}

func TestArchiveSourceCountAfter(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	src, err := NewArchiveSource(mock)
	require.NoError(t, err)
	tbl := openChatTable(t)
	high := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM open_chat WHERE updated_at > \$1`).
		WithArgs(high).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM open_chat$`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(10)))

	n, err := src.CountAfter(context.Background(), tbl, archive.Cursor{Kind: archive.CursorTime, Time: high, Valid: true})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	n, err = src.CountAfter(context.Background(), tbl, archive.Cursor{Kind: archive.CursorTime})
	require.NoError(t, err)
	require.EqualValues(t, 10, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveSourceReadAfterUsesRowComparison(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	src, err := NewArchiveSource(mock)
	require.NoError(t, err)
	tbl := openChatTable(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cols := tbl.SourceColumns()
	mock.ExpectQuery(`SELECT id, emid, .* FROM open_chat WHERE \(updated_at, id\) > \(\$1, \$2\) ORDER BY updated_at, id LIMIT \$3`).
		WithArgs(at, int64(7), 100).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			int64(8), "em", "n", "d", "img", int32(5), int32(1), int32(0), int32(0), "", nil, at, at,
		))

	rows, err := src.ReadAfter(context.Background(), tbl,
		archive.Position{Cursor: archive.Cursor{Kind: archive.CursorTime, Time: at, Valid: true}, Key: 7}, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(8), rows[0][0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveSourceKeysAndValues(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	src, err := NewArchiveSource(mock)
	require.NoError(t, err)
	tbl := openChatTable(t)

	mock.ExpectQuery(`SELECT id FROM open_chat WHERE id > \$1 ORDER BY id LIMIT \$2`).
		WithArgs(int64(0), 3).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(5)))
	mock.ExpectQuery(`SELECT id, member FROM open_chat WHERE id > \$1 ORDER BY id LIMIT \$2`).
		WithArgs(int64(5), 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "member"}).AddRow(int64(6), int64(40)))
	mock.ExpectQuery(`FROM open_chat WHERE id = ANY\(\$1\) ORDER BY id`).
		WithArgs([]int64{1, 5}).
		WillReturnRows(pgxmock.NewRows(tbl.SourceColumns()))

	keys, err := src.KeysAfter(context.Background(), tbl, 0, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 5}, keys)

	values, err := src.ValuesAfter(context.Background(), tbl, 5, 5, 2)
	require.NoError(t, err)
	require.Equal(t, []archive.KeyValue{{Key: 6, Value: 40}}, values)

	rows, err := src.ReadKeys(context.Background(), tbl, []int64{1, 5})
	require.NoError(t, err)
	require.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}
