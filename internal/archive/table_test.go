package archive

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuiltInTablesValidate(t *testing.T) {
	t.Parallel()

	for _, tbl := range append(PrimaryTables(), CommentTables()...) {
		require.NoError(t, tbl.Validate(), tbl.Target)
	}
}

func TestValidateRejectsBadSpecs(t *testing.T) {
	t.Parallel()

	base := Table{Source: "s", Target: "t", Columns: []Column{{Source: "id", Target: "id"}, {Source: "at", Target: "at"}}}
	require.NoError(t, base.Validate())

	bad := base
	bad.Target = "t; drop"
	require.Error(t, bad.Validate())

	bad = base
	bad.CursorColumn = 5
	require.Error(t, bad.Validate())

	bad = base
	bad.CursorColumn = 1
	require.Error(t, bad.Validate(), "id cursors must sit on the key")

	bad.CursorKind = CursorTime
	require.NoError(t, bad.Validate())
}

func TestNormalizeFormatsTimesAndWidensInts(t *testing.T) {
	t.Parallel()

	tbl := Table{
		Source: "s", Target: "t",
		Columns: []Column{
			{Source: "id", Target: "id"},
			{Source: "n", Target: "n"},
			{Source: "d", Target: "d", Date: true},
			{Source: "at", Target: "at"},
			{Source: "b", Target: "b"},
			{Source: "x", Target: "x"},
		},
	}
	at := time.Date(2026, 2, 3, 4, 5, 6, 7000, time.FixedZone("JST", 9*3600))
	row, err := tbl.Normalize(Row{int32(1), int16(2), at, at, []byte("bytes"), nil})
	require.NoError(t, err)
	require.Equal(t, Row{int64(1), int64(2), "2026-02-02", "2026-02-02 19:05:06.000007", "bytes", nil}, row)

	_, err = tbl.Normalize(Row{int64(1)})
	require.Error(t, err)
}

func TestPositionOfTimeCursor(t *testing.T) {
	t.Parallel()

	tbl := PrimaryTables()[0]
	row := make(Row, len(tbl.Columns))
	row[0] = int64(42)
	row[tbl.CursorColumn] = "2026-01-01 10:00:00.000001"

	pos, err := tbl.PositionOf(row)
	require.NoError(t, err)
	require.EqualValues(t, 42, pos.Key)
	require.True(t, pos.Cursor.Valid)
	require.Equal(t, time.Date(2026, 1, 1, 10, 0, 0, 1000, time.UTC), pos.Cursor.Time)

	c, err := tbl.ParseCursor(nil)
	require.NoError(t, err)
	require.False(t, c.Valid)
	require.Equal(t, "<empty>", c.String())
	require.EqualValues(t, math.MaxInt64, Beyond(c).Key)
}

func pager(keys []int64, calls *int) func(context.Context, int64, int) ([]int64, error) {
	return func(_ context.Context, after int64, limit int) ([]int64, error) {
		*calls++
		var out []int64
		for _, k := range keys {
			if k > after && len(out) < limit {
				out = append(out, k)
			}
		}
		return out, nil
	}
}

func TestMergeWalkPagesBothSides(t *testing.T) {
	t.Parallel()

	var srcCalls, dstCalls int
	src := newStream(2, identity, pager([]int64{1, 3, 4, 7, 9}, &srcCalls))
	dst := newStream(2, identity, pager([]int64{2, 3, 7, 8, 10, 11}, &dstCalls))

	var left, right, both []int64
	err := mergeWalk(context.Background(), src, dst,
		func(k int64) error { left = append(left, k); return nil },
		func(k int64) error { right = append(right, k); return nil },
		func(l, _ int64) error { both = append(both, l); return nil },
	)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 4, 9}, left)
	require.Equal(t, []int64{2, 8, 10, 11}, right)
	require.Equal(t, []int64{3, 7}, both)
	require.Equal(t, 3, srcCalls, "two full pages and one short page")
	require.Equal(t, 4, dstCalls, "three full pages and one empty page")
}

func TestMergeWalkStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	var calls int
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := newStream(2, identity, pager([]int64{1, 2}, &calls))
	dst := newStream(2, identity, pager(nil, &calls))
	require.ErrorIs(t, mergeWalk(ctx, src, dst, nil, nil, nil), context.Canceled)
}

func TestBatcher(t *testing.T) {
	t.Parallel()

	var got [][]int
	b := &batcher[int]{size: 2, flush: func(items []int) error { got = append(got, items); return nil }}
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.add(i))
	}
	require.NoError(t, b.drain())
	require.NoError(t, b.drain())
	require.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, got)
}
