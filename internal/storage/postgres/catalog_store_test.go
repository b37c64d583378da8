package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/store"
)

var fixedNow = time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)

func newCatalog(t *testing.T) (*CatalogStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock := newMock(t)
	c, err := NewCatalogStore(mock, func() time.Time { return fixedNow })
	require.NoError(t, err)
	return c, mock
}

func sampleEntity() feed.Entity {
	return feed.Entity{
		EMID:        "em-1",
		Name:        "chat",
		Description: "desc",
		ImageHash:   "img",
		MemberCount: 120,
		Badges:      []int{1},
		JoinMethod:  0,
		Category:    17,
	}
}

func upsertArgs(e feed.Entity) []any {
	return []any{
		e.EMID, e.Name, e.Description, e.ImageHash, e.MemberCount, e.Category, e.Emblem(),
		e.JoinMethod, e.InvitationURL, (*time.Time)(nil), fixedNow,
	}
}

func TestMergeOpenChatCreates(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	e := sampleEntity()

	mock.ExpectQuery("SELECT id, member FROM open_chat WHERE emid").
		WithArgs(e.EMID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO open_chat").
		WithArgs(upsertArgs(e)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(9), true))

	res, err := c.MergeOpenChat(context.Background(), e)
	require.NoError(t, err)
	require.Equal(t, store.MergeResult{ID: 9, Created: true}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeOpenChatUpdatesChangedRow(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	e := sampleEntity()

	mock.ExpectQuery("SELECT id, member FROM open_chat WHERE emid").
		WithArgs(e.EMID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "member"}).AddRow(int64(9), 100))
	mock.ExpectQuery("INSERT INTO open_chat").
		WithArgs(upsertArgs(e)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(9), false))

	res, err := c.MergeOpenChat(context.Background(), e)
	require.NoError(t, err)
	require.Equal(t, store.MergeResult{ID: 9, Updated: true, PrevMember: 100}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeOpenChatUnchangedRowKeepsID(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	e := sampleEntity()

	mock.ExpectQuery("SELECT id, member FROM open_chat WHERE emid").
		WithArgs(e.EMID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "member"}).AddRow(int64(9), 120))
	mock.ExpectQuery("INSERT INTO open_chat").
		WithArgs(upsertArgs(e)...).
		WillReturnError(pgx.ErrNoRows)

	res, err := c.MergeOpenChat(context.Background(), e)
	require.NoError(t, err)
	require.Equal(t, store.MergeResult{ID: 9, PrevMember: 120}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeOpenChatWrapsErrors(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	boom := errors.New("boom")
	e := sampleEntity()
	mock.ExpectQuery("SELECT id, member FROM open_chat WHERE emid").
		WithArgs(e.EMID).
		WillReturnError(boom)

	_, err := c.MergeOpenChat(context.Background(), e)
	require.ErrorIs(t, err, boom)
}

func TestReplaceSnapshotRunsInOneTransaction(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	p := feed.Partition{Sort: feed.SortRising, Category: 2}
	rows := []store.SnapshotRow{
		{Position: 1, OpenChatID: 10, DiffMember: 5, PercentIncrease: 2.5},
		{Position: 2, OpenChatID: 11},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM rising WHERE category = \$1`).
		WithArgs(2).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectExec(`INSERT INTO rising \(category, position, open_chat_id, diff_member, percent_increase\) VALUES \(\$1, \$2, \$3, \$4, \$5\), \(\$6, \$7, \$8, \$9, \$10\)`).
		WithArgs(2, 1, int64(10), 5, 2.5, 2, 2, int64(11), 0, 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`INSERT INTO ranking_position_history`).
		WithArgs(int64(10), 2, "rising", 1, fixedNow, int64(11), 2, "rising", 2, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, c.ReplaceSnapshot(context.Background(), p, rows, fixedNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSnapshotRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	p := feed.Partition{Sort: feed.SortRanking, Category: 17}
	boom := errors.New("insert failed")

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM ranking WHERE category`).
		WithArgs(17).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`INSERT INTO ranking `).
		WithArgs(17, 1, int64(1), 0, 0.0).
		WillReturnError(boom)
	mock.ExpectRollback()

	err := c.ReplaceSnapshot(context.Background(), p, []store.SnapshotRow{{Position: 1, OpenChatID: 1}}, fixedNow)
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSnapshotEmptyOnlyClears(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM ranking WHERE category`).
		WithArgs(3).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	require.NoError(t, c.ReplaceSnapshot(context.Background(), feed.Partition{Sort: feed.SortRanking, Category: 3}, nil, fixedNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendedCandidates(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	since := fixedNow.AddDate(0, 0, -7)
	mock.ExpectQuery("SELECT oc.id, oc.emid").
		WithArgs(since, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "emid"}).AddRow(int64(1), "a").AddRow(int64(4), "d"))

	got, err := c.ExtendedCandidates(context.Background(), since, 50)
	require.NoError(t, err)
	require.Equal(t, []store.Candidate{{ID: 1, EMID: "a"}, {ID: 4, EMID: "d"}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendedCandidatesWithoutCap(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	since := fixedNow.AddDate(0, 0, -7)
	mock.ExpectQuery(`LIMIT NULLIF\(\$2::bigint, 0\)`).
		WithArgs(since, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "emid"}).AddRow(int64(2), "b"))

	got, err := c.ExtendedCandidates(context.Background(), since, 0)
	require.NoError(t, err)
	require.Equal(t, []store.Candidate{{ID: 2, EMID: "b"}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDeleted(t *testing.T) {
	t.Parallel()

	c, mock := newCatalog(t)
	mock.ExpectExec("INSERT INTO open_chat_deleted").
		WithArgs(int64(4), "d", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, c.RecordDeleted(context.Background(), store.Candidate{ID: 4, EMID: "d"}, fixedNow))
	require.NoError(t, mock.ExpectationsWereMet())
}
