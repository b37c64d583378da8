package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ocsync/internal/store"
)

const (
	insertMemberHourly = `
INSERT INTO member_hourly (open_chat_id, member, time)
SELECT id, member, $1 FROM open_chat
ON CONFLICT (open_chat_id, time) DO UPDATE SET member = EXCLUDED.member`

	// The first sample of a day is kept; the archive copies daily rows once.
	insertDailyStatistics = `
INSERT INTO daily_statistics (open_chat_id, member, date)
SELECT id, member, $1::date FROM open_chat
ON CONFLICT (open_chat_id, date) DO NOTHING`
)

// RefreshMemberColumns samples every member count into member_hourly and
// daily_statistics. It returns the number of hourly samples written.
func (s *CatalogStore) RefreshMemberColumns(ctx context.Context, at time.Time) (int64, error) {
	var sampled int64
	at = at.UTC()
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertMemberHourly, at)
		if err != nil {
			return fmt.Errorf("sample member_hourly: %w", err)
		}
		sampled = tag.RowsAffected()
		if _, err := tx.Exec(ctx, insertDailyStatistics, at); err != nil {
			return fmt.Errorf("sample daily_statistics: %w", err)
		}
		return nil
	})
	return sampled, err
}

const insertRankingDeltas = `
INSERT INTO ranking_delta_hour (open_chat_id, diff_member, percent_increase, time)
SELECT cur.open_chat_id,
	cur.member - prev.member,
	CASE WHEN prev.member = 0 THEN 0 ELSE (cur.member - prev.member) * 100.0 / prev.member END,
	$1
FROM member_hourly cur
JOIN member_hourly prev ON prev.open_chat_id = cur.open_chat_id
WHERE cur.time = (SELECT MAX(time) FROM member_hourly)
  AND prev.time = (SELECT MAX(time) FROM member_hourly WHERE time < (SELECT MAX(time) FROM member_hourly))`

// ComputeRankingDeltas rebuilds ranking_delta_hour from the two most recent
// member_hourly samples.
func (s *CatalogStore) ComputeRankingDeltas(ctx context.Context, at time.Time) (int64, error) {
	var written int64
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ranking_delta_hour`); err != nil {
			return fmt.Errorf("clear ranking_delta_hour: %w", err)
		}
		tag, err := tx.Exec(ctx, insertRankingDeltas, at.UTC())
		if err != nil {
			return fmt.Errorf("fill ranking_delta_hour: %w", err)
		}
		written = tag.RowsAffected()
		return nil
	})
	return written, err
}

// MissingInvitations lists entities with an empty invitation_url.
func (s *CatalogStore) MissingInvitations(ctx context.Context, limit int) ([]store.Candidate, error) {
	const query = `SELECT id, emid FROM open_chat WHERE invitation_url = '' ORDER BY id LIMIT $1`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select missing invitations: %w", err)
	}
	return collectCandidates(rows)
}

// SetInvitationURL stores url and bumps updated_at so the archive picks it up.
func (s *CatalogStore) SetInvitationURL(ctx context.Context, id int64, url string) error {
	const query = `UPDATE open_chat SET invitation_url = $2, updated_at = $3 WHERE id = $1 AND invitation_url <> $2`
	if _, err := s.db.Exec(ctx, query, id, url, s.now()); err != nil {
		return fmt.Errorf("set invitation url %d: %w", id, err)
	}
	return nil
}

const (
	closeRankingBans = `
UPDATE ranking_ban b SET ended_at = $1
WHERE b.ended_at IS NULL
  AND (EXISTS (SELECT 1 FROM ranking r WHERE r.open_chat_id = b.open_chat_id)
    OR EXISTS (SELECT 1 FROM rising r WHERE r.open_chat_id = b.open_chat_id))`

	openRankingBans = `
INSERT INTO ranking_ban (open_chat_id, started_at)
SELECT oc.id, $1 FROM open_chat oc
WHERE oc.member >= $2
  AND NOT EXISTS (SELECT 1 FROM ranking r WHERE r.open_chat_id = oc.id)
  AND NOT EXISTS (SELECT 1 FROM rising r WHERE r.open_chat_id = oc.id)
  AND NOT EXISTS (SELECT 1 FROM ranking_ban b WHERE b.open_chat_id = oc.id AND b.ended_at IS NULL)`
)

// RefreshRankingBan closes bans of entities that are ranked again, then opens
// bans for entities of at least minMember members missing from every snapshot.
func (s *CatalogStore) RefreshRankingBan(ctx context.Context, at time.Time, minMember int) (opened, closed int64, err error) {
	at = at.UTC()
	err = inTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, closeRankingBans, at)
		if err != nil {
			return fmt.Errorf("close ranking bans: %w", err)
		}
		closed = tag.RowsAffected()
		tag, err = tx.Exec(ctx, openRankingBans, at, minMember)
		if err != nil {
			return fmt.Errorf("open ranking bans: %w", err)
		}
		opened = tag.RowsAffected()
		return nil
	})
	return opened, closed, err
}
