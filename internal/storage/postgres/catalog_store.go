package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/sqlbatch"
	"github.com/JakeFAU/ocsync/internal/store"
)

// CatalogStore implements store.Catalog and store.Maintenance on the
// primary store tables.
type CatalogStore struct {
	db  DB
	now func() time.Time
}

var (
	_ store.Catalog     = (*CatalogStore)(nil)
	_ store.Maintenance = (*CatalogStore)(nil)
)

// NewCatalogStore wraps db. now defaults to time.Now in UTC.
func NewCatalogStore(db DB, now func() time.Time) (*CatalogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CatalogStore{db: db, now: now}, nil
}

const selectOpenChatByEMID = `SELECT id, member FROM open_chat WHERE emid = $1`

// The WHERE clause suppresses the update, and therefore RETURNING, when no
// field differs, so updated_at only moves on real changes.
const upsertOpenChat = `
INSERT INTO open_chat (
	emid, name, description, img_url, member, category, emblem,
	join_method_type, invitation_url, api_created_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
ON CONFLICT (emid) DO UPDATE SET
	name = EXCLUDED.name,
	description = EXCLUDED.description,
	img_url = EXCLUDED.img_url,
	member = EXCLUDED.member,
	category = EXCLUDED.category,
	emblem = EXCLUDED.emblem,
	join_method_type = EXCLUDED.join_method_type,
	invitation_url = COALESCE(NULLIF(EXCLUDED.invitation_url, ''), open_chat.invitation_url),
	updated_at = EXCLUDED.updated_at
WHERE (open_chat.name, open_chat.description, open_chat.img_url, open_chat.member,
	open_chat.category, open_chat.emblem, open_chat.join_method_type, open_chat.invitation_url)
	IS DISTINCT FROM
	(EXCLUDED.name, EXCLUDED.description, EXCLUDED.img_url, EXCLUDED.member,
	EXCLUDED.category, EXCLUDED.emblem, EXCLUDED.join_method_type,
	COALESCE(NULLIF(EXCLUDED.invitation_url, ''), open_chat.invitation_url))
RETURNING id, (xmax = 0) AS inserted`

// MergeOpenChat upserts on the unique emid.
func (s *CatalogStore) MergeOpenChat(ctx context.Context, e feed.Entity) (store.MergeResult, error) {
	var (
		res      store.MergeResult
		prevID   int64
		prevSeen bool
	)
	err := s.db.QueryRow(ctx, selectOpenChatByEMID, e.EMID).Scan(&prevID, &res.PrevMember)
	switch {
	case err == nil:
		prevSeen = true
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return store.MergeResult{}, fmt.Errorf("lookup open chat %s: %w", e.EMID, err)
	}

	var apiCreatedAt *time.Time
	if !e.CreatedAt.IsZero() {
		t := e.CreatedAt.UTC()
		apiCreatedAt = &t
	}
	var inserted bool
	err = s.db.QueryRow(ctx, upsertOpenChat,
		e.EMID, e.Name, e.Description, e.ImageHash, e.MemberCount, e.Category, e.Emblem(),
		e.JoinMethod, e.InvitationURL, apiCreatedAt, s.now(),
	).Scan(&res.ID, &inserted)
	switch {
	case err == nil:
		res.Created = inserted
		res.Updated = !inserted
		if inserted {
			res.PrevMember = 0
		}
		return res, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Unchanged row.
	default:
		return store.MergeResult{}, fmt.Errorf("upsert open chat %s: %w", e.EMID, err)
	}

	if prevSeen {
		res.ID = prevID
		return res, nil
	}
	// Inserted by someone else between the lookup and the upsert.
	if err := s.db.QueryRow(ctx, selectOpenChatByEMID, e.EMID).Scan(&res.ID, &res.PrevMember); err != nil {
		return store.MergeResult{}, fmt.Errorf("reload open chat %s: %w", e.EMID, err)
	}
	return res, nil
}

func snapshotTable(sort feed.SortKind) (string, error) {
	switch sort {
	case feed.SortRanking:
		return "ranking", nil
	case feed.SortRising:
		return "rising", nil
	default:
		return "", fmt.Errorf("unknown sort kind %q", sort)
	}
}

// ReplaceSnapshot deletes the partition's rows and inserts rows in one
// transaction, then appends them to ranking_position_history.
func (s *CatalogStore) ReplaceSnapshot(ctx context.Context, p feed.Partition, rows []store.SnapshotRow, at time.Time) error {
	table, err := snapshotTable(p.Sort)
	if err != nil {
		return err
	}
	snapshot := sqlbatch.Builder{
		Dialect: sqlbatch.Postgres,
		Table:   table,
		Columns: []string{"category", "position", "open_chat_id", "diff_member", "percent_increase"},
	}
	history := sqlbatch.Builder{
		Dialect: sqlbatch.Postgres,
		Table:   "ranking_position_history",
		Columns: []string{"open_chat_id", "category", "sort", "position", "time"},
	}
	at = at.UTC()

	snapshotArgs := make([][]any, 0, len(rows))
	historyArgs := make([][]any, 0, len(rows))
	for _, r := range rows {
		snapshotArgs = append(snapshotArgs, []any{p.Category, r.Position, r.OpenChatID, r.DiffMember, r.PercentIncrease})
		historyArgs = append(historyArgs, []any{r.OpenChatID, p.Category, string(p.Sort), r.Position, at})
	}

	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE category = $1`, table), p.Category); err != nil {
			return fmt.Errorf("clear %s snapshot: %w", p, err)
		}
		if err := execBatches(ctx, tx, snapshot, snapshotArgs); err != nil {
			return fmt.Errorf("insert %s snapshot: %w", p, err)
		}
		if err := execBatches(ctx, tx, history, historyArgs); err != nil {
			return fmt.Errorf("append %s history: %w", p, err)
		}
		return nil
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func execBatches(ctx context.Context, db execer, b sqlbatch.Builder, rows [][]any) error {
	size := b.ChunkRows(sqlbatch.PostgresMaxParams, 0)
	for _, chunk := range sqlbatch.Chunks(rows, size) {
		query, err := b.Build(len(chunk))
		if err != nil {
			return err
		}
		if _, err := db.Exec(ctx, query, sqlbatch.Flatten(chunk)...); err != nil {
			return err
		}
	}
	return nil
}

const selectExtendedCandidates = `
SELECT oc.id, oc.emid
FROM open_chat oc
WHERE NOT EXISTS (SELECT 1 FROM ranking r WHERE r.open_chat_id = oc.id)
  AND NOT EXISTS (SELECT 1 FROM rising r WHERE r.open_chat_id = oc.id)
  AND (
	SELECT COUNT(DISTINCT ds.member) FROM daily_statistics ds
	WHERE ds.open_chat_id = oc.id AND ds.date >= $1::date
  ) > 1
ORDER BY oc.id
LIMIT NULLIF($2::bigint, 0)`

// ExtendedCandidates lists unranked entities whose daily member samples
// since the given time hold more than one distinct value. A limit of zero or
// less lists every candidate.
func (s *CatalogStore) ExtendedCandidates(ctx context.Context, since time.Time, limit int) ([]store.Candidate, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := s.db.Query(ctx, selectExtendedCandidates, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("select extended candidates: %w", err)
	}
	return collectCandidates(rows)
}

func collectCandidates(rows pgx.Rows) ([]store.Candidate, error) {
	defer rows.Close()
	var out []store.Candidate
	for rows.Next() {
		var c store.Candidate
		if err := rows.Scan(&c.ID, &c.EMID); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// RecordDeleted appends to open_chat_deleted.
func (s *CatalogStore) RecordDeleted(ctx context.Context, c store.Candidate, at time.Time) error {
	const query = `INSERT INTO open_chat_deleted (open_chat_id, emid, deleted_at) VALUES ($1, $2, $3)`
	if _, err := s.db.Exec(ctx, query, c.ID, c.EMID, at.UTC()); err != nil {
		return fmt.Errorf("record deleted %s: %w", c.EMID, err)
	}
	return nil
}
