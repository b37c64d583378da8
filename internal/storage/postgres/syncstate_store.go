package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ocsync/internal/store"
)

// SyncStateStore implements store.SyncState on the sync_state table.
type SyncStateStore struct {
	db DB
}

var _ store.SyncState = (*SyncStateStore)(nil)

// NewSyncStateStore wraps db.
func NewSyncStateStore(db DB) (*SyncStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &SyncStateStore{db: db}, nil
}

// GetBool returns false for a flag that was never written.
func (s *SyncStateStore) GetBool(ctx context.Context, flag store.Flag) (bool, error) {
	var value bool
	err := s.db.QueryRow(ctx, `SELECT bool FROM sync_state WHERE type = $1`, string(flag)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get flag %s: %w", flag, err)
	}
	return value, nil
}

// SetTrue raises flag.
func (s *SyncStateStore) SetTrue(ctx context.Context, flag store.Flag) error {
	return s.setBool(ctx, flag, true)
}

// SetFalse lowers flag.
func (s *SyncStateStore) SetFalse(ctx context.Context, flag store.Flag) error {
	return s.setBool(ctx, flag, false)
}

func (s *SyncStateStore) setBool(ctx context.Context, flag store.Flag, value bool) error {
	const query = `
		INSERT INTO sync_state (type, bool) VALUES ($1, $2)
		ON CONFLICT (type) DO UPDATE SET bool = EXCLUDED.bool`
	if _, err := s.db.Exec(ctx, query, string(flag), value); err != nil {
		return fmt.Errorf("set flag %s: %w", flag, err)
	}
	return nil
}

// GetString returns ok=false when the row or its string column is absent.
func (s *SyncStateStore) GetString(ctx context.Context, flag store.Flag) (string, bool, error) {
	var value *string
	err := s.db.QueryRow(ctx, `SELECT extra FROM sync_state WHERE type = $1`, string(flag)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get string %s: %w", flag, err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

// SetString stores value without touching the boolean column.
func (s *SyncStateStore) SetString(ctx context.Context, flag store.Flag, value string) error {
	const query = `
		INSERT INTO sync_state (type, extra) VALUES ($1, $2)
		ON CONFLICT (type) DO UPDATE SET extra = EXCLUDED.extra`
	if _, err := s.db.Exec(ctx, query, string(flag), value); err != nil {
		return fmt.Errorf("set string %s: %w", flag, err)
	}
	return nil
}
