package postgres

import (
	"context"
	"fmt"
)

// Schema creates every primary store table when missing.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_state (
	type  TEXT PRIMARY KEY,
	bool  BOOLEAN NOT NULL DEFAULT false,
	extra TEXT
);

CREATE TABLE IF NOT EXISTS open_chat (
	id               BIGSERIAL PRIMARY KEY,
	emid             TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	img_url          TEXT NOT NULL,
	member           INTEGER NOT NULL,
	category         INTEGER NOT NULL DEFAULT 0,
	emblem           INTEGER NOT NULL DEFAULT 0,
	join_method_type INTEGER NOT NULL DEFAULT 0,
	invitation_url   TEXT NOT NULL DEFAULT '',
	api_created_at   TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS open_chat_updated_at_idx ON open_chat (updated_at, id);

CREATE TABLE IF NOT EXISTS ranking (
	category         INTEGER NOT NULL,
	position         INTEGER NOT NULL,
	open_chat_id     BIGINT NOT NULL,
	diff_member      INTEGER NOT NULL DEFAULT 0,
	percent_increase DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (category, position)
);

CREATE TABLE IF NOT EXISTS rising (
	category         INTEGER NOT NULL,
	position         INTEGER NOT NULL,
	open_chat_id     BIGINT NOT NULL,
	diff_member      INTEGER NOT NULL DEFAULT 0,
	percent_increase DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (category, position)
);

CREATE TABLE IF NOT EXISTS ranking_position_history (
	id           BIGSERIAL PRIMARY KEY,
	open_chat_id BIGINT NOT NULL,
	category     INTEGER NOT NULL,
	sort         TEXT NOT NULL,
	position     INTEGER NOT NULL,
	time         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS open_chat_deleted (
	id           BIGSERIAL PRIMARY KEY,
	open_chat_id BIGINT NOT NULL,
	emid         TEXT NOT NULL,
	deleted_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS member_hourly (
	open_chat_id BIGINT NOT NULL,
	member       INTEGER NOT NULL,
	time         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (open_chat_id, time)
);

CREATE TABLE IF NOT EXISTS daily_statistics (
	id           BIGSERIAL PRIMARY KEY,
	open_chat_id BIGINT NOT NULL,
	member       INTEGER NOT NULL,
	date         DATE NOT NULL,
	UNIQUE (open_chat_id, date)
);

CREATE TABLE IF NOT EXISTS ranking_delta_hour (
	open_chat_id     BIGINT PRIMARY KEY,
	diff_member      INTEGER NOT NULL,
	percent_increase DOUBLE PRECISION NOT NULL,
	time             TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ranking_ban (
	id           BIGSERIAL PRIMARY KEY,
	open_chat_id BIGINT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS ranking_ban_open_idx ON ranking_ban (open_chat_id) WHERE ended_at IS NULL;
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply primary schema: %w", err)
	}
	return nil
}
