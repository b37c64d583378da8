package sqlite

// ArchiveSchema creates the archive tables.
const ArchiveSchema = `
CREATE TABLE IF NOT EXISTS openchat_master (
	id               INTEGER PRIMARY KEY,
	emid             TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	img_url          TEXT NOT NULL,
	member           INTEGER NOT NULL,
	category         INTEGER NOT NULL DEFAULT 0,
	emblem           INTEGER NOT NULL DEFAULT 0,
	join_method_type INTEGER NOT NULL DEFAULT 0,
	invitation_url   TEXT NOT NULL DEFAULT '',
	api_created_at   TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS openchat_master_updated_at ON openchat_master (updated_at);

CREATE TABLE IF NOT EXISTS daily_member_statistics (
	id              INTEGER PRIMARY KEY,
	open_chat_id    INTEGER NOT NULL,
	member          INTEGER NOT NULL,
	statistics_date TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ranking_history (
	id           INTEGER PRIMARY KEY,
	open_chat_id INTEGER NOT NULL,
	category     INTEGER NOT NULL,
	sort         TEXT NOT NULL,
	position     INTEGER NOT NULL,
	recorded_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS deleted_openchat (
	id           INTEGER PRIMARY KEY,
	open_chat_id INTEGER NOT NULL,
	emid         TEXT NOT NULL,
	deleted_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS comment (
	comment_id   INTEGER PRIMARY KEY,
	open_chat_id INTEGER NOT NULL,
	id           INTEGER NOT NULL,
	user_id      TEXT NOT NULL,
	name         TEXT NOT NULL,
	text         TEXT NOT NULL,
	time         TEXT NOT NULL,
	flag         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS comment_like (
	id         INTEGER PRIMARY KEY,
	comment_id INTEGER NOT NULL,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	time       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ban_room (
	id           INTEGER PRIMARY KEY,
	open_chat_id INTEGER NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ban_user (
	id         INTEGER PRIMARY KEY,
	user_id    TEXT NOT NULL,
	ip         TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS comment_log (
	id         INTEGER PRIMARY KEY,
	entity_id  INTEGER NOT NULL,
	type       TEXT NOT NULL,
	ip         TEXT NOT NULL,
	ua         TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// CommentSchema creates the comment store tables read by the import.
const CommentSchema = `
CREATE TABLE IF NOT EXISTS comment (
	comment_id   INTEGER PRIMARY KEY,
	open_chat_id INTEGER NOT NULL,
	id           INTEGER NOT NULL,
	user_id      TEXT NOT NULL,
	name         TEXT NOT NULL,
	text         TEXT NOT NULL,
	time         TEXT NOT NULL,
	flag         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS comment_like (
	id         INTEGER PRIMARY KEY,
	comment_id INTEGER NOT NULL,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	time       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ban_room (
	id           INTEGER PRIMARY KEY,
	open_chat_id INTEGER NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ban_user (
	id         INTEGER PRIMARY KEY,
	user_id    TEXT NOT NULL,
	ip         TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS log (
	id         INTEGER PRIMARY KEY,
	entity_id  INTEGER NOT NULL,
	type       TEXT NOT NULL,
	ip         TEXT NOT NULL,
	ua         TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`
