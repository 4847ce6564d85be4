package sqlite

import (
	"database/sql"
	"fmt"
)

// Timestamps are stored as unix nanoseconds in UTC.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	avatar        TEXT NOT NULL DEFAULT '',
	is_admin      BOOLEAN NOT NULL DEFAULT 0,
	is_banned     BOOLEAN NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	last_login_at INTEGER
);

CREATE TABLE IF NOT EXISTS channels (
	channel_id  TEXT PRIMARY KEY COLLATE NOCASE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_public   BOOLEAN NOT NULL DEFAULT 1,
	is_active   BOOLEAN NOT NULL DEFAULT 1,
	is_banned   BOOLEAN NOT NULL DEFAULT 0,
	creator_id  TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_members (
	channel_id TEXT NOT NULL COLLATE NOCASE,
	user_id    TEXT NOT NULL,
	joined_at  INTEGER NOT NULL,
	PRIMARY KEY (channel_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id     TEXT NOT NULL COLLATE NOCASE,
	author_user_id TEXT,
	username       TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL,
	timestamp      INTEGER NOT NULL,
	is_system      BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS activation_codes (
	code       TEXT PRIMARY KEY,
	is_used    BOOLEAN NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, id);
CREATE INDEX IF NOT EXISTS idx_channel_members_user ON channel_members(user_id);
CREATE INDEX IF NOT EXISTS idx_channels_creator ON channels(creator_id);
`

// Migrate applies the schema. It is safe to run on every start.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
