package postgres

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// migration holds a single schema migration with its target version and SQL.
// Column types are written as {uuid}, {ts}, {json} and {float} and resolved
// per driver.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS notifications (
	id          {uuid} PRIMARY KEY,
	user_id     {uuid} NOT NULL,
	type        VARCHAR(64) NOT NULL,
	title       VARCHAR(200) NOT NULL,
	content     VARCHAR(1000) NOT NULL,
	metadata    {json} NOT NULL DEFAULT '{}',
	is_read     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  {ts} NOT NULL,
	expires_at  {ts} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications(user_id, is_read);
CREATE INDEX IF NOT EXISTS idx_notifications_expires ON notifications(expires_at);

CREATE TABLE IF NOT EXISTS device_tokens (
	id          {uuid} PRIMARY KEY,
	user_id     {uuid} NOT NULL,
	token       TEXT NOT NULL UNIQUE,
	platform    VARCHAR(16) NOT NULL,
	user_agent  TEXT NOT NULL DEFAULT '',
	last_used   {ts} NOT NULL,
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  {ts} NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_device_tokens_active_platform
	ON device_tokens(user_id, platform) WHERE is_active = TRUE;
`,
	},
	{
		// Host product tables read by the detectors. Created only when absent
		// so local and test databases have something to count.
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS users (
	id          {uuid} PRIMARY KEY,
	email       TEXT NOT NULL,
	role        VARCHAR(32) NOT NULL,
	created_at  {ts} NOT NULL
);

CREATE TABLE IF NOT EXISTS candidates (
	id                  VARCHAR(64) PRIMARY KEY,
	user_id             {uuid} NOT NULL,
	name                TEXT NOT NULL,
	job_role            TEXT NOT NULL DEFAULT '',
	status              VARCHAR(32) NOT NULL,
	score               {float},
	processing_time_ms  BIGINT,
	created_at          {ts} NOT NULL,
	updated_at          {ts} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_candidates_status_updated ON candidates(status, updated_at);
`,
	},
}

func dialectTypes(driver string) *strings.Replacer {
	if driver == DriverSQLite {
		return strings.NewReplacer("{uuid}", "TEXT", "{ts}", "TIMESTAMP", "{json}", "TEXT", "{float}", "REAL")
	}
	return strings.NewReplacer("{uuid}", "UUID", "{ts}", "TIMESTAMPTZ", "{json}", "JSONB", "{float}", "DOUBLE PRECISION")
}

// Migrate applies outstanding migrations in order and records each version.
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	types := dialectTypes(db.DriverName())
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := db.Exec(types.Replace(m.sql)); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := db.Exec(db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
	}
	return nil
}
