package storage

type migration struct {
	version int
	sql     string
}

// migrations are applied in order; each records its version on success.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS rss (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	home         TEXT NOT NULL,
	title        TEXT NOT NULL,
	feed         TEXT NOT NULL,
	latest_title TEXT NOT NULL DEFAULT '',
	latest_link  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS follow_log (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	name   TEXT NOT NULL,
	action TEXT NOT NULL,
	time   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_follow_log_action_time ON follow_log(action, time);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS repo (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	name   TEXT NOT NULL,
	latest TEXT NOT NULL DEFAULT ''
);
`,
	},
}
