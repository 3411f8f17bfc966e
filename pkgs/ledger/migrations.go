package ledger

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id     TEXT NOT NULL,
	sender       TEXT NOT NULL,
	subject      TEXT NOT NULL DEFAULT '',
	sent_date    TEXT NOT NULL DEFAULT '',
	body_size    INTEGER NOT NULL DEFAULT 0,
	processed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_cycle ON processed_messages(cycle_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE processed_messages ADD COLUMN archive_folder TEXT NOT NULL DEFAULT '';

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
