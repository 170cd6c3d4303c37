package store

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

CREATE TABLE IF NOT EXISTS items (
	id         INTEGER NOT NULL,
	owner_id   TEXT NOT NULL,
	scope_id   INTEGER,
	type       TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL DEFAULT '',
	read       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (id, owner_id)
);

CREATE INDEX IF NOT EXISTS idx_items_owner_created ON items(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_items_owner_read ON items(owner_id, read);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
