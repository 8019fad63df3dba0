package store

const schemaVersion = 1

// schema creates the tables on first open. Rows of extended_toc are keyed
// by asset and clause number; position keeps document order.
const schema = `
CREATE TABLE IF NOT EXISTS assets (
	asset_id    TEXT PRIMARY KEY,
	source      TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL DEFAULT '',
	page_count  INTEGER NOT NULL DEFAULT 0,
	entry_count INTEGER NOT NULL DEFAULT 0,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS extended_toc (
	asset_id      TEXT NOT NULL,
	clause_number TEXT NOT NULL,
	description   TEXT NOT NULL,
	page_no       INTEGER NOT NULL,
	position      INTEGER NOT NULL,
	PRIMARY KEY (asset_id, clause_number)
);

CREATE INDEX IF NOT EXISTS extended_toc_position ON extended_toc (asset_id, position);
`
