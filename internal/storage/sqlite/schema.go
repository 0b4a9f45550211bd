package sqlite

// Schema is the embedded SQLite schema, applied on open. Importance is
// persisted as an INTEGER 0..100 scale; the 0..1 form is restored on read.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	character_id     TEXT NOT NULL,
	content          TEXT NOT NULL,
	category         TEXT NOT NULL,
	importance       INTEGER NOT NULL DEFAULT 50,
	embedding        BLOB,
	timestamp        DATETIME NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at DATETIME,
	decay_rate       REAL NOT NULL DEFAULT 0,
	content_hash     TEXT NOT NULL DEFAULT '',
	metadata         TEXT
);

CREATE INDEX IF NOT EXISTS idx_memories_character
	ON memories(character_id);

CREATE INDEX IF NOT EXISTS idx_memories_character_category
	ON memories(character_id, category);

CREATE INDEX IF NOT EXISTS idx_memories_character_importance
	ON memories(character_id, importance);

CREATE INDEX IF NOT EXISTS idx_memories_content_hash
	ON memories(content_hash);
`
