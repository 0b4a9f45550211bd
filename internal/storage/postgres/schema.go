package postgres

// Schema is the embedded PostgreSQL schema, applied on open. The embedding
// column uses the pgvector type so similarity search runs inside the
// database instead of a separate index process. Importance is persisted as
// an INTEGER 0..100 scale; the 0..1 form is restored on read.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	character_id     TEXT NOT NULL,
	content          TEXT NOT NULL,
	category         TEXT NOT NULL,
	importance       INTEGER NOT NULL DEFAULT 50,
	embedding        vector(384),
	timestamp        TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ,
	decay_rate       DOUBLE PRECISION NOT NULL DEFAULT 0,
	content_hash     TEXT NOT NULL DEFAULT '',
	metadata         JSONB
);

CREATE INDEX IF NOT EXISTS idx_memories_character
	ON memories(character_id);

CREATE INDEX IF NOT EXISTS idx_memories_character_category
	ON memories(character_id, category);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
	ON memories USING hnsw (embedding vector_cosine_ops);
`
