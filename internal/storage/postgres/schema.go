package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent so the store can be opened against an
// existing database. The vector extension must already be enabled; New
// creates it before applying this schema.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    content         TEXT NOT NULL,
    summary         TEXT NOT NULL DEFAULT '',
    embedding       vector,
    category_id     TEXT,
    source_platform TEXT NOT NULL DEFAULT 'chat',
    occurred_at     TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_memories_user_created
    ON memories(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_deleted_at ON memories(deleted_at);

CREATE TABLE IF NOT EXISTS tags (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    name            TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    usage_count     INTEGER NOT NULL DEFAULT 0,
    UNIQUE(user_id, name)
);

CREATE INDEX IF NOT EXISTS idx_tags_user_usage
    ON tags(user_id, usage_count DESC);

CREATE TABLE IF NOT EXISTS memory_tags (
    memory_id TEXT NOT NULL,
    tag_id    TEXT NOT NULL,
    PRIMARY KEY (memory_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag_id);

-- One row per unordered pair; canonical ordering enforced by the CHECK.
CREATE TABLE IF NOT EXISTS relationships (
    memory_a_id      TEXT NOT NULL,
    memory_b_id      TEXT NOT NULL,
    relation_type    TEXT NOT NULL,
    similarity_score DOUBLE PRECISION NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (memory_a_id, memory_b_id),
    CHECK (memory_a_id < memory_b_id)
);

CREATE INDEX IF NOT EXISTS idx_relationships_b ON relationships(memory_b_id);

CREATE TABLE IF NOT EXISTS reminders (
    id         TEXT PRIMARY KEY,
    memory_id  TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    title      TEXT NOT NULL,
    summary    TEXT NOT NULL DEFAULT '',
    remind_at  TIMESTAMPTZ NOT NULL,
    channels   JSONB NOT NULL DEFAULT '[]',
    status     TEXT NOT NULL DEFAULT 'pending',
    sent_at    TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, remind_at);
CREATE INDEX IF NOT EXISTS idx_reminders_user ON reminders(user_id, remind_at);

CREATE TABLE IF NOT EXISTS conversations (
    user_id          TEXT NOT NULL,
    channel          TEXT NOT NULL,
    history          JSONB NOT NULL DEFAULT '[]',
    mode             TEXT NOT NULL DEFAULT 'recall',
    pending_question TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, channel)
);

CREATE TABLE IF NOT EXISTS channel_identities (
    channel          TEXT NOT NULL,
    external_user_id TEXT NOT NULL,
    user_id          TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (channel, external_user_id)
);

CREATE INDEX IF NOT EXISTS idx_identities_user
    ON channel_identities(user_id, channel);
`

// MigrationFTS adds tsvector full-text search over memory title and content.
// A regular tsvector column (not GENERATED ALWAYS AS) is used for maximum
// compatibility across PostgreSQL versions. Safe to run multiple times.
const MigrationFTS = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'content_tsv'
    ) THEN
        ALTER TABLE memories ADD COLUMN content_tsv tsvector;
    END IF;
END
$$;

UPDATE memories
SET content_tsv = to_tsvector('english', COALESCE(title, '') || ' ' || content)
WHERE content_tsv IS NULL;

CREATE INDEX IF NOT EXISTS idx_memories_content_tsv ON memories USING GIN(content_tsv);

CREATE OR REPLACE FUNCTION memories_tsv_update()
RETURNS TRIGGER AS $$
BEGIN
    NEW.content_tsv := to_tsvector('english',
        COALESCE(NEW.title, '') || ' ' || COALESCE(NEW.content, ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memories_tsv_trigger ON memories;
CREATE TRIGGER memories_tsv_trigger
    BEFORE INSERT OR UPDATE OF title, content
    ON memories
    FOR EACH ROW
    EXECUTE FUNCTION memories_tsv_update();
`

// MigrationVectorIndex creates the ivfflat index for approximate
// nearest-neighbor search. ivfflat requires at least one row to exist, so
// the creation is guarded; it takes effect on restarts once data is present.
const MigrationVectorIndex = `
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_memories_embedding_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM memories WHERE embedding IS NOT NULL LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_memories_embedding_cosine ON memories USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
