package sqlite

// schema is the embedded SQLite schema. All statements are idempotent so the
// store can be opened against an existing database file.
const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	embedding       BLOB,
	category_id     TEXT,
	source_platform TEXT NOT NULL DEFAULT 'chat',
	occurred_at     TIMESTAMP,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	deleted_at      TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_user_created
	ON memories(user_id, created_at DESC);

-- External-content FTS5 index over title and content, kept in sync by triggers.
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	title, content,
	content='memories', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, title, content)
	VALUES (new.rowid, new.title, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, title, content)
	VALUES ('delete', old.rowid, old.title, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, title, content)
	VALUES ('delete', old.rowid, old.title, old.content);
	INSERT INTO memories_fts(rowid, title, content)
	VALUES (new.rowid, new.title, new.content);
END;

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
	similarity_score REAL NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
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
	remind_at  TIMESTAMP NOT NULL,
	channels   TEXT NOT NULL DEFAULT '[]',
	status     TEXT NOT NULL DEFAULT 'pending',
	sent_at    TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, remind_at);
CREATE INDEX IF NOT EXISTS idx_reminders_user ON reminders(user_id, remind_at);

CREATE TABLE IF NOT EXISTS conversations (
	user_id          TEXT NOT NULL,
	channel          TEXT NOT NULL,
	history          TEXT NOT NULL DEFAULT '[]',
	mode             TEXT NOT NULL DEFAULT 'recall',
	pending_question TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, channel)
);

CREATE TABLE IF NOT EXISTS channel_identities (
	channel          TEXT NOT NULL,
	external_user_id TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (channel, external_user_id)
);

CREATE INDEX IF NOT EXISTS idx_identities_user
	ON channel_identities(user_id, channel);
`
