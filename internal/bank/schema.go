package bank

import "fmt"

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    object_type TEXT NOT NULL,
    object_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL DEFAULT 0,
    model TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    recency_score REAL,
    metadata TEXT,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now')),
    UNIQUE(user_id, object_type, object_id, chunk_index, model)
);

CREATE INDEX IF NOT EXISTS idx_chunks_user ON chunks(user_id);
CREATE INDEX IF NOT EXISTS idx_chunks_object ON chunks(user_id, object_type, object_id);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    source TEXT NOT NULL,
    external_id TEXT NOT NULL,
    event_type TEXT NOT NULL DEFAULT 'message',
    title TEXT,
    url TEXT,
    importance REAL DEFAULT 0,
    occurred_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    metadata TEXT,
    created_at DATETIME DEFAULT (datetime('now')),
    UNIQUE(user_id, source, external_id)
);

CREATE INDEX IF NOT EXISTS idx_events_user_occurred ON events(user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_events_expires ON events(expires_at);

CREATE TABLE IF NOT EXISTS sync_checkpoints (
    user_id TEXT NOT NULL,
    source TEXT NOT NULL,
    synced_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, source)
);
`

func vecSchema(dim int) string {
	return fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding FLOAT[%d] distance_metric=cosine
);
`, dim)
}

const sqliteTimeLayout = "2006-01-02 15:04:05"
