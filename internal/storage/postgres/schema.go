package postgres

const schema = `
-- Sessions table (messaging-channel accounts)
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    phone TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Conversations table; deleted_at marks soft-deleted rows
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    remote_jid TEXT NOT NULL,
    contact_phone TEXT NOT NULL DEFAULT '',
    contact_name TEXT NOT NULL DEFAULT '',
    is_group BOOLEAN NOT NULL DEFAULT FALSE,
    last_activity_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, is_group);
CREATE INDEX IF NOT EXISTS idx_conversations_live ON conversations(session_id) WHERE deleted_at IS NULL;

-- Messages table; content lives elsewhere
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    direction TEXT NOT NULL DEFAULT 'inbound',
    sent_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

-- Merge audit trail
CREATE TABLE IF NOT EXISTS merge_events (
    id BIGSERIAL PRIMARY KEY,
    type TEXT NOT NULL,
    run_id TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    normalized_key TEXT NOT NULL DEFAULT '',
    survivor_id TEXT NOT NULL DEFAULT '',
    duplicate_id TEXT NOT NULL DEFAULT '',
    messages_moved INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    data JSONB NOT NULL DEFAULT '{}',
    timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_merge_events_session ON merge_events(session_id);
CREATE INDEX IF NOT EXISTS idx_merge_events_run ON merge_events(run_id);

-- Config table (key-value store)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
