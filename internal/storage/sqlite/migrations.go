package sqlite

import "github.com/steveyegge/convmerge/internal/storage/migrations"

// schemaMigrations are applied in order after the base schema
var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "Index messages by conversation for bulk reassignment",
		Up:          `CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
	},
	{
		Version:     2,
		Description: "Add merge audit trail",
		Up: `
			CREATE TABLE IF NOT EXISTS merge_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				type TEXT NOT NULL,
				run_id TEXT NOT NULL,
				session_id TEXT NOT NULL DEFAULT '',
				normalized_key TEXT NOT NULL DEFAULT '',
				survivor_id TEXT NOT NULL DEFAULT '',
				duplicate_id TEXT NOT NULL DEFAULT '',
				messages_moved INTEGER NOT NULL DEFAULT 0,
				message TEXT NOT NULL DEFAULT '',
				data TEXT NOT NULL DEFAULT '{}',
				timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_merge_events_session ON merge_events(session_id);
			CREATE INDEX IF NOT EXISTS idx_merge_events_run ON merge_events(run_id);
		`,
	},
	{
		Version:     3,
		Description: "Index live conversations",
		Up:          `CREATE INDEX IF NOT EXISTS idx_conversations_live ON conversations(session_id) WHERE deleted_at IS NULL`,
	},
}
