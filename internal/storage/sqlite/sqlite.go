package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/steveyegge/convmerge/internal/storage/migrations"
	"github.com/steveyegge/convmerge/internal/types"
)

// MemoryPath opens an in-memory database (useful for tests)
const MemoryPath = ":memory:"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// New creates a new SQLite storage backend
func New(path string) (*SQLiteStorage, error) {
	ctx := context.Background()

	dsn := MemoryPath + "?_foreign_keys=ON"
	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// WAL mode lets simulations read while a merge writes
		dsn = path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == MemoryPath {
		// Each pooled connection would get its own in-memory database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := migrations.NewManager(schemaMigrations...).ApplySQLite(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStorage{
		db:   db,
		path: path,
	}, nil
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// CreateSession inserts a new session
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *types.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, phone, name, created_at) VALUES (?, ?, ?, ?)
	`, session.ID, session.Phone, session.Name, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, phone, name, created_at FROM sessions WHERE id = ?
	`, id).Scan(&session.ID, &session.Phone, &session.Name, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

// ListSessions returns all sessions ordered by creation time
func (s *SQLiteStorage) ListSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone, name, created_at FROM sessions ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		var session types.Session
		if err := rows.Scan(&session.ID, &session.Phone, &session.Name, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// GetSessionStats returns per-session conversation and message counts.
// Soft-deleted conversations are not counted.
func (s *SQLiteStorage) GetSessionStats(ctx context.Context) ([]*types.SessionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.phone, s.name, s.created_at,
		       COUNT(DISTINCT CASE WHEN c.is_group = 0 THEN c.id END),
		       COUNT(DISTINCT CASE WHEN c.is_group = 1 THEN c.id END),
		       COUNT(m.id)
		FROM sessions s
		LEFT JOIN conversations c ON c.session_id = s.id AND c.deleted_at IS NULL
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY s.id, s.phone, s.name, s.created_at
		ORDER BY s.created_at, s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query session stats: %w", err)
	}
	defer rows.Close()

	var stats []*types.SessionStats
	for rows.Next() {
		var st types.SessionStats
		if err := rows.Scan(
			&st.Session.ID, &st.Session.Phone, &st.Session.Name, &st.Session.CreatedAt,
			&st.Conversations, &st.GroupConversations, &st.Messages,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session stats: %w", err)
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session stats: %w", err)
	}
	return stats, nil
}

// GetConfig gets a configuration value from the config table
func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig sets a configuration value in the config table
func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
