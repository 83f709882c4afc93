package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/convmerge/internal/events"
	"github.com/steveyegge/convmerge/internal/storage/postgres"
	"github.com/steveyegge/convmerge/internal/storage/sqlite"
	"github.com/steveyegge/convmerge/internal/types"
)

// Storage defines the interface for conversation storage backends
type Storage interface {
	// Sessions
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context) ([]*types.Session, error)
	GetSessionStats(ctx context.Context) ([]*types.SessionStats, error)

	// Conversations - reads never return soft-deleted rows
	CreateConversation(ctx context.Context, conv *types.Conversation) error
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)
	ListConversations(ctx context.Context, sessionID string, includeGroups bool) ([]*types.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	AbsorbConversation(ctx context.Context, id string, lastActivity time.Time, contactName string) error

	// Messages
	CreateMessage(ctx context.Context, msg *types.Message) error
	CountMessages(ctx context.Context, conversationID string) (int, error)
	ReassignMessages(ctx context.Context, fromID, toID string) (int, error)

	// Merge audit trail
	RecordMergeEvent(ctx context.Context, event *events.MergeEvent) error
	ListMergeEvents(ctx context.Context, filter events.MergeEventFilter) ([]*events.MergeEvent, error)

	// Config
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Locking - held for the duration of a live merge run
	AcquireMergeLock(ctx context.Context, holder string) (release func() error, err error)

	// Lifecycle
	Close() error
}

// Backend names
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds database configuration
type Config struct {
	// Backend is "sqlite" (default) or "postgres"
	Backend string

	// Path is the SQLite database file path
	// Default: ".convmerge/convmerge.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string

	// Postgres holds connection settings for the postgres backend
	Postgres *postgres.Config
}

// DefaultPath is the default SQLite database location
const DefaultPath = ".convmerge/convmerge.db"

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend:  BackendSQLite,
		Path:     DefaultPath,
		Postgres: postgres.DefaultConfig(),
	}
}

// NewStorage creates the storage backend selected by cfg
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "", BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		return sqlite.New(path)
	case BackendPostgres:
		return postgres.New(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %s or %s)", cfg.Backend, BackendSQLite, BackendPostgres)
	}
}
