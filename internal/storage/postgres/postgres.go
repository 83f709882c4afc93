package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/steveyegge/convmerge/internal/types"
)

// PostgresStorage implements the Storage interface using PostgreSQL
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// Config holds PostgreSQL connection configuration
type Config struct {
	// DSN, when set, takes precedence over the individual fields
	DSN             string
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "convmerge",
		User:            "convmerge",
		SSLMode:         "prefer",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		HealthCheck:     1 * time.Minute,
	}
}

// ConnString builds the connection string for cfg
func (c *Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

var keywordPassword = regexp.MustCompile(`password=\S+`)

// Redacted returns the connection string with the password masked
func (c *Config) Redacted() string {
	conn := c.ConnString()
	u, err := url.Parse(conn)
	if err != nil || u.User == nil {
		return keywordPassword.ReplaceAllString(conn, "password=xxxxx")
	}
	if pass, ok := u.User.Password(); ok && pass != "" {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// New creates a new PostgreSQL storage backend with connection pooling
func New(ctx context.Context, cfg *Config) (*PostgresStorage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheck > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheck
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// initializeSchema creates all tables and indexes if they don't exist
func initializeSchema(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Close closes the connection pool and releases all resources
func (s *PostgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// CreateSession inserts a new session
func (s *PostgresStorage) CreateSession(ctx context.Context, session *types.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, phone, name, created_at) VALUES ($1, $2, $3, $4)
	`, session.ID, session.Phone, session.Name, session.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("session %s already exists: %w", session.ID, err)
		}
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *PostgresStorage) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, phone, name, created_at FROM sessions WHERE id = $1
	`, id).Scan(&session.ID, &session.Phone, &session.Name, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

// ListSessions returns all sessions ordered by creation time
func (s *PostgresStorage) ListSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.pool.Query(ctx, `
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

// GetSessionStats returns per-session conversation and message counts
func (s *PostgresStorage) GetSessionStats(ctx context.Context) ([]*types.SessionStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.phone, s.name, s.created_at,
		       COUNT(DISTINCT c.id) FILTER (WHERE NOT c.is_group),
		       COUNT(DISTINCT c.id) FILTER (WHERE c.is_group),
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
func (s *PostgresStorage) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetConfig sets a configuration value in the config table
func (s *PostgresStorage) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}
