package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/steveyegge/convmerge/internal/types"
)

// CreateMessage inserts a new message
func (s *PostgresStorage) CreateMessage(ctx context.Context, msg *types.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, direction, sent_at) VALUES ($1, $2, $3, $4)
	`, msg.ID, msg.ConversationID, string(msg.Direction), msg.SentAt)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	return nil
}

// CountMessages returns the number of messages owned by a conversation
func (s *PostgresStorage) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = $1
	`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages for conversation %s: %w", conversationID, err)
	}
	return count, nil
}

// ReassignMessages moves every message of fromID to toID in one statement.
// The target row is locked for the duration so it cannot be deleted underneath.
func (s *PostgresStorage) ReassignMessages(ctx context.Context, fromID, toID string) (int, error) {
	if fromID == toID {
		return 0, fmt.Errorf("cannot reassign messages of %s to itself", fromID)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var live int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT id FROM conversations WHERE id = $1 AND deleted_at IS NULL FOR UPDATE
		) target
	`, toID).Scan(&live)
	if err != nil {
		return 0, fmt.Errorf("failed to check target conversation %s: %w", toID, err)
	}
	if live == 0 {
		return 0, fmt.Errorf("target conversation %s: %w", toID, types.ErrNotFound)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE messages SET conversation_id = $1 WHERE conversation_id = $2
	`, toID, fromID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign messages from %s to %s: %w", fromID, toID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit reassignment: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
