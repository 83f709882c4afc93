package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/convmerge/internal/types"
)

// CreateMessage inserts a new message
func (s *SQLiteStorage) CreateMessage(ctx context.Context, msg *types.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, direction, sent_at) VALUES (?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Direction, msg.SentAt)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	return nil
}

// CountMessages returns the number of messages owned by a conversation
func (s *SQLiteStorage) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages for conversation %s: %w", conversationID, err)
	}
	return count, nil
}

// ReassignMessages moves every message of fromID to toID in one statement
// and returns the number of messages moved. The target must be live.
func (s *SQLiteStorage) ReassignMessages(ctx context.Context, fromID, toID string) (int, error) {
	if fromID == toID {
		return 0, fmt.Errorf("cannot reassign messages of %s to itself", fromID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var live int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations WHERE id = ? AND deleted_at IS NULL
	`, toID).Scan(&live)
	if err != nil {
		return 0, fmt.Errorf("failed to check target conversation %s: %w", toID, err)
	}
	if live == 0 {
		return 0, fmt.Errorf("target conversation %s: %w", toID, types.ErrNotFound)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE messages SET conversation_id = ? WHERE conversation_id = ?
	`, toID, fromID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign messages from %s to %s: %w", fromID, toID, err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reassignment: %w", err)
	}
	return int(moved), nil
}
