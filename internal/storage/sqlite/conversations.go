package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/convmerge/internal/types"
)

const conversationColumns = `
	id, session_id, remote_jid, contact_phone, contact_name,
	is_group, last_activity_at, created_at, deleted_at
`

// CreateConversation inserts a new conversation
func (s *SQLiteStorage) CreateConversation(ctx context.Context, conv *types.Conversation) error {
	if err := conv.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = conv.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			id, session_id, remote_jid, contact_phone, contact_name,
			is_group, last_activity_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID, conv.SessionID, conv.RemoteJID, conv.ContactPhone, conv.ContactName,
		conv.IsGroup, conv.LastActivityAt, conv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation %s: %w", conv.ID, err)
	}
	return nil
}

// GetConversation retrieves a live (not soft-deleted) conversation by ID
func (s *SQLiteStorage) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ? AND deleted_at IS NULL
	`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return conv, nil
}

// ListConversations returns the live conversations of a session in insertion order.
// Soft-deleted conversations are never returned.
func (s *SQLiteStorage) ListConversations(ctx context.Context, sessionID string, includeGroups bool) ([]*types.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE session_id = ? AND deleted_at IS NULL
	`
	if !includeGroups {
		query += " AND is_group = 0"
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var convs []*types.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return convs, nil
}

// DeleteConversation soft-deletes a conversation.
// It refuses while any message still references the conversation.
func (s *SQLiteStorage) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
		  AND NOT EXISTS (SELECT 1 FROM messages WHERE conversation_id = ?)
	`, time.Now(), id, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	// Work out why nothing was deleted
	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	remaining, err := s.CountMessages(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("conversation %s still owns %d message(s): %w", id, remaining, types.ErrHasMessages)
}

// AbsorbConversation refreshes a merge survivor: last activity is raised to
// lastActivity if later, and contactName is adopted only when the survivor has none.
func (s *SQLiteStorage) AbsorbConversation(ctx context.Context, id string, lastActivity time.Time, contactName string) error {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	// Timestamps are stored as text, so compare in Go rather than in SQL
	if lastActivity.After(conv.LastActivityAt) {
		conv.LastActivityAt = lastActivity
	}
	if conv.ContactName == "" {
		conv.ContactName = contactName
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_activity_at = ?, contact_name = ?
		WHERE id = ? AND deleted_at IS NULL
	`, conv.LastActivityAt, conv.ContactName, id)
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*types.Conversation, error) {
	var conv types.Conversation
	var deletedAt sql.NullTime
	if err := row.Scan(
		&conv.ID, &conv.SessionID, &conv.RemoteJID, &conv.ContactPhone, &conv.ContactName,
		&conv.IsGroup, &conv.LastActivityAt, &conv.CreatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		conv.DeletedAt = &deletedAt.Time
	}
	return &conv, nil
}
