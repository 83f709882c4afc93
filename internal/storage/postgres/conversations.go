package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/steveyegge/convmerge/internal/types"
)

const conversationColumns = `
	id, session_id, remote_jid, contact_phone, contact_name,
	is_group, last_activity_at, created_at, deleted_at
`

// CreateConversation inserts a new conversation
func (s *PostgresStorage) CreateConversation(ctx context.Context, conv *types.Conversation) error {
	if err := conv.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = conv.CreatedAt
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (
			id, session_id, remote_jid, contact_phone, contact_name,
			is_group, last_activity_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		conv.ID, conv.SessionID, conv.RemoteJID, conv.ContactPhone, conv.ContactName,
		conv.IsGroup, conv.LastActivityAt, conv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation %s: %w", conv.ID, err)
	}
	return nil
}

// GetConversation retrieves a live conversation by ID
func (s *PostgresStorage) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return conv, nil
}

// ListConversations returns the live conversations of a session in insertion order
func (s *PostgresStorage) ListConversations(ctx context.Context, sessionID string, includeGroups bool) ([]*types.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE session_id = $1 AND deleted_at IS NULL
	`
	if !includeGroups {
		query += " AND NOT is_group"
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, sessionID)
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

// DeleteConversation soft-deletes a conversation that owns no messages
func (s *PostgresStorage) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		  AND NOT EXISTS (SELECT 1 FROM messages WHERE conversation_id = $1)
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	remaining, err := s.CountMessages(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("conversation %s still owns %d message(s): %w", id, remaining, types.ErrHasMessages)
}

// AbsorbConversation refreshes a merge survivor with a duplicate's metadata
func (s *PostgresStorage) AbsorbConversation(ctx context.Context, id string, lastActivity time.Time, contactName string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET last_activity_at = GREATEST(last_activity_at, $2),
		    contact_name = CASE WHEN contact_name = '' THEN $3 ELSE contact_name END
		WHERE id = $1 AND deleted_at IS NULL
	`, id, lastActivity, contactName)
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func scanConversation(row pgx.Row) (*types.Conversation, error) {
	var conv types.Conversation
	if err := row.Scan(
		&conv.ID, &conv.SessionID, &conv.RemoteJID, &conv.ContactPhone, &conv.ContactName,
		&conv.IsGroup, &conv.LastActivityAt, &conv.CreatedAt, &conv.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &conv, nil
}
