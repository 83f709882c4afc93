package postgres

import (
	"context"
	"fmt"

	"github.com/steveyegge/convmerge/internal/events"
)

// RecordMergeEvent appends an entry to the merge audit trail
func (s *PostgresStorage) RecordMergeEvent(ctx context.Context, event *events.MergeEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	dataJSON, err := event.DataJSON()
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO merge_events (
			type, run_id, session_id, normalized_key, survivor_id,
			duplicate_id, messages_moved, message, data, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
		RETURNING id
	`,
		string(event.Type), event.RunID, event.SessionID, event.NormalizedKey, event.SurvivorID,
		event.DuplicateID, event.MessagesMoved, event.Message, dataJSON, event.Timestamp,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to store merge event (type=%s, run=%s): %w", event.Type, event.RunID, err)
	}
	return nil
}

// ListMergeEvents returns merge events matching the filter, newest first
func (s *PostgresStorage) ListMergeEvents(ctx context.Context, filter events.MergeEventFilter) ([]*events.MergeEvent, error) {
	query := `
		SELECT id, type, run_id, session_id, normalized_key, survivor_id,
		       duplicate_id, messages_moved, message, data::text, timestamp
		FROM merge_events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if filter.RunID != "" {
		args = append(args, filter.RunID)
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}

	query += " ORDER BY id DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge events: %w", err)
	}
	defer rows.Close()

	var result []*events.MergeEvent
	for rows.Next() {
		var e events.MergeEvent
		var eventType, dataJSON string
		if err := rows.Scan(
			&e.ID, &eventType, &e.RunID, &e.SessionID, &e.NormalizedKey, &e.SurvivorID,
			&e.DuplicateID, &e.MessagesMoved, &e.Message, &dataJSON, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan merge event: %w", err)
		}
		e.Type = events.EventType(eventType)
		if err := e.SetDataJSON(dataJSON); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merge events: %w", err)
	}
	return result, nil
}
