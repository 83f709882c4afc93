package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steveyegge/convmerge/internal/events"
)

// RecordMergeEvent appends an entry to the merge audit trail
func (s *SQLiteStorage) RecordMergeEvent(ctx context.Context, event *events.MergeEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	dataJSON, err := event.DataJSON()
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO merge_events (
			type, run_id, session_id, normalized_key, survivor_id,
			duplicate_id, messages_moved, message, data, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.Type, event.RunID, event.SessionID, event.NormalizedKey, event.SurvivorID,
		event.DuplicateID, event.MessagesMoved, event.Message, dataJSON, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to store merge event (type=%s, run=%s): %w", event.Type, event.RunID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get merge event id: %w", err)
	}
	event.ID = id
	return nil
}

// ListMergeEvents returns merge events matching the filter, newest first
func (s *SQLiteStorage) ListMergeEvents(ctx context.Context, filter events.MergeEventFilter) ([]*events.MergeEvent, error) {
	query := `
		SELECT id, type, run_id, session_id, normalized_key, survivor_id,
		       duplicate_id, messages_moved, message, data, timestamp
		FROM merge_events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}

	query += " ORDER BY id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge events: %w", err)
	}
	defer rows.Close()

	return scanMergeEvents(rows)
}

func scanMergeEvents(rows *sql.Rows) ([]*events.MergeEvent, error) {
	var result []*events.MergeEvent
	for rows.Next() {
		var e events.MergeEvent
		var dataJSON string
		if err := rows.Scan(
			&e.ID, &e.Type, &e.RunID, &e.SessionID, &e.NormalizedKey, &e.SurvivorID,
			&e.DuplicateID, &e.MessagesMoved, &e.Message, &dataJSON, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan merge event: %w", err)
		}
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
