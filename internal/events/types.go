package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event recorded in the merge audit trail.
type EventType string

const (
	// EventTypeConversationMerged indicates a duplicate conversation was merged into its survivor
	EventTypeConversationMerged EventType = "conversation_merged"
	// EventTypeMergeRunCompleted indicates a non-simulated merge run finished
	EventTypeMergeRunCompleted EventType = "merge_run_completed"
)

// IsValid checks if the event type value is valid
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeConversationMerged, EventTypeMergeRunCompleted:
		return true
	}
	return false
}

// MergeEvent is one entry of the merge audit trail.
type MergeEvent struct {
	// ID is assigned by the store
	ID int64 `json:"id"`
	// Type is the kind of event
	Type EventType `json:"type"`
	// RunID groups all events written by one engine run
	RunID string `json:"run_id"`
	// SessionID is empty for run-level events
	SessionID string `json:"session_id,omitempty"`
	// NormalizedKey is the identity key shared by the merged conversations
	NormalizedKey string `json:"normalized_key,omitempty"`
	// SurvivorID is the conversation that received the messages
	SurvivorID string `json:"survivor_id,omitempty"`
	// DuplicateID is the conversation that was removed
	DuplicateID string `json:"duplicate_id,omitempty"`
	// MessagesMoved is the number of messages reassigned
	MessagesMoved int `json:"messages_moved"`
	// Message is a human-readable summary
	Message string `json:"message,omitempty"`
	// Data holds run-level counters
	Data map[string]interface{} `json:"data,omitempty"`
	// Timestamp is when the event happened
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks if the event has valid field values
func (e *MergeEvent) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type: %s", e.Type)
	}
	if e.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if e.Type == EventTypeConversationMerged {
		if e.SurvivorID == "" || e.DuplicateID == "" {
			return fmt.Errorf("survivor_id and duplicate_id are required for %s", e.Type)
		}
		if e.SurvivorID == e.DuplicateID {
			return fmt.Errorf("survivor_id and duplicate_id must differ (got %s)", e.SurvivorID)
		}
	}
	if e.MessagesMoved < 0 {
		return fmt.Errorf("messages_moved cannot be negative (got %d)", e.MessagesMoved)
	}
	return nil
}

// DataJSON returns Data encoded for storage ("{}" when empty)
func (e *MergeEvent) DataJSON() (string, error) {
	if len(e.Data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}
	return string(b), nil
}

// SetDataJSON decodes stored event data
func (e *MergeEvent) SetDataJSON(raw string) error {
	if raw == "" || raw == "{}" {
		e.Data = nil
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &e.Data); err != nil {
		return fmt.Errorf("failed to unmarshal event data: %w", err)
	}
	return nil
}

// MergeEventFilter defines criteria for listing merge events.
type MergeEventFilter struct {
	// SessionID filters events by session
	SessionID string
	// RunID filters events by run
	RunID string
	// Type filters events by type
	Type EventType
	// Limit limits the number of events returned (0 = no limit)
	Limit int
}
