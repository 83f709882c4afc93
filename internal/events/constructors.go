package events

import (
	"fmt"
	"time"
)

// NewConversationMergedEvent creates the audit record for one merged duplicate.
func NewConversationMergedEvent(runID, sessionID, key, survivorID, duplicateID string, moved int) *MergeEvent {
	return &MergeEvent{
		Type:          EventTypeConversationMerged,
		RunID:         runID,
		SessionID:     sessionID,
		NormalizedKey: key,
		SurvivorID:    survivorID,
		DuplicateID:   duplicateID,
		MessagesMoved: moved,
		Message:       fmt.Sprintf("merged %s into %s (%d messages)", duplicateID, survivorID, moved),
		Timestamp:     time.Now(),
	}
}

// NewMergeRunCompletedEvent creates the run-level summary record.
func NewMergeRunCompletedEvent(runID string, groups, merged, moved, failedSessions int) *MergeEvent {
	return &MergeEvent{
		Type:          EventTypeMergeRunCompleted,
		RunID:         runID,
		MessagesMoved: moved,
		Message: fmt.Sprintf("%d duplicate group(s), %d conversation(s) merged, %d failed session(s)",
			groups, merged, failedSessions),
		Data: map[string]interface{}{
			"duplicate_groups":     groups,
			"conversations_merged": merged,
			"messages_moved":       moved,
			"failed_sessions":      failedSessions,
		},
		Timestamp: time.Now(),
	}
}
