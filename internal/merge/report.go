package merge

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Phase is how far processing of a duplicate group got
type Phase string

const (
	PhasePlanned   Phase = "planned"
	PhaseSimulated Phase = "simulated"
	PhaseExecuted  Phase = "executed"
	// PhaseSkipped means another worker held one of the group's conversations
	PhaseSkipped Phase = "skipped"
	PhaseFailed  Phase = "failed"
)

// GroupReport describes one duplicate group
type GroupReport struct {
	Phase         Phase      `json:"phase"`
	Plan          *MergePlan `json:"plan"`
	MessagesMoved int        `json:"messages_moved"`
	Merged        int        `json:"merged"`
	Error         string     `json:"error,omitempty"`
}

// SessionReport accumulates the counters of one session
type SessionReport struct {
	SessionID           string        `json:"session_id"`
	Phone               string        `json:"phone"`
	Conversations       int           `json:"conversations_scanned"`
	DuplicateGroups     int           `json:"duplicate_groups"`
	ConversationsMerged int           `json:"conversations_merged"`
	MessagesMoved       int           `json:"messages_moved"`
	Groups              []GroupReport `json:"groups,omitempty"`
	Err                 error         `json:"-"`
	Error               string        `json:"error,omitempty"`
}

// Failed reports whether processing of the session was aborted
func (s *SessionReport) Failed() bool {
	return s.Err != nil
}

// fail aborts the session with err
func (s *SessionReport) fail(err error) {
	s.Err = err
	s.Error = err.Error()
}

// addGroup folds a finished group into the session counters
func (s *SessionReport) addGroup(g GroupReport) {
	s.Groups = append(s.Groups, g)
	s.DuplicateGroups++
	s.ConversationsMerged += g.Merged
	s.MessagesMoved += g.MessagesMoved
}

// Report is the result of one engine run
type Report struct {
	RunID                    string           `json:"run_id"`
	Simulated                bool             `json:"simulated"`
	StartedAt                time.Time        `json:"started_at"`
	FinishedAt               time.Time        `json:"finished_at"`
	Sessions                 []*SessionReport `json:"sessions"`
	TotalDuplicateGroups     int              `json:"total_duplicate_groups"`
	TotalConversationsMerged int              `json:"total_conversations_merged"`
	TotalMessagesMoved       int              `json:"total_messages_moved"`
	FailedSessions           int              `json:"failed_sessions"`
}

// Add folds a session's counters into the run totals
func (r *Report) Add(s *SessionReport) {
	r.Sessions = append(r.Sessions, s)
	r.TotalDuplicateGroups += s.DuplicateGroups
	r.TotalConversationsMerged += s.ConversationsMerged
	r.TotalMessagesMoved += s.MessagesMoved
	if s.Failed() {
		r.FailedSessions++
	}
}

// HasFailures reports whether any session failed
func (r *Report) HasFailures() bool {
	return r.FailedSessions > 0
}

// Duration is the wall time of the run
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// WriteJSON writes the report as indented JSON
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
