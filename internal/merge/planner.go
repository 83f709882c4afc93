package merge

import (
	"fmt"
	"time"
)

// PlannedDuplicate is one conversation that will be merged into the survivor
type PlannedDuplicate struct {
	ConversationID string    `json:"conversation_id"`
	RemoteJID      string    `json:"remote_jid"`
	ContactName    string    `json:"contact_name,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MessageCount   int       `json:"message_count"`
}

// MergePlan describes how one duplicate group will be merged. It is never persisted.
type MergePlan struct {
	SessionID        string             `json:"session_id"`
	Key              string             `json:"key"`
	ContactLabel     string             `json:"contact_label"`
	SurvivorID       string             `json:"survivor_id"`
	SurvivorJID      string             `json:"survivor_jid"`
	SurvivorMessages int                `json:"survivor_messages"`
	SurvivorScore    int64              `json:"survivor_score"`
	Duplicates       []PlannedDuplicate `json:"duplicates"`
	Simulated        bool               `json:"simulated"`
}

// BuildPlan enumerates every non-survivor member of the group with its
// message count. Duplicates keep group order. It performs no I/O.
func BuildPlan(sessionID string, group Group, survivor Candidate, counts map[string]int, simulated bool) *MergePlan {
	plan := &MergePlan{
		SessionID:        sessionID,
		Key:              group.Key,
		ContactLabel:     survivor.Conversation.Label(),
		SurvivorID:       survivor.Conversation.ID,
		SurvivorJID:      survivor.Conversation.RemoteJID,
		SurvivorMessages: survivor.MessageCount,
		SurvivorScore:    survivor.Score,
		Simulated:        simulated,
	}
	for _, c := range group.Members {
		if c.ID == plan.SurvivorID {
			continue
		}
		plan.Duplicates = append(plan.Duplicates, PlannedDuplicate{
			ConversationID: c.ID,
			RemoteJID:      c.RemoteJID,
			ContactName:    c.ContactName,
			LastActivityAt: c.LastActivityAt,
			MessageCount:   counts[c.ID],
		})
	}
	return plan
}

// DuplicateIDs returns the IDs of the conversations to be removed
func (p *MergePlan) DuplicateIDs() []string {
	ids := make([]string, len(p.Duplicates))
	for i, d := range p.Duplicates {
		ids[i] = d.ConversationID
	}
	return ids
}

// MessagesToMove is the number of messages the plan reassigns
func (p *MergePlan) MessagesToMove() int {
	total := 0
	for _, d := range p.Duplicates {
		total += d.MessageCount
	}
	return total
}

// TotalMessages is the survivor's expected message count after the merge
func (p *MergePlan) TotalMessages() int {
	return p.SurvivorMessages + p.MessagesToMove()
}

// Validate checks that the plan is internally consistent
func (p *MergePlan) Validate() error {
	if p.SurvivorID == "" {
		return fmt.Errorf("survivor_id is required")
	}
	if len(p.Duplicates) == 0 {
		return fmt.Errorf("plan for key %s has no duplicates", p.Key)
	}
	seen := map[string]bool{p.SurvivorID: true}
	for _, d := range p.Duplicates {
		if seen[d.ConversationID] {
			return fmt.Errorf("conversation %s appears more than once in plan", d.ConversationID)
		}
		seen[d.ConversationID] = true
		if d.MessageCount < 0 {
			return fmt.Errorf("negative message count for %s", d.ConversationID)
		}
	}
	return nil
}
