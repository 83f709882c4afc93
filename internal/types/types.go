package types

import (
	"fmt"
	"strings"
	"time"
)

// Session is one messaging-channel account (a physical phone number)
// under which conversations occur. Sessions are owned by the messaging
// integration and are read-only to the merge engine.
type Session struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Label returns the phone number, or the ID when no phone is recorded
func (s *Session) Label() string {
	if strings.TrimSpace(s.Phone) != "" {
		return s.Phone
	}
	return s.ID
}

// Validate checks if the session has valid field values
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}

// Conversation is one logical thread with a remote contact or group under a Session.
//
// RemoteJID is the provider-assigned channel identifier. The provider does
// not keep it stable for a given phone number, which is how duplicate
// conversations come to exist.
type Conversation struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	RemoteJID      string     `json:"remote_jid"`
	ContactPhone   string     `json:"contact_phone,omitempty"`
	ContactName    string     `json:"contact_name,omitempty"`
	IsGroup        bool       `json:"is_group"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Validate checks if the conversation has valid field values
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if c.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if c.RemoteJID == "" {
		return fmt.Errorf("remote_jid is required")
	}
	return nil
}

// IsDeleted reports whether the conversation has been soft-deleted
func (c *Conversation) IsDeleted() bool {
	return c.DeletedAt != nil
}

// Label returns a human-readable contact label for operator output
func (c *Conversation) Label() string {
	switch {
	case strings.TrimSpace(c.ContactName) != "":
		return c.ContactName
	case strings.TrimSpace(c.ContactPhone) != "":
		return c.ContactPhone
	default:
		return c.RemoteJID
	}
}

// Direction is the send direction of a message
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// IsValid checks if the direction value is valid
func (d Direction) IsValid() bool {
	switch d {
	case DirectionInbound, DirectionOutbound:
		return true
	}
	return false
}

// Message belongs to exactly one Conversation at a time. Content is opaque
// to the merge engine; only ownership is ever changed.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Direction      Direction `json:"direction"`
	SentAt         time.Time `json:"sent_at"`
}

// Validate checks if the message has valid field values
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if m.ConversationID == "" {
		return fmt.Errorf("conversation_id is required")
	}
	if !m.Direction.IsValid() {
		return fmt.Errorf("invalid direction: %s", m.Direction)
	}
	return nil
}

// SessionStats summarizes one session for listing
type SessionStats struct {
	Session            Session `json:"session"`
	Conversations      int     `json:"conversations"`
	GroupConversations int     `json:"group_conversations"`
	Messages           int     `json:"messages"`
}
