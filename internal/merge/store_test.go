package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/convmerge/internal/events"
	"github.com/steveyegge/convmerge/internal/types"
)

var errInjected = errors.New("injected store failure")

// fakeStore is an in-memory Store with per-operation failure injection
type fakeStore struct {
	mu       sync.Mutex
	sessions []*types.Session
	convs    map[string]*types.Conversation
	order    []string
	messages map[string]string // message id -> conversation id
	events   []*events.MergeEvent
	locked   bool
	writes   int

	// failures maps "op:id" to an error returned by that call
	failures map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:    make(map[string]*types.Conversation),
		messages: make(map[string]string),
		failures: make(map[string]error),
	}
}

func (f *fakeStore) addSession(id, phone string) {
	f.sessions = append(f.sessions, &types.Session{ID: id, Phone: phone})
}

func (f *fakeStore) addConversation(c *types.Conversation, messages int) {
	f.convs[c.ID] = c
	f.order = append(f.order, c.ID)
	for i := 0; i < messages; i++ {
		f.messages[fmt.Sprintf("%s-m%d", c.ID, i)] = c.ID
	}
}

func (f *fakeStore) failOn(op, id string) {
	f.failures[op+":"+id] = errInjected
}

func (f *fakeStore) fail(op, id string) error {
	return f.failures[op+":"+id]
}

func (f *fakeStore) live(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, id := range f.order {
		c := f.convs[id]
		if c.SessionID == sessionID && !c.IsDeleted() && !c.IsGroup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeStore) count(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, owner := range f.messages {
		if owner == conversationID {
			n++
		}
	}
	return n
}

func (f *fakeStore) totalMessages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	if err := f.fail("GetSession", id); err != nil {
		return nil, err
	}
	for _, s := range f.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
}

func (f *fakeStore) ListSessions(ctx context.Context) ([]*types.Session, error) {
	if err := f.fail("ListSessions", ""); err != nil {
		return nil, err
	}
	return f.sessions, nil
}

func (f *fakeStore) ListConversations(ctx context.Context, sessionID string, includeGroups bool) ([]*types.Conversation, error) {
	if err := f.fail("ListConversations", sessionID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Conversation
	for _, id := range f.order {
		c := f.convs[id]
		if c.SessionID != sessionID || c.IsDeleted() || (c.IsGroup && !includeGroups) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	if err := f.fail("CountMessages", conversationID); err != nil {
		return 0, err
	}
	return f.count(conversationID), nil
}

func (f *fakeStore) ReassignMessages(ctx context.Context, fromID, toID string) (int, error) {
	if err := f.fail("ReassignMessages", fromID); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if c, ok := f.convs[toID]; !ok || c.IsDeleted() {
		return 0, fmt.Errorf("target %s: %w", toID, types.ErrNotFound)
	}
	moved := 0
	for id, owner := range f.messages {
		if owner == fromID {
			f.messages[id] = toID
			moved++
		}
	}
	return moved, nil
}

func (f *fakeStore) DeleteConversation(ctx context.Context, id string) error {
	if err := f.fail("DeleteConversation", id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	c, ok := f.convs[id]
	if !ok || c.IsDeleted() {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	for _, owner := range f.messages {
		if owner == id {
			return fmt.Errorf("conversation %s: %w", id, types.ErrHasMessages)
		}
	}
	now := time.Now()
	c.DeletedAt = &now
	return nil
}

func (f *fakeStore) AbsorbConversation(ctx context.Context, id string, lastActivity time.Time, contactName string) error {
	if err := f.fail("AbsorbConversation", id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	c, ok := f.convs[id]
	if !ok || c.IsDeleted() {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	if lastActivity.After(c.LastActivityAt) {
		c.LastActivityAt = lastActivity
	}
	if c.ContactName == "" {
		c.ContactName = contactName
	}
	return nil
}

func (f *fakeStore) RecordMergeEvent(ctx context.Context, event *events.MergeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStore) AcquireMergeLock(ctx context.Context, holder string) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return nil, fmt.Errorf("%w: %s", types.ErrLocked, holder)
	}
	f.locked = true
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.locked = false
		return nil
	}, nil
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}
