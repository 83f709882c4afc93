package merge

import (
	"github.com/steveyegge/convmerge/internal/identity"
	"github.com/steveyegge/convmerge/internal/types"
)

// Group is a set of conversations in one session that share a normalized key
type Group struct {
	Key     string
	Members []*types.Conversation
}

// IDs returns the member conversation IDs in insertion order
func (g Group) IDs() []string {
	ids := make([]string, len(g.Members))
	for i, c := range g.Members {
		ids[i] = c.ID
	}
	return ids
}

// GroupConversations partitions conversations by normalized contact phone.
//
// Group threads, soft-deleted conversations and conversations without a
// usable key are dropped. Only keys shared by two or more conversations are
// returned, in order of first appearance; members keep input order.
func GroupConversations(convs []*types.Conversation, n identity.Normalizer) []Group {
	byKey := make(map[string][]*types.Conversation)
	var order []string

	for _, c := range convs {
		if c == nil || c.IsGroup || c.IsDeleted() {
			continue
		}
		key, ok := n.Key(c.ContactPhone)
		if !ok {
			continue
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], c)
	}

	var groups []Group
	for _, key := range order {
		if members := byKey[key]; len(members) > 1 {
			groups = append(groups, Group{Key: key, Members: members})
		}
	}
	return groups
}
