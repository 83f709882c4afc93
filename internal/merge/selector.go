package merge

import (
	"sort"
	"strings"

	"github.com/steveyegge/convmerge/internal/types"
)

// Score layers. Each layer is wider than everything below it, so a score
// orders conversations by channel form, then history size, then recency.
const (
	// RecencyLimit bounds the recency term (Unix seconds, good past year 2500)
	RecencyLimit int64 = 1 << 34
	// MessageWeight is the value of one message, just above the recency range
	MessageWeight int64 = RecencyLimit
	// MessageLimit bounds the message count folded into a score
	MessageLimit int64 = 1 << 28
	// ChannelBonus is awarded for the canonical direct-message channel
	ChannelBonus int64 = MessageWeight * MessageLimit
)

// Candidate is a group member with its message count and score
type Candidate struct {
	Conversation *types.Conversation
	MessageCount int
	// Direct is true when the conversation uses the canonical channel form
	Direct bool
	Score  int64
}

// Selector ranks the members of a duplicate group
type Selector struct {
	// DirectSuffix is the canonical direct-message identifier suffix
	DirectSuffix string
}

// IsDirect reports whether c is addressed through the canonical channel form
func (s Selector) IsDirect(c *types.Conversation) bool {
	return s.DirectSuffix != "" && strings.HasSuffix(c.RemoteJID, s.DirectSuffix)
}

// Score computes the survivor score of one conversation. Message counts and
// timestamps beyond their limits are clamped; Rank compares the raw values.
func (s Selector) Score(c *types.Conversation, messageCount int) int64 {
	var score int64
	if s.IsDirect(c) {
		score += ChannelBonus
	}
	score += MessageWeight * clamp(int64(messageCount), MessageLimit-1)
	if !c.LastActivityAt.IsZero() {
		score += clamp(c.LastActivityAt.Unix(), RecencyLimit-1)
	}
	return score
}

func clamp(v, max int64) int64 {
	switch {
	case v < 0:
		return 0
	case v > max:
		return max
	}
	return v
}

// Rank scores every member and sorts them best first: canonical channel,
// then most messages, then latest activity, then ascending conversation ID.
func (s Selector) Rank(members []*types.Conversation, counts map[string]int) []Candidate {
	ranked := make([]Candidate, 0, len(members))
	for _, c := range members {
		count := counts[c.ID]
		ranked = append(ranked, Candidate{
			Conversation: c,
			MessageCount: count,
			Direct:       s.IsDirect(c),
			Score:        s.Score(c, count),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].before(ranked[j])
	})
	return ranked
}

// before reports whether a outranks b
func (a Candidate) before(b Candidate) bool {
	if a.Direct != b.Direct {
		return a.Direct
	}
	if a.MessageCount != b.MessageCount {
		return a.MessageCount > b.MessageCount
	}
	ta, tb := activityUnix(a.Conversation), activityUnix(b.Conversation)
	if ta != tb {
		return ta > tb
	}
	return a.Conversation.ID < b.Conversation.ID
}

// activityUnix is the last activity in Unix seconds, 0 when unknown
func activityUnix(c *types.Conversation) int64 {
	if c.LastActivityAt.IsZero() {
		return 0
	}
	return c.LastActivityAt.Unix()
}

// SelectSurvivor returns the best-ranked member of the group.
// ok is false for an empty group.
func (s Selector) SelectSurvivor(group Group, counts map[string]int) (Candidate, bool) {
	ranked := s.Rank(group.Members, counts)
	if len(ranked) == 0 {
		return Candidate{}, false
	}
	return ranked[0], true
}
