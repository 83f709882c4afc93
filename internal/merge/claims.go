package merge

import "sync"

// claimSet tracks conversation IDs currently being mutated by a worker.
//
// Workers split the run by session and a session's groups are merged one
// after another, so with sessions owning disjoint conversations no claim is
// refused today. The set guards merging groups in parallel, or overlapping
// session selections, against two workers rewriting the same conversation.
type claimSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newClaimSet() *claimSet {
	return &claimSet{held: make(map[string]struct{})}
}

// claim takes every id or none of them
func (c *claimSet) claim(ids []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if _, taken := c.held[id]; taken {
			return false
		}
	}
	for _, id := range ids {
		c.held[id] = struct{}{}
	}
	return true
}

func (c *claimSet) release(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.held, id)
	}
}
