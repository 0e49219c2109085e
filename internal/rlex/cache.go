package rlex

import "container/list"

// derivKey is a (lexer-state, byte-class) pair — the cache key spec.md §4.2
// names explicitly.
type derivKey struct {
	state stateID
	class int16
}

// derivCache is a bounded LRU cache mapping (state,class) to the already
// lazily-computed successor state. Eviction never affects correctness: a
// miss just recomputes the transition by running epsilon-closure again
// (lexer.go's transitionFor). The permanent state registry (stateID ->
// nfaStateSet) is never evicted — only this derived-transition cache is.
type derivCache struct {
	cap   int
	ll    *list.List
	index map[derivKey]*list.Element
}

type derivEntry struct {
	key   derivKey
	value stateID
}

func newDerivCache(capacity int) *derivCache {
	return &derivCache{cap: capacity, ll: list.New(), index: make(map[derivKey]*list.Element)}
}

func (c *derivCache) get(k derivKey) (stateID, bool) {
	el, ok := c.index[k]
	if !ok {
		return 0, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*derivEntry).value, true
}

func (c *derivCache) put(k derivKey, v stateID) {
	if el, ok := c.index[k]; ok {
		el.Value.(*derivEntry).value = v
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&derivEntry{key: k, value: v})
	c.index[k] = el
	if c.cap > 0 && c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(*derivEntry).key)
		}
	}
}
