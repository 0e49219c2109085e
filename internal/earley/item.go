package earley

import "github.com/screenager/llguidance/internal/grammar"

// Item is one Earley item: "rule Sym, alternative Alt, dot before position
// Dot, started at chart position Origin". Param carries the 64-bit
// parametric-rule parameter (spec.md §3); it is 0 and unused for
// non-parametric rules. Item is comparable so an itemSet can dedup by value.
type Item struct {
	Sym    grammar.SymbolID
	Alt    int
	Dot    int
	Origin int
	Param  uint64
}

// itemSet is one row of the Earley chart: the deduplicated, insertion-ordered
// items at one lexeme position. The insertion order doubles as the predict/
// complete worklist — closure appends new items to the same slice it is
// iterating, so a plain growing-index loop reaches a fixpoint without a
// separate queue.
type itemSet struct {
	items []Item
	seen  map[Item]bool
}

func newItemSet() *itemSet {
	return &itemSet{seen: make(map[Item]bool)}
}

// add inserts it if not already present, returning whether it was new.
func (s *itemSet) add(it Item) bool {
	if s.seen[it] {
		return false
	}
	s.seen[it] = true
	s.items = append(s.items, it)
	return true
}

func (s *itemSet) clone() *itemSet {
	out := &itemSet{
		items: append([]Item(nil), s.items...),
		seen:  make(map[Item]bool, len(s.seen)),
	}
	for k := range s.seen {
		out.seen[k] = true
	}
	return out
}
