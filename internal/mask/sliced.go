package mask

import (
	"github.com/screenager/llguidance/internal/grammar"
	"github.com/screenager/llguidance/internal/rlex"
	"github.com/screenager/llguidance/internal/toktrie"
)

// SlicedBias precomputes, for every terminal in a grammar, the set of
// vocabulary tokens whose entire byte sequence is accepted as exactly one
// complete lexeme of that terminal. It is built once per (grammar, vocab)
// pair at matcher-construction time (spec.md §4.5's "precompute large
// lexemes" knob) and is independent of any in-progress parse.
//
// It does not replace the trie walk in Engine.ComputeMask: a token whose
// bytes only form a *prefix* of a longer lexeme (e.g. "he" against the
// literal "hello") must still be allowed so generation can continue, and
// SlicedBias only ever records full completions. It exists as a genuine
// O(vocab) alternative to walking the whole trie when the parser is
// expecting exactly one terminal and isn't mid-lexeme; Engine still runs the
// full walk underneath (AllowedSet.Insert is idempotent, so unioning both is
// always correct, just not maximally fast in that case).
type SlicedBias struct {
	byTerm map[rlex.TerminalID]*toktrie.AllowedSet
}

// BuildSlicedBias replays every token's bytes through the grammar's master
// lexer from its start state and records, per terminal, every token that
// lands exactly on an accepting state for that terminal.
func BuildSlicedBias(g *grammar.Grammar, trie *toktrie.Trie) *SlicedBias {
	sb := &SlicedBias{byTerm: make(map[rlex.TerminalID]*toktrie.AllowedSet, len(g.Terminals))}
	n := trie.VocabSize()
	for _, spec := range g.Terminals {
		sb.byTerm[spec.ID] = toktrie.NewAllowedSet(n)
	}
	for id := 0; id < n; id++ {
		tok := toktrie.TokenID(id)
		bytes := trie.TokenBytes(tok)
		if len(bytes) == 0 {
			continue
		}
		state := g.Lexer.Start()
		dead := false
		for _, b := range bytes {
			next, _, err := g.Lexer.Step(state, b)
			if err != nil || next == rlex.DeadLexerState {
				dead = true
				break
			}
			state = next
		}
		if dead {
			continue
		}
		for _, acc := range g.Lexer.Accepted(state) {
			sb.byTerm[acc.ID].Insert(tok)
		}
	}
	return sb
}

// For returns the precomputed allowed-set for term, or nil if term isn't
// part of the grammar this bias was built from.
func (sb *SlicedBias) For(term rlex.TerminalID) *toktrie.AllowedSet {
	return sb.byTerm[term]
}
