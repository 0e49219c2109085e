package rlex

import "fmt"

// TerminalID identifies one compiled terminal within a Lexer's alphabet.
type TerminalID int32

// TerminalSpec describes one terminal to fold into the master lexer.
// Exactly one of AST or DFA must be set: AST for an ordinary compiled
// pattern, DFA for a terminal built from the compile-time & / ~ operators
// (spec.md §4.2, §6 — those operators are terminal-only, never rule-level;
// internal/grammar rejects them anywhere else before reaching here).
type TerminalSpec struct {
	ID   TerminalID
	Name string
	AST  node
	DFA  *termDFA
	Lazy bool // non-greedy: the parser should prefer the shortest match
	Rank int  // declaration order; lower rank wins ties among simultaneously accepting terminals
}

// AcceptedTerminal is one terminal accepting at a particular lexer state,
// carrying the tie-break metadata the Earley scanner needs.
type AcceptedTerminal struct {
	ID   TerminalID
	Lazy bool
	Rank int
}

// ErrTooManyLexerStates is returned by Step when growing the lazy DFA would
// exceed the configured state budget (ParserLimits.MaxLexerStates).
var ErrTooManyLexerStates = fmt.Errorf("rlex: lexer state budget exceeded")

// Lexer is the master multi-terminal automaton described by spec.md §4.2:
// a union of every terminal's Thompson NFA, explored lazily and
// subset-constructed on demand ("derivative"-style) rather than eagerly,
// with transitions memoized in a bounded (state, byte-class) cache. Lexer
// states are permanent once registered (their ids never change across the
// matcher's lifetime); only the cache of already-computed transitions is
// evicted under memory pressure.
type Lexer struct {
	n           *nfa
	classes     *byteClasses
	acceptOwner map[stateID]TerminalID
	bySpec      map[TerminalID]TerminalSpec

	registry    []nfaStateSet
	regIndex    map[string]int32
	acceptCache [][]AcceptedTerminal
	cache       *derivCache
	maxStates   int

	start int32
}

// DeadLexerState is returned whenever the byte cannot continue the current
// lexer state under any live terminal.
const DeadLexerState int32 = -1

// BuildLexer folds every terminal in specs into one lazily-explored master
// lexer. cacheCapacity bounds the derivative cache (0 means unbounded);
// maxStates bounds the number of distinct lexer states ever registered
// (spec.md's ParserLimits.MaxLexerStates), protecting against pathological
// terminal sets blowing up the subset construction.
func BuildLexer(specs []TerminalSpec, cacheCapacity, maxStates int) (*Lexer, error) {
	n := &nfa{}
	acceptOwner := make(map[stateID]TerminalID)
	bySpec := make(map[TerminalID]TerminalSpec, len(specs))
	s0 := n.newState()

	for _, spec := range specs {
		bySpec[spec.ID] = spec
		var frag fragment
		switch {
		case spec.AST != nil:
			frag = n.build(spec.AST)
			n.states[frag.accept].accept = true
			acceptOwner[frag.accept] = spec.ID
		case spec.DFA != nil:
			frag = embedDFA(n, spec.DFA, spec.ID, acceptOwner)
		default:
			return nil, fmt.Errorf("rlex: terminal %q has neither AST nor DFA", spec.Name)
		}
		n.states[s0].epsilon = append(n.states[s0].epsilon, frag.start)
	}
	n.start = s0

	l := &Lexer{
		n:           n,
		classes:     computeByteClasses(n),
		acceptOwner: acceptOwner,
		bySpec:      bySpec,
		regIndex:    make(map[string]int32),
		cache:       newDerivCache(cacheCapacity),
		maxStates:   maxStates,
	}
	startSet := epsilonClosure(n, []stateID{n.start})
	startID, err := l.registerState(startSet)
	if err != nil {
		return nil, err
	}
	l.start = startID
	return l, nil
}

// embedDFA copies a precompiled termDFA's dense transition table into the
// combined NFA as range-coalesced, epsilon-free states, tagging every
// accept state with terminal id id.
func embedDFA(n *nfa, d *termDFA, id TerminalID, acceptOwner map[stateID]TerminalID) fragment {
	offset := stateID(len(n.states))
	for range d.trans {
		n.states = append(n.states, nfaState{})
	}
	for i, row := range d.trans {
		s := offset + stateID(i)
		n.states[s].trans = coalesceRow(row, offset)
		if d.accept[i] {
			n.states[s].accept = true
			acceptOwner[s] = id
		}
	}
	return fragment{start: offset + stateID(d.start), accept: offset + stateID(d.start)}
}

// coalesceRow groups a dense 256-entry transition row into contiguous
// byte ranges sharing the same (offset) target state, skipping dead
// entries entirely.
func coalesceRow(row [256]int32, offset stateID) []nfaTrans {
	var out []nfaTrans
	i := 0
	for i < 256 {
		target := row[i]
		if target == deadState32 {
			i++
			continue
		}
		j := i + 1
		for j < 256 && row[j] == target {
			j++
		}
		out = append(out, nfaTrans{lo: byte(i), hi: byte(j - 1), to: offset + stateID(target)})
		i = j
	}
	return out
}

// Start returns the lexer's initial state id.
func (l *Lexer) Start() int32 { return l.start }

// TerminalSpec returns the spec a terminal id was registered with, so
// callers outside the package (internal/earley's lazy/greedy commit policy)
// can inspect Lazy/Rank without the lexer re-exposing its whole registry.
func (l *Lexer) TerminalSpec(id TerminalID) (TerminalSpec, bool) {
	spec, ok := l.bySpec[id]
	return spec, ok
}

// Accepted returns the terminals accepting in state, sorted by Rank.
func (l *Lexer) Accepted(state int32) []AcceptedTerminal {
	if state < 0 || int(state) >= len(l.acceptCache) {
		return nil
	}
	return l.acceptCache[state]
}

// IsDead reports whether state has no outgoing transitions under any byte
// (a sink with no accepting terminal — lexing has failed).
func (l *Lexer) IsDead(state int32) bool {
	if state < 0 {
		return true
	}
	return len(l.registry[state]) == 0
}

// Step advances state by one byte, growing the lazy DFA and consulting the
// derivative cache as needed. Returns DeadLexerState if no live terminal
// can consume b from state.
func (l *Lexer) Step(state int32, b byte) (int32, []AcceptedTerminal, error) {
	if state == DeadLexerState {
		return DeadLexerState, nil, nil
	}
	class := l.classes.classOfByte(b)
	key := derivKey{state: stateID(state), class: class}
	if next, ok := l.cache.get(key); ok {
		if next == deadSinkState {
			return DeadLexerState, nil, nil
		}
		return int32(next), l.acceptCache[next], nil
	}
	next, err := l.transitionFor(state, b)
	if err != nil {
		return DeadLexerState, nil, err
	}
	if next == DeadLexerState {
		l.cache.put(key, deadSinkState)
		return DeadLexerState, nil, nil
	}
	l.cache.put(key, stateID(next))
	return next, l.acceptCache[next], nil
}

// deadSinkState is the derivCache sentinel recording "this (state,class)
// transitions to no live state"; distinct from any real registry index.
const deadSinkState stateID = -1

func (l *Lexer) transitionFor(state int32, b byte) (int32, error) {
	set := l.registry[state]
	var moved []stateID
	for _, s := range set {
		for _, t := range l.n.states[s].trans {
			if b >= t.lo && b <= t.hi {
				moved = append(moved, t.to)
			}
		}
	}
	if len(moved) == 0 {
		return DeadLexerState, nil
	}
	closure := epsilonClosure(l.n, moved)
	return l.registerState(closure)
}

func (l *Lexer) registerState(set nfaStateSet) (int32, error) {
	k := set.key()
	if id, ok := l.regIndex[k]; ok {
		return id, nil
	}
	if l.maxStates > 0 && len(l.registry) >= l.maxStates {
		return DeadLexerState, ErrTooManyLexerStates
	}
	id := int32(len(l.registry))
	l.regIndex[k] = id
	l.registry = append(l.registry, set)
	l.acceptCache = append(l.acceptCache, l.acceptingTerminals(set))
	return id, nil
}

func (l *Lexer) acceptingTerminals(set nfaStateSet) []AcceptedTerminal {
	seen := make(map[TerminalID]bool)
	var out []AcceptedTerminal
	for _, s := range set {
		owner, ok := l.acceptOwner[s]
		if !ok || seen[owner] {
			continue
		}
		seen[owner] = true
		spec := l.bySpec[owner]
		out = append(out, AcceptedTerminal{ID: owner, Lazy: spec.Lazy, Rank: spec.Rank})
	}
	// Stable ordering by declaration rank so scanners get a deterministic
	// tie-break among simultaneously accepting terminals.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Rank < out[j-1].Rank; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ForcedByte reports the single byte value b such that Step(state, b) is
// the only possible non-dead continuation from state — i.e. every other
// byte value leads to DeadLexerState. Used by the Earley engine and mask
// engine to short-circuit trie walks (spec.md §4.2, §4.5).
func (l *Lexer) ForcedByte(state int32) (byte, bool) {
	if l.IsDead(state) {
		return 0, false
	}
	var liveClass int16 = -1
	liveCount := 0
	for c := int16(0); c < int16(l.classes.numClasses); c++ {
		rep := l.classes.representativeByte(c)
		next, _, err := l.Step(state, rep)
		if err != nil || next == DeadLexerState || l.IsDead(next) {
			continue
		}
		liveCount++
		liveClass = c
		if liveCount > 1 {
			return 0, false
		}
	}
	if liveCount != 1 || l.classes.classWidth(liveClass) != 1 {
		return 0, false
	}
	return l.classes.representativeByte(liveClass), true
}
