package rlex

// stateID indexes into an nfa's states slice.
type stateID int32

const deadState stateID = -1

// nfaTrans is a single byte-range transition out of an NFA state.
type nfaTrans struct {
	lo, hi byte
	to     stateID
}

// nfaState is one Thompson-construction state: a set of byte-range
// transitions plus epsilon transitions to other states.
type nfaState struct {
	trans   []nfaTrans
	epsilon []stateID
	accept  bool // this state is a final state for the fragment it belongs to
}

// nfa is a Thompson NFA for one terminal (or a union of several, once
// glued together by BuildLexer).
type nfa struct {
	states []nfaState
	start  stateID
}

func (n *nfa) newState() stateID {
	n.states = append(n.states, nfaState{})
	return stateID(len(n.states) - 1)
}

// fragment is a sub-NFA with one start and one dangling accept state.
type fragment struct {
	start, accept stateID
}

// buildNFA compiles a regex AST into a Thompson NFA with a single start
// state and a single accept state.
func buildNFA(root node) *nfa {
	n := &nfa{}
	frag := n.build(root)
	n.states[frag.accept].accept = true
	n.start = frag.start
	return n
}

func (n *nfa) build(nd node) fragment {
	switch v := nd.(type) {
	case litNode:
		return n.buildRange(v.b, v.b)
	case anyByteNode:
		return n.buildRangeExcl('\n')
	case anyByteInclNLNode:
		return n.buildRange(0, 255)
	case classNode:
		return n.buildClass(v.ranges, v.negate)
	case concatNode:
		return n.buildConcat(v.parts)
	case altNode:
		return n.buildAlt(v.parts)
	case starNode:
		return n.buildStar(v.sub)
	case plusNode:
		return n.buildPlus(v.sub)
	case questNode:
		return n.buildQuest(v.sub)
	case repeatNode:
		return n.buildRepeat(v)
	default:
		panic("rlex: unknown node type in NFA build")
	}
}

func (n *nfa) buildRange(lo, hi byte) fragment {
	s := n.newState()
	a := n.newState()
	n.states[s].trans = append(n.states[s].trans, nfaTrans{lo: lo, hi: hi, to: a})
	return fragment{start: s, accept: a}
}

// buildRangeExcl builds a single-byte transition matching any byte except excl.
func (n *nfa) buildRangeExcl(excl byte) fragment {
	s := n.newState()
	a := n.newState()
	if excl > 0 {
		n.states[s].trans = append(n.states[s].trans, nfaTrans{lo: 0, hi: excl - 1, to: a})
	}
	if excl < 255 {
		n.states[s].trans = append(n.states[s].trans, nfaTrans{lo: excl + 1, hi: 255, to: a})
	}
	return fragment{start: s, accept: a}
}

func (n *nfa) buildClass(ranges []byteRange, negate bool) fragment {
	if !negate {
		return n.buildUnionRanges(ranges)
	}
	return n.buildUnionRanges(complementRanges(ranges))
}

func (n *nfa) buildUnionRanges(ranges []byteRange) fragment {
	s := n.newState()
	a := n.newState()
	for _, r := range ranges {
		n.states[s].trans = append(n.states[s].trans, nfaTrans{lo: r.Lo, hi: r.Hi, to: a})
	}
	return fragment{start: s, accept: a}
}

// complementRanges returns the byte ranges in [0,255] not covered by in.
func complementRanges(in []byteRange) []byteRange {
	covered := make([]bool, 256)
	for _, r := range in {
		for b := int(r.Lo); b <= int(r.Hi); b++ {
			covered[b] = true
		}
	}
	var out []byteRange
	start := -1
	for b := 0; b < 256; b++ {
		if !covered[b] {
			if start == -1 {
				start = b
			}
		} else if start != -1 {
			out = append(out, byteRange{Lo: byte(start), Hi: byte(b - 1)})
			start = -1
		}
	}
	if start != -1 {
		out = append(out, byteRange{Lo: byte(start), Hi: 255})
	}
	return out
}

func (n *nfa) buildConcat(parts []node) fragment {
	if len(parts) == 0 {
		// Empty concatenation matches the empty string: start == accept via
		// an epsilon edge.
		s := n.newState()
		a := n.newState()
		n.states[s].epsilon = append(n.states[s].epsilon, a)
		return fragment{start: s, accept: a}
	}
	frag := n.build(parts[0])
	for _, p := range parts[1:] {
		next := n.build(p)
		n.states[frag.accept].epsilon = append(n.states[frag.accept].epsilon, next.start)
		frag.accept = next.accept
	}
	return frag
}

func (n *nfa) buildAlt(parts []node) fragment {
	s := n.newState()
	a := n.newState()
	for _, p := range parts {
		f := n.build(p)
		n.states[s].epsilon = append(n.states[s].epsilon, f.start)
		n.states[f.accept].epsilon = append(n.states[f.accept].epsilon, a)
	}
	return fragment{start: s, accept: a}
}

func (n *nfa) buildStar(sub node) fragment {
	s := n.newState()
	a := n.newState()
	f := n.build(sub)
	n.states[s].epsilon = append(n.states[s].epsilon, f.start, a)
	n.states[f.accept].epsilon = append(n.states[f.accept].epsilon, f.start, a)
	return fragment{start: s, accept: a}
}

func (n *nfa) buildPlus(sub node) fragment {
	f := n.build(sub)
	a := n.newState()
	n.states[f.accept].epsilon = append(n.states[f.accept].epsilon, f.start, a)
	return fragment{start: f.start, accept: a}
}

func (n *nfa) buildQuest(sub node) fragment {
	s := n.newState()
	a := n.newState()
	f := n.build(sub)
	n.states[s].epsilon = append(n.states[s].epsilon, f.start, a)
	n.states[f.accept].epsilon = append(n.states[f.accept].epsilon, a)
	return fragment{start: s, accept: a}
}

// buildRepeat expands {m,n} by copying the sub-AST m (or n, when bounded)
// times — acceptable here because grammar terminals are small and this
// runs once at compile time, not on the hot path.
func (n *nfa) buildRepeat(r repeatNode) fragment {
	if r.max == -1 {
		var parts []node
		for i := 0; i < r.min; i++ {
			parts = append(parts, r.sub)
		}
		parts = append(parts, starNode{sub: r.sub, lazy: r.lazy})
		return n.build(concatNode{parts: parts})
	}
	var parts []node
	for i := 0; i < r.min; i++ {
		parts = append(parts, r.sub)
	}
	for i := r.min; i < r.max; i++ {
		parts = append(parts, questNode{sub: r.sub, lazy: r.lazy})
	}
	if len(parts) == 0 {
		return n.build(concatNode{})
	}
	return n.build(concatNode{parts: parts})
}
