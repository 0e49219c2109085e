// Package earley implements the parser core of spec.md §4.4: an Earley
// recognizer whose scanning step is driven by internal/rlex's master lexer
// rather than a plain token stream. Chart positions advance one lexeme at a
// time; internal/mask additionally needs a byte-wise liveness oracle mid
// lexeme (to decide whether a candidate trie byte keeps the parse alive), so
// the byte-stepping machinery here (sim) is shared between ordinary token
// consumption and the mask engine's trie walk.
package earley

import (
	"github.com/screenager/llguidance/internal/grammar"
	"github.com/screenager/llguidance/internal/rlex"
)

// Limits bounds the resources a single Parser may spend, mirroring spec.md
// §3's "Parser limits" record. RollbackCapacity is this implementation's own
// addition: spec.md requires a "bounded-capacity" rollback log without
// naming the bound itself.
type Limits struct {
	MaxItemsInRow          int
	InitialLexerFuel       int
	StepLexerFuel          int
	StepMaxItems           int
	MaxLexerStates         int
	MaxGrammarSize         int
	PrecomputeLargeLexemes bool
	RollbackCapacity       int
}

// DefaultLimits returns conservative limits suitable for interactive use.
func DefaultLimits() Limits {
	return Limits{
		MaxItemsInRow:    4096,
		InitialLexerFuel: 1 << 20,
		StepLexerFuel:    1 << 16,
		StepMaxItems:     1 << 16,
		MaxLexerStates:   1 << 16,
		MaxGrammarSize:   1 << 20,
		RollbackCapacity: 64,
	}
}

// acceptMark is one candidate lexeme boundary: byte index idx within the
// current pending buffer (inclusive) at which a terminal the grammar was
// actually expecting at this position accepted.
type acceptMark struct {
	idx int
	id  rlex.TerminalID
}

// checkpoint is a rollback-log entry: everything needed to restore the
// parser to the state it held right after committing a given token count, or
// to undo a failed speculative commit attempt mid lexeme.
type checkpoint struct {
	chartLen    int
	lexState    int32
	pending     []byte
	acceptStack []acceptMark
}

// Parser is the per-sequence Earley engine. It is not safe for concurrent
// use; internal/matcher enforces the single-threaded-per-sequence rule from
// spec.md §5.
type Parser struct {
	g      *grammar.Grammar
	limits Limits

	chart    []*itemSet
	lexState int32
	pending  []byte

	// acceptStack records every byte offset within pending at which some
	// terminal the grammar expected at this position accepted, most recent
	// last. A lexeme boundary isn't always the longest match: a* in
	// "/a*/ 'abc' /c*/" may need to stop one byte short of its greedy
	// maximum for the rest of the grammar to fit, so a dead end triggers a
	// search backward through this stack rather than committing only the
	// last entry (spec.md §4.4's scanning step over a shared, ambiguous
	// lexer).
	acceptStack []acceptMark

	rollback []checkpoint

	stopped    bool
	errored    bool
	stopReason StopReason
	errMsg     string
}

// NewParser builds a Parser positioned at the grammar's start symbol.
func NewParser(g *grammar.Grammar, limits Limits) (*Parser, error) {
	p := &Parser{g: g, limits: limits}
	p.lexState = g.Lexer.Start()
	set := newItemSet()
	startRule := g.Symbols[g.Start]
	for altIdx, alt := range startRule.Alternatives {
		if alt.Guard != nil && !grammar.EvalGuard(alt.Guard, 0) {
			continue
		}
		set.add(Item{Sym: g.Start, Alt: altIdx, Dot: 0, Origin: 0, Param: 0})
	}
	p.chart = []*itemSet{set}
	if err := closure(g, p.chartAt, 0, limits.StepMaxItems); err != nil {
		p.fail(StopParserTooComplex, err.Error())
		return p, nil
	}
	p.rollback = []checkpoint{p.snapshot()}
	return p, nil
}

func (p *Parser) chartAt(pos int) *itemSet { return p.chart[pos] }

func (p *Parser) pos() int { return len(p.chart) - 1 }

func (p *Parser) fail(reason StopReason, msg string) {
	p.errored = true
	p.stopReason = reason
	p.errMsg = msg
}

// IsError reports whether the parser is in a fatal error state.
func (p *Parser) IsError() bool { return p.errored }

// IsStopped reports whether the parser has no legal continuation (it may
// still be errored; callers generally check IsError first).
func (p *Parser) IsStopped() bool { return p.stopped || p.errored }

// StopReason returns the closed-enum reason the parser stopped, if any.
func (p *Parser) StopReason() StopReason { return p.stopReason }

// ErrMsg returns the human-readable detail behind an error state.
func (p *Parser) ErrMsg() string { return p.errMsg }

// IsAccepting reports whether a completed start item exists at the current
// frontier (spec.md §4.4). A pending, not-yet-committed lexeme prefix that
// is itself a valid accepting boundary also counts, since the host may
// legally stop generation there.
func (p *Parser) IsAccepting() bool {
	if isAccepting(p.g, p.chart[p.pos()]) {
		return true
	}
	if len(p.pending) == 0 {
		return false
	}
	s := p.newSim()
	return s.tryCommitPending(nil) && isAccepting(p.g, s.at(s.virtPos))
}

func isAccepting(g *grammar.Grammar, set *itemSet) bool {
	for _, it := range set.items {
		if it.Sym != g.Start || it.Origin != 0 {
			continue
		}
		alt := g.Symbols[it.Sym].Alternatives[it.Alt]
		if it.Dot == len(alt.Items) {
			return true
		}
	}
	return false
}

// expectedTerminals collects the distinct terminal ids awaited by a dot
// immediately before an ItemTerminal in set.
func expectedTerminals(g *grammar.Grammar, set *itemSet) []rlex.TerminalID {
	seen := make(map[rlex.TerminalID]bool)
	var out []rlex.TerminalID
	for _, it := range set.items {
		alt := g.Symbols[it.Sym].Alternatives[it.Alt]
		if it.Dot >= len(alt.Items) {
			continue
		}
		x := alt.Items[it.Dot]
		if x.Kind == grammar.ItemTerminal && !seen[x.Term] {
			seen[x.Term] = true
			out = append(out, x.Term)
		}
	}
	return out
}

// closure runs the predict/complete fixpoint for the item set at pos,
// reachable through at (either a live chart or a simulation's virtual
// chart). fuel bounds the number of items processed before giving up with a
// ParserTooComplex error.
func closure(g *grammar.Grammar, at func(int) *itemSet, pos int, fuel int) error {
	set := at(pos)
	for i := 0; i < len(set.items); i++ {
		if fuel--; fuel < 0 {
			return newParseError(StopParserTooComplex, "item fuel exhausted at position %d", pos)
		}
		it := set.items[i]
		alt := g.Symbols[it.Sym].Alternatives[it.Alt]
		if it.Dot == len(alt.Items) {
			completeItem(g, at, set, it)
			continue
		}
		next := alt.Items[it.Dot]
		if next.Kind != grammar.ItemSymbol {
			continue // terminal: waits for a scan, nothing to predict
		}
		predictItem(g, set, pos, it, next)
	}
	return nil
}

func predictItem(g *grammar.Grammar, set *itemSet, pos int, it Item, next grammar.Item) {
	newParam := uint64(0)
	if next.ParamTransform != nil {
		newParam = grammar.ApplyTransform(next.ParamTransform, it.Param)
	}
	target := g.Symbols[next.Sym]
	for altIdx, a := range target.Alternatives {
		if a.Guard != nil && !grammar.EvalGuard(a.Guard, newParam) {
			continue
		}
		set.add(Item{Sym: next.Sym, Alt: altIdx, Dot: 0, Origin: pos, Param: newParam})
	}
}

func completeItem(g *grammar.Grammar, at func(int) *itemSet, set *itemSet, it Item) {
	origin := at(it.Origin)
	for _, w := range origin.items {
		wAlt := g.Symbols[w.Sym].Alternatives[w.Alt]
		if w.Dot >= len(wAlt.Items) {
			continue
		}
		wi := wAlt.Items[w.Dot]
		if wi.Kind != grammar.ItemSymbol || wi.Sym != it.Sym {
			continue
		}
		expected := uint64(0)
		if wi.ParamTransform != nil {
			expected = grammar.ApplyTransform(wi.ParamTransform, w.Param)
		}
		if expected != it.Param {
			continue
		}
		set.add(Item{Sym: w.Sym, Alt: w.Alt, Dot: w.Dot + 1, Origin: w.Origin, Param: w.Param})
	}
}

// scanAdvance builds the new item set one lexeme past cur by advancing every
// item waiting on term.
func scanAdvance(g *grammar.Grammar, cur *itemSet, term rlex.TerminalID) *itemSet {
	next := newItemSet()
	for _, it := range cur.items {
		alt := g.Symbols[it.Sym].Alternatives[it.Alt]
		if it.Dot >= len(alt.Items) {
			continue
		}
		x := alt.Items[it.Dot]
		if x.Kind == grammar.ItemTerminal && x.Term == term {
			next.add(Item{Sym: it.Sym, Alt: it.Alt, Dot: it.Dot + 1, Origin: it.Origin, Param: it.Param})
		}
	}
	return next
}

// sim is a cheap, disposable clone of a Parser's in-progress position used
// to answer "is this byte sequence still live" without mutating the real
// parser — the oracle internal/mask's trie walk needs (spec.md §4.4's
// "byte-wise acceptance via the lexer's forward reachability").
type sim struct {
	p       *Parser
	extra   []*itemSet
	virtPos int

	lexState    int32
	pending     []byte
	acceptStack []acceptMark

	dead bool
}

func (p *Parser) newSim() *sim {
	return &sim{
		p:           p,
		virtPos:     p.pos(),
		lexState:    p.lexState,
		pending:     append([]byte(nil), p.pending...),
		acceptStack: append([]acceptMark(nil), p.acceptStack...),
	}
}

func (s *sim) clone() *sim {
	out := &sim{
		p:           s.p,
		virtPos:     s.virtPos,
		lexState:    s.lexState,
		pending:     append([]byte(nil), s.pending...),
		acceptStack: append([]acceptMark(nil), s.acceptStack...),
		dead:        s.dead,
	}
	out.extra = make([]*itemSet, len(s.extra))
	for i, set := range s.extra {
		out.extra[i] = set.clone()
	}
	return out
}

func (s *sim) restore(from *sim) {
	s.extra = make([]*itemSet, len(from.extra))
	for i, set := range from.extra {
		s.extra[i] = set.clone()
	}
	s.virtPos = from.virtPos
	s.lexState = from.lexState
	s.pending = append([]byte(nil), from.pending...)
	s.acceptStack = append([]acceptMark(nil), from.acceptStack...)
	s.dead = from.dead
}

func (s *sim) at(pos int) *itemSet {
	if pos <= s.p.pos() {
		return s.p.chart[pos]
	}
	return s.extra[pos-s.p.pos()-1]
}

func (s *sim) expected() []rlex.TerminalID {
	return expectedTerminals(s.p.g, s.at(s.virtPos))
}

// step advances the simulation by one byte. It returns false once the byte
// cannot extend any live terminal and no earlier recorded accept point lets
// the grammar keep going either — the caller (the mask engine's predicate)
// prunes that trie subtree.
func (s *sim) step(b byte) bool {
	if s.dead {
		return false
	}
	next, accepted, err := s.p.g.Lexer.Step(s.lexState, b)
	if err != nil {
		s.dead = true
		return false
	}
	if next == rlex.DeadLexerState {
		if !s.tryCommitPending([]byte{b}) {
			s.dead = true
			return false
		}
		return true
	}
	s.lexState = next
	s.pending = append(s.pending, b)
	s.recordAccept(accepted)
	if top, ok := s.topAccept(); ok && top.idx == len(s.pending)-1 {
		if spec, ok := s.p.g.Lexer.TerminalSpec(top.id); ok && spec.Lazy {
			if !s.tryCommitPending(nil) {
				s.dead = true
				return false
			}
		}
	}
	return true
}

func (s *sim) topAccept() (acceptMark, bool) {
	if len(s.acceptStack) == 0 {
		return acceptMark{}, false
	}
	return s.acceptStack[len(s.acceptStack)-1], true
}

func (s *sim) recordAccept(accepted []rlex.AcceptedTerminal) {
	expected := s.expected()
	for _, a := range accepted {
		for _, e := range expected {
			if e == a.ID {
				s.acceptStack = append(s.acceptStack, acceptMark{idx: len(s.pending) - 1, id: a.ID})
				return
			}
		}
	}
}

// tryCommitPending closes out the lexeme at the most recent recorded accept
// boundary, advances the virtual chart by one position, and replays any
// bytes past that boundary (the uncommitted tail plus extra, typically the
// byte that just went dead). If that replay itself dead-ends, it backs up
// to progressively earlier accept points instead of giving up immediately —
// a single greedy commit is not always the one that lets the rest of the
// grammar match (spec.md §4.4).
func (s *sim) tryCommitPending(extra []byte) bool {
	if len(s.acceptStack) == 0 {
		return false
	}
	before := s.clone()
	for i := len(before.acceptStack) - 1; i >= 0; i-- {
		s.restore(before)
		mark := before.acceptStack[i]
		tail := append(append([]byte(nil), s.pending[mark.idx+1:]...), extra...)
		set := scanAdvance(s.p.g, s.at(s.virtPos), mark.id)
		s.extra = append(s.extra, set)
		s.virtPos++
		if err := closure(s.p.g, s.at, s.virtPos, s.p.limits.StepMaxItems); err != nil {
			continue
		}
		s.lexState = s.p.g.Lexer.Start()
		s.pending = nil
		s.acceptStack = nil
		if s.replayTail(tail) {
			return true
		}
	}
	s.restore(before)
	return false
}

func (s *sim) replayTail(tail []byte) bool {
	for _, b := range tail {
		if !s.step(b) {
			return false
		}
	}
	return true
}

// StepLive reports whether consuming the bytes of prefix from the parser's current
// (possibly mid-lexeme) position keeps some expected terminal alive,
// without mutating the parser. internal/mask uses this as its trie-walk
// oracle, replaying from the committed position at every call (spec.md
// §4.5); this trades per-node replay cost for not needing an incremental
// walk API on the trie.
func (p *Parser) StepLive(prefix []byte) bool {
	s := p.newSim()
	for _, b := range prefix {
		if !s.step(b) {
			return false
		}
	}
	return true
}

// ForcedBytes returns the longest byte sequence uniquely implied by the
// current position (spec.md §4.4's "forced prefix"): at each step every
// live byte value is tried; if exactly one keeps the simulation alive, it
// is forced and the walk continues from there.
func (p *Parser) ForcedBytes(maxLen int) []byte {
	s := p.newSim()
	var out []byte
	for maxLen <= 0 || len(out) < maxLen {
		b, ok := forcedByte(s)
		if !ok {
			break
		}
		if !s.step(b) {
			break
		}
		out = append(out, b)
	}
	return out
}

func forcedByte(s *sim) (byte, bool) {
	var found byte
	count := 0
	for i := 0; i < 256; i++ {
		b := byte(i)
		probe := s.clone()
		if probe.step(b) {
			count++
			if count > 1 {
				return 0, false
			}
			found = b
		}
	}
	if count != 1 {
		return 0, false
	}
	return found, true
}

// ConsumeBytes commits the bytes of one token onto the parser's real state,
// crossing as many lexeme boundaries as the bytes contain. It never leaves
// the parser mid-commit: on any failure the parser is marked errored and
// the previous committed state remains intact for rollback.
func (p *Parser) ConsumeBytes(data []byte) error {
	if p.errored {
		return &ParseError{Reason: p.stopReason, Msg: p.errMsg}
	}
	cp := p.snapshot()
	for _, b := range data {
		if !p.stepReal(b) {
			reason, msg := StopNoExtension, "byte extends no live lexeme"
			if p.errored {
				reason, msg = p.stopReason, p.errMsg
			}
			p.restore(cp)
			p.fail(reason, msg)
			return &ParseError{Reason: reason, Msg: msg}
		}
	}
	return nil
}

func (p *Parser) stepReal(b byte) bool {
	next, accepted, err := p.g.Lexer.Step(p.lexState, b)
	if err != nil {
		p.fail(StopLexerTooComplex, err.Error())
		return false
	}
	if next == rlex.DeadLexerState {
		return p.tryCommitPendingReal([]byte{b})
	}
	p.lexState = next
	p.pending = append(p.pending, b)
	p.recordAcceptReal(accepted)
	if top, ok := p.topAccept(); ok && top.idx == len(p.pending)-1 {
		if spec, ok := p.g.Lexer.TerminalSpec(top.id); ok && spec.Lazy {
			return p.tryCommitPendingReal(nil)
		}
	}
	return true
}

func (p *Parser) topAccept() (acceptMark, bool) {
	if len(p.acceptStack) == 0 {
		return acceptMark{}, false
	}
	return p.acceptStack[len(p.acceptStack)-1], true
}

func (p *Parser) recordAcceptReal(accepted []rlex.AcceptedTerminal) {
	expected := expectedTerminals(p.g, p.chart[p.pos()])
	for _, a := range accepted {
		for _, e := range expected {
			if e == a.ID {
				p.acceptStack = append(p.acceptStack, acceptMark{idx: len(p.pending) - 1, id: a.ID})
				return
			}
		}
	}
}

// tryCommitPendingReal mirrors sim.tryCommitPending against the real,
// mutating parser state, searching backward through the recorded accept
// points until one lets extra (typically the byte that just went dead)
// replay successfully.
func (p *Parser) tryCommitPendingReal(extra []byte) bool {
	if len(p.acceptStack) == 0 {
		return false
	}
	before := p.snapshot()
	var fuelErr error
	for i := len(before.acceptStack) - 1; i >= 0; i-- {
		p.restore(before)
		mark := before.acceptStack[i]
		tail := append(append([]byte(nil), p.pending[mark.idx+1:]...), extra...)
		set := scanAdvance(p.g, p.chart[p.pos()], mark.id)
		p.chart = append(p.chart, set)
		if err := closure(p.g, p.chartAt, p.pos(), p.limits.StepMaxItems); err != nil {
			fuelErr = err
			continue
		}
		p.lexState = p.g.Lexer.Start()
		p.pending = nil
		p.acceptStack = nil
		if p.replayTailReal(tail) {
			return true
		}
	}
	p.restore(before)
	// Every candidate boundary either dead-ended downstream or blew the item
	// fuel outright; if fuel was ever the cause, surface that instead of
	// masking a resource limit as an ordinary rejection.
	if fuelErr != nil {
		p.fail(StopParserTooComplex, fuelErr.Error())
	}
	return false
}

func (p *Parser) replayTailReal(tail []byte) bool {
	for _, b := range tail {
		if !p.stepReal(b) {
			return false
		}
	}
	return true
}

func (p *Parser) snapshot() checkpoint {
	return checkpoint{
		chartLen:    len(p.chart),
		lexState:    p.lexState,
		pending:     append([]byte(nil), p.pending...),
		acceptStack: append([]acceptMark(nil), p.acceptStack...),
	}
}

// restore returns the parser to a checkpoint captured while it was healthy,
// clearing any stopped/error state a failed attempt since then may have set
// — the checkpoint itself was never in that state.
func (p *Parser) restore(c checkpoint) {
	p.chart = p.chart[:c.chartLen]
	p.lexState = c.lexState
	p.pending = append([]byte(nil), c.pending...)
	p.acceptStack = append([]acceptMark(nil), c.acceptStack...)
	p.stopped = false
	p.errored = false
	p.stopReason = StopNone
	p.errMsg = ""
}

// Commit pushes the current state onto the rollback log, bounded by
// limits.RollbackCapacity (oldest entries are dropped, matching spec.md §3's
// "bounded-capacity checkpoints").
func (p *Parser) Commit() {
	p.rollback = append(p.rollback, p.snapshot())
	if cap := p.limits.RollbackCapacity; cap > 0 && len(p.rollback) > cap {
		p.rollback = p.rollback[len(p.rollback)-cap:]
	}
}

// Rollback restores the parser to the state n commits ago. It fails if n
// exceeds the retained rollback log.
func (p *Parser) Rollback(n int) error {
	if n <= 0 {
		return nil
	}
	if n >= len(p.rollback) {
		return newParseError(StopNone, "rollback(%d) exceeds retained history of %d", n, len(p.rollback)-1)
	}
	target := p.rollback[len(p.rollback)-1-n]
	p.restore(target)
	p.rollback = p.rollback[:len(p.rollback)-n]
	return nil
}

// Reset returns the parser to its freshly constructed state.
func (p *Parser) Reset() {
	fresh, _ := NewParser(p.g, p.limits)
	*p = *fresh
}

// Clone deep-copies the parser so the two copies may diverge independently
// (spec.md §4.6's clone independence property).
func (p *Parser) Clone() *Parser {
	out := &Parser{
		g:           p.g,
		limits:      p.limits,
		lexState:    p.lexState,
		pending:     append([]byte(nil), p.pending...),
		acceptStack: append([]acceptMark(nil), p.acceptStack...),
		stopped:     p.stopped,
		errored:     p.errored,
		stopReason:  p.stopReason,
		errMsg:      p.errMsg,
	}
	out.chart = make([]*itemSet, len(p.chart))
	for i, s := range p.chart {
		out.chart[i] = s.clone()
	}
	out.rollback = make([]checkpoint, len(p.rollback))
	for i, c := range p.rollback {
		out.rollback[i] = checkpoint{
			chartLen:    c.chartLen,
			lexState:    c.lexState,
			pending:     append([]byte(nil), c.pending...),
			acceptStack: append([]acceptMark(nil), c.acceptStack...),
		}
	}
	return out
}

// Grammar exposes the compiled grammar the parser was built from.
func (p *Parser) Grammar() *grammar.Grammar { return p.g }

// LexState exposes the current master-lexer state, used by internal/mask to
// seed its own trie-walk simulations.
func (p *Parser) LexState() int32 { return p.lexState }

// Pending exposes the bytes accumulated since the last committed lexeme.
func (p *Parser) Pending() []byte { return p.pending }

// ExpectedTerminals returns the distinct terminal ids the grammar is
// currently waiting on at the chart frontier. internal/mask uses this to
// decide whether its single-terminal sliced-bias fast path applies.
func (p *Parser) ExpectedTerminals() []rlex.TerminalID {
	return expectedTerminals(p.g, p.chart[p.pos()])
}
