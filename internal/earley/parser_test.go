package earley

import (
	"testing"

	"github.com/screenager/llguidance/internal/grammar"
)

func compileOrFail(t *testing.T, src string) *grammar.Grammar {
	t.Helper()
	g, err := grammar.Compile(src, grammar.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return g
}

func newParserOrFail(t *testing.T, src string) *Parser {
	t.Helper()
	g := compileOrFail(t, src)
	p, err := NewParser(g, DefaultLimits())
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	if p.IsError() {
		t.Fatalf("NewParser left the parser errored: %s", p.ErrMsg())
	}
	return p
}

func TestLiteralConcatAccepts(t *testing.T) {
	p := newParserOrFail(t, `start: "foo" "bar";`)
	if err := p.ConsumeBytes([]byte("foobar")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	if !p.IsAccepting() {
		t.Fatal("expected the parser to accept after \"foobar\"")
	}
}

func TestLiteralConcatRejectsMismatch(t *testing.T) {
	p := newParserOrFail(t, `start: "foo" "bar";`)
	err := p.ConsumeBytes([]byte("foobaz"))
	if err == nil {
		t.Fatal("expected ConsumeBytes to fail on a byte no live lexeme extends")
	}
	if !p.IsError() {
		t.Fatal("expected the parser to be in an error state")
	}
	if p.StopReason() != StopNoExtension {
		t.Fatalf("expected StopNoExtension, got %s", p.StopReason())
	}
}

func TestPartialInputIsNotYetAccepting(t *testing.T) {
	p := newParserOrFail(t, `start: "foo" "bar";`)
	if err := p.ConsumeBytes([]byte("foo")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	if p.IsAccepting() {
		t.Fatal("did not expect the parser to accept after only \"foo\"")
	}
}

func TestAlternationConsumesOneBranch(t *testing.T) {
	p := newParserOrFail(t, `start: "cat" | "car";`)
	if err := p.ConsumeBytes([]byte("cat")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	if !p.IsAccepting() {
		t.Fatal("expected \"cat\" to be accepted")
	}
}

func TestAlternationRejectsNeitherBranch(t *testing.T) {
	p := newParserOrFail(t, `start: "cat" | "car";`)
	err := p.ConsumeBytes([]byte("cod"))
	if err == nil {
		t.Fatal("expected \"cod\" to be rejected")
	}
}

func TestRegexPrefixLiteralSuffixAccepts(t *testing.T) {
	// /a*/ "abc" /c*/ against "aabcc": a* greedily matches both leading a's
	// first, which is a dead end once "bcc" can't start the literal "abc".
	// Only backtracking a* down to its earlier one-byte accept point finds
	// the valid split (a, abc, c). Exercises the backward search over
	// recorded lexeme-boundary accept points, not just the most recent one.
	p := newParserOrFail(t, `start: /a*/ "abc" /c*/;`)
	if err := p.ConsumeBytes([]byte("aabcc")); err != nil {
		t.Fatalf("ConsumeBytes(\"aabcc\"): %v", err)
	}
	if !p.IsAccepting() {
		t.Fatal("expected \"aabcc\" to be accepted")
	}
}

func TestRegexPrefixLiteralSuffixRejectsNoLiteral(t *testing.T) {
	p := newParserOrFail(t, `start: /a*/ "abc" /c*/;`)
	err := p.ConsumeBytes([]byte("aabbcc"))
	if err == nil && p.IsAccepting() {
		t.Fatal("expected \"aabbcc\" to be rejected: it has no \"abc\" substring")
	}
}

func TestForcedBytesOnSingleAlternative(t *testing.T) {
	p := newParserOrFail(t, `start: "hello";`)
	forced := p.ForcedBytes(0)
	if string(forced) != "hello" {
		t.Fatalf("expected the whole literal to be forced, got %q", forced)
	}
}

func TestForcedBytesAfterPartialConsume(t *testing.T) {
	p := newParserOrFail(t, `start: "hello";`)
	if err := p.ConsumeBytes([]byte("he")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	forced := p.ForcedBytes(0)
	if string(forced) != "llo" {
		t.Fatalf("expected the remaining literal to be forced, got %q", forced)
	}
}

func TestForcedBytesStopsAtDivergence(t *testing.T) {
	p := newParserOrFail(t, `start: "cat" | "car";`)
	forced := p.ForcedBytes(0)
	if string(forced) != "ca" {
		t.Fatalf("expected the shared \"ca\" prefix forced and no more (branches diverge at 't'/'r'), got %q", forced)
	}
}

func TestStepLiveMatchesAlternatives(t *testing.T) {
	p := newParserOrFail(t, `start: "cat" | "car";`)
	if !p.StepLive([]byte("cat")) {
		t.Fatal("expected \"cat\" to stay live")
	}
	if !p.StepLive([]byte("car")) {
		t.Fatal("expected \"car\" to stay live")
	}
	if p.StepLive([]byte("cod")) {
		t.Fatal("expected \"cod\" to be dead: neither branch starts with 'o' after 'c'")
	}
}

func TestRollbackRestoresPriorState(t *testing.T) {
	p := newParserOrFail(t, `start: "foo" "bar";`)
	if err := p.ConsumeBytes([]byte("foo")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	p.Commit()
	if err := p.ConsumeBytes([]byte("bar")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	p.Commit()
	if !p.IsAccepting() {
		t.Fatal("expected acceptance after \"foobar\"")
	}
	if err := p.Rollback(1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if p.IsAccepting() {
		t.Fatal("expected rollback to undo the \"bar\" commit")
	}
	if err := p.ConsumeBytes([]byte("bar")); err != nil {
		t.Fatalf("ConsumeBytes after rollback: %v", err)
	}
	if !p.IsAccepting() {
		t.Fatal("expected re-consuming \"bar\" after rollback to accept again")
	}
}

func TestRollbackBeyondHistoryFails(t *testing.T) {
	p := newParserOrFail(t, `start: "foo";`)
	if err := p.Rollback(1); err == nil {
		t.Fatal("expected rollback with no prior commits to fail")
	}
}

func TestCloneDivergesIndependently(t *testing.T) {
	p := newParserOrFail(t, `start: "cat" | "car";`)
	if err := p.ConsumeBytes([]byte("ca")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	clone := p.Clone()
	if err := p.ConsumeBytes([]byte("t")); err != nil {
		t.Fatalf("ConsumeBytes on original: %v", err)
	}
	if !p.IsAccepting() {
		t.Fatal("expected original to accept \"cat\"")
	}
	if err := clone.ConsumeBytes([]byte("r")); err != nil {
		t.Fatalf("ConsumeBytes on clone: %v", err)
	}
	if !clone.IsAccepting() {
		t.Fatal("expected clone to accept \"car\"")
	}
}

func TestResetReturnsToFreshState(t *testing.T) {
	p := newParserOrFail(t, `start: "foo";`)
	if err := p.ConsumeBytes([]byte("foo")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	if !p.IsAccepting() {
		t.Fatal("expected acceptance before reset")
	}
	p.Reset()
	if p.IsAccepting() {
		t.Fatal("expected a fresh parser not to be accepting")
	}
	if err := p.ConsumeBytes([]byte("foo")); err != nil {
		t.Fatalf("ConsumeBytes after reset: %v", err)
	}
	if !p.IsAccepting() {
		t.Fatal("expected the reset parser to accept \"foo\" again")
	}
}

func TestParametricRuleSelfReferenceAccepts(t *testing.T) {
	// perm::_ recurses while fewer than 3 bits are set in the parameter,
	// then stops; this exercises predict/complete threading ParamTransform
	// through recursive self-reference (spec.md §6's parametric rules).
	g := compileOrFail(t, `
start: perm;
perm::_: "a" perm(incr(_)) %if bit_count_lt(0:8, 3)
        | "" %if bit_count_ge(0:8, 3);
`)
	p, err := NewParser(g, DefaultLimits())
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	// incr(_) adds one per recursion, so the parameter runs 0,1,2,...; 7
	// (0b111) is the first value with three bits set.
	if err := p.ConsumeBytes([]byte("aaaaaaa")); err != nil {
		t.Fatalf("ConsumeBytes(\"aaaaaaa\"): %v", err)
	}
	if !p.IsAccepting() {
		t.Fatal("expected \"aaaaaaa\" (seven recursions) to reach the base case")
	}
}
