package grammar

import "testing"

func compileOrFail(t *testing.T, src string) *Grammar {
	t.Helper()
	g, err := Compile(src, CompileOptions{})
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return g
}

func TestCompileLiteralRegexConcat(t *testing.T) {
	g := compileOrFail(t, `start: "hello " /[0-9]+/;`)
	if len(g.Symbols) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(g.Symbols))
	}
	start := g.Symbols[g.Start]
	if len(start.Alternatives) != 1 || len(start.Alternatives[0].Items) != 2 {
		t.Fatalf("unexpected rule shape: %+v", start)
	}
	for _, it := range start.Alternatives[0].Items {
		if it.Kind != ItemTerminal {
			t.Fatalf("expected terminal items, got %+v", it)
		}
	}
	if g.Lexer == nil {
		t.Fatal("expected a built lexer")
	}
}

func TestCompileRuleLevelRepeat(t *testing.T) {
	// ab{3,5}: three mandatory copies of "ab" then up to two more optional.
	g := compileOrFail(t, `start: ab{3,5}; ab: "a" | "b";`)
	start := g.Symbols[g.Start]
	if len(start.Alternatives) != 1 || len(start.Alternatives[0].Items) != 1 {
		t.Fatalf("expected start to desugar to a single synthetic rule reference, got %+v", start)
	}
	item := start.Alternatives[0].Items[0]
	if item.Kind != ItemSymbol {
		t.Fatalf("expected repeat to desugar to a rule reference, got %+v", item)
	}
	rep := g.Symbols[item.Sym]
	if !rep.Synthetic {
		t.Fatalf("expected synthesized repeat rule to be marked Synthetic")
	}
	// 3 mandatory "ab" items + 2 nested optional-repeat items = 5 items.
	if len(rep.Alternatives) != 1 || len(rep.Alternatives[0].Items) != 5 {
		t.Fatalf("expected 5 items in the repeat chain, got %+v", rep.Alternatives)
	}
}

func TestCompileUnboundedRepeat(t *testing.T) {
	g := compileOrFail(t, `start: "x"{2,};`)
	start := g.Symbols[g.Start]
	item := start.Alternatives[0].Items[0]
	tail := g.Symbols[item.Sym]
	// min=2 mandatory copies + one reference into the right-recursive tail rule.
	if len(tail.Alternatives[0].Items) != 3 {
		t.Fatalf("expected 2 mandatory copies + tail ref, got %+v", tail.Alternatives[0].Items)
	}
}

func TestCompileParametricGuardAndTransform(t *testing.T) {
	g := compileOrFail(t, `
perm::_: "a" perm(incr(_)) %if bit_count_lt(0:8, 3)
        | "" %if bit_count_ge(0:8, 3);
`)
	rule, ok := g.SymbolByName("perm")
	if !ok {
		t.Fatal("expected rule \"perm\" to be resolved")
	}
	r := g.Symbols[rule]
	if !r.Parametric {
		t.Fatal("expected perm to be parametric")
	}
	if len(r.Alternatives) != 2 {
		t.Fatalf("expected 2 alternatives, got %d", len(r.Alternatives))
	}
	recAlt := r.Alternatives[0]
	if recAlt.Guard == nil || !EvalGuard(recAlt.Guard, 0) {
		t.Fatal("expected the recursive alt's guard to hold at p=0")
	}
	if EvalGuard(recAlt.Guard, 0x07) {
		t.Fatal("expected the recursive alt's guard to fail once 3 bits are set")
	}
	baseAlt := r.Alternatives[1]
	if baseAlt.Guard == nil || !EvalGuard(baseAlt.Guard, 0x07) {
		t.Fatal("expected the base-case guard to hold once 3 bits are set")
	}

	var recItem Item
	for _, it := range recAlt.Items {
		if it.Kind == ItemSymbol && it.Sym == rule {
			recItem = it
		}
	}
	if recItem.ParamTransform == nil {
		t.Fatal("expected the recursive reference to carry a transform")
	}
	next := ApplyTransform(recItem.ParamTransform, 0)
	if next != 1 {
		t.Fatalf("expected incr(_) to bump the parameter to 1, got %d", next)
	}
}

func TestCompileTerminalAlgebra(t *testing.T) {
	g := compileOrFail(t, `
start: AB;
AB: ~(DIGIT) & WORD;
DIGIT: /[0-9]+/;
WORD: /[a-z]+/;
`)
	if g.Lexer == nil {
		t.Fatal("expected a lexer")
	}
	state := g.Lexer.Start()
	var err error
	var accepted bool
	for _, b := range []byte("abc") {
		var next int32
		next, _, err = g.Lexer.Step(state, b)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		state = next
	}
	for _, a := range g.Lexer.Accepted(state) {
		_ = a
		accepted = true
	}
	if !accepted {
		t.Fatal("expected \"abc\" to be accepted by WORD & ~DIGIT")
	}
}

func TestCompileUnknownRuleError(t *testing.T) {
	_, err := Compile(`start: missing;`, CompileOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	ce, ok := err.(*CompileError)
	if !ok || ce.Category != CategoryUnknownName {
		t.Fatalf("expected CategoryUnknownName, got %#v", err)
	}
}

func TestCompileDuplicateRuleError(t *testing.T) {
	_, err := Compile(`start: "a"; start: "b";`, CompileOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	ce, ok := err.(*CompileError)
	if !ok || ce.Category != CategoryDuplicateRule {
		t.Fatalf("expected CategoryDuplicateRule, got %#v", err)
	}
}

func TestCompileAlgebraForbiddenAtRuleLevel(t *testing.T) {
	_, err := Compile(`start: A & B; A: "a"; B: "b";`, CompileOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	ce, ok := err.(*CompileError)
	if !ok || ce.Category != CategoryForbiddenInTerm {
		t.Fatalf("expected CategoryForbiddenInTerm, got %#v", err)
	}
}
