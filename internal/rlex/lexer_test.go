package rlex

import "testing"

func mustParse(t *testing.T, pattern string) node {
	t.Helper()
	n, err := Parse(pattern)
	if err != nil {
		t.Fatalf("Parse(%q): %v", pattern, err)
	}
	return n
}

func runString(t *testing.T, l *Lexer, s string) (state int32, accepted []AcceptedTerminal) {
	t.Helper()
	state = l.Start()
	for i := 0; i < len(s); i++ {
		var err error
		state, accepted, err = l.Step(state, s[i])
		if err != nil {
			t.Fatalf("Step at byte %d: %v", i, err)
		}
		if state == DeadLexerState {
			return state, nil
		}
	}
	return state, accepted
}

func TestLexerAcceptsLongestAmongTerminals(t *testing.T) {
	specs := []TerminalSpec{
		{ID: 1, Name: "IF", AST: mustParse(t, "if"), Rank: 0},
		{ID: 2, Name: "IDENT", AST: mustParse(t, "[a-z]+"), Rank: 1},
	}
	l, err := BuildLexer(specs, 64, 1000)
	if err != nil {
		t.Fatal(err)
	}
	_, accepted := runString(t, l, "if")
	if len(accepted) != 2 {
		t.Fatalf("expected both IF and IDENT to accept on \"if\", got %+v", accepted)
	}
	if accepted[0].ID != 1 {
		t.Fatalf("expected IF (rank 0) first, got %+v", accepted)
	}

	_, accepted2 := runString(t, l, "iffy")
	if len(accepted2) != 1 || accepted2[0].ID != 2 {
		t.Fatalf("expected only IDENT to accept on \"iffy\", got %+v", accepted2)
	}
}

func TestLexerDeadOnNoTransition(t *testing.T) {
	specs := []TerminalSpec{{ID: 1, Name: "DIGITS", AST: mustParse(t, "[0-9]+")}}
	l, err := BuildLexer(specs, 64, 1000)
	if err != nil {
		t.Fatal(err)
	}
	state, _ := runString(t, l, "12a")
	if state != DeadLexerState {
		t.Fatalf("expected dead state after non-digit byte, got %d", state)
	}
}

func TestLexerForcedByte(t *testing.T) {
	specs := []TerminalSpec{{ID: 1, Name: "ABC", AST: mustParse(t, "abc")}}
	l, err := BuildLexer(specs, 64, 1000)
	if err != nil {
		t.Fatal(err)
	}
	b, ok := l.ForcedByte(l.Start())
	if !ok || b != 'a' {
		t.Fatalf("expected forced byte 'a' at start, got %v %v", b, ok)
	}
	next, _, err := l.Step(l.Start(), 'a')
	if err != nil {
		t.Fatal(err)
	}
	b, ok = l.ForcedByte(next)
	if !ok || b != 'b' {
		t.Fatalf("expected forced byte 'b' after 'a', got %v %v", b, ok)
	}
}

func TestLexerIntersectAndComplementTerminal(t *testing.T) {
	notAB, err := compileTerminal("ab")
	if err != nil {
		t.Fatal(err)
	}
	comp := complementTerminal(notAB)
	anything, err := compileTerminal("[a-z][a-z]")
	if err != nil {
		t.Fatal(err)
	}
	intersected := intersectTerminal(comp, anything)

	specs := []TerminalSpec{{ID: 1, Name: "NOT_AB", DFA: intersected}}
	l, err := BuildLexer(specs, 64, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if _, accepted := runString(t, l, "ab"); len(accepted) != 0 {
		t.Fatalf("expected \"ab\" to be excluded by complement, got accepted=%+v", accepted)
	}
	state, accepted := runString(t, l, "xy")
	if state == DeadLexerState || len(accepted) != 1 {
		t.Fatalf("expected \"xy\" to be accepted by NOT_AB, got state=%d accepted=%+v", state, accepted)
	}
}

func TestLexerCacheRevisitsSameState(t *testing.T) {
	specs := []TerminalSpec{{ID: 1, Name: "STAR", AST: mustParse(t, "a*")}}
	l, err := BuildLexer(specs, 2, 1000)
	if err != nil {
		t.Fatal(err)
	}
	s := l.Start()
	for i := 0; i < 50; i++ {
		next, accepted, err := l.Step(s, 'a')
		if err != nil {
			t.Fatal(err)
		}
		if len(accepted) != 1 {
			t.Fatalf("expected a* to keep accepting, iteration %d", i)
		}
		s = next
	}
}

func TestLexerStateBudgetExceeded(t *testing.T) {
	specs := []TerminalSpec{{ID: 1, Name: "AB_STAR", AST: mustParse(t, "(a|b){1,20}")}}
	l, err := BuildLexer(specs, 64, 2)
	if err != nil {
		t.Fatal(err)
	}
	state := l.Start()
	var stepErr error
	for i := 0; i < 20 && stepErr == nil; i++ {
		state, _, stepErr = l.Step(state, 'a')
	}
	if stepErr != ErrTooManyLexerStates {
		t.Fatalf("expected ErrTooManyLexerStates, got %v", stepErr)
	}
}
