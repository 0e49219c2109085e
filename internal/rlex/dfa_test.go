package rlex

import "testing"

func accepts(d *termDFA, s string) bool {
	state := d.start
	for i := 0; i < len(s); i++ {
		state = d.trans[state][s[i]]
		if state == deadState32 {
			return false
		}
	}
	return d.accept[state]
}

func TestCompileTerminalLiteral(t *testing.T) {
	d, err := compileTerminal("abc")
	if err != nil {
		t.Fatal(err)
	}
	if !accepts(d, "abc") {
		t.Fatal("expected \"abc\" to be accepted")
	}
	if accepts(d, "ab") || accepts(d, "abcd") {
		t.Fatal("expected only the exact literal to be accepted")
	}
}

func TestCompileTerminalStarAcceptsEmpty(t *testing.T) {
	d, err := compileTerminal("a*")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"", "a", "aaaa"} {
		if !accepts(d, s) {
			t.Fatalf("expected %q to be accepted by a*", s)
		}
	}
	if accepts(d, "b") {
		t.Fatal("expected \"b\" to be rejected by a*")
	}
}

func TestComplementTerminal(t *testing.T) {
	d, err := compileTerminal("ab")
	if err != nil {
		t.Fatal(err)
	}
	c := complementTerminal(d)
	if accepts(c, "ab") {
		t.Fatal("complement must reject \"ab\"")
	}
	if !accepts(c, "ac") || !accepts(c, "") {
		t.Fatal("complement must accept everything else")
	}
}

func TestIntersectTerminal(t *testing.T) {
	digits, err := compileTerminal("[0-9]+")
	if err != nil {
		t.Fatal(err)
	}
	maxThree, err := compileTerminal("[0-9][0-9]?[0-9]?")
	if err != nil {
		t.Fatal(err)
	}
	both := intersectTerminal(digits, maxThree)
	if !accepts(both, "123") {
		t.Fatal("expected \"123\" to satisfy both operands")
	}
	if accepts(both, "1234") {
		t.Fatal("expected \"1234\" to be rejected (exceeds maxThree)")
	}
	if accepts(both, "") {
		t.Fatal("expected empty string to be rejected (digits requires one-or-more)")
	}
}
