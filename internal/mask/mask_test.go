package mask

import (
	"testing"

	"github.com/screenager/llguidance/internal/earley"
	"github.com/screenager/llguidance/internal/grammar"
	"github.com/screenager/llguidance/internal/toktrie"
)

const (
	tokFoo     = 0
	tokBar     = 1
	tokFo      = 2
	tokO       = 3
	tokFoobar  = 4
	tokEOS     = 5
	testVocabN = 6
)

func testVocab(t *testing.T) *toktrie.TokenEnv {
	t.Helper()
	entries := []toktrie.VocabEntry{
		{ID: tokFoo, Bytes: []byte("foo")},
		{ID: tokBar, Bytes: []byte("bar")},
		{ID: tokFo, Bytes: []byte("fo")},
		{ID: tokO, Bytes: []byte("o")},
		{ID: tokFoobar, Bytes: []byte("foobar")},
		{ID: tokEOS, Bytes: append([]byte{toktrie.SpecialMarker}, []byte("eos")...)},
	}
	env, err := toktrie.NewTokenEnv(entries, toktrie.Config{EOS: tokEOS})
	if err != nil {
		t.Fatalf("NewTokenEnv: %v", err)
	}
	return env
}

func TestComputeMaskAtStartAllowsOnlyFooPrefixes(t *testing.T) {
	env := testVocab(t)
	g, err := grammar.Compile(`start: "foo" "bar";`, grammar.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p, err := earley.NewParser(g, earley.DefaultLimits())
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	e := NewEngine(env, g)
	m, err := e.ComputeMask(p)
	if err != nil {
		t.Fatalf("ComputeMask: %v", err)
	}

	wantAllowed := map[toktrie.TokenID]bool{tokFoo: true, tokFo: true, tokFoobar: true}
	for id := toktrie.TokenID(0); id < testVocabN; id++ {
		got := m.Test(id)
		if got != wantAllowed[id] {
			t.Errorf("token %d: Test()=%v, want %v", id, got, wantAllowed[id])
		}
	}
}

func TestComputeMaskAfterFooAllowsBar(t *testing.T) {
	env := testVocab(t)
	g, err := grammar.Compile(`start: "foo" "bar";`, grammar.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p, err := earley.NewParser(g, earley.DefaultLimits())
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	if err := p.ConsumeBytes([]byte("foo")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	e := NewEngine(env, g)
	m, err := e.ComputeMask(p)
	if err != nil {
		t.Fatalf("ComputeMask: %v", err)
	}
	if !m.Test(tokBar) {
		t.Error("expected \"bar\" to be allowed after \"foo\"")
	}
	if m.Test(tokFo) || m.Test(tokO) {
		t.Error("did not expect \"fo\" or \"o\" to be allowed once the foo terminal is already committed")
	}
}

func TestComputeMaskIncludesEOSWhenAccepting(t *testing.T) {
	env := testVocab(t)
	g, err := grammar.Compile(`start: "foo" "bar";`, grammar.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p, err := earley.NewParser(g, earley.DefaultLimits())
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	if err := p.ConsumeBytes([]byte("foobar")); err != nil {
		t.Fatalf("ConsumeBytes: %v", err)
	}
	e := NewEngine(env, g)
	m, err := e.ComputeMask(p)
	if err != nil {
		t.Fatalf("ComputeMask: %v", err)
	}
	if !m.Test(tokEOS) {
		t.Error("expected EOS to be allowed once the grammar is fully matched")
	}
}

func TestSlicedBiasHasEntryForEveryTerminal(t *testing.T) {
	env := testVocab(t)
	g, err := grammar.Compile(`start: "foo" "bar";`, grammar.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	sb := BuildSlicedBias(g, env.Trie())
	// Every terminal the grammar declared must have an entry, even if it
	// turns out empty for this vocabulary.
	for _, spec := range g.Terminals {
		if sb.For(spec.ID) == nil {
			t.Fatalf("expected a sliced-bias entry for terminal %q", spec.Name)
		}
	}
}
