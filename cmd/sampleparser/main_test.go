package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExitCodeErrorUnwrapsAndCarriesCode(t *testing.T) {
	inner := errors.New("boom")
	err := compileErrf(inner)

	var ece *exitCodeError
	if !errors.As(err, &ece) {
		t.Fatal("expected compileErrf to produce an *exitCodeError")
	}
	if ece.code != 2 {
		t.Errorf("compileErrf code = %d, want 2", ece.code)
	}
	if !errors.Is(err, inner) {
		t.Error("expected the exit-code error to unwrap to the original error")
	}
}

func TestUsageAndRuntimeErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"usage", usageErrf("bad args: %d", 3), 1},
		{"compile", compileErrf(errors.New("parse failed")), 2},
		{"runtime", runtimeErrf(errors.New("fuel exhausted")), 3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var ece *exitCodeError
			if !errors.As(c.err, &ece) {
				t.Fatal("expected an *exitCodeError")
			}
			if ece.code != c.want {
				t.Errorf("code = %d, want %d", ece.code, c.want)
			}
		})
	}
}

func TestReadGrammarFileMissingFileIsUsageError(t *testing.T) {
	_, err := readGrammarFile(filepath.Join(t.TempDir(), "nope.lark"))
	var ece *exitCodeError
	if !errors.As(err, &ece) {
		t.Fatal("expected an *exitCodeError")
	}
	if ece.code != 1 {
		t.Errorf("missing grammar file should be a usage error (1), got %d", ece.code)
	}
}

func TestReadGrammarFileUndefinedRuleIsCompileError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "g.lark")
	if err := os.WriteFile(path, []byte(`start: undefined_rule;`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := readGrammarFile(path)
	var ece *exitCodeError
	if !errors.As(err, &ece) {
		t.Fatal("expected an *exitCodeError")
	}
	if ece.code != 2 {
		t.Errorf("an undefined-rule reference should be a compile error (2), got %d", ece.code)
	}
}

func TestReadGrammarFileValidGrammarSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "g.lark")
	if err := os.WriteFile(path, []byte(`start: "foo" "bar";`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	g, err := readGrammarFile(path)
	if err != nil {
		t.Fatalf("readGrammarFile: %v", err)
	}
	if len(g.Symbols) == 0 {
		t.Error("expected at least one compiled rule")
	}
}
