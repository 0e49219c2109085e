package watchgrammar

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchRecompilesOnSave(t *testing.T) {
	dir := t.TempDir()
	grammarPath := filepath.Join(dir, "g.lark")
	if err := os.WriteFile(grammarPath, []byte(`start: "foo";`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	results := make(chan Result, 4)
	w, err := New(grammarPath, "", func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.debounce = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		if err := w.Watch(done); err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	defer close(done)

	// Give the watcher a moment to register its fsnotify.Add before the
	// write, or the event can be missed entirely on some platforms.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(grammarPath, []byte(`start: "bar";`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case r := <-results:
		if r.Err != nil {
			t.Fatalf("expected the rewritten grammar to compile cleanly, got %v", r.Err)
		}
		if r.Grammar == nil {
			t.Fatal("expected a compiled grammar in the result")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a recompile after save")
	}
}

func TestCompileAndParseReportsCompileErrors(t *testing.T) {
	dir := t.TempDir()
	grammarPath := filepath.Join(dir, "g.lark")
	if err := os.WriteFile(grammarPath, []byte(`start: undefined_rule;`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	w := &Watcher{grammarPath: grammarPath}
	r := w.compileAndParse()
	if r.Err == nil {
		t.Fatal("expected a reference to an undefined rule to fail compilation")
	}
	if r.Grammar != nil {
		t.Fatal("expected no grammar on a compile error")
	}
}
