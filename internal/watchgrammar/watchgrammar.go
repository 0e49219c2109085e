// Package watchgrammar watches a grammar file (and, optionally, a sample
// file) for changes and recompiles the grammar (the sample file's contents
// are not read) using fsnotify,
// adapted from the teacher's internal/watcher package (which watched
// indexed directories for re-embedding).
package watchgrammar

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/screenager/llguidance/internal/grammar"
)

// Result is delivered to the host callback after each recompile triggered
// by a file-save event.
type Result struct {
	Grammar *grammar.Grammar
	Err     error // compile error, if any; Grammar is nil when non-nil
	Source  string
}

// Watcher watches a grammar file and an optional sample file, recompiling
// and reporting on every save.
type Watcher struct {
	fw          *fsnotify.Watcher
	grammarPath string
	samplePath  string // "" if not watching a sample file
	onResult    func(Result)
	debounce    time.Duration
}

// New creates a Watcher that recompiles grammarPath every time it (or
// samplePath, if non-empty) is saved, invoking onResult with the outcome.
// The sample file is only a trigger; it is not parsed.
func New(grammarPath, samplePath string, onResult func(Result)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watchgrammar: fsnotify: %w", err)
	}
	return &Watcher{
		fw:          fw,
		grammarPath: grammarPath,
		samplePath:  samplePath,
		onResult:    onResult,
		debounce:    300 * time.Millisecond,
	}, nil
}

// Watch adds the watched files' parent directories (fsnotify watches
// directories, not bare files, so renames-over-writes by editors are still
// caught) and processes events until done is closed or an unrecoverable
// error occurs. Call this in a goroutine.
func (w *Watcher) Watch(done <-chan struct{}) error {
	dirs := map[string]bool{filepath.Dir(w.grammarPath): true}
	if w.samplePath != "" {
		dirs[filepath.Dir(w.samplePath)] = true
	}
	for dir := range dirs {
		if err := w.fw.Add(dir); err != nil {
			return fmt.Errorf("watchgrammar: watch %s: %w", dir, err)
		}
	}

	pending := make(map[string]*time.Timer)
	recompile := func(path string) {
		fmt.Fprintf(os.Stderr, "[watchgrammar] recompiling %s\n", path)
		w.onResult(w.compileAndParse())
	}

	for {
		select {
		case <-done:
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			path := event.Name
			if path != w.grammarPath && path != w.samplePath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			pending[path] = time.AfterFunc(w.debounce, func() { recompile(path) })

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "[watchgrammar] error: %v\n", err)
		}
	}
}

// compileAndParse reads the grammar off disk, compiles it and reports the
// outcome (the sample file is not read); a grammar compile error is reported, not fatal to
// the watch loop, so an editor mid-save can be tried again on the next
// event.
func (w *Watcher) compileAndParse() Result {
	src, err := os.ReadFile(w.grammarPath)
	if err != nil {
		return Result{Err: fmt.Errorf("watchgrammar: reading %s: %w", w.grammarPath, err)}
	}
	g, err := grammar.Compile(string(src), grammar.CompileOptions{})
	if err != nil {
		return Result{Err: fmt.Errorf("watchgrammar: compiling %s: %w", w.grammarPath, err), Source: string(src)}
	}
	return Result{Grammar: g, Source: string(src)}
}
