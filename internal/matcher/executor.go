package matcher

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/screenager/llguidance/internal/toktrie"
)

// defaultParallelism returns 80% of the available parallelism, clamped to
// 32, matching the batch-executor sizing rule of spec.md §4.7.
func defaultParallelism() int {
	n := runtime.GOMAXPROCS(0) * 4 / 5
	if n < 1 {
		n = 1
	}
	if n > 32 {
		n = 32
	}
	return n
}

// Task pairs a matcher with the word offset its mask should be written to in
// a shared destination buffer (spec.md §4.7's "pointer-plus-stride").
type Task struct {
	Matcher *Matcher
	Offset  int // word offset into Dest; must leave room for VocabSize()/32 words
}

// Executor runs compute_mask across many distinct matchers on a bounded
// worker pool. It holds no per-matcher state: workers borrow each matcher
// for exactly the duration of one compute_mask call.
type Executor struct {
	workers int
}

// NewExecutor builds an Executor with the given worker count, or the
// spec-mandated default (80% of GOMAXPROCS, clamped to 32) if workers <= 0.
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = defaultParallelism()
	}
	return &Executor{workers: workers}
}

// Workers returns the size of the executor's worker pool.
func (ex *Executor) Workers() int { return ex.workers }

// ComputeMasks fills dest (a contiguous buffer of 32-bit words) with one
// mask per task, at each task's word offset. It rejects, before starting any
// work, a batch that borrows the same matcher twice or names an offset that
// would run past the end of dest. A task whose compute_mask call fails has
// its slice filled with the singleton-EOS bit instead of aborting the batch
// (spec.md §4.7).
func (ex *Executor) ComputeMasks(tasks []Task, dest []uint32) error {
	seen := make(map[*Matcher]bool, len(tasks))
	for i, t := range tasks {
		if t.Matcher == nil {
			return fmt.Errorf("matcher: executor task %d has a nil matcher", i)
		}
		if seen[t.Matcher] {
			return fmt.Errorf("matcher: executor task %d reuses a matcher already borrowed in this batch", i)
		}
		seen[t.Matcher] = true
		words := (t.Matcher.env.VocabSize() + 31) / 32
		if t.Offset < 0 || t.Offset+words > len(dest) {
			return fmt.Errorf("matcher: executor task %d offset %d (width %d words) overruns dest of %d words", i, t.Offset, words, len(dest))
		}
	}

	sem := make(chan struct{}, ex.workers)
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i := range tasks {
		t := tasks[i]
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			mk, err := t.Matcher.ComputeMask()
			if err != nil {
				mk = toktrie.SingletonAllowedSet(t.Matcher.env.VocabSize(), t.Matcher.env.EOSToken())
			}
			mk.WriteInto(dest, t.Offset)
		}()
	}
	wg.Wait()
	return nil
}
