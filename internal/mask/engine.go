// Package mask implements spec.md §4.5: deriving a vocabulary-sized token
// bitmask from a live earley.Parser so a host can bias next-token logits
// toward only grammar-legal continuations.
package mask

import (
	"fmt"

	"github.com/screenager/llguidance/internal/earley"
	"github.com/screenager/llguidance/internal/grammar"
	"github.com/screenager/llguidance/internal/toktrie"
)

// Engine computes masks for parsers sharing one compiled grammar and
// vocabulary. It is immutable once built and safe for concurrent use by
// multiple matchers, same as the toktrie.TokenEnv it wraps (spec.md §5).
type Engine struct {
	env    *toktrie.TokenEnv
	g      *grammar.Grammar
	sliced *SlicedBias
}

// NewEngine precomputes the sliced-bias table for (g, env) and returns an
// Engine ready to serve compute_mask calls for any parser built from g.
func NewEngine(env *toktrie.TokenEnv, g *grammar.Grammar) *Engine {
	return &Engine{
		env:    env,
		g:      g,
		sliced: BuildSlicedBias(g, env.Trie()),
	}
}

// ComputeMask derives the allowed-token bitmask for p's current position
// (spec.md §4.5): AllowAndContinue/Deny decisions during a structured trie
// walk, keyed by whether extending the candidate token's bytes keeps some
// terminal the parser is waiting on alive (earley.Parser.StepLive). EOS is
// included when the parser is already in an accepting state, and also as
// the fallback when no other token is allowed.
func (e *Engine) ComputeMask(p *earley.Parser) (*toktrie.AllowedSet, error) {
	if p.IsError() {
		return nil, fmt.Errorf("mask: parser is in an error state: %s", p.ErrMsg())
	}
	mask := toktrie.NewAllowedSet(e.env.VocabSize())
	if p.IsStopped() {
		return e.withEOSFallback(mask), nil
	}

	if len(p.Pending()) == 0 {
		if expected := p.ExpectedTerminals(); len(expected) == 1 {
			if s := e.sliced.For(expected[0]); s != nil {
				mask.Union(s)
			}
		}
	}

	trie := e.env.Trie()
	trie.Walk(func(prefix []byte) toktrie.Decision {
		if len(prefix) == 0 {
			return toktrie.AllowAndContinue
		}
		if p.StepLive(prefix) {
			return toktrie.AllowAndContinue
		}
		return toktrie.Deny
	}, func(id toktrie.TokenID) {
		mask.Insert(id)
	})

	if p.IsAccepting() {
		if eos := e.env.EOSToken(); eos != toktrie.NoToken {
			mask.Insert(eos)
		}
	}

	if mask.IsEmpty() {
		// Every structural candidate was pruned; fall back to EOS alone
		// rather than hand the host an empty mask it cannot sample from
		// (spec.md §8's EOS-safety testable property).
		return e.withEOSFallback(mask), nil
	}
	return mask, nil
}

// withEOSFallback guarantees a non-empty mask by forcing EOS on, used both
// when the parser has already stopped and as the last-resort safety net if
// the trie walk (or an upstream error) would otherwise leave every bit
// clear.
func (e *Engine) withEOSFallback(mask *toktrie.AllowedSet) *toktrie.AllowedSet {
	if eos := e.env.EOSToken(); eos != toktrie.NoToken {
		mask.Insert(eos)
	}
	return mask
}
