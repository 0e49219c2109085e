// Package matcher implements spec.md §4.6: the per-sequence façade a host
// embeds to drive constrained decoding. It wraps an earley.Parser and a
// mask.Engine behind a small state machine (Normal/Stopped/Error), absorbing
// panics from the layers beneath it so a host's generation loop never has to
// recover from one itself.
package matcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/screenager/llguidance/internal/earley"
	"github.com/screenager/llguidance/internal/grammar"
	"github.com/screenager/llguidance/internal/mask"
	"github.com/screenager/llguidance/internal/toktrie"
)

// State is the matcher's coarse lifecycle stage (spec.md §4.6).
type State int

const (
	StateNormal State = iota
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "Normal"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// LogLevel is the matcher's log_level constructor parameter (spec.md
// §4.6), mapped onto an slog.Level for the matcher's own diagnostics.
type LogLevel int

const (
	LogSilent LogLevel = iota
	LogError
	LogInfo
	LogDebug
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogInfo:
		return slog.LevelInfo
	case LogError:
		return slog.LevelError
	default:
		// LogSilent: logs still build, but the handler below filters
		// everything by setting its level above any value ever emitted.
		return slog.LevelError + 1
	}
}

// Caps bounds matcher-level resources that sit above the parser's own
// per-step fuel (spec.md §3's "Parser limits"): a ceiling on tokens consumed
// over the matcher's lifetime. Per-rule max_tokens attributes are compiled
// into the grammar IR (grammar.RuleAttrs.MaxTokens) but are not enforced
// here: doing so would require the Earley engine to track which rule
// instance produced each committed lexeme, which the chart does not record
// today. Only the matcher-wide ceiling is enforced.
type Caps struct {
	MaxTokensTotal int // 0 means unbounded
}

// Retokenize re-derives a canonical token sequence from raw bytes, used by
// ComputeFFTokens. A host without a canonical (round-trippable) tokenizer
// may leave this nil; ComputeFFTokens then always returns an empty slice,
// matching spec.md §4.6's "empty when tokenizer is non-canonical".
type Retokenize func([]byte) []toktrie.TokenID

// Matcher is the per-sequence state machine. It is not safe for concurrent
// use: spec.md §5 requires every operation on one matcher to come from a
// single thread, with parallelism instead achieved by partitioning distinct
// matchers across an Executor's worker pool.
type Matcher struct {
	g    *grammar.Grammar
	env  *toktrie.TokenEnv
	eng  *mask.Engine
	caps Caps
	log  *slog.Logger

	parser *earley.Parser
	retok  Retokenize

	state      State
	stopReason earley.StopReason
	errMsg     string
	tokens     []toktrie.TokenID
}

// New builds a matcher in Normal state, or in Error state if grammar
// construction itself failed (spec.md §4.6's "new" row). log_level maps
// onto an slog.Level (spec.md §9's "global state" note on construction-time
// immutability): the matcher's logger is fixed for its lifetime.
func New(g *grammar.Grammar, env *toktrie.TokenEnv, caps Caps, limits earley.Limits, log LogLevel) *Matcher {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: log.slogLevel()})
	m := &Matcher{
		g:    g,
		env:  env,
		eng:  mask.NewEngine(env, g),
		caps: caps,
		log:  slog.New(handler).With("component", "matcher"),
	}
	p, err := earley.NewParser(g, limits)
	if err != nil {
		m.transitionError(earley.StopNone, err.Error())
		return m
	}
	m.parser = p
	if p.IsError() {
		m.transitionError(p.StopReason(), p.ErrMsg())
	}
	return m
}

// SetRetokenize installs the canonical re-tokenizer used by ComputeFFTokens.
func (m *Matcher) SetRetokenize(r Retokenize) { m.retok = r }

// recoverPanic converts a panic unwinding through a façade entry point into
// an Error-state transition with a compact state dump, per spec.md §4.6's
// panic-containment requirement, and writes the resulting sticky error into
// *errOut so the panicking call still returns a well-formed error instead of
// a bare nil. Call via defer at the top of every exported method that
// touches the parser or mask engine.
func (m *Matcher) recoverPanic(opName string, errOut *error) {
	if r := recover(); r != nil {
		m.transitionError(earley.StopNone, fmt.Sprintf("panic in %s: %v (%s)", opName, r, m.stateDump()))
		*errOut = m.stickyErr()
	}
}

func (m *Matcher) stateDump() string {
	return fmt.Sprintf("Tokens: %v, <state: %s>", m.tokens, m.state)
}

func (m *Matcher) transitionError(reason earley.StopReason, msg string) {
	m.state = StateError
	m.stopReason = reason
	m.errMsg = msg
	m.log.Error("matcher entering Error state", "msg", msg)
}

func (m *Matcher) transitionStopped(reason earley.StopReason) {
	m.state = StateStopped
	m.stopReason = reason
	m.log.Info("matcher entering Stopped state", "reason", string(reason))
}

func (m *Matcher) stickyErr() error {
	return fmt.Errorf("matcher: %s", m.errMsg)
}

// IsAccepting reports whether the sequence committed so far is a legal
// stopping point.
func (m *Matcher) IsAccepting() bool {
	return m.state == StateNormal && m.parser.IsAccepting()
}

// IsStopped reports whether the matcher has no legal continuation left
// (Stopped or Error).
func (m *Matcher) IsStopped() bool { return m.state != StateNormal }

// IsError reports whether the matcher is in the fatal Error state.
func (m *Matcher) IsError() bool { return m.state == StateError }

// StopReason returns the closed-enum reason the matcher stopped or errored.
func (m *Matcher) StopReason() earley.StopReason { return m.stopReason }

// GetError returns the sticky error message, or "" if not in Error state.
func (m *Matcher) GetError() string {
	if m.state != StateError {
		return ""
	}
	return m.errMsg
}

// ComputeMask derives the current allowed-token bitvector (spec.md §4.5,
// §4.6). A parser/lexer error discovered during mask computation itself
// stops the matcher (not errors it) and returns the singleton-EOS mask,
// since stopping is always a safe fallback; a matcher already in Error
// returns the sticky error instead.
func (m *Matcher) ComputeMask() (mk *toktrie.AllowedSet, err error) {
	defer m.recoverPanic("compute_mask", &err)
	if m.state == StateError {
		return nil, m.stickyErr()
	}
	if m.state == StateStopped {
		return toktrie.SingletonAllowedSet(m.env.VocabSize(), m.env.EOSToken()), nil
	}
	mk, err = m.eng.ComputeMask(m.parser)
	if err != nil {
		m.log.Error("compute_mask failed, falling back to EOS and stopping", "err", err)
		m.transitionStopped(m.parser.StopReason())
		return toktrie.SingletonAllowedSet(m.env.VocabSize(), m.env.EOSToken()), nil
	}
	return mk, nil
}

// ConsumeToken commits a single token, advancing the parser over its raw
// bytes (or, for the EOS token, transitioning straight to Stopped).
func (m *Matcher) ConsumeToken(t toktrie.TokenID) (err error) {
	defer m.recoverPanic("consume_token", &err)
	if m.state == StateError {
		return m.stickyErr()
	}
	if m.state == StateStopped {
		if t == m.env.EOSToken() {
			return nil
		}
		return fmt.Errorf("matcher: consume_token(%d) after the matcher has already stopped", t)
	}
	if t == m.env.EOSToken() {
		if !m.parser.IsAccepting() {
			m.transitionError(earley.StopNoExtension, "eos token committed while the grammar is not in an accepting state")
			return m.stickyErr()
		}
		m.tokens = append(m.tokens, t)
		m.transitionStopped(earley.StopEndOfSentence)
		return nil
	}
	if m.caps.MaxTokensTotal > 0 && len(m.tokens) >= m.caps.MaxTokensTotal {
		m.transitionStopped(earley.StopMaxTokensTotal)
		return fmt.Errorf("matcher: max_tokens_total (%d) reached", m.caps.MaxTokensTotal)
	}
	bytes := m.env.Trie().TokenBytes(t)
	if consumeErr := m.parser.ConsumeBytes(bytes); consumeErr != nil {
		var pe *earley.ParseError
		if errors.As(consumeErr, &pe) {
			m.transitionError(pe.Reason, pe.Error())
		} else {
			m.transitionError(earley.StopNone, consumeErr.Error())
		}
		return m.stickyErr()
	}
	m.tokens = append(m.tokens, t)
	m.parser.Commit()
	if m.parser.IsError() {
		m.transitionError(m.parser.StopReason(), m.parser.ErrMsg())
		return m.stickyErr()
	}
	return nil
}

// ConsumeTokens commits ts in order, stopping at the first failure.
func (m *Matcher) ConsumeTokens(ts []toktrie.TokenID) error {
	for _, t := range ts {
		if err := m.ConsumeToken(t); err != nil {
			return err
		}
	}
	return nil
}

// TryConsumeTokens commits as many of ts as are legal, never erroring; it
// returns how many were committed.
func (m *Matcher) TryConsumeTokens(ts []toktrie.TokenID) int {
	n := 0
	for _, t := range ts {
		if err := m.ConsumeToken(t); err != nil {
			break
		}
		n++
	}
	return n
}

// ComputeFFBytes returns the forced-byte buffer: bytes every accepting
// continuation must share (spec.md §4.4's forced-prefix, §8's
// forced-prefix-consistency property).
func (m *Matcher) ComputeFFBytes() []byte {
	if m.state != StateNormal {
		return nil
	}
	return m.parser.ForcedBytes(0)
}

// ComputeFFTokens re-tokenizes the forced-byte buffer canonically, or
// returns an empty slice if no Retokenize function was installed.
func (m *Matcher) ComputeFFTokens() []toktrie.TokenID {
	if m.retok == nil {
		return nil
	}
	b := m.ComputeFFBytes()
	if len(b) == 0 {
		return nil
	}
	return m.retok(b)
}

// Rollback undoes the last n committed tokens. It errors if n exceeds the
// retained rollback history; a successful rollback always returns the
// matcher to Normal, since a checkpoint is only ever taken from a healthy
// state.
func (m *Matcher) Rollback(n int) error {
	if m.parser == nil {
		return fmt.Errorf("matcher: rollback on an unconstructed parser")
	}
	if err := m.parser.Rollback(n); err != nil {
		return fmt.Errorf("matcher: %w", err)
	}
	if n > 0 {
		m.tokens = m.tokens[:len(m.tokens)-n]
	}
	m.state = StateNormal
	m.stopReason = earley.StopNone
	m.errMsg = ""
	return nil
}

// Reset returns the matcher to its freshly constructed state.
func (m *Matcher) Reset() {
	if m.parser != nil {
		m.parser.Reset()
	}
	m.state = StateNormal
	m.stopReason = earley.StopNone
	m.errMsg = ""
	m.tokens = m.tokens[:0]
}

// ValidateTokens returns the length of the longest prefix of ts that would
// be accepted without erroring, without mutating the matcher. It returns 1
// for [eos] when the matcher is already stopped, matching spec.md §4.6.
func (m *Matcher) ValidateTokens(ts []toktrie.TokenID) int {
	if m.state == StateStopped && len(ts) > 0 && ts[0] == m.env.EOSToken() {
		return 1
	}
	probe := m.Clone()
	n := 0
	for _, t := range ts {
		if err := probe.ConsumeToken(t); err != nil {
			break
		}
		n++
	}
	return n
}

// Clone deep-copies the matcher so the two copies may diverge independently
// (spec.md §4.6's clone independence property, §8's clone-independence
// testable property).
func (m *Matcher) Clone() *Matcher {
	out := &Matcher{
		g:          m.g,
		env:        m.env,
		eng:        m.eng,
		caps:       m.caps,
		log:        m.log,
		retok:      m.retok,
		state:      m.state,
		stopReason: m.stopReason,
		errMsg:     m.errMsg,
		tokens:     append([]toktrie.TokenID(nil), m.tokens...),
	}
	if m.parser != nil {
		out.parser = m.parser.Clone()
	}
	return out
}
