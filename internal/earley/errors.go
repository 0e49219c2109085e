package earley

import "fmt"

// StopReason is a closed-enum description of why the parser is no longer
// live, drawn from the set spec.md §7 names. It is surfaced verbatim by
// internal/matcher's stop_reason().
type StopReason string

const (
	StopNone            StopReason = ""
	StopLexerTooComplex StopReason = "LexerTooComplex"
	StopParserTooComplex StopReason = "ParserTooComplex"
	StopNoExtension     StopReason = "NoExtension"
	StopEndOfSentence   StopReason = "EndOfSentence"
	StopMaxTokensTotal  StopReason = "MaxTokensTotal"
	StopMaxTokensParser StopReason = "MaxTokensParser"
)

// ParseError is a fatal condition raised while advancing the parser: fuel
// exhaustion, a lexer-state budget overrun, or a protocol violation (e.g. a
// byte that extends no live item). It always carries the StopReason the
// matcher should report.
type ParseError struct {
	Reason StopReason
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Msg == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

func newParseError(reason StopReason, format string, args ...any) *ParseError {
	return &ParseError{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}
