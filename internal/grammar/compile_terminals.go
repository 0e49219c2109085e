package grammar

import (
	"strconv"
	"strings"

	"github.com/screenager/llguidance/internal/rlex"
)

// This file turns terminal surface syntax (named TERMINAL declarations and
// inline string/regex/token-range/special-token items inside rule bodies)
// into rlex.TerminalSpec values. Plain terminals (no "&"/"~") are rendered
// into a single rlex pattern string and compiled once via rlex.Parse; a
// terminal whose entire alternative is a "&"/"~" expression is instead
// built as a termDFA via rlex.CompileTerminalDFA/Intersect/Complement, since
// those compile-time operators only make sense on already-determinized
// automata (spec.md §4.2, §6).

// specialChars are the bytes rlex's regex parser treats as metacharacters
// outside a character class; a literal string item must escape them.
const specialChars = `\().[]{}*+?|`

func escapeLiteral(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		if strings.IndexByte(specialChars, b) >= 0 {
			sb.WriteByte('\\')
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

func (c *compiler) allocTerminal(name string) rlex.TerminalID {
	id := c.nextTerm
	c.nextTerm++
	c.rankCounter++
	_ = name
	return id
}

// compileTerminalDecl compiles the named TERMINAL declaration (if not
// already compiled) into a TerminalSpec and registers it in termIndex.
func (c *compiler) compileTerminalDecl(name string, pos int) error {
	if _, ok := c.termIndex[name]; ok {
		return nil
	}
	if c.termCompiling == nil {
		c.termCompiling = map[string]bool{}
	}
	if c.termCompiling[name] {
		return newCompileError(CategoryCircularToken, name, pos, "terminal %q is defined in terms of itself", name)
	}
	st, ok := c.pendingTerms[name]
	if !ok {
		return newCompileError(CategoryUnknownName, name, pos, "reference to undeclared terminal %q", name)
	}
	c.termCompiling[name] = true
	defer delete(c.termCompiling, name)

	var dfaParts []*rlex.TermDFAHandle
	var patternParts []string
	for _, alt := range st.alts {
		if len(alt.items) == 1 && isAlgebraItem(alt.items[0]) {
			d, err := c.buildItemDFA(alt.items[0], name)
			if err != nil {
				return err
			}
			dfaParts = append(dfaParts, d)
			continue
		}
		pat, err := c.renderAltItems(alt.items, name)
		if err != nil {
			return err
		}
		patternParts = append(patternParts, pat)
	}

	id := c.allocTerminal(name)
	rank := c.rankCounter

	if len(dfaParts) == 0 {
		pattern := strings.Join(patternParts, "|")
		ast, err := rlex.Parse(pattern)
		if err != nil {
			return newCompileError(CategorySyntax, name, st.pos, "terminal %q: %s", name, err)
		}
		if c.termPatternText == nil {
			c.termPatternText = map[string]string{}
		}
		c.termPatternText[name] = pattern
		c.termSpecs = append(c.termSpecs, rlex.TerminalSpec{ID: id, Name: name, AST: ast, Rank: rank})
		c.termIndex[name] = id
		return nil
	}

	dfa := dfaParts[0]
	for _, extra := range dfaParts[1:] {
		dfa = unionDFA(dfa, extra)
	}
	for _, pat := range patternParts {
		pd, err := rlex.CompileTerminalDFA(pat)
		if err != nil {
			return newCompileError(CategorySyntax, name, st.pos, "terminal %q: %s", name, err)
		}
		dfa = unionDFA(dfa, pd)
	}
	c.termSpecs = append(c.termSpecs, rlex.TerminalSpec{ID: id, Name: name, DFA: dfa, Rank: rank})
	c.termIndex[name] = id
	return nil
}

func isAlgebraItem(si surfaceItem) bool {
	return si.kind == itemKindIntersect || si.kind == itemKindComplement
}

// buildItemDFA compiles si (an "&"/"~" expression, or a plain leaf item
// used as an algebra operand) into a determinized termDFA.
func (c *compiler) buildItemDFA(si surfaceItem, owner string) (*rlex.TermDFAHandle, error) {
	switch si.kind {
	case itemKindIntersect:
		a, err := c.buildItemDFA(*si.sub, owner)
		if err != nil {
			return nil, err
		}
		b, err := c.buildItemDFA(*si.rhs, owner)
		if err != nil {
			return nil, err
		}
		return rlex.Intersect(a, b), nil
	case itemKindComplement:
		a, err := c.buildItemDFA(*si.sub, owner)
		if err != nil {
			return nil, err
		}
		return rlex.Complement(a), nil
	default:
		pat, err := c.renderItemPattern(si, owner)
		if err != nil {
			return nil, err
		}
		d, err := rlex.CompileTerminalDFA(pat)
		if err != nil {
			return nil, newCompileError(CategorySyntax, owner, si.pos, "%s", err)
		}
		return d, nil
	}
}

func unionDFA(a, b *rlex.TermDFAHandle) *rlex.TermDFAHandle {
	// De Morgan: a|b = ~(~a & ~b). Avoids needing a separate union
	// primitive in rlex beyond the two compile-time operators spec.md
	// actually names (Intersect, Complement).
	return rlex.Complement(rlex.Intersect(rlex.Complement(a), rlex.Complement(b)))
}

func (c *compiler) renderAltItems(items []surfaceItem, owner string) (string, error) {
	var sb strings.Builder
	for _, it := range items {
		pat, err := c.renderItemPattern(it, owner)
		if err != nil {
			return "", err
		}
		sb.WriteString(pat)
	}
	return sb.String(), nil
}

func (c *compiler) renderItemPattern(si surfaceItem, owner string) (string, error) {
	switch si.kind {
	case itemKindString:
		return escapeLiteral(si.literal), nil
	case itemKindRegex:
		return "(" + si.literal + ")", nil
	case itemKindRef:
		if si.name == "" && si.groupAlts != nil {
			var alts []string
			for _, a := range si.groupAlts {
				pat, err := c.renderAltItems(a.items, owner)
				if err != nil {
					return "", err
				}
				alts = append(alts, pat)
			}
			return "(" + strings.Join(alts, "|") + ")", nil
		}
		if !si.isUpper {
			return "", newCompileError(CategoryForbiddenInTerm, owner, si.pos,
				"terminal %q can only reference other terminals, not rule %q", owner, si.name)
		}
		pat, ok := c.termPatternText[si.name]
		if !ok {
			if err := c.compileTerminalDecl(si.name, si.pos); err != nil {
				return "", err
			}
			pat, ok = c.termPatternText[si.name]
			if !ok {
				return "", newCompileError(CategoryForbiddenInTerm, owner, si.pos,
					"terminal %q is defined via '&'/'~' and cannot be referenced inside another terminal's pattern", si.name)
			}
		}
		return "(" + pat + ")", nil
	case itemKindRepeat:
		sub, err := c.renderItemPattern(*si.sub, owner)
		if err != nil {
			return "", err
		}
		if si.min < 0 || (si.max >= 0 && si.min > si.max) {
			return "", newCompileError(CategoryInvalidRange, owner, si.pos, "invalid repeat count {%d,%d}", si.min, si.max)
		}
		if si.max == -1 {
			return "(" + sub + "){" + strconv.Itoa(si.min) + ",}", nil
		}
		return "(" + sub + "){" + strconv.Itoa(si.min) + "," + strconv.Itoa(si.max) + "}", nil
	case itemKindIntersect, itemKindComplement:
		return "", newCompileError(CategoryForbiddenInTerm, owner, si.pos,
			"'&' and '~' must be the entire terminal alternative, not combined with concatenation")
	default:
		return "", newCompileError(CategoryForbiddenInTerm, owner, si.pos,
			"construct not allowed inside a terminal definition")
	}
}

// checkTerminalCycles is a defensive post-pass: compileTerminalDecl already
// rejects a terminal referencing itself (directly or transitively) the
// moment the cycle is walked into, via termCompiling. If any name is still
// marked "compiling" here, a prior call returned through a path that
// skipped the deferred cleanup, which would itself be a bug.
func (c *compiler) checkTerminalCycles() error {
	for name := range c.termCompiling {
		return newCompileError(CategoryCircularToken, name, -1, "terminal %q involved in an unresolved cycle", name)
	}
	return nil
}

// internLiteralTerminal interns an inline string-literal item (e.g. "foo"
// used directly in a rule body) as its own anonymous terminal, deduping
// identical literals seen elsewhere in the grammar.
func (c *compiler) internLiteralTerminal(literal string, pos int) (rlex.TerminalID, error) {
	if id, ok := c.litTermCache[literal]; ok {
		return id, nil
	}
	ast, err := rlex.Parse(escapeLiteral(literal))
	if err != nil {
		return 0, newCompileError(CategorySyntax, "<literal>", pos, "%s", err)
	}
	id := c.allocTerminal("")
	if c.litTermCache == nil {
		c.litTermCache = map[string]rlex.TerminalID{}
	}
	c.litTermCache[literal] = id
	c.termSpecs = append(c.termSpecs, rlex.TerminalSpec{ID: id, Name: anonName("lit", id), AST: ast, Rank: c.rankCounter})
	return id, nil
}

// internRegexTerminal interns an inline "/regex/" item.
func (c *compiler) internRegexTerminal(pattern string, pos int) (rlex.TerminalID, error) {
	if id, ok := c.regexTermCache[pattern]; ok {
		return id, nil
	}
	ast, err := rlex.Parse(pattern)
	if err != nil {
		return 0, newCompileError(CategorySyntax, "<regex>", pos, "%s", err)
	}
	id := c.allocTerminal("")
	if c.regexTermCache == nil {
		c.regexTermCache = map[string]rlex.TerminalID{}
	}
	c.regexTermCache[pattern] = id
	c.termSpecs = append(c.termSpecs, rlex.TerminalSpec{ID: id, Name: anonName("re", id), AST: ast, Rank: c.rankCounter})
	return id, nil
}

// internRegexOptsTerminal interns a "%regex { ... }" pragma body: a JSON
// object carrying at least a "pattern" field and optional flags. Only the
// pattern is meaningful at the byte-level lexer layer spec.md targets;
// unknown fields are ignored (consistent with internal/jsonschema's
// subset framing).
func (c *compiler) internRegexOptsTerminal(raw string, pos int) (rlex.TerminalID, error) {
	pattern, err := extractJSONStringField(raw, "pattern")
	if err != nil {
		return 0, newCompileError(CategorySyntax, "%regex", pos, "%s", err)
	}
	return c.internRegexTerminal(pattern, pos)
}

// internTokenRangeTerminal interns a "<[lo-hi, ...]>" item: a terminal
// that accepts exactly the byte strings of the vocabulary tokens whose ids
// fall in the given ranges (spec.md §6's forced-token-range construct).
func (c *compiler) internTokenRangeTerminal(ranges []intRange, pos int) (rlex.TerminalID, error) {
	if c.opts.TokEnv == nil {
		return 0, newCompileError(CategoryUnsatisfiable, "<[...]>", pos, "token-id ranges require a tokenizer (CompileOptions.TokEnv)")
	}
	key := tokenRangesKey(ranges)
	if id, ok := c.rangeTermCache[key]; ok {
		return id, nil
	}
	trie := c.opts.TokEnv.Trie()
	vocab := trie.VocabSize()
	var alts []string
	for _, r := range ranges {
		if r.lo < 0 || r.hi < r.lo || r.hi >= int64(vocab) {
			return 0, newCompileError(CategoryInvalidRange, "<[...]>", pos, "token range [%d,%d] out of bounds for vocab size %d", r.lo, r.hi, vocab)
		}
		for id := r.lo; id <= r.hi; id++ {
			b := trie.TokenBytes(uint32(id))
			if len(b) == 0 {
				continue
			}
			alts = append(alts, escapeLiteral(string(b)))
		}
	}
	if len(alts) == 0 {
		return 0, newCompileError(CategoryUnsatisfiable, "<[...]>", pos, "token range matches no vocabulary entries")
	}
	pattern := strings.Join(alts, "|")
	ast, err := rlex.Parse(pattern)
	if err != nil {
		return 0, newCompileError(CategorySyntax, "<[...]>", pos, "%s", err)
	}
	id := c.allocTerminal("")
	if c.rangeTermCache == nil {
		c.rangeTermCache = map[string]rlex.TerminalID{}
	}
	c.rangeTermCache[key] = id
	c.termSpecs = append(c.termSpecs, rlex.TerminalSpec{ID: id, Name: anonName("range", id), AST: ast, Rank: c.rankCounter})
	return id, nil
}

// internSpecialTerminal interns a "<|name|>" item: a terminal matching
// exactly one special token's byte string.
func (c *compiler) internSpecialTerminal(name string, pos int) (rlex.TerminalID, error) {
	if c.opts.TokEnv == nil {
		return 0, newCompileError(CategoryUnsatisfiable, "<|"+name+"|>", pos, "special-token references require a tokenizer (CompileOptions.TokEnv)")
	}
	if id, ok := c.specialTermCache[name]; ok {
		return id, nil
	}
	tid, ok := c.opts.TokEnv.SpecialTokenID(name)
	if !ok {
		return 0, newCompileError(CategoryUnknownName, name, pos, "unknown special token %q", name)
	}
	b := c.opts.TokEnv.Trie().TokenBytes(tid)
	ast, err := rlex.Parse(escapeLiteral(string(b)))
	if err != nil {
		return 0, newCompileError(CategorySyntax, name, pos, "%s", err)
	}
	id := c.allocTerminal("")
	if c.specialTermCache == nil {
		c.specialTermCache = map[string]rlex.TerminalID{}
	}
	c.specialTermCache[name] = id
	c.termSpecs = append(c.termSpecs, rlex.TerminalSpec{ID: id, Name: anonName("special_"+name, id), AST: ast, Rank: c.rankCounter})
	return id, nil
}

func anonName(prefix string, id rlex.TerminalID) string {
	return "__" + prefix + "_" + strconv.Itoa(int(id))
}

func tokenRangesKey(ranges []intRange) string {
	var sb strings.Builder
	for i, r := range ranges {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(r.lo, 10))
		sb.WriteByte('-')
		sb.WriteString(strconv.FormatInt(r.hi, 10))
	}
	return sb.String()
}

// extractJSONStringField pulls a top-level string field out of a raw JSON
// object literal without pulling in the full jsonschema decoder for this
// one pragma.
func extractJSONStringField(raw, field string) (string, error) {
	needle := `"` + field + `"`
	idx := strings.Index(raw, needle)
	if idx < 0 {
		return "", newCompileError(CategorySyntax, "%regex", -1, "missing %q field", field)
	}
	rest := raw[idx+len(needle):]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", newCompileError(CategorySyntax, "%regex", -1, "malformed %q field", field)
	}
	rest = strings.TrimSpace(rest[colon+1:])
	if len(rest) == 0 || rest[0] != '"' {
		return "", newCompileError(CategorySyntax, "%regex", -1, "%q field must be a string", field)
	}
	var sb strings.Builder
	i := 1
	for i < len(rest) {
		c := rest[i]
		if c == '\\' && i+1 < len(rest) {
			sb.WriteByte(rest[i+1])
			i += 2
			continue
		}
		if c == '"' {
			return sb.String(), nil
		}
		sb.WriteByte(c)
		i++
	}
	return "", newCompileError(CategorySyntax, "%regex", -1, "unterminated %q string", field)
}
