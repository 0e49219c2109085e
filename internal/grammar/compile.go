package grammar

import (
	"fmt"
	"strings"

	"github.com/screenager/llguidance/internal/jsonschema"
	"github.com/screenager/llguidance/internal/rlex"
	"github.com/screenager/llguidance/internal/toktrie"
)

// CompileOptions configures one grammar compilation.
type CompileOptions struct {
	// TokEnv resolves token-id ranges ("<[1111]>") and special-token
	// references ("<|eos|>") against an actual vocabulary. Required only
	// if the source uses either construct.
	TokEnv *toktrie.TokenEnv
	// JSONOptions is merged with each %json schema's own "x-guidance"
	// object (caller-provided overrides take precedence).
	JSONOptions jsonschema.Options
	// MaxLexerStates bounds internal/rlex's lazy state registry
	// (ParserLimits.MaxLexerStates).
	MaxLexerStates int
	// LexerCacheCapacity bounds the derivative cache.
	LexerCacheCapacity int
	// MaxGrammarSize bounds the total number of resolved alternatives
	// across all rules, guarding against runaway %json/repeat expansion.
	MaxGrammarSize int
}

func (o CompileOptions) withDefaults() CompileOptions {
	if o.MaxLexerStates == 0 {
		o.MaxLexerStates = 100_000
	}
	if o.LexerCacheCapacity == 0 {
		o.LexerCacheCapacity = 4096
	}
	if o.MaxGrammarSize == 0 {
		o.MaxGrammarSize = 50_000
	}
	return o
}

// compiler carries all mutable state for one Compile call.
type compiler struct {
	opts CompileOptions

	symbolIndex map[string]SymbolID
	rules       []*Rule

	termIndex map[string]rlex.TerminalID
	termSpecs []rlex.TerminalSpec
	nextTerm  rlex.TerminalID
	rankCounter int

	// termCompiling guards against a named TERMINAL declaration recursively
	// referencing itself while compileTerminalDecl is still assembling it.
	termCompiling map[string]bool
	// termPatternText remembers the rendered pattern text of every
	// text-based (non-"&"/"~") named terminal, so another terminal that
	// references it inline doesn't need to recompile from scratch.
	termPatternText map[string]string

	// Dedup caches for inline (unnamed) terminal occurrences, so the same
	// literal/regex/range/special-token used twice in a grammar only gets
	// one TerminalSpec.
	litTermCache     map[string]rlex.TerminalID
	regexTermCache   map[string]rlex.TerminalID
	rangeTermCache   map[string]rlex.TerminalID
	specialTermCache map[string]rlex.TerminalID

	// pending holds surface rules/terminals not yet lowered into IR,
	// keyed by name; synthesized declarations (from %json, repeats,
	// groups) are appended here as they're discovered.
	pendingRules map[string]*surfaceRule
	pendingTerms map[string]*surfaceTerminal
	ruleOrder    []string

	anonCounter int
	altCount    int
}

// Compile parses and fully resolves a Lark-like grammar source into a
// Grammar. The first declared rule is the start symbol.
func Compile(src string, opts CompileOptions) (*Grammar, error) {
	opts = opts.withDefaults()
	prog, err := parseSurface(src)
	if err != nil {
		return nil, err
	}
	return compileProgram(prog, opts)
}

func compileProgram(prog *surfaceProgram, opts CompileOptions) (*Grammar, error) {
	c := &compiler{
		opts:         opts,
		symbolIndex:  map[string]SymbolID{},
		termIndex:    map[string]rlex.TerminalID{},
		pendingRules: map[string]*surfaceRule{},
		pendingTerms: map[string]*surfaceTerminal{},
	}

	if len(prog.rules) == 0 {
		return nil, newCompileError(CategorySyntax, "<grammar>", -1, "grammar has no rules")
	}
	startName := prog.rules[0].name

	for _, r := range prog.rules {
		if _, dup := c.pendingRules[r.name]; dup {
			return nil, newCompileError(CategoryDuplicateRule, r.name, r.pos, "rule %q declared more than once", r.name)
		}
		c.pendingRules[r.name] = r
		c.ruleOrder = append(c.ruleOrder, r.name)
	}
	for _, t := range prog.terminals {
		if _, dup := c.pendingTerms[t.name]; dup {
			return nil, newCompileError(CategoryDuplicateRule, t.name, t.pos, "terminal %q declared more than once", t.name)
		}
		c.pendingTerms[t.name] = t
	}

	start, err := c.resolveSymbol(startName, -1)
	if err != nil {
		return nil, err
	}

	// Drain the worklist: resolving a rule may enqueue freshly synthesized
	// rules (repeat expansions, %json fragments, parenthesized groups).
	for i := 0; i < len(c.ruleOrder); i++ {
		name := c.ruleOrder[i]
		if _, err := c.resolveSymbol(name, -1); err != nil {
			return nil, err
		}
	}

	if err := c.checkTerminalCycles(); err != nil {
		return nil, err
	}

	lexer, err := rlex.BuildLexer(c.termSpecs, c.opts.LexerCacheCapacity, c.opts.MaxLexerStates)
	if err != nil {
		return nil, fmt.Errorf("grammar: %w", err)
	}

	g := &Grammar{
		Symbols:     c.rules,
		Terminals:   c.termSpecs,
		Lexer:       lexer,
		Start:       start,
		symbolIndex: c.symbolIndex,
		termIndex:   c.termIndex,
	}
	return g, nil
}

// resolveSymbol returns the IR SymbolID for a rule name, compiling it (and
// transitively, anything it references) on first use.
func (c *compiler) resolveSymbol(name string, refPos int) (SymbolID, error) {
	if id, ok := c.symbolIndex[name]; ok {
		return id, nil
	}
	sr, ok := c.pendingRules[name]
	if !ok {
		return NoSymbol, newCompileError(CategoryUnknownName, name, refPos, "reference to undeclared rule %q", name)
	}
	id := SymbolID(len(c.rules))
	rule := &Rule{ID: id, Name: name, Parametric: sr.parametric, Attrs: sr.attrs, Synthetic: strings.HasPrefix(name, "__")}
	c.symbolIndex[name] = id
	c.rules = append(c.rules, rule)

	for _, sa := range sr.alts {
		alt, err := c.resolveAlt(sa, sr, false)
		if err != nil {
			return NoSymbol, err
		}
		rule.Alternatives = append(rule.Alternatives, alt)
		c.altCount++
		if c.altCount > c.opts.MaxGrammarSize {
			return NoSymbol, newCompileError(CategoryGrammarTooLarge, name, sr.pos, "grammar exceeds %d total alternatives", c.opts.MaxGrammarSize)
		}
	}
	return id, nil
}

func (c *compiler) resolveAlt(sa surfaceAlt, owner *surfaceRule, inTerminal bool) (Alternative, error) {
	var alt Alternative
	if sa.guard != nil {
		if !owner.parametric {
			return alt, newCompileError(CategoryForbiddenInTerm, owner.name, owner.pos, "%%if guard used on non-parametric rule %q", owner.name)
		}
		g, err := c.resolveGuard(sa.guard)
		if err != nil {
			return alt, err
		}
		alt.Guard = g
	}
	for _, si := range sa.items {
		// An empty string literal matches nothing and contributes no item,
		// so an alternative made only of "" is an epsilon production.
		if si.kind == itemKindString && si.literal == "" {
			continue
		}
		item, err := c.resolveItem(si, owner)
		if err != nil {
			return alt, err
		}
		alt.Items = append(alt.Items, item)
	}
	return alt, nil
}

func (c *compiler) resolveItem(si surfaceItem, owner *surfaceRule) (Item, error) {
	switch si.kind {
	case itemKindRef:
		return c.resolveRefItem(si, owner)
	case itemKindParamRef:
		sym, err := c.resolveSymbol(si.name, si.pos)
		if err != nil {
			return Item{}, err
		}
		return Item{Kind: ItemSymbol, Sym: sym, ParamTransform: si.transform}, nil
	case itemKindString:
		tid, err := c.internLiteralTerminal(si.literal, si.pos)
		if err != nil {
			return Item{}, err
		}
		return Item{Kind: ItemTerminal, Term: tid}, nil
	case itemKindRegex:
		tid, err := c.internRegexTerminal(si.literal, si.pos)
		if err != nil {
			return Item{}, err
		}
		return Item{Kind: ItemTerminal, Term: tid}, nil
	case itemKindRange:
		tid, err := c.internTokenRangeTerminal(si.ranges, si.pos)
		if err != nil {
			return Item{}, err
		}
		return Item{Kind: ItemTerminal, Term: tid}, nil
	case itemKindSpecial:
		tid, err := c.internSpecialTerminal(si.name, si.pos)
		if err != nil {
			return Item{}, err
		}
		return Item{Kind: ItemTerminal, Term: tid}, nil
	case itemKindJSON:
		sym, err := c.lowerJSON(si.literal, si.pos)
		if err != nil {
			return Item{}, err
		}
		return Item{Kind: ItemSymbol, Sym: sym}, nil
	case itemKindRegexOpts:
		tid, err := c.internRegexOptsTerminal(si.literal, si.pos)
		if err != nil {
			return Item{}, err
		}
		return Item{Kind: ItemTerminal, Term: tid}, nil
	case itemKindRepeat:
		return c.resolveRepeat(si, owner)
	case itemKindIntersect, itemKindComplement:
		return Item{}, newCompileError(CategoryForbiddenInTerm, owner.name, si.pos,
			"'&' and '~' are terminal-only operators; not allowed at rule level")
	default:
		return Item{}, newCompileError(CategorySyntax, owner.name, si.pos, "unsupported item kind")
	}
}

func (c *compiler) resolveRefItem(si surfaceItem, owner *surfaceRule) (Item, error) {
	if si.name == "" && si.groupAlts != nil {
		sym, err := c.synthesizeGroupRule(si.groupAlts, owner, si.pos)
		if err != nil {
			return Item{}, err
		}
		return Item{Kind: ItemSymbol, Sym: sym}, nil
	}
	if si.isUpper {
		tid, ok := c.termIndex[si.name]
		if !ok {
			if err := c.compileTerminalDecl(si.name, si.pos); err != nil {
				return Item{}, err
			}
			tid, ok = c.termIndex[si.name]
			if !ok {
				return Item{}, newCompileError(CategoryUnknownName, si.name, si.pos, "reference to undeclared terminal %q", si.name)
			}
		}
		return Item{Kind: ItemTerminal, Term: tid}, nil
	}
	if si.name == owner.name && owner.parametric {
		selfID, ok := c.symbolIndex[owner.name]
		if !ok {
			return Item{}, newCompileError(CategoryUnknownName, owner.name, si.pos, "recursive reference resolved before owning rule")
		}
		return Item{Kind: ItemSymbol, Sym: selfID, ParamTransform: si.transform}, nil
	}
	sym, err := c.resolveSymbol(si.name, si.pos)
	if err != nil {
		return Item{}, err
	}
	return Item{Kind: ItemSymbol, Sym: sym}, nil
}

// synthesizeGroupRule turns an inline "(" alts ")" group into a fresh
// synthetic rule and returns its SymbolID.
func (c *compiler) synthesizeGroupRule(alts []surfaceAlt, owner *surfaceRule, pos int) (SymbolID, error) {
	c.anonCounter++
	name := fmt.Sprintf("__group_%d", c.anonCounter)
	sr := &surfaceRule{name: name, alts: alts, pos: pos, parametric: owner.parametric}
	c.pendingRules[name] = sr
	c.ruleOrder = append(c.ruleOrder, name)
	return c.resolveSymbol(name, pos)
}

// resolveRepeat desugars item{min,max} (or item{min,}) at the rule level
// into a synthetic chain rule: min mandatory copies followed by either
// (max-min) optional copies, or — when unbounded — a right-recursive tail.
func (c *compiler) resolveRepeat(si surfaceItem, owner *surfaceRule) (Item, error) {
	if si.min < 0 || (si.max >= 0 && si.min > si.max) {
		return Item{}, newCompileError(CategoryInvalidRange, owner.name, si.pos, "invalid repeat count {%d,%d}", si.min, si.max)
	}
	c.anonCounter++
	name := fmt.Sprintf("__rep_%d", c.anonCounter)

	var alts []surfaceAlt
	if si.max == -1 {
		// tailName: epsilon | sub tailName
		c.anonCounter++
		tailName := fmt.Sprintf("__rep_%d", c.anonCounter)
		tailRule := &surfaceRule{name: tailName, pos: si.pos, parametric: owner.parametric}
		tailRule.alts = []surfaceAlt{
			{}, // epsilon
			{items: []surfaceItem{*si.sub, {kind: itemKindRef, name: tailName, pos: si.pos}}},
		}
		c.pendingRules[tailName] = tailRule
		c.ruleOrder = append(c.ruleOrder, tailName)

		var items []surfaceItem
		for i := 0; i < si.min; i++ {
			items = append(items, *si.sub)
		}
		items = append(items, surfaceItem{kind: itemKindRef, name: tailName, pos: si.pos})
		alts = []surfaceAlt{{items: items}}
	} else if si.min == 0 && si.max == 1 {
		// optional: epsilon | sub
		alts = []surfaceAlt{{}, {items: []surfaceItem{*si.sub}}}
	} else {
		var items []surfaceItem
		for i := 0; i < si.min; i++ {
			items = append(items, *si.sub)
		}
		for i := si.min; i < si.max; i++ {
			items = append(items, surfaceItem{kind: itemKindRepeat, sub: si.sub, min: 0, max: 1, pos: si.pos})
		}
		if len(items) == 0 {
			alts = []surfaceAlt{{}}
		} else {
			alts = []surfaceAlt{{items: items}}
		}
	}
	sr := &surfaceRule{name: name, alts: alts, pos: si.pos, parametric: owner.parametric}
	c.pendingRules[name] = sr
	c.ruleOrder = append(c.ruleOrder, name)
	sym, err := c.resolveSymbol(name, si.pos)
	if err != nil {
		return Item{}, err
	}
	return Item{Kind: ItemSymbol, Sym: sym}, nil
}

func (c *compiler) lowerJSON(raw string, pos int) (SymbolID, error) {
	source, rootName, err := jsonschema.Lower([]byte(raw), c.opts.JSONOptions)
	if err != nil {
		return NoSymbol, newCompileError(CategoryUnsatisfiable, "%json", pos, "%s", err)
	}
	sub, err := parseSurface(source)
	if err != nil {
		return NoSymbol, err
	}
	for _, r := range sub.rules {
		if _, dup := c.pendingRules[r.name]; dup {
			continue
		}
		c.pendingRules[r.name] = r
		c.ruleOrder = append(c.ruleOrder, r.name)
	}
	return c.resolveSymbol(rootName, pos)
}
