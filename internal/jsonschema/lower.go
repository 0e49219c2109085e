package jsonschema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// lowerCtx accumulates synthesized Lark-surface rule/terminal declarations
// while recursively lowering nested sub-schemas, and hands out unique
// names so sibling schemas never collide.
type lowerCtx struct {
	opts    Options
	next    int
	decls   []string
}

func (c *lowerCtx) freshName(prefix string) string {
	c.next++
	return fmt.Sprintf("%s_%d", prefix, c.next)
}

func (c *lowerCtx) emit(decl string) {
	c.decls = append(c.decls, decl)
}

// Lower compiles a JSON Schema document into Lark-surface grammar source
// text (rules and terminals, spec.md §6) and returns the name of the rule
// that recognizes exactly the schema's language. The caller (internal/
// grammar, via the "%json" pragma) parses and splices the returned source
// into the enclosing program.
func Lower(raw []byte, overrides Options) (source string, rootRule string, err error) {
	s, err := parseSchema(raw)
	if err != nil {
		return "", "", err
	}
	opts := mergeOptions(DefaultOptions(), s.XGuidance, overrides)
	ctx := &lowerCtx{opts: opts}
	root, err := ctx.lower(s)
	if err != nil {
		return "", "", err
	}
	return strings.Join(ctx.decls, "\n"), root, nil
}

func mergeOptions(base Options, xg map[string]interface{}, overrides Options) Options {
	out := base
	if v, ok := xg["whitespace_flexible"].(bool); ok {
		out.WhitespaceFlexible = v
	}
	if overrides.ItemSeparator != "" {
		out.ItemSeparator = overrides.ItemSeparator
	}
	if overrides.KeySeparator != "" {
		out.KeySeparator = overrides.KeySeparator
	}
	return out
}

func (c *lowerCtx) lower(s *schema) (string, error) {
	if len(s.Enum) > 0 {
		return c.lowerEnum(s)
	}
	if s.Const != nil {
		return c.lowerEnum(&schema{Enum: []json.RawMessage{s.Const}})
	}
	types := s.typeNames()
	if len(types) == 0 {
		// No "type" restriction: accept any JSON value from the subset we
		// understand (number, string, bool, null). Object/array without an
		// explicit "type" keyword are out of scope for the bare-any case.
		types = []string{"number", "string", "boolean", "null"}
	}
	if len(types) == 1 {
		return c.lowerTyped(s, types[0])
	}
	var refs []string
	for _, t := range types {
		r, err := c.lowerTyped(s, t)
		if err != nil {
			return "", err
		}
		refs = append(refs, r)
	}
	name := c.freshName("union")
	c.emit(fmt.Sprintf("%s: %s;", name, strings.Join(refs, " | ")))
	return name, nil
}

func (c *lowerCtx) lowerEnum(s *schema) (string, error) {
	var alts []string
	for _, raw := range s.Enum {
		alts = append(alts, jsonLiteralToLarkString(raw))
	}
	name := c.freshName("enum")
	c.emit(fmt.Sprintf("%s: %s;", name, strings.Join(alts, " | ")))
	return name, nil
}

// jsonLiteralToLarkString re-renders a raw JSON scalar as a quoted Lark
// string literal matching that exact byte sequence.
func jsonLiteralToLarkString(raw json.RawMessage) string {
	compact := strings.TrimSpace(string(raw))
	return strconv.Quote(compact)
}

func (c *lowerCtx) lowerTyped(s *schema, t string) (string, error) {
	switch t {
	case "integer":
		return c.lowerInteger(s)
	case "number":
		return c.lowerNumber(s)
	case "string":
		return c.lowerString(s)
	case "boolean":
		name := c.freshName("bool")
		c.emit(fmt.Sprintf("%s: \"true\" | \"false\";", name))
		return name, nil
	case "null":
		name := c.freshName("null")
		c.emit(fmt.Sprintf("%s: \"null\";", name))
		return name, nil
	case "array":
		return c.lowerArray(s)
	case "object":
		return c.lowerObject(s)
	default:
		return "", fmt.Errorf("jsonschema: unsupported type %q", t)
	}
}

func (c *lowerCtx) lowerInteger(s *schema) (string, error) {
	min, max, bounded := integerBounds(s)
	name := c.freshName("int")
	if !bounded {
		c.emit(fmt.Sprintf("%s: /-?[0-9]+/;", name))
		return name, nil
	}
	pattern, err := intRangeToRegex(min, max)
	if err != nil {
		return "", fmt.Errorf("jsonschema: %q: %w", name, err)
	}
	c.emit(fmt.Sprintf("%s: /%s/;", name, pattern))
	return name, nil
}

// integerBounds resolves minimum/maximum and their exclusive variants into
// an inclusive [min,max] range, reporting bounded=false when neither side
// is constrained (the caller then falls back to an unbounded pattern).
func integerBounds(s *schema) (min, max int64, bounded bool) {
	const unboundedLo, unboundedHi = -1 << 53, 1 << 53
	min, max = unboundedLo, unboundedHi
	set := false
	if s.Minimum != nil {
		min = int64(*s.Minimum)
		set = true
	}
	if s.ExclusiveMinimum != nil {
		min = int64(*s.ExclusiveMinimum) + 1
		set = true
	}
	if s.Maximum != nil {
		max = int64(*s.Maximum)
		set = true
	}
	if s.ExclusiveMaximum != nil {
		max = int64(*s.ExclusiveMaximum) - 1
		set = true
	}
	return min, max, set
}

func (c *lowerCtx) lowerNumber(s *schema) (string, error) {
	// Fractional bounds on "number" are not lowered to an exact regex
	// range (that requires a different, decimal-aware range construction
	// than intRangeToRegex provides); the unconstrained pattern is used
	// and bound checking for "number" is left to the caller's validator,
	// matching spec.md §1's framing of the JSON-Schema compiler as a thin
	// external collaborator beyond the interfaces it exercises.
	name := c.freshName("number")
	c.emit(fmt.Sprintf(`%s: /-?[0-9]+(\.[0-9]+)?([eE][+-]?[0-9]+)?/;`, name))
	return name, nil
}

func (c *lowerCtx) lowerString(s *schema) (string, error) {
	name := c.freshName("string")
	if s.Pattern != "" {
		// JSON-Schema string patterns use ASCII-only \w\s\d per spec.md
		// §4.2; rlex already restricts those escapes to ASCII, so the
		// pattern is embedded verbatim inside the quoted JSON string body.
		c.emit(fmt.Sprintf(`%s: /"%s"/;`, name, s.Pattern))
		return name, nil
	}
	c.emit(fmt.Sprintf(`%s: /"(\\.|[^"\\])*"/;`, name))
	return name, nil
}

func (c *lowerCtx) lowerArray(s *schema) (string, error) {
	if s.MinItems != nil && s.MaxItems != nil && *s.MinItems > *s.MaxItems {
		return "", fmt.Errorf("jsonschema: minItems %d exceeds maxItems %d", *s.MinItems, *s.MaxItems)
	}
	if len(s.Items) == 0 {
		return "", fmt.Errorf("jsonschema: array schema without \"items\" is unsupported")
	}
	itemSchema, err := parseSchema(s.Items)
	if err != nil {
		return "", err
	}
	itemRule, err := c.lower(itemSchema)
	if err != nil {
		return "", err
	}

	minItems := 0
	if s.MinItems != nil {
		minItems = *s.MinItems
	}
	sep := c.opts.ItemSeparator

	name := c.freshName("array")
	switch {
	case s.MaxItems != nil:
		maxItems := *s.MaxItems
		if minItems == 0 {
			c.emit(fmt.Sprintf(`%s: "[" "]" | "[" (%s) (%q %s){0,%d} "]";`, name, itemRule, sep, itemRule, maxItems-1))
		} else {
			c.emit(fmt.Sprintf(`%s: "[" (%s) (%q %s){%d,%d} "]";`, name, itemRule, sep, itemRule, minItems-1, maxItems-1))
		}
	default:
		if minItems == 0 {
			c.emit(fmt.Sprintf(`%s: "[" "]" | "[" (%s) (%q %s){0,} "]";`, name, itemRule, sep, itemRule))
		} else {
			c.emit(fmt.Sprintf(`%s: "[" (%s) (%q %s){%d,} "]";`, name, itemRule, sep, itemRule, minItems-1))
		}
	}
	return name, nil
}

// lowerObject emits every declared property in one fixed order (sorted by
// name) with optional ones wrapped in "(...){0,1}". It does not enumerate
// other orderings of the properties, so objects whose keys appear in a
// different order are not matched. patternProperties, additionalProperties
// and maxProperties are not lowered or checked.
func (c *lowerCtx) lowerObject(s *schema) (string, error) {
	if len(s.Properties) == 0 {
		name := c.freshName("object")
		c.emit(fmt.Sprintf(`%s: "{" "}";`, name))
		return name, nil
	}
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	// Deterministic property order: all property names sorted, for
	// reproducible output.
	var names []string
	for k := range s.Properties {
		names = append(names, k)
	}
	sortStrings(names)

	var entries []string
	for _, propName := range names {
		propSchema, err := parseSchema(s.Properties[propName])
		if err != nil {
			return "", err
		}
		propRule, err := c.lower(propSchema)
		if err != nil {
			return "", err
		}
		entry := fmt.Sprintf("%q %q %s", propName, c.opts.KeySeparator, propRule)
		if !required[propName] {
			entry = "(" + entry + "){0,1}"
		}
		entries = append(entries, entry)
	}
	name := c.freshName("object")
	c.emit(fmt.Sprintf(`%s: "{" %s "}";`, name, strings.Join(entries, fmt.Sprintf(" %q ", c.opts.ItemSeparator))))
	return name, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
