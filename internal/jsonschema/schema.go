// Package jsonschema lowers a JSON Schema (2020-12 subset) into the Lark-like
// grammar surface internal/grammar compiles, per spec.md §6's "%json"
// pragma. Lowering happens once at grammar-compile time; the schema errors
// it detects (minItems above maxItems, an empty integer range, unsupported
// types) are surfaced as compile errors, never at runtime. patternProperties
// and maxProperties are decoded or ignored but not checked.
package jsonschema

import (
	"encoding/json"
	"fmt"
)

// Options mirrors the "x-guidance" extension object merged with
// caller-provided overrides (spec.md §6).
type Options struct {
	WhitespaceFlexible bool // allow insignificant whitespace between tokens
	ItemSeparator      string
	KeySeparator       string
}

// DefaultOptions matches llguidance's own json_schema defaults.
func DefaultOptions() Options {
	return Options{WhitespaceFlexible: true, ItemSeparator: ",", KeySeparator: ":"}
}

// schema is the decoded, typed subset of a JSON Schema document this
// package understands. Unknown keywords are ignored rather than rejected,
// matching the "subset" framing in spec.md §6.
type schema struct {
	Type                 interface{}        `json:"type"`
	Minimum              *float64            `json:"minimum"`
	Maximum              *float64            `json:"maximum"`
	ExclusiveMinimum     *float64            `json:"exclusiveMinimum"`
	ExclusiveMaximum     *float64            `json:"exclusiveMaximum"`
	MinItems             *int                `json:"minItems"`
	MaxItems             *int                `json:"maxItems"`
	Items                json.RawMessage     `json:"items"`
	MinLength            *int                `json:"minLength"`
	MaxLength            *int                `json:"maxLength"`
	Pattern              string              `json:"pattern"`
	Properties           map[string]json.RawMessage `json:"properties"`
	PatternProperties    map[string]json.RawMessage `json:"patternProperties"`
	Required             []string            `json:"required"`
	AdditionalProperties json.RawMessage     `json:"additionalProperties"`
	Enum                 []json.RawMessage   `json:"enum"`
	Const                json.RawMessage     `json:"const"`
	XGuidance            map[string]interface{} `json:"x-guidance"`
}

func parseSchema(raw []byte) (*schema, error) {
	var s schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("jsonschema: invalid schema JSON: %w", err)
	}
	return &s, nil
}

// typeNames normalizes the "type" keyword, which may be a single string or
// an array of strings, into a set.
func (s *schema) typeNames() []string {
	switch v := s.Type.(type) {
	case string:
		return []string{v}
	case []interface{}:
		var out []string
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func (s *schema) hasType(name string) bool {
	names := s.typeNames()
	if len(names) == 0 {
		return true // absent "type" imposes no restriction
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
