// Package query compiles a declarative field-lookup DSL plus a declared
// schema into the nested filter and update documents the wire protocol
// expects. It has three layers: the path resolver (this file), the operator
// dispatcher, and the top-level query/update transforms.
package query

import (
	"strconv"
	"strings"

	"document-mapper/field"
	"document-mapper/internal/match"
	"document-mapper/schema"
)

// Separator splits DSL key segments, e.g. "comments__0__content__icontains".
const Separator = "__"

// PositionalToken is the DSL placeholder for "the first array element matched
// by the query's filter"; it maps to the wire positional operator.
const PositionalToken = "S"

// PositionalWire is the wire-level positional-update path segment.
const PositionalWire = "$"

const suggestionLimit = 3

// Segment is one resolved wire path segment.
type Segment struct {
	// Wire is the database-facing segment text.
	Wire string

	// Descriptor is the schema descriptor resolved at this segment; nil for
	// numeric indices, positional markers, and schemaless map keys.
	Descriptor field.Descriptor

	IsIndex      bool
	IsPositional bool
	IsMapKey     bool
}

// ResolvedPath is the transient output of resolving one DSL key. It is built
// fresh per key and never cached: the schema may gain fields at runtime.
type ResolvedPath struct {
	// Key is the original DSL key.
	Key string

	// Segments are the resolved wire segments in order.
	Segments []Segment

	// Terminal is the descriptor at the end of the path, or nil when the path
	// ends inside a schemaless map or a dynamic field.
	Terminal field.Descriptor

	// Operator is the trailing DSL operator token; empty means equality.
	Operator string

	// Negated reports a "__not__<op>" wrapper around the operator.
	Negated bool
}

// WirePath joins the resolved segments with the wire separator.
func (p *ResolvedPath) WirePath() string {
	parts := make([]string, len(p.Segments))
	for i, s := range p.Segments {
		parts[i] = s.Wire
	}

	return strings.Join(parts, ".")
}

// WirePathThrough joins segments [0, n] inclusive.
func (p *ResolvedPath) WirePathThrough(n int) string {
	parts := make([]string, 0, n+1)
	for i := 0; i <= n && i < len(p.Segments); i++ {
		parts = append(parts, p.Segments[i].Wire)
	}

	return strings.Join(parts, ".")
}

// LastListSegment returns the index of the last segment whose descriptor is a
// list field and that has segments after it, or -1.
func (p *ResolvedPath) LastListSegment() int {
	for i := len(p.Segments) - 2; i >= 0; i-- {
		d := p.Segments[i].Descriptor
		if d != nil && d.Kind() == field.KindList {
			return i
		}
	}

	return -1
}

// Resolve translates one DSL key into a ResolvedPath against the given class
// schema, extracting a trailing operator if present.
func Resolve(entry *schema.Entry, key string) (*ResolvedPath, error) {
	return resolve(entry, key, true)
}

// ResolveField resolves a dotted-or-DSL field path without operator
// extraction: every token is a path segment. Used by the delta layer, where a
// terminal map key may collide with operator vocabulary.
func ResolveField(entry *schema.Entry, key string) (*ResolvedPath, error) {
	return resolve(entry, key, false)
}

func resolve(entry *schema.Entry, key string, extractOp bool) (*ResolvedPath, error) {
	tokens := splitKey(key)
	if len(tokens) == 0 || tokens[0] == "" {
		return nil, invalidf("empty query key %q", key)
	}

	p := &ResolvedPath{Key: key}

	if extractOp {
		tokens = extractOperator(p, tokens)
	}

	if len(tokens) == 0 {
		return nil, invalidf("query key %q has an operator but no field path", key)
	}

	walk := walker{entry: entry, key: key, path: p}

	for _, token := range tokens {
		if err := walk.step(token); err != nil {
			return nil, err
		}
	}

	p.Terminal = walk.terminal()

	return p, nil
}

func splitKey(key string) []string {
	if key == "" {
		return nil
	}

	if strings.Contains(key, ".") {
		key = strings.ReplaceAll(key, ".", Separator)
	}

	return strings.Split(key, Separator)
}

// extractOperator strips a trailing operator token, plus a preceding "not"
// combinator. A doubled trailing token means the field is literally named
// like an operator and no operator applies.
func extractOperator(p *ResolvedPath, tokens []string) []string {
	last := len(tokens) - 1
	if last < 1 || !IsOperator(tokens[last]) {
		return tokens
	}

	if tokens[last-1] == tokens[last] {
		// field name collides with operator vocabulary; doubled token keeps it
		return tokens[:last]
	}

	p.Operator = tokens[last]
	tokens = tokens[:last]
	last = len(tokens) - 1

	if last >= 1 && tokens[last] == "not" {
		p.Negated = true
		tokens = tokens[:last]
	}

	return tokens
}

// walker tracks resolution state while descending the schema graph.
type walker struct {
	entry *schema.Entry
	key   string
	path  *ResolvedPath

	// current is the descriptor the next token is interpreted against; nil at
	// a schema boundary (root or just inside an embedded document).
	current field.Descriptor

	// nested is the schema in scope when current is nil.
	nested field.Schema

	// dynamic is set once resolution passes into schemaless territory; all
	// further tokens pass through verbatim.
	dynamic bool
}

func (w *walker) step(token string) error {
	if w.dynamic {
		w.path.Segments = append(w.path.Segments, Segment{Wire: token, IsMapKey: true})
		return nil
	}

	if w.current == nil {
		return w.schemaStep(token)
	}

	switch w.current.Kind() {
	case field.KindEmbedded:
		w.nested = w.current.(*field.Embedded).Nested
		w.current = nil

		return w.schemaStep(token)
	case field.KindList:
		return w.listStep(token)
	case field.KindMap:
		return w.mapStep(token)
	case field.KindReference, field.KindGenericReference:
		return &JoinError{Key: w.key, Field: w.current.LogicalName()}
	case field.KindDynamic:
		w.dynamic = true
		w.path.Segments = append(w.path.Segments, Segment{Wire: token, IsMapKey: true})

		return nil
	default:
		return w.fail(token)
	}
}

// schemaStep resolves a token as a logical field of the schema in scope.
func (w *walker) schemaStep(token string) error {
	sch := w.schemaInScope()

	if token == schema.PrimaryKeyAlias {
		if d, ok := sch.Field(schema.PrimaryKeyAlias); ok {
			w.current = d
			w.path.Segments = append(w.path.Segments, Segment{Wire: d.WireName(), Descriptor: d})

			return nil
		}
	}

	d, ok := sch.Field(token)
	if !ok {
		if w.isDynamicScope() {
			w.dynamic = true
			w.path.Segments = append(w.path.Segments, Segment{Wire: token, IsMapKey: true})

			return nil
		}

		return w.fail(token)
	}

	w.current = d
	w.path.Segments = append(w.path.Segments, Segment{Wire: d.WireName(), Descriptor: d})

	return nil
}

func (w *walker) listStep(token string) error {
	list := w.current.(*field.List)

	if _, err := strconv.ParseUint(token, 10, 32); err == nil {
		// numeric index passes through unchanged, never schema-checked
		w.path.Segments = append(w.path.Segments, Segment{Wire: token, IsIndex: true})
		w.descendElem(list.Elem)

		return nil
	}

	if token == PositionalToken {
		w.path.Segments = append(w.path.Segments, Segment{Wire: PositionalWire, IsPositional: true})
		w.descendElem(list.Elem)

		return nil
	}

	// otherwise the token addresses a field of the element schema
	if list.Elem != nil && list.Elem.Kind() == field.KindEmbedded {
		w.nested = list.Elem.(*field.Embedded).Nested
		w.current = nil

		return w.schemaStep(token)
	}

	return w.fail(token)
}

func (w *walker) mapStep(token string) error {
	m := w.current.(*field.Map)

	// map keys are arbitrary and never schema-checked
	w.path.Segments = append(w.path.Segments, Segment{Wire: token, IsMapKey: true})
	w.descendElem(m.Elem)

	return nil
}

// descendElem moves resolution into a container's element type.
func (w *walker) descendElem(elem field.Descriptor) {
	if elem == nil {
		w.current = nil
		w.nested = nil
		w.dynamic = true

		return
	}

	w.current = elem
}

// terminal is the descriptor the full path lands on, nil in schemaless
// territory.
func (w *walker) terminal() field.Descriptor {
	if w.dynamic {
		return nil
	}

	if w.current != nil && w.current.Kind() == field.KindDynamic {
		return nil
	}

	return w.current
}

func (w *walker) schemaInScope() field.Schema {
	if w.nested != nil {
		return w.nested
	}

	return w.entry
}

func (w *walker) isDynamicScope() bool {
	if w.nested == nil {
		return w.entry.IsDynamic()
	}

	if e, ok := w.nested.(*schema.Entry); ok {
		return e.IsDynamic()
	}

	return false
}

func (w *walker) fail(token string) error {
	sch := w.schemaInScope()

	resolved := make([]string, len(w.path.Segments))
	for i, s := range w.path.Segments {
		resolved[i] = s.Wire
	}

	return &LookupError{
		Key:         w.key,
		Segment:     token,
		Resolved:    resolved,
		Suggestions: match.Suggest(token, sch.FieldNames(), suggestionLimit),
	}
}
