package query

import (
	"errors"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"document-mapper/schema"
)

// CompileQuery compiles a combinator tree of keyword conditions into one wire
// filter document for the given class. Unless the caller constrained the
// discriminator explicitly, classes participating in polymorphic inheritance
// get a discriminator condition injected: an exact match for a leaf class, an
// $in over the class and all registered subclasses for a base class.
func CompileQuery(entry *schema.Entry, node Node) (bson.M, error) {
	if node == nil {
		node = Cond{}
	}

	doc, err := compileNode(entry, node)
	if err != nil {
		var join *JoinError
		if errors.As(err, &join) {
			return nil, &InvalidQueryError{Reason: "cross-reference join", Cause: join}
		}

		return nil, err
	}

	injectDiscriminator(entry, doc)

	return doc, nil
}

// CompileConditions compiles one flat condition set. Shorthand for
// CompileQuery with a single Cond node.
func CompileConditions(entry *schema.Entry, conds Cond) (bson.M, error) {
	return CompileQuery(entry, conds)
}

func compileNode(entry *schema.Entry, node Node) (bson.M, error) {
	switch n := node.(type) {
	case Cond:
		return compileConditions(entry, n)
	case *combinator:
		children := make(bson.A, 0, len(n.children))

		for _, child := range n.children {
			sub, err := compileNode(entry, child)
			if err != nil {
				return nil, err
			}

			children = append(children, sub)
		}

		return bson.M{n.wireOp: children}, nil
	}

	return nil, invalidf("unknown combinator node %T", node)
}

// compileConditions resolves and merges one flat condition set. Conditions on
// the same wire path with distinct operators merge into one sub-document; a
// bare equality alongside an operator condition produces an explicit $and
// pair instead of silently dropping either side.
func compileConditions(entry *schema.Entry, conds Cond) (bson.M, error) {
	var (
		raw      bson.M
		whereSrc string
		hasWhere bool
	)

	merged := newMergeState()

	for _, key := range sortedKeys(conds) {
		value := conds[key]

		switch key {
		case RawKey:
			m, ok := value.(bson.M)
			if !ok {
				if mm, mok := value.(map[string]any); mok {
					m = bson.M(mm)
				} else {
					return nil, invalidf("raw filter must be a wire document, got %T", value)
				}
			}

			raw = m

			continue
		case WhereKey:
			src, ok := value.(string)
			if !ok {
				return nil, invalidf("where predicate must be a string, got %T", value)
			}

			substituted, err := substituteWhere(entry, src)
			if err != nil {
				return nil, err
			}

			whereSrc = substituted
			hasWhere = true

			continue
		}

		p, err := Resolve(entry, key)
		if err != nil {
			return nil, err
		}

		cond, err := applyOperator(p, value)
		if err != nil {
			return nil, err
		}

		merged.add(p.WirePath(), cond)
	}

	doc := merged.document()

	if hasWhere {
		doc["$where"] = whereSrc
	}

	if raw != nil {
		doc = combineRaw(doc, raw)
	}

	return doc, nil
}

// compileSchemaless compiles conditions with operator parsing but without any
// schema resolution: keys are wire paths already.
func compileSchemaless(conds Cond) (bson.M, error) {
	merged := newMergeState()

	for _, key := range sortedKeys(conds) {
		p := &ResolvedPath{Key: key}

		tokens := splitKey(key)
		tokens = extractOperator(p, tokens)

		for _, token := range tokens {
			p.Segments = append(p.Segments, Segment{Wire: token, IsMapKey: true})
		}

		cond, err := applyOperator(p, conds[key])
		if err != nil {
			return nil, err
		}

		merged.add(p.WirePath(), cond)
	}

	return merged.document(), nil
}

// mergeState accumulates per-path conditions and the $and spillover produced
// by equality/operator collisions.
type mergeState struct {
	paths  map[string]any
	order  []string
	extras []bson.M
}

func newMergeState() *mergeState {
	return &mergeState{paths: map[string]any{}}
}

func (m *mergeState) add(path string, cond any) {
	existing, ok := m.paths[path]
	if !ok {
		m.paths[path] = cond
		m.order = append(m.order, path)

		return
	}

	exOp, exIsOp := asOpDoc(existing)
	newOp, newIsOp := asOpDoc(cond)

	if exIsOp && newIsOp {
		for k, v := range newOp {
			exOp[k] = v
		}

		return
	}

	if !exIsOp && !newIsOp {
		// two bare equalities: last writer wins (documented quirk)
		m.paths[path] = cond
		return
	}

	// equality + operator: keep both sides as an explicit $and pair
	m.extras = append(m.extras, bson.M{path: existing}, bson.M{path: cond})
	delete(m.paths, path)
	m.order = removeString(m.order, path)
}

func (m *mergeState) document() bson.M {
	doc := bson.M{}

	for _, path := range m.order {
		doc[path] = m.paths[path]
	}

	if len(m.extras) > 0 {
		arr := make(bson.A, 0, len(m.extras))
		for _, e := range m.extras {
			arr = append(arr, e)
		}

		doc["$and"] = arr
	}

	return doc
}

// combineRaw merges a raw escape-hatch filter into the compiled document.
// When both sides touch the same path the two are AND-combined instead of
// key-merged, so neither side is silently clobbered.
func combineRaw(doc, raw bson.M) bson.M {
	collision := false

	for k := range raw {
		if _, ok := doc[k]; ok {
			collision = true
			break
		}
	}

	if collision {
		return bson.M{"$and": bson.A{doc, raw}}
	}

	for k, v := range raw {
		doc[k] = v
	}

	return doc
}

// injectDiscriminator adds the polymorphic class constraint unless the caller
// already constrained it anywhere in the compiled tree.
func injectDiscriminator(entry *schema.Entry, doc bson.M) {
	marker, poly := entry.DiscriminatorValue()
	if !poly || hasDiscriminator(doc) {
		return
	}

	subs := entry.Subclasses()
	if len(subs) == 0 {
		doc[schema.DiscriminatorField] = marker
		return
	}

	in := make(bson.A, 0, len(subs)+1)
	in = append(in, marker)

	for _, s := range subs {
		in = append(in, s)
	}

	doc[schema.DiscriminatorField] = bson.M{"$in": in}
}

func hasDiscriminator(doc bson.M) bool {
	if _, ok := doc[schema.DiscriminatorField]; ok {
		return true
	}

	for _, key := range []string{"$and", "$or"} {
		arr, ok := doc[key].(bson.A)
		if !ok {
			continue
		}

		for _, item := range arr {
			if sub, ok := item.(bson.M); ok && hasDiscriminator(sub) {
				return true
			}
		}
	}

	return false
}

func asOpDoc(v any) (bson.M, bool) {
	m, ok := v.(bson.M)
	if !ok || len(m) == 0 {
		return nil, false
	}

	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return nil, false
		}
	}

	return m, true
}

func sortedKeys(conds Cond) []string {
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func removeString(list []string, s string) []string {
	out := list[:0]

	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}

	return out
}
