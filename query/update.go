package query

import (
	"errors"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"document-mapper/field"
	"document-mapper/schema"
)

// Update is a flat set of DSL update actions, e.g.
//
//	Update{"set__title": "Post 1", "inc__views": 1, "push__tags": "go"}
//
// A key with no recognized action verb prefix defaults to set.
type Update map[string]any

// updateVerbs maps DSL action verbs to wire update operators.
var updateVerbs = map[string]string{
	"set":           "$set",
	"set_on_insert": "$setOnInsert",
	"unset":         "$unset",
	"inc":           "$inc",
	"dec":           "$inc",
	"push":          "$push",
	"push_all":      "$push",
	"pull":          "$pull",
	"pull_all":      "$pullAll",
	"add_to_set":    "$addToSet",
	"pop":           "$pop",
}

// CompileUpdate compiles a set of DSL update actions into one wire update
// document. Positional segments and explicit numeric list indices are
// preserved verbatim so they reach the positional-update mechanism unchanged.
func CompileUpdate(entry *schema.Entry, ops Update) (bson.M, error) {
	if len(ops) == 0 {
		return nil, operationf("no update operations given")
	}

	doc := bson.M{}

	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, key := range keys {
		if err := compileAction(entry, doc, key, ops[key]); err != nil {
			return nil, err
		}
	}

	if len(doc) == 0 {
		return nil, operationf("update compiled to no operations")
	}

	if err := checkContradictions(doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// CompileUpsert compiles an upsert-capable update: for classes with
// polymorphic discrimination enabled, the discriminator field is additionally
// set on insert.
func CompileUpsert(entry *schema.Entry, ops Update) (bson.M, error) {
	doc, err := CompileUpdate(entry, ops)
	if err != nil {
		return nil, err
	}

	marker, poly := entry.DiscriminatorValue()
	if !poly {
		return doc, nil
	}

	onInsert, ok := doc["$setOnInsert"].(bson.M)
	if !ok {
		onInsert = bson.M{}
		doc["$setOnInsert"] = onInsert
	}

	if _, set := onInsert[schema.DiscriminatorField]; !set {
		onInsert[schema.DiscriminatorField] = marker
	}

	return doc, nil
}

func compileAction(entry *schema.Entry, doc bson.M, key string, value any) error {
	if key == "" {
		return operationf("empty update key")
	}

	verb := "set"
	path := key

	head, rest, found := strings.Cut(key, Separator)
	if found {
		if _, ok := updateVerbs[head]; ok {
			verb = head
			path = rest
		}
	} else if _, ok := updateVerbs[key]; ok {
		// a bare verb with no field path is a caller error, not a field name
		return operationf("update key %q names an action but no field", key)
	}

	p, err := Resolve(entry, path)
	if err != nil {
		var join *JoinError
		if errors.As(err, &join) {
			return &InvalidQueryError{Reason: "cross-reference join in update", Cause: join}
		}

		return err
	}

	if p.Operator != "" && verb != "pull" {
		return operationf("operator %q is only valid with pull, found in %q", p.Operator, key)
	}

	wireOp := updateVerbs[verb]

	frag, ok := doc[wireOp].(bson.M)
	if !ok {
		frag = bson.M{}
		doc[wireOp] = frag
	}

	switch verb {
	case "set", "set_on_insert":
		wv, err := wireValue(p, value)
		if err != nil {
			return err
		}

		frag[p.WirePath()] = wv
	case "unset":
		frag[p.WirePath()] = 1
	case "inc", "dec":
		n, err := numericOperand(p, value)
		if err != nil {
			return err
		}

		if verb == "dec" {
			n = negateNumber(n)
		}

		frag[p.WirePath()] = n
	case "push", "add_to_set":
		ev, err := elementValue(p, value)
		if err != nil {
			return err
		}

		frag[p.WirePath()] = ev
	case "push_all":
		// deliberately $push + $each, not the plain $push shape
		arr, err := elementList(p, value)
		if err != nil {
			return err
		}

		frag[p.WirePath()] = bson.M{"$each": arr}
	case "pull":
		return compilePull(p, frag, value)
	case "pull_all":
		arr, err := elementList(p, value)
		if err != nil {
			return err
		}

		frag[p.WirePath()] = arr
	case "pop":
		n, ok := asInt(value)
		if !ok || n != 1 && n != -1 {
			return operationf("pop operand for %q must be 1 or -1", key)
		}

		frag[p.WirePath()] = n
	}

	return nil
}

// compilePull emits the pull fragment. A pull with a trailing operator on a
// sub-field of the list elements compiles to a nested match document rooted
// at the list path: pull__content__text__word__in=[...] becomes
// {"content.text": {"word": {"$in": [...]}}}.
func compilePull(p *ResolvedPath, frag bson.M, value any) error {
	if p.Operator == "" {
		ev, err := elementValue(p, value)
		if err != nil {
			return err
		}

		frag[p.WirePath()] = ev

		return nil
	}

	cond, err := applyOperator(p, value)
	if err != nil {
		return err
	}

	listIdx := p.LastListSegment()
	if listIdx < 0 || listIdx == len(p.Segments)-1 {
		frag[p.WirePath()] = cond
		return nil
	}

	inner := make([]string, 0, len(p.Segments)-listIdx-1)
	for _, s := range p.Segments[listIdx+1:] {
		inner = append(inner, s.Wire)
	}

	frag[p.WirePathThrough(listIdx)] = bson.M{strings.Join(inner, "."): cond}

	return nil
}

// checkContradictions rejects updates that both set and unset the same path.
func checkContradictions(doc bson.M) error {
	set, hasSet := doc["$set"].(bson.M)
	unset, hasUnset := doc["$unset"].(bson.M)

	if !hasSet || !hasUnset {
		return nil
	}

	for path := range set {
		if _, both := unset[path]; both {
			return operationf("path %q is both set and unset", path)
		}
	}

	return nil
}

// wireValue coerces a set-like operand through the terminal descriptor.
func wireValue(p *ResolvedPath, value any) (any, error) {
	if p.Terminal == nil {
		return value, nil
	}

	return p.Terminal.ToWire(value)
}

// elementValue coerces a single list-element operand: through the element
// descriptor when the path terminates on the list itself, otherwise through
// the terminal.
func elementValue(p *ResolvedPath, value any) (any, error) {
	if list, ok := p.Terminal.(*field.List); ok {
		if list.Elem == nil {
			return value, nil
		}

		return list.Elem.ToWire(value)
	}

	return wireValue(p, value)
}

func elementList(p *ResolvedPath, value any) (bson.A, error) {
	items, ok := asSlice(value)
	if !ok {
		return nil, operationf("operand for %q must be a list", p.Key)
	}

	out := make(bson.A, 0, len(items))

	for _, item := range items {
		ev, err := elementValue(p, item)
		if err != nil {
			return nil, err
		}

		out = append(out, ev)
	}

	return out, nil
}

func numericOperand(p *ResolvedPath, value any) (any, error) {
	switch n := value.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	}

	return nil, operationf("operand for %q must be numeric", p.Key)
}

func negateNumber(n any) any {
	switch v := n.(type) {
	case int64:
		return -v
	case float64:
		return -v
	}

	return n
}
