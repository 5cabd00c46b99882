package query

// RawKey is the condition key whose value is an already wire-shaped filter
// fragment merged without DSL interpretation.
const RawKey = "__raw__"

// WhereKey is the condition key whose value is a textual predicate source
// with ~field placeholders, emitted as the wire $where escape hatch.
const WhereKey = "__where__"

// Node is one node of a boolean combinator tree over condition sets.
type Node interface {
	isNode()
}

// Cond is a flat set of DSL keyword conditions, combined with implicit AND.
type Cond map[string]any

func (Cond) isNode() {}

type combinator struct {
	wireOp   string
	children []Node
}

func (*combinator) isNode() {}

// And combines condition nodes so a document must satisfy all of them.
func And(nodes ...Node) Node {
	if len(nodes) == 1 {
		return nodes[0]
	}

	return &combinator{wireOp: "$and", children: nodes}
}

// Or combines condition nodes so a document may satisfy any of them.
func Or(nodes ...Node) Node {
	if len(nodes) == 1 {
		return nodes[0]
	}

	return &combinator{wireOp: "$or", children: nodes}
}
