package query

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"document-mapper/field"
	"document-mapper/schema"
)

// comparisonOps maps DSL comparison/membership tokens to wire operator keys.
var comparisonOps = map[string]string{
	"ne":     "$ne",
	"gt":     "$gt",
	"gte":    "$gte",
	"lt":     "$lt",
	"lte":    "$lte",
	"in":     "$in",
	"nin":    "$nin",
	"all":    "$all",
	"mod":    "$mod",
	"size":   "$size",
	"exists": "$exists",
	"type":   "$type",
}

// elementWiseOps are the comparison operators whose operand is a list coerced
// element by element.
var elementWiseOps = map[string]bool{"in": true, "nin": true, "all": true}

// stringOps maps string-match tokens to (prefix anchor, suffix anchor,
// case-insensitive) regex construction rules.
var stringOps = map[string]struct {
	anchorStart bool
	anchorEnd   bool
	insensitive bool
}{
	"contains":    {false, false, false},
	"icontains":   {false, false, true},
	"startswith":  {true, false, false},
	"istartswith": {true, false, true},
	"endswith":    {false, true, false},
	"iendswith":   {false, true, true},
	"exact":       {true, true, false},
	"iexact":      {true, true, true},
}

// geoOps maps geo tokens to wire operator and operand treatment.
const (
	geoGeometry = iota // operand normalized to GeoJSON, wrapped in $geometry
	geoLegacy          // operand passed as legacy coordinate shape
	geoCentered        // operand is [center, radius]
)

var geoOps = map[string]struct {
	wireOp string
	subOp  string
	mode   int
}{
	"near":                      {"$near", "$geometry", geoGeometry},
	"near_sphere":               {"$nearSphere", "$geometry", geoGeometry},
	"geo_within":                {"$geoWithin", "$geometry", geoGeometry},
	"geo_intersects":            {"$geoIntersects", "$geometry", geoGeometry},
	"within_box":                {"$geoWithin", "$box", geoLegacy},
	"geo_within_box":            {"$geoWithin", "$box", geoLegacy},
	"within_polygon":            {"$geoWithin", "$polygon", geoLegacy},
	"geo_within_polygon":        {"$geoWithin", "$polygon", geoLegacy},
	"within_distance":           {"$geoWithin", "$center", geoCentered},
	"geo_within_center":         {"$geoWithin", "$center", geoCentered},
	"within_spherical_distance": {"$geoWithin", "$centerSphere", geoCentered},
	"geo_within_sphere":         {"$geoWithin", "$centerSphere", geoCentered},
}

// bsonTypeCodes maps type-operator aliases to wire type-discriminator codes.
var bsonTypeCodes = map[string]int32{
	"double":    1,
	"string":    2,
	"object":    3,
	"array":     4,
	"binary":    5,
	"objectid":  7,
	"boolean":   8,
	"date":      9,
	"null":      10,
	"regex":     11,
	"int":       16,
	"timestamp": 17,
	"long":      18,
	"decimal":   19,
}

// IsOperator reports whether the token belongs to the operator vocabulary,
// including the negation combinator.
func IsOperator(token string) bool {
	if token == "not" || token == "match" || token == "elem_match" {
		return true
	}

	if _, ok := comparisonOps[token]; ok {
		return true
	}

	if _, ok := stringOps[token]; ok {
		return true
	}

	if _, ok := geoOps[token]; ok {
		return true
	}

	return false
}

// applyOperator turns a resolved path's operator plus a raw operand into the
// wire condition value for that field: either a direct equality value or an
// operator sub-document. Negation wraps the produced shape rather than
// algebraically inverting each operator.
func applyOperator(p *ResolvedPath, value any) (any, error) {
	cond, err := operatorValue(p, value)
	if err != nil {
		return nil, err
	}

	if p.Negated {
		return negate(cond), nil
	}

	return cond, nil
}

func operatorValue(p *ResolvedPath, value any) (any, error) {
	op := p.Operator

	if op == "" {
		return equalityValue(p, value)
	}

	if wireOp, ok := comparisonOps[op]; ok {
		return comparisonValue(p, op, wireOp, value)
	}

	if rule, ok := stringOps[op]; ok {
		return regexValue(p, value, rule.anchorStart, rule.anchorEnd, rule.insensitive)
	}

	if op == "match" || op == "elem_match" {
		return elemMatchValue(p, value)
	}

	if geo, ok := geoOps[op]; ok {
		return geoValue(p, geo.wireOp, geo.subOp, geo.mode, value)
	}

	return nil, invalidf("unknown operator %q in key %q", op, p.Key)
}

// equalityValue coerces an operand for a bare equality condition. An operand
// that is already wire-shaped (an operator sub-document) is merged as-is,
// without reinterpretation.
func equalityValue(p *ResolvedPath, value any) (any, error) {
	if isWireShaped(value) {
		return value, nil
	}

	return prepare(p, value)
}

func comparisonValue(p *ResolvedPath, op, wireOp string, value any) (any, error) {
	switch op {
	case "exists":
		b, ok := value.(bool)
		if !ok {
			return nil, invalidf("exists operand for %q must be a bool", p.Key)
		}

		return bson.M{wireOp: b}, nil
	case "size":
		n, ok := asInt(value)
		if !ok {
			return nil, invalidf("size operand for %q must be an integer", p.Key)
		}

		return bson.M{wireOp: n}, nil
	case "mod":
		pair, ok := asSlice(value)
		if !ok || len(pair) != 2 {
			return nil, invalidf("mod operand for %q must be [divisor, remainder]", p.Key)
		}

		return bson.M{wireOp: bson.A{pair[0], pair[1]}}, nil
	case "type":
		switch t := value.(type) {
		case string:
			code, ok := bsonTypeCodes[t]
			if !ok {
				return nil, invalidf("unknown type alias %q for %q", t, p.Key)
			}

			return bson.M{wireOp: code}, nil
		default:
			n, ok := asInt(value)
			if !ok {
				return nil, invalidf("type operand for %q must be a name or code", p.Key)
			}

			return bson.M{wireOp: int32(n)}, nil
		}
	}

	if elementWiseOps[op] {
		items, ok := asSlice(value)
		if !ok {
			return nil, invalidf("%s operand for %q must be a list", op, p.Key)
		}

		out := make(bson.A, 0, len(items))

		for _, item := range items {
			pv, err := prepare(p, item)
			if err != nil {
				return nil, err
			}

			out = append(out, pv)
		}

		return bson.M{wireOp: out}, nil
	}

	pv, err := prepare(p, value)
	if err != nil {
		return nil, err
	}

	return bson.M{wireOp: pv}, nil
}

// regexValue compiles a string-match operand into a wire pattern fragment.
// Operand text is always escaped so its characters are never interpreted as
// pattern metacharacters; anchoring depends on the operator.
func regexValue(p *ResolvedPath, value any, anchorStart, anchorEnd, insensitive bool) (any, error) {
	if re, ok := value.(primitive.Regex); ok {
		return re, nil
	}

	s, ok := value.(string)
	if !ok {
		return nil, invalidf("string-match operand for %q must be a string", p.Key)
	}

	pattern := regexp.QuoteMeta(s)

	if anchorStart {
		pattern = "^" + pattern
	}

	if anchorEnd {
		pattern += "$"
	}

	opts := ""
	if insensitive {
		opts = "i"
	}

	return primitive.Regex{Pattern: pattern, Options: opts}, nil
}

// elemMatchValue wraps the operand in the wire "first element matching all
// these sub-conditions" shape. A map operand is compiled as sub-conditions
// against the list's element schema; an already wire-shaped operand passes
// through.
func elemMatchValue(p *ResolvedPath, value any) (any, error) {
	if isWireShaped(value) {
		return bson.M{"$elemMatch": value}, nil
	}

	conds, ok := asCond(value)
	if !ok {
		return nil, invalidf("match operand for %q must be a condition map", p.Key)
	}

	elemEntry := elementEntry(p.Terminal)
	if elemEntry == nil {
		// schemaless elements: operator parsing but no field remapping
		sub, err := compileSchemaless(conds)
		if err != nil {
			return nil, err
		}

		return bson.M{"$elemMatch": sub}, nil
	}

	sub, err := compileConditions(elemEntry, conds)
	if err != nil {
		return nil, err
	}

	return bson.M{"$elemMatch": sub}, nil
}

func geoValue(p *ResolvedPath, wireOp, subOp string, mode int, value any) (any, error) {
	name := p.Key

	switch mode {
	case geoGeometry:
		geom, err := field.NormalizeGeometry(name, value)
		if err != nil {
			return nil, err
		}

		return bson.M{wireOp: bson.M{subOp: geom}}, nil
	case geoLegacy:
		coords, err := field.LegacyCoordinates(name, value)
		if err != nil {
			return nil, err
		}

		return bson.M{wireOp: bson.M{subOp: coords}}, nil
	case geoCentered:
		pair, ok := asSlice(value)
		if !ok || len(pair) != 2 {
			return nil, invalidf("operand for %q must be [center, radius]", p.Key)
		}

		center, err := field.LegacyCoordinates(name, pair[0])
		if err != nil {
			return nil, err
		}

		return bson.M{wireOp: bson.M{subOp: bson.A{center, pair[1]}}}, nil
	}

	return nil, invalidf("unhandled geo operator for %q", p.Key)
}

// negate wraps a compiled condition value in the wire negation shape.
func negate(cond any) any {
	if isWireShaped(cond) {
		return bson.M{"$not": cond}
	}

	if re, ok := cond.(primitive.Regex); ok {
		return bson.M{"$not": re}
	}

	return bson.M{"$not": bson.M{"$eq": cond}}
}

// prepare coerces an operand through the terminal descriptor, or passes it
// through when the path ends in schemaless territory.
func prepare(p *ResolvedPath, value any) (any, error) {
	if p.Terminal == nil {
		return value, nil
	}

	return p.Terminal.PrepareQuery(value)
}

// isWireShaped reports whether the value is an already-wire-shaped operator
// sub-document supplied as a raw escape hatch.
func isWireShaped(v any) bool {
	m, ok := v.(bson.M)
	if !ok || len(m) == 0 {
		return false
	}

	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}

	return true
}

// elementEntry returns the registered class entry for a list-of-embedded
// field's element type, or nil for schemaless elements.
func elementEntry(d field.Descriptor) *schema.Entry {
	list, ok := d.(*field.List)
	if !ok || list.Elem == nil {
		return nil
	}

	emb, ok := list.Elem.(*field.Embedded)
	if !ok {
		return nil
	}

	entry, ok := emb.Nested.(*schema.Entry)
	if !ok {
		return nil
	}

	return entry
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}

	return 0, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case bson.A:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}

		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}

		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}

		return out, true
	}

	return nil, false
}

func asCond(v any) (Cond, bool) {
	switch m := v.(type) {
	case Cond:
		return m, true
	case map[string]any:
		return Cond(m), true
	case bson.M:
		return Cond(m), true
	}

	return nil, false
}
