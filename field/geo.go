package field

import (
	"go.mongodb.org/mongo-driver/bson"
)

// GeoJSON geometry type names emitted by normalization.
const (
	GeometryPoint      = "Point"
	GeometryLineString = "LineString"
	GeometryPolygon    = "Polygon"
)

// NormalizePoint accepts a legacy [lng, lat] pair or a GeoJSON Point object
// and returns the GeoJSON form.
func NormalizePoint(name string, v any) (any, error) {
	if m, ok := wireMap(v); ok {
		return normalizeGeoObject(name, m, GeometryPoint)
	}

	coords, depth, err := coordinates(name, v)
	if err != nil {
		return nil, err
	}

	if depth != 1 {
		return nil, validationErr(name, "expected [lng, lat] pair", v)
	}

	return bson.M{"type": GeometryPoint, "coordinates": coords}, nil
}

// NormalizeGeometry accepts either a GeoJSON object or a legacy coordinate
// list and returns the GeoJSON form. Legacy shapes are classified by nesting
// depth: a flat number pair is a Point, one level of nesting is a LineString,
// two levels is a Polygon.
func NormalizeGeometry(name string, v any) (any, error) {
	if m, ok := wireMap(v); ok {
		return normalizeGeoObject(name, m, "")
	}

	coords, depth, err := coordinates(name, v)
	if err != nil {
		return nil, err
	}

	switch depth {
	case 1:
		return bson.M{"type": GeometryPoint, "coordinates": coords}, nil
	case 2:
		return bson.M{"type": GeometryLineString, "coordinates": coords}, nil
	case 3:
		return bson.M{"type": GeometryPolygon, "coordinates": coords}, nil
	}

	return nil, validationErr(name, "unrecognized coordinate nesting", v)
}

// LegacyCoordinates extracts the raw coordinate list from either a GeoJSON
// object or a legacy list, for operators that still speak the legacy shape.
func LegacyCoordinates(name string, v any) (any, error) {
	if m, ok := wireMap(v); ok {
		coords, present := m["coordinates"]
		if !present {
			return nil, validationErr(name, "geometry object has no coordinates", v)
		}

		return coords, nil
	}

	coords, _, err := coordinates(name, v)
	if err != nil {
		return nil, err
	}

	return coords, nil
}

func normalizeGeoObject(name string, m map[string]any, wantType string) (any, error) {
	typ, _ := m["type"].(string)
	if typ == "" {
		return nil, validationErr(name, "geometry object has no type", m)
	}

	if wantType != "" && typ != wantType {
		return nil, validationErr(name, "expected "+wantType+" geometry", m)
	}

	coords, present := m["coordinates"]
	if !present {
		return nil, validationErr(name, "geometry object has no coordinates", m)
	}

	return bson.M{"type": typ, "coordinates": coords}, nil
}

// coordinates converts a legacy coordinate value to bson.A and reports its
// nesting depth (1 for a flat numeric pair).
func coordinates(name string, v any) (bson.A, int, error) {
	items, ok := anySlice(v)
	if !ok {
		return nil, 0, validationErr(name, "expected coordinate list", v)
	}

	if len(items) == 0 {
		return bson.A{}, 1, nil
	}

	if isNumber(items[0]) {
		out := make(bson.A, 0, len(items))

		for _, item := range items {
			n, err := coerceFloat(name, item)
			if err != nil {
				return nil, 0, err
			}

			out = append(out, n)
		}

		return out, 1, nil
	}

	out := make(bson.A, 0, len(items))
	depth := 0

	for _, item := range items {
		inner, d, err := coordinates(name, item)
		if err != nil {
			return nil, 0, err
		}

		if depth == 0 {
			depth = d
		}

		out = append(out, inner)
	}

	return out, depth + 1, nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}

	return false
}
