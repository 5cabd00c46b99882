package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNormalizePoint(t *testing.T) {
	t.Run("legacy pair", func(t *testing.T) {
		got, err := NormalizePoint("loc", []float64{-73.9, 40.7})
		require.NoError(t, err)
		assert.Equal(t, bson.M{"type": "Point", "coordinates": bson.A{-73.9, 40.7}}, got)
	})

	t.Run("geojson object passthrough", func(t *testing.T) {
		in := bson.M{"type": "Point", "coordinates": bson.A{1.0, 2.0}}

		got, err := NormalizePoint("loc", in)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	})

	t.Run("rejects wrong geometry type", func(t *testing.T) {
		_, err := NormalizePoint("loc", bson.M{"type": "Polygon", "coordinates": bson.A{}})
		assert.Error(t, err)
	})

	t.Run("rejects nested list", func(t *testing.T) {
		_, err := NormalizePoint("loc", []any{[]float64{1, 2}, []float64{3, 4}})
		assert.Error(t, err)
	})
}

func TestNormalizeGeometry_DepthClassification(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		geomType string
	}{
		{"pair is point", []float64{1, 2}, "Point"},
		{"list of pairs is linestring", []any{[]float64{1, 2}, []float64{3, 4}}, "LineString"},
		{
			"ring list is polygon",
			[]any{[]any{[]float64{0, 0}, []float64{0, 1}, []float64{1, 1}, []float64{0, 0}}},
			"Polygon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeGeometry("area", tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.geomType, got.(bson.M)["type"])
		})
	}
}

func TestNormalizeGeometry_ObjectMissingParts(t *testing.T) {
	_, err := NormalizeGeometry("area", bson.M{"coordinates": bson.A{}})
	assert.Error(t, err)

	_, err = NormalizeGeometry("area", bson.M{"type": "Point"})
	assert.Error(t, err)
}

func TestLegacyCoordinates(t *testing.T) {
	t.Run("from geojson object", func(t *testing.T) {
		got, err := LegacyCoordinates("loc", bson.M{"type": "Point", "coordinates": bson.A{5.0, 6.0}})
		require.NoError(t, err)
		assert.Equal(t, bson.A{5.0, 6.0}, got)
	})

	t.Run("from legacy list", func(t *testing.T) {
		got, err := LegacyCoordinates("loc", []float64{5, 6})
		require.NoError(t, err)
		assert.Equal(t, bson.A{5.0, 6.0}, got)
	})
}
