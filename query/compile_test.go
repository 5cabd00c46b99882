package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"document-mapper/field"
	"document-mapper/schema"
)

func TestCompileQuery_Equality(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{"title": "Post 1"})
	require.NoError(t, err)

	assert.Equal(t, bson.M{"postTitle": "Post 1"}, doc)
	assert.NotContains(t, doc, "title")
}

func TestCompileQuery_OperatorMerge(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{"views__gt": 20, "views__lt": 50})
	require.NoError(t, err)

	assert.Equal(t, bson.M{"views": bson.M{"$gt": int64(20), "$lt": int64(50)}}, doc)
}

func TestCompileQuery_EqualityPlusOperatorBecomesAnd(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{"views": 20, "views__gt": 50})
	require.NoError(t, err)

	and, ok := doc["$and"].(bson.A)
	require.True(t, ok, "expected $and wrapping, got %v", doc)
	assert.ElementsMatch(t, bson.A{
		bson.M{"views": int64(20)},
		bson.M{"views": bson.M{"$gt": int64(50)}},
	}, and)
	assert.NotContains(t, doc, "views")
}

func TestCompileQuery_Membership(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{"tags__in": []string{"go", "db"}})
	require.NoError(t, err)

	assert.Equal(t, bson.M{"tags": bson.M{"$in": bson.A{"go", "db"}}}, doc)
}

func TestCompileQuery_NotWrapsOperatorShape(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{"views__not__gt": 10})
	require.NoError(t, err)

	assert.Equal(t, bson.M{"views": bson.M{"$not": bson.M{"$gt": int64(10)}}}, doc)
}

func TestCompileQuery_StringOperators(t *testing.T) {
	entry := postEntry(t)

	tests := []struct {
		key     string
		operand string
		pattern string
		options string
	}{
		{"title__contains", "go", "go", ""},
		{"title__icontains", "go", "go", "i"},
		{"title__startswith", "go", "^go", ""},
		{"title__istartswith", "go", "^go", "i"},
		{"title__endswith", "go", "go$", ""},
		{"title__exact", "go", "^go$", ""},
		{"title__iexact", "go", "^go$", "i"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			doc, err := CompileConditions(entry, Cond{tt.key: tt.operand})
			require.NoError(t, err)

			re, ok := doc["postTitle"].(primitive.Regex)
			require.True(t, ok)
			assert.Equal(t, tt.pattern, re.Pattern)
			assert.Equal(t, tt.options, re.Options)
		})
	}
}

func TestCompileQuery_RegexOperandEscaped(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{"title__icontains": "a.b*c"})
	require.NoError(t, err)

	re := doc["postTitle"].(primitive.Regex)
	assert.Equal(t, `a\.b\*c`, re.Pattern)
}

func TestCompileQuery_ElemMatch(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{
		"comments__match": Cond{"content": "nice", "votes__gte": 2},
	})
	require.NoError(t, err)

	assert.Equal(t, bson.M{"comments": bson.M{"$elemMatch": bson.M{
		"body":  "nice",
		"votes": bson.M{"$gte": int64(2)},
	}}}, doc)
}

func TestCompileQuery_Combinators(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileQuery(entry, Or(
		Cond{"published": true},
		And(Cond{"views__gte": 100}, Cond{"rating__gte": 4.5}),
	))
	require.NoError(t, err)

	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"published": true},
		bson.M{"$and": bson.A{
			bson.M{"views": bson.M{"$gte": int64(100)}},
			bson.M{"rating": bson.M{"$gte": 4.5}},
		}},
	}}, doc)
}

func TestCompileQuery_SingleChildCombinatorCollapses(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileQuery(entry, Or(Cond{"published": true}))
	require.NoError(t, err)
	assert.Equal(t, bson.M{"published": true}, doc)
}

func TestCompileQuery_RawEscapeHatch(t *testing.T) {
	entry := postEntry(t)

	t.Run("disjoint paths merge", func(t *testing.T) {
		doc, err := CompileConditions(entry, Cond{
			"title": "Post 1",
			RawKey:  bson.M{"legacyField": 7},
		})
		require.NoError(t, err)

		assert.Equal(t, bson.M{"postTitle": "Post 1", "legacyField": 7}, doc)
	})

	t.Run("colliding paths combine with and", func(t *testing.T) {
		doc, err := CompileConditions(entry, Cond{
			"title": "Post 1",
			RawKey:  bson.M{"postTitle": bson.M{"$ne": "Post 2"}},
		})
		require.NoError(t, err)

		assert.Equal(t, bson.M{"$and": bson.A{
			bson.M{"postTitle": "Post 1"},
			bson.M{"postTitle": bson.M{"$ne": "Post 2"}},
		}}, doc)
	})
}

func TestCompileQuery_RawShapedOperandPassesThrough(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{"views": bson.M{"$gt": 5, "$lt": 9}})
	require.NoError(t, err)

	assert.Equal(t, bson.M{"views": bson.M{"$gt": 5, "$lt": 9}}, doc)
}

func TestCompileQuery_Where(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{
		WhereKey: `this[~title] == "Post 1" && this[~views] > 10`,
	})
	require.NoError(t, err)

	assert.Equal(t, bson.M{"$where": `this[postTitle] == "Post 1" && this[views] > 10`}, doc)
}

func TestCompileQuery_JoinFailsAsInvalidQuery(t *testing.T) {
	entry := postEntry(t)

	_, err := CompileConditions(entry, Cond{"author__email": "x@y.z"})
	require.Error(t, err)

	var invalid *InvalidQueryError
	require.ErrorAs(t, err, &invalid)

	var join *JoinError
	assert.ErrorAs(t, err, &join)
}

func TestCompileQuery_ReferenceOperandReduced(t *testing.T) {
	entry := postEntry(t)
	oid := primitive.NewObjectID()

	doc, err := CompileConditions(entry, Cond{"author": oid.Hex()})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"author": oid}, doc)
}

func TestCompileQuery_GeoOperators(t *testing.T) {
	entry := postEntry(t)

	t.Run("near normalizes legacy pair", func(t *testing.T) {
		doc, err := CompileConditions(entry, Cond{"location__near": []float64{-73.9, 40.7}})
		require.NoError(t, err)

		assert.Equal(t, bson.M{"location": bson.M{"$near": bson.M{"$geometry": bson.M{
			"type":        "Point",
			"coordinates": bson.A{-73.9, 40.7},
		}}}}, doc)
	})

	t.Run("near accepts geojson object", func(t *testing.T) {
		doc, err := CompileConditions(entry, Cond{"location__near": bson.M{
			"type":        "Point",
			"coordinates": bson.A{1.0, 2.0},
		}})
		require.NoError(t, err)

		geom := doc["location"].(bson.M)["$near"].(bson.M)["$geometry"].(bson.M)
		assert.Equal(t, "Point", geom["type"])
	})

	t.Run("within_distance legacy center shape", func(t *testing.T) {
		doc, err := CompileConditions(entry, Cond{
			"location__within_distance": []any{[]float64{0, 0}, 5.0},
		})
		require.NoError(t, err)

		assert.Equal(t, bson.M{"location": bson.M{"$geoWithin": bson.M{
			"$center": bson.A{bson.A{0.0, 0.0}, 5.0},
		}}}, doc)
	})

	t.Run("geo_within_box", func(t *testing.T) {
		doc, err := CompileConditions(entry, Cond{
			"location__geo_within_box": []any{[]float64{0, 0}, []float64{10, 10}},
		})
		require.NoError(t, err)

		assert.Equal(t, bson.M{"location": bson.M{"$geoWithin": bson.M{
			"$box": bson.A{bson.A{0.0, 0.0}, bson.A{10.0, 10.0}},
		}}}, doc)
	})
}

func TestCompileQuery_TypeOperator(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{"views__type": "int"})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"views": bson.M{"$type": int32(16)}}, doc)
}

func TestCompileQuery_ExistsAndSize(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileConditions(entry, Cond{"tags__size": 3, "meta__flag__exists": true})
	require.NoError(t, err)

	assert.Equal(t, bson.M{
		"tags":      bson.M{"$size": int64(3)},
		"meta.flag": bson.M{"$exists": true},
	}, doc)
}

func inheritanceRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	r := schema.NewRegistry()

	_, err := r.Register(schema.Definition{
		Name:        "Animal",
		Inheritance: schema.InheritEnabled,
		Fields:      []field.Descriptor{field.NewScalar("name", field.TypeString)},
	})
	require.NoError(t, err)

	_, err = r.Register(schema.Definition{Name: "Mammal", Parent: "Animal"})
	require.NoError(t, err)

	_, err = r.Register(schema.Definition{Name: "Dog", Parent: "Mammal"})
	require.NoError(t, err)

	_, err = r.Register(schema.Definition{Name: "Fish", Parent: "Animal"})
	require.NoError(t, err)

	return r
}

func TestCompileQuery_PolymorphicInjection(t *testing.T) {
	r := inheritanceRegistry(t)

	t.Run("base class gets $in over self and subclasses", func(t *testing.T) {
		animal, err := r.Lookup("Animal")
		require.NoError(t, err)

		doc, err := CompileConditions(animal, Cond{"name": "rex"})
		require.NoError(t, err)

		in := doc["_cls"].(bson.M)["$in"].(bson.A)
		assert.Equal(t, bson.A{"Animal", "Animal.Mammal", "Animal.Mammal.Dog", "Animal.Fish"}, in)
	})

	t.Run("leaf class gets exact match", func(t *testing.T) {
		dog, err := r.Lookup("Dog")
		require.NoError(t, err)

		doc, err := CompileConditions(dog, Cond{"name": "rex"})
		require.NoError(t, err)

		assert.Equal(t, "Animal.Mammal.Dog", doc["_cls"])
	})

	t.Run("explicit constraint suppresses injection", func(t *testing.T) {
		animal, err := r.Lookup("Animal")
		require.NoError(t, err)

		doc, err := CompileConditions(animal, Cond{
			"name": "rex",
			RawKey: bson.M{"_cls": "Animal.Fish"},
		})
		require.NoError(t, err)

		assert.Equal(t, "Animal.Fish", doc["_cls"])
	})

	t.Run("non-polymorphic class gets nothing", func(t *testing.T) {
		entry := postEntry(t)

		doc, err := CompileConditions(entry, Cond{"published": true})
		require.NoError(t, err)
		assert.NotContains(t, doc, "_cls")
	})
}

func TestCompileQuery_EmptyConditions(t *testing.T) {
	entry := postEntry(t)

	doc, err := CompileQuery(entry, nil)
	require.NoError(t, err)
	assert.Equal(t, bson.M{}, doc)
}

func TestCompileQuery_ValidationErrorPropagates(t *testing.T) {
	entry := postEntry(t)

	_, err := CompileConditions(entry, Cond{"views": "not a number"})
	require.Error(t, err)

	var verr *field.ValidationError
	assert.ErrorAs(t, err, &verr)
}
