package document

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"document-mapper/field"
	"document-mapper/schema"
)

// blogRegistry builds the fixture class graph shared by the document tests.
func blogRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	r := schema.NewRegistry()

	_, err := r.Register(schema.Definition{
		Name:     "Comment",
		Embedded: true,
		Fields: []field.Descriptor{
			&field.Scalar{Base: field.Base{Logical: "content", Wire: "body"}, Type: field.TypeString},
			field.NewScalar("votes", field.TypeInt),
		},
	})
	require.NoError(t, err)

	comment, err := r.Lookup("Comment")
	require.NoError(t, err)

	_, err = r.Register(schema.Definition{
		Name: "Post",
		Fields: []field.Descriptor{
			&field.Scalar{Base: field.Base{Logical: "title", Wire: "postTitle"}, Type: field.TypeString},
			field.NewScalar("views", field.TypeInt),
			field.NewScalar("status", field.TypeString),
			&field.List{Base: field.Base{Logical: "tags"}, Elem: field.NewScalar("tags", field.TypeString)},
			&field.List{
				Base: field.Base{Logical: "comments"},
				Elem: &field.Embedded{Base: field.Base{Logical: "comments"}, Nested: comment},
			},
			&field.Embedded{Base: field.Base{Logical: "featured"}, Nested: comment},
			&field.Map{Base: field.Base{Logical: "meta"}, Elem: field.NewScalar("meta", field.TypeString)},
		},
	})
	require.NoError(t, err)

	return r
}

func postEntry(t *testing.T) *schema.Entry {
	t.Helper()

	entry, err := blogRegistry(t).Lookup("Post")
	require.NoError(t, err)

	return entry
}

func newPost(t *testing.T) *Document {
	t.Helper()

	d, err := New(postEntry(t))
	require.NoError(t, err)

	return d
}

func animalRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	r := schema.NewRegistry()

	_, err := r.Register(schema.Definition{
		Name:        "Animal",
		Inheritance: schema.InheritEnabled,
		Fields: []field.Descriptor{
			field.NewScalar("name", field.TypeString),
		},
	})
	require.NoError(t, err)

	_, err = r.Register(schema.Definition{
		Name:   "Dog",
		Parent: "Animal",
		Fields: []field.Descriptor{
			field.NewScalar("barks", field.TypeBool),
		},
	})
	require.NoError(t, err)

	return r
}

func TestNew_AppliesDefaults(t *testing.T) {
	r := blogRegistry(t)

	_, err := r.Register(schema.Definition{
		Name: "Draft",
		Fields: []field.Descriptor{
			&field.Scalar{Base: field.Base{Logical: "state", Default: "draft"}, Type: field.TypeString},
			field.NewScalar("title", field.TypeString),
		},
	})
	require.NoError(t, err)

	entry, err := r.Lookup("Draft")
	require.NoError(t, err)

	d, err := New(entry)
	require.NoError(t, err)

	v, ok := d.Get("state")
	require.True(t, ok)
	assert.Equal(t, "draft", v)

	_, ok = d.Get("title")
	assert.False(t, ok)

	assert.True(t, d.IsDirty())
}

func TestNew_AbstractRejected(t *testing.T) {
	r := schema.NewRegistry()

	_, err := r.Register(schema.Definition{
		Name:     "Base",
		Abstract: true,
		Fields:   []field.Descriptor{field.NewScalar("name", field.TypeString)},
	})
	require.NoError(t, err)

	entry, err := r.Lookup("Base")
	require.NoError(t, err)

	_, err = New(entry)
	assert.Error(t, err)
}

func TestSet_ScalarRemapsOnDelta(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("title", "Post 1"))

	assert.True(t, d.IsDirty())
	assert.Equal(t, []string{"title"}, d.ChangedPaths())

	set, unset, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Equal(t, bson.M{"postTitle": "Post 1"}, set)
	assert.Empty(t, unset)
}

func TestSet_PrimaryKeyAlias(t *testing.T) {
	d := newPost(t)
	oid := primitive.NewObjectID()

	require.NoError(t, d.Set("pk", oid))

	assert.Equal(t, oid, d.Identity())

	set, _, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Equal(t, bson.M{"_id": oid}, set)
}

func TestSet_UnknownFieldSuggests(t *testing.T) {
	d := newPost(t)

	err := d.Set("titel", "x")
	require.Error(t, err)

	var unknown *UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Post", unknown.Class)
	assert.Contains(t, unknown.Suggestions, "title")
}

func TestSet_ValidationErrorPropagates(t *testing.T) {
	d := newPost(t)

	err := d.Set("views", "not a number")
	require.Error(t, err)

	var verr *field.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.False(t, d.IsDirty())
}

func TestSet_NestedEmbeddedCreatesParent(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("featured.content", "hello"))

	assert.Equal(t, []string{"featured.content"}, d.ChangedPaths())

	set, _, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Equal(t, bson.M{"featured.body": "hello"}, set)

	v, ok := d.Get("featured.content")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestSet_WholeEmbeddedValue(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("featured", map[string]any{"content": "hi", "votes": 2}))

	assert.Equal(t, []string{"featured"}, d.ChangedPaths())

	set, _, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Equal(t, bson.M{"featured": bson.M{"body": "hi", "votes": int64(2)}}, set)
}

func TestSet_EmbeddedChildCollapsesIntoParentMark(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("featured.content", "a"))
	require.NoError(t, d.Set("featured", map[string]any{"content": "b"}))

	assert.Equal(t, []string{"featured"}, d.ChangedPaths())
}

func TestList_MutationMarksWholeList(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("tags", []string{"go"}))
	d.AcceptChanges()

	v, ok := d.Get("tags")
	require.True(t, ok)

	l, ok := v.(*List)
	require.True(t, ok)
	require.NoError(t, l.Append("bson"))

	assert.Equal(t, []string{"tags"}, d.ChangedPaths())

	set, _, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Equal(t, bson.M{"tags": bson.A{"go", "bson"}}, set)
}

func TestList_ElementDocumentMutationMarksWholeList(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("comments", []any{
		map[string]any{"content": "first", "votes": 1},
	}))
	d.AcceptChanges()

	require.NoError(t, d.Set("comments.0.votes", 10))

	assert.Equal(t, []string{"comments"}, d.ChangedPaths())

	set, _, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Equal(t, bson.M{"comments": bson.A{
		bson.M{"body": "first", "votes": int64(10)},
	}}, set)
}

func TestList_IndexOutOfRange(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("tags", []string{"a"}))

	assert.Error(t, d.Set("tags.3", "b"))
}

func TestMap_KeyMutationMarksOnlyThatKey(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("meta", map[string]any{"lang": "en"}))
	d.AcceptChanges()

	require.NoError(t, d.Set("meta.size", "large"))

	assert.Equal(t, []string{"meta.size"}, d.ChangedPaths())

	set, unset, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Equal(t, bson.M{"meta.size": "large"}, set)
	assert.Empty(t, unset)
}

func TestMap_KeyDeleteRendersUnset(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("meta", map[string]any{"lang": "en"}))
	d.AcceptChanges()

	require.NoError(t, d.Delete("meta.lang"))

	set, unset, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Equal(t, bson.M{"meta.lang": 1}, unset)
}

func TestDelete_RootFieldRendersUnset(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("views", 3))
	d.AcceptChanges()

	require.NoError(t, d.Delete("views"))

	set, unset, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Equal(t, bson.M{"views": 1}, unset)
}

func TestDelta_FalsyValueStaysSet(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("views", 0))

	set, unset, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Equal(t, bson.M{"views": int64(0)}, set)
	assert.Empty(t, unset)
}

func TestAcceptChanges_ClearsDirtyState(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("title", "x"))
	require.True(t, d.IsDirty())

	d.AcceptChanges()

	assert.False(t, d.IsDirty())

	set, unset, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Empty(t, unset)
}

func TestLoad_RoundTrip(t *testing.T) {
	entry := postEntry(t)
	oid := primitive.NewObjectID()

	d, err := Load(entry, bson.M{
		"_id":       oid,
		"postTitle": "Loaded",
		"views":     7,
		"comments": bson.A{
			bson.M{"body": "nice", "votes": 2},
		},
		"meta": bson.M{"lang": "en"},
	})
	require.NoError(t, err)

	assert.False(t, d.IsDirty())
	assert.Equal(t, oid, d.Identity())

	v, ok := d.Get("title")
	require.True(t, ok)
	assert.Equal(t, "Loaded", v)

	v, ok = d.Get("comments.0.content")
	require.True(t, ok)
	assert.Equal(t, "nice", v)

	v, ok = d.Get("meta.lang")
	require.True(t, ok)
	assert.Equal(t, "en", v)

	wire, err := d.RenderWire()
	require.NoError(t, err)
	assert.Equal(t, "Loaded", wire["postTitle"])
	assert.Equal(t, oid, wire["_id"])
	assert.Equal(t, bson.A{bson.M{"body": "nice", "votes": int64(2)}}, wire["comments"])

	spew.Dump(wire)
}

func TestLoad_MutatingLoadedCommentMarksList(t *testing.T) {
	entry := postEntry(t)

	d, err := Load(entry, bson.M{
		"comments": bson.A{bson.M{"body": "old", "votes": 1}},
	})
	require.NoError(t, err)
	require.False(t, d.IsDirty())

	require.NoError(t, d.Set("comments.0.content", "new"))

	assert.Equal(t, []string{"comments"}, d.ChangedPaths())
}

func TestLoad_PolymorphicSubclass(t *testing.T) {
	r := animalRegistry(t)

	animal, err := r.Lookup("Animal")
	require.NoError(t, err)

	d, err := Load(animal, bson.M{
		"_cls":  "Animal.Dog",
		"name":  "Rex",
		"barks": true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Dog", d.Entry().Name())

	v, ok := d.Get("barks")
	require.True(t, ok)
	assert.Equal(t, true, v)

	wire, err := d.RenderWire()
	require.NoError(t, err)
	assert.Equal(t, "Animal.Dog", wire["_cls"])
}

func TestLoad_UnknownMarkerFails(t *testing.T) {
	r := animalRegistry(t)

	animal, err := r.Lookup("Animal")
	require.NoError(t, err)

	_, err = Load(animal, bson.M{"_cls": "Animal.Cat", "name": "?"})
	assert.Error(t, err)
}

func TestLoadPartial_NeverUnsetsUnloaded(t *testing.T) {
	entry := postEntry(t)

	d, err := LoadPartial(entry, bson.M{"postTitle": "only title"}, []string{"title"})
	require.NoError(t, err)

	require.NoError(t, d.Delete("views"))
	require.NoError(t, d.Delete("title"))

	set, unset, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Equal(t, bson.M{"postTitle": 1}, unset)
}

func TestHandle_DistinctPerInstance(t *testing.T) {
	a := newPost(t)
	b := newPost(t)

	assert.NotEqual(t, a.Handle(), b.Handle())
}

func TestRenderWire_OmitsAbsentFields(t *testing.T) {
	d := newPost(t)

	require.NoError(t, d.Set("title", "T"))
	require.NoError(t, d.Set("tags", []string{"a", "b"}))

	wire, err := d.RenderWire()
	require.NoError(t, err)

	assert.Equal(t, bson.M{
		"postTitle": "T",
		"tags":      bson.A{"a", "b"},
	}, wire)
}

func TestDynamicClass_ExtraAttributes(t *testing.T) {
	r := schema.NewRegistry()

	_, err := r.Register(schema.Definition{
		Name:    "Note",
		Dynamic: true,
		Fields:  []field.Descriptor{field.NewScalar("text", field.TypeString)},
	})
	require.NoError(t, err)

	entry, err := r.Lookup("Note")
	require.NoError(t, err)

	d, err := New(entry)
	require.NoError(t, err)

	require.NoError(t, d.Set("text", "hello"))
	require.NoError(t, d.Set("mood", "good"))

	set, _, err := d.ComputeDelta()
	require.NoError(t, err)
	assert.Equal(t, bson.M{"text": "hello", "mood": "good"}, set)

	wire, err := d.RenderWire()
	require.NoError(t, err)
	assert.Equal(t, "good", wire["mood"])
}
