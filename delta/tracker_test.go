package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// mapSource is a trivial Source over a flat path→value map; wire paths equal
// logical paths so fragment assertions stay readable.
type mapSource struct {
	values map[string]any
	loaded map[string]bool // nil means everything loaded
}

func (m *mapSource) ValueAt(path string) (any, bool, error) {
	v, ok := m.values[path]
	return v, ok, nil
}

func (m *mapSource) Loaded(path string) bool {
	if m.loaded == nil {
		return true
	}

	return m.loaded[path]
}

func (m *mapSource) WirePath(path string) (string, error) { return path, nil }

func (m *mapSource) WireValue(_ string, v any) (any, error) { return v, nil }

func TestMarkChanged_Collapsing(t *testing.T) {
	t.Run("child then parent collapses", func(t *testing.T) {
		tr := NewTracker()
		tr.MarkChanged("a.b.c")
		tr.MarkChanged("a.b")

		assert.Equal(t, []string{"a.b"}, tr.Changed())
	})

	t.Run("parent then child is a no-op", func(t *testing.T) {
		tr := NewTracker()
		tr.MarkChanged("a.b")
		tr.MarkChanged("a.b.c")

		assert.Equal(t, []string{"a.b"}, tr.Changed())
	})

	t.Run("duplicates ignored", func(t *testing.T) {
		tr := NewTracker()
		tr.MarkChanged("a")
		tr.MarkChanged("a")

		assert.Equal(t, []string{"a"}, tr.Changed())
	})

	t.Run("sibling prefixes are not ancestors", func(t *testing.T) {
		tr := NewTracker()
		tr.MarkChanged("a.b")
		tr.MarkChanged("a.bc")

		assert.ElementsMatch(t, []string{"a.b", "a.bc"}, tr.Changed())
	})

	t.Run("parent collapses multiple children", func(t *testing.T) {
		tr := NewTracker()
		tr.MarkChanged("a.b")
		tr.MarkChanged("a.c")
		tr.MarkChanged("other")
		tr.MarkChanged("a")

		assert.ElementsMatch(t, []string{"other", "a"}, tr.Changed())
	})
}

func TestCompute_SetAndUnset(t *testing.T) {
	tr := NewTracker()
	tr.MarkChanged("title")
	tr.MarkChanged("gone")

	src := &mapSource{values: map[string]any{"title": "Post 1"}}

	setDoc, unsetDoc, err := tr.Compute(src)
	require.NoError(t, err)

	assert.Equal(t, bson.M{"title": "Post 1"}, setDoc)
	assert.Equal(t, bson.M{"gone": 1}, unsetDoc)
}

func TestCompute_FalsyValuesAreSet(t *testing.T) {
	tr := NewTracker()
	tr.MarkChanged("count")
	tr.MarkChanged("active")
	tr.MarkChanged("note")

	src := &mapSource{values: map[string]any{
		"count":  0,
		"active": false,
		"note":   "",
	}}

	setDoc, unsetDoc, err := tr.Compute(src)
	require.NoError(t, err)

	assert.Equal(t, bson.M{"count": 0, "active": false, "note": ""}, setDoc)
	assert.Empty(t, unsetDoc)
}

func TestCompute_Idempotent(t *testing.T) {
	tr := NewTracker()
	tr.MarkChanged("title")

	src := &mapSource{values: map[string]any{"title": "x"}}

	first, firstUnset, err := tr.Compute(src)
	require.NoError(t, err)

	second, secondUnset, err := tr.Compute(src)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstUnset, secondUnset)
}

func TestCompute_AfterClearYieldsEmpty(t *testing.T) {
	tr := NewTracker()
	tr.MarkChanged("title")
	tr.Clear()

	assert.False(t, tr.IsDirty())

	setDoc, unsetDoc, err := tr.Compute(&mapSource{values: map[string]any{}})
	require.NoError(t, err)
	assert.Empty(t, setDoc)
	assert.Empty(t, unsetDoc)
}

func TestCompute_NeverUnsetsUnloadedFields(t *testing.T) {
	tr := NewTracker()
	tr.MarkChanged("seen")
	tr.MarkChanged("unseen")

	src := &mapSource{
		values: map[string]any{},
		loaded: map[string]bool{"seen": true},
	}

	setDoc, unsetDoc, err := tr.Compute(src)
	require.NoError(t, err)

	assert.Empty(t, setDoc)
	assert.Equal(t, bson.M{"seen": 1}, unsetDoc)
	assert.NotContains(t, unsetDoc, "unseen")
}
