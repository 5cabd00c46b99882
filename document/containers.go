package document

import (
	"fmt"
	"sort"

	"document-mapper/field"
)

// notifier receives a document-relative logical path when a value under it
// mutates. Notifications bubble from nested containers to the owning
// document and finally into the root document's tracker.
type notifier func(path string)

// List is a tracked sequence value. Any mutation marks the whole list path
// dirty: element-level updates are not diffed, the list is rewritten
// wholesale on save.
type List struct {
	path   string
	elem   field.Descriptor // nil for untyped lists
	items  []any
	notify notifier
}

// Len returns the number of elements.
func (l *List) Len() int { return len(l.items) }

// Get returns the element at index i.
func (l *List) Get(i int) (any, bool) {
	if i < 0 || i >= len(l.items) {
		return nil, false
	}

	return l.items[i], true
}

// Items returns a copy of the elements.
func (l *List) Items() []any {
	out := make([]any, len(l.items))
	copy(out, l.items)

	return out
}

// Set replaces the element at index i.
func (l *List) Set(i int, v any) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("list %s: index %d out of range [0, %d)", l.path, i, len(l.items))
	}

	wrapped, err := l.adopt(v)
	if err != nil {
		return err
	}

	l.items[i] = wrapped
	l.touch()

	return nil
}

// Append adds elements at the end.
func (l *List) Append(vs ...any) error {
	wrapped := make([]any, 0, len(vs))

	for _, v := range vs {
		w, err := l.adopt(v)
		if err != nil {
			return err
		}

		wrapped = append(wrapped, w)
	}

	l.items = append(l.items, wrapped...)
	l.touch()

	return nil
}

// Insert places an element at index i, shifting the tail right.
func (l *List) Insert(i int, v any) error {
	if i < 0 || i > len(l.items) {
		return fmt.Errorf("list %s: insert index %d out of range [0, %d]", l.path, i, len(l.items))
	}

	wrapped, err := l.adopt(v)
	if err != nil {
		return err
	}

	l.items = append(l.items, nil)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = wrapped
	l.touch()

	return nil
}

// Remove drops the element at index i.
func (l *List) Remove(i int) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("list %s: index %d out of range [0, %d)", l.path, i, len(l.items))
	}

	l.items = append(l.items[:i], l.items[i+1:]...)
	l.touch()

	return nil
}

// Pop removes and returns the last element.
func (l *List) Pop() (any, bool) {
	if len(l.items) == 0 {
		return nil, false
	}

	last := l.items[len(l.items)-1]
	l.items = l.items[:len(l.items)-1]
	l.touch()

	return last, true
}

func (l *List) touch() {
	l.notify(l.path)
}

// adopt validates an incoming element and, for embedded element types, wraps
// it as a child document whose mutations mark the whole list.
func (l *List) adopt(v any) (any, error) {
	if l.elem == nil {
		return v, nil
	}

	if emb, ok := l.elem.(*field.Embedded); ok {
		child, err := adoptEmbedded(emb, v, func(string) { l.touch() })
		if err != nil {
			return nil, err
		}

		return child, nil
	}

	if err := l.elem.Validate(v); err != nil {
		return nil, err
	}

	return v, nil
}

// Map is a tracked string-keyed mapping. Mutating a key marks only that
// key's nested path, so saves touch individual map entries rather than the
// whole map.
type Map struct {
	path   string
	elem   field.Descriptor // nil for untyped maps
	items  map[string]any
	notify notifier
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.items) }

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.items[key]
	return v, ok
}

// Keys returns the keys in sorted order.
func (m *Map) Keys() []string {
	out := make([]string, 0, len(m.items))
	for k := range m.items {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

// Items returns a copy of the entries.
func (m *Map) Items() map[string]any {
	out := make(map[string]any, len(m.items))
	for k, v := range m.items {
		out[k] = v
	}

	return out
}

// Set stores a value under key and marks the key's nested path.
func (m *Map) Set(key string, v any) error {
	wrapped, err := m.adopt(key, v)
	if err != nil {
		return err
	}

	m.items[key] = wrapped
	m.notify(m.path + "." + key)

	return nil
}

// Delete removes a key and marks its nested path, which renders as an unset
// on save.
func (m *Map) Delete(key string) {
	delete(m.items, key)
	m.notify(m.path + "." + key)
}

func (m *Map) adopt(key string, v any) (any, error) {
	if m.elem == nil {
		return v, nil
	}

	if emb, ok := m.elem.(*field.Embedded); ok {
		keyPath := m.path + "." + key

		child, err := adoptEmbedded(emb, v, func(sub string) {
			m.notify(keyPath + "." + sub)
		})
		if err != nil {
			return nil, err
		}

		return child, nil
	}

	if err := m.elem.Validate(v); err != nil {
		return nil, err
	}

	return v, nil
}

// unwrapped exposes a container's plain value for descriptor validation and
// wire conversion. Documents stay as-is: embedded conversion recognises them
// through field.WireRenderer.
func unwrapped(v any) any {
	switch t := v.(type) {
	case *List:
		return t.Items()
	case *Map:
		return t.Items()
	}

	return v
}
