// Package delta tracks which logical fields of a live document have been
// mutated since load or save, and renders that mutation set as minimal wire
// set/unset update fragments.
package delta

import (
	"strings"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
)

// Source is what the tracker needs from a live document to render a delta:
// read the current value at a logical path, know whether the path was part of
// a restricted load projection, and map logical paths and values to the wire.
type Source interface {
	// ValueAt returns the value at a dotted logical path and whether it is
	// present. Present-but-falsy values (0, false, "") are distinct from
	// absent.
	ValueAt(path string) (value any, present bool, err error)

	// Loaded reports whether the path was included when the document was
	// loaded. Full loads report true for every path.
	Loaded(path string) bool

	// WirePath maps a dotted logical path to its wire path.
	WirePath(path string) (string, error)

	// WireValue renders the value at a logical path to its wire
	// representation, recursively through embedded schemas.
	WireValue(path string, value any) (any, error)
}

// Tracker records mutated logical paths for one document instance. Each
// instance owns its tracker exclusively; there is no shared state between
// trackers and no internal locking.
//
// Lifecycle: Clean → Dirty (marks) → Clean (Clear after a successful save,
// or wholesale replacement on reload).
type Tracker struct {
	changed []string
}

// NewTracker builds a clean tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// MarkChanged records a dotted logical path as mutated. If an ancestor path
// is already marked wholesale the call is a no-op; marking an ancestor
// collapses any previously marked descendants.
func (t *Tracker) MarkChanged(path string) {
	if path == "" {
		return
	}

	for _, existing := range t.changed {
		if existing == path || isPathPrefix(existing, path) {
			return
		}
	}

	kept := t.changed[:0]

	for _, existing := range t.changed {
		if !isPathPrefix(path, existing) {
			kept = append(kept, existing)
		}
	}

	t.changed = append(kept, path)
}

// Changed returns the tracked paths. The slice is a copy.
func (t *Tracker) Changed() []string {
	out := make([]string, len(t.changed))
	copy(out, t.changed)

	return out
}

// IsDirty reports whether any path is tracked.
func (t *Tracker) IsDirty() bool { return len(t.changed) > 0 }

// Clear drops all tracked paths, returning the tracker to Clean.
func (t *Tracker) Clear() { t.changed = nil }

// Compute renders the tracked mutation set as a pair of wire update
// fragments: values present at their path go into the set fragment, absent
// values into the unset fragment. Computation does not consume the tracked
// state; calling twice without intervening mutation yields the same result.
//
// A deletion of a path that was never loaded is skipped, never unset: a
// partial load must not blindly nuke fields it has not seen.
func (t *Tracker) Compute(src Source) (bson.M, bson.M, error) {
	setDoc := bson.M{}
	unsetDoc := bson.M{}

	for _, path := range t.changed {
		value, present, err := src.ValueAt(path)
		if err != nil {
			return nil, nil, err
		}

		wirePath, err := src.WirePath(path)
		if err != nil {
			return nil, nil, err
		}

		if !present {
			if !src.Loaded(path) {
				logrus.WithField("path", path).
					Debug("skipping unset of field outside the load projection")

				continue
			}

			unsetDoc[wirePath] = 1

			continue
		}

		wv, err := src.WireValue(path, value)
		if err != nil {
			return nil, nil, err
		}

		setDoc[wirePath] = wv
	}

	return setDoc, unsetDoc, nil
}

// isPathPrefix reports whether parent is a strict segment-wise prefix of
// child ("a.b" is a prefix of "a.b.c" but not of "a.bc").
func isPathPrefix(parent, child string) bool {
	return len(child) > len(parent) &&
		strings.HasPrefix(child, parent) &&
		child[len(parent)] == '.'
}
