package loom

import (
	"encoding/json"
	"fmt"

	"github.com/loomdb/loom/weft"
)

// Map is a shared key-value mapping with string keys. Concurrent
// writes to one key resolve to the same winner on every replica.
type Map struct {
	doc    *Doc
	branch *weft.Branch
	prelim map[string]any
}

// NewMap creates a preliminary map with the given entries. Plain
// values are normalized right away so reads agree before and after
// integration; values the engine can't hold fail at attach time.
func NewMap(initial map[string]any) *Map {
	prelim := make(map[string]any, len(initial))
	for k, v := range initial {
		if canon, err := canonPrelim([]any{v}); err == nil {
			v = canon[0]
		}
		prelim[k] = v
	}
	return &Map{prelim: prelim}
}

// Integrated reports whether the map is attached to a document.
func (x *Map) Integrated() bool { return x.branch != nil }

func (x *Map) check(t *Txn) error {
	if x.doc.inner.Closed() {
		return ErrDocClosed
	}
	return t.check(x.doc)
}

// gone reports whether the owning doc has been closed under an
// integrated map, invalidating it.
func (x *Map) gone() bool {
	return x.branch != nil && x.doc.inner.Closed()
}

// Len is the number of live keys.
func (x *Map) Len() int {
	if x.branch == nil {
		return len(x.prelim)
	}
	if x.gone() {
		return 0
	}
	return x.branch.MapLen()
}

// Keys returns the live keys in sorted order. A map whose doc was
// closed reads as empty.
func (x *Map) Keys() []string {
	if x.branch == nil {
		return sortedMapKeys(x.prelim)
	}
	if x.gone() {
		return nil
	}
	return x.branch.MapKeys()
}

// Get returns the value under key. Nested shared types come back
// wrapped in their host-facing type.
func (x *Map) Get(key string) (any, bool) {
	if x.branch == nil {
		v, ok := x.prelim[key]
		return v, ok
	}
	if x.gone() {
		return nil, false
	}
	v, ok := x.branch.MapGet(key)
	if !ok {
		return nil, false
	}
	return wrapBranch(x.doc, v), true
}

// Set binds key to value. On a preliminary map the handle is ignored
// and may be nil.
func (x *Map) Set(t *Txn, key string, value any) error {
	if x.branch == nil {
		canon, err := canonPrelim([]any{value})
		if err != nil {
			return err
		}
		x.prelim[key] = canon[0]
		return nil
	}
	if err := x.check(t); err != nil {
		return err
	}
	return mapSetValue(t, x.branch, key, value)
}

// Delete removes key. Deleting an absent key is an error.
func (x *Map) Delete(t *Txn, key string) error {
	if x.branch == nil {
		if _, ok := x.prelim[key]; !ok {
			return fmt.Errorf("%w: key %q", ErrOutOfBounds, key)
		}
		delete(x.prelim, key)
		return nil
	}
	if err := x.check(t); err != nil {
		return err
	}
	if _, ok := x.branch.MapGet(key); !ok {
		return fmt.Errorf("%w: key %q", ErrOutOfBounds, key)
	}
	t.inner.MapDelete(x.branch, key)
	return nil
}

// ToJSON renders the map as a JSON value.
func (x *Map) ToJSON() (string, error) {
	if x.gone() {
		return "", ErrDocClosed
	}
	raw, err := json.Marshal(x.jsonValue())
	return string(raw), err
}

func (x *Map) jsonValue() any {
	if x.branch != nil {
		return x.branch.JSONValue()
	}
	out := make(map[string]any, len(x.prelim))
	for k, v := range x.prelim {
		out[k] = prelimJSON(v)
	}
	return out
}
