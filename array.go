package loom

import (
	"encoding/json"

	"github.com/loomdb/loom/weft"
)

// Array is a shared ordered sequence of values. Like Text it starts
// preliminary and is promoted when attached to a document. Elements
// may be plain values or further preliminary shared types, which get
// integrated along with it.
type Array struct {
	doc    *Doc
	branch *weft.Branch
	prelim []any
}

// NewArray creates a preliminary array with the given elements. Plain
// values are normalized right away so reads agree before and after
// integration; values the engine can't hold fail at attach time.
func NewArray(initial []any) *Array {
	if canon, err := canonPrelim(initial); err == nil {
		return &Array{prelim: canon}
	}
	return &Array{prelim: append([]any(nil), initial...)}
}

// Integrated reports whether the array is attached to a document.
func (x *Array) Integrated() bool { return x.branch != nil }

func (x *Array) check(t *Txn) error {
	if x.doc.inner.Closed() {
		return ErrDocClosed
	}
	return t.check(x.doc)
}

// gone reports whether the owning doc has been closed under an
// integrated array, invalidating it.
func (x *Array) gone() bool {
	return x.branch != nil && x.doc.inner.Closed()
}

// Len is the number of elements.
func (x *Array) Len() int {
	if x.branch == nil {
		return len(x.prelim)
	}
	if x.gone() {
		return 0
	}
	return x.branch.VisibleLen()
}

// Get returns the element at index. Nested shared types come back
// wrapped in their host-facing type.
func (x *Array) Get(index int) (any, error) {
	if x.branch == nil {
		if index < 0 || index >= len(x.prelim) {
			return nil, ErrOutOfBounds
		}
		return x.prelim[index], nil
	}
	if x.gone() {
		return nil, ErrDocClosed
	}
	v, err := x.branch.ValueAt(index)
	if err != nil {
		return nil, err
	}
	return wrapBranch(x.doc, v), nil
}

// Insert places values before index. On a preliminary array the
// handle is ignored and may be nil.
func (x *Array) Insert(t *Txn, index int, values ...any) error {
	if x.branch == nil {
		if index < 0 || index > len(x.prelim) {
			return ErrOutOfBounds
		}
		canon, err := canonPrelim(values)
		if err != nil {
			return err
		}
		x.prelim = append(x.prelim[:index:index], append(canon, x.prelim[index:]...)...)
		return nil
	}
	if err := x.check(t); err != nil {
		return err
	}
	return insertSequence(t, x.branch, index, values)
}

// Push appends values at the end.
func (x *Array) Push(t *Txn, values ...any) error {
	return x.Insert(t, x.Len(), values...)
}

// Delete removes length elements starting at index.
func (x *Array) Delete(t *Txn, index, length int) error {
	if x.branch == nil {
		if index < 0 || length < 0 || index+length > len(x.prelim) {
			return ErrOutOfBounds
		}
		x.prelim = append(x.prelim[:index:index], x.prelim[index+length:]...)
		return nil
	}
	if err := x.check(t); err != nil {
		return err
	}
	return t.inner.DeleteRange(x.branch, index, length)
}

// Values returns all elements, nested shared types wrapped. An array
// whose doc was closed reads as empty.
func (x *Array) Values() []any {
	if x.branch == nil {
		return append([]any(nil), x.prelim...)
	}
	if x.gone() {
		return nil
	}
	raw := x.branch.Values()
	out := make([]any, 0, len(raw))
	for _, v := range raw {
		out = append(out, wrapBranch(x.doc, v))
	}
	return out
}

// ToJSON renders the array as a JSON value.
func (x *Array) ToJSON() (string, error) {
	if x.gone() {
		return "", ErrDocClosed
	}
	raw, err := json.Marshal(x.jsonValue())
	return string(raw), err
}

func (x *Array) jsonValue() any {
	if x.branch != nil {
		return x.branch.JSONValue()
	}
	out := make([]any, 0, len(x.prelim))
	for _, v := range x.prelim {
		out = append(out, prelimJSON(v))
	}
	return out
}

// canonPrelim normalizes plain values for a preliminary buffer while
// keeping shared-type pointers as they are; those integrate when the
// buffer does.
func canonPrelim(values []any) ([]any, error) {
	out := make([]any, 0, len(values))
	for _, v := range values {
		switch v.(type) {
		case *Text, *Array, *Map:
			out = append(out, v)
		case *XMLElement, *XMLText:
			return nil, ErrAlreadyIntegrated
		default:
			canon, err := canonValue(v)
			if err != nil {
				return nil, err
			}
			out = append(out, canon)
		}
	}
	return out, nil
}

// prelimJSON projects a preliminary buffer element the way its
// integrated form would read.
func prelimJSON(v any) any {
	switch x := v.(type) {
	case *Text:
		return x.String()
	case *Array:
		return x.jsonValue()
	case *Map:
		return x.jsonValue()
	default:
		return v
	}
}
