package loom

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/loomdb/loom/weft"
)

// canonValue normalizes a host value to the engine's value model by a
// JSON round trip: numbers become float64, structures become []any
// and map[string]any. Local reads then observe exactly what a remote
// replica would reconstruct from the wire.
func canonValue(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T", ErrBadValue, v)
	}
	var out any
	if err = json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %T", ErrBadValue, v)
	}
	return out, nil
}

// attacher finishes the integration of a nested preliminary type
// after its carrier unit has been placed.
type attacher func(t *Txn) error

// contentFor converts one host value into engine content. Preliminary
// shared types become nested branches and are consumed: the returned
// attacher materializes their preliminary payload and flips the
// wrapper to integrated.
func contentFor(t *Txn, v any) (weft.Content, attacher, error) {
	switch x := v.(type) {
	case *Text:
		if x.branch != nil {
			return weft.Content{}, nil, ErrAlreadyIntegrated
		}
		nested := t.inner.NewNested(weft.KindText, "")
		fill := func(t *Txn) error {
			init := x.prelim
			x.branch, x.doc, x.prelim = nested, t.doc, ""
			if init == "" {
				return nil
			}
			return t.inner.InsertText(nested, 0, init, nil)
		}
		return weft.Content{Kind: weft.ContentType, Branch: nested}, fill, nil
	case *Array:
		if x.branch != nil {
			return weft.Content{}, nil, ErrAlreadyIntegrated
		}
		nested := t.inner.NewNested(weft.KindArray, "")
		fill := func(t *Txn) error {
			init := x.prelim
			x.branch, x.doc, x.prelim = nested, t.doc, nil
			return insertSequence(t, nested, 0, init)
		}
		return weft.Content{Kind: weft.ContentType, Branch: nested}, fill, nil
	case *Map:
		if x.branch != nil {
			return weft.Content{}, nil, ErrAlreadyIntegrated
		}
		nested := t.inner.NewNested(weft.KindMap, "")
		fill := func(t *Txn) error {
			init := x.prelim
			x.branch, x.doc, x.prelim = nested, t.doc, nil
			for _, key := range sortedMapKeys(init) {
				if err := mapSetValue(t, nested, key, init[key]); err != nil {
					return err
				}
			}
			return nil
		}
		return weft.Content{Kind: weft.ContentType, Branch: nested}, fill, nil
	case *XMLElement, *XMLText:
		// xml types are born integrated; there is nothing to attach
		return weft.Content{}, nil, ErrAlreadyIntegrated
	default:
		canon, err := canonValue(v)
		if err != nil {
			return weft.Content{}, nil, err
		}
		return weft.Content{Kind: weft.ContentValue, Value: canon}, nil, nil
	}
}

// insertSequence places host values into a sequence branch, running
// nested attachments afterwards.
func insertSequence(t *Txn, b *weft.Branch, idx int, values []any) error {
	if len(values) == 0 {
		return nil
	}
	contents := make([]weft.Content, 0, len(values))
	var fills []attacher
	for _, v := range values {
		c, fill, err := contentFor(t, v)
		if err != nil {
			return err
		}
		contents = append(contents, c)
		if fill != nil {
			fills = append(fills, fill)
		}
	}
	if err := t.inner.InsertValues(b, idx, contents); err != nil {
		return err
	}
	for _, fill := range fills {
		if err := fill(t); err != nil {
			return err
		}
	}
	return nil
}

func mapSetValue(t *Txn, b *weft.Branch, key string, v any) error {
	c, fill, err := contentFor(t, v)
	if err != nil {
		return err
	}
	t.inner.MapSet(b, key, c)
	if fill != nil {
		return fill(t)
	}
	return nil
}

// wrapBranch surfaces an engine branch as the host-facing shared type
// of its kind. Plain values pass through unchanged.
func wrapBranch(d *Doc, v any) any {
	b, ok := v.(*weft.Branch)
	if !ok {
		return v
	}
	switch b.Kind() {
	case weft.KindText:
		return &Text{doc: d, branch: b}
	case weft.KindArray:
		return &Array{doc: d, branch: b}
	case weft.KindMap:
		return &Map{doc: d, branch: b}
	case weft.KindXMLElement:
		return &XMLElement{doc: d, branch: b}
	case weft.KindXMLText:
		return &XMLText{doc: d, branch: b}
	}
	return v
}

func sortedMapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
