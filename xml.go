package loom

import (
	"github.com/loomdb/loom/weft"
)

// XMLElement is a shared markup node: a tag, string attributes and an
// ordered child list of further elements and text nodes. XML types
// have no preliminary phase; they are created integrated, as roots or
// as children of an integrated element.
type XMLElement struct {
	doc    *Doc
	branch *weft.Branch
}

func (x *XMLElement) Integrated() bool { return true }

// Tag is the element's tag name; for a root element it is the root
// name.
func (x *XMLElement) Tag() string {
	if x.branch.IsRoot() {
		return x.branch.Name()
	}
	return x.branch.Tag()
}

func (x *XMLElement) check(t *Txn) error {
	if x.doc.inner.Closed() {
		return ErrDocClosed
	}
	return t.check(x.doc)
}

// gone reports whether the owning doc has been closed, invalidating
// the element.
func (x *XMLElement) gone() bool { return x.doc.inner.Closed() }

// Len is the number of child nodes.
func (x *XMLElement) Len() int {
	if x.gone() {
		return 0
	}
	return x.branch.VisibleLen()
}

// PushElement appends a child element with the given tag and returns
// it.
func (x *XMLElement) PushElement(t *Txn, tag string) (*XMLElement, error) {
	if err := x.check(t); err != nil {
		return nil, err
	}
	nested := t.inner.NewNested(weft.KindXMLElement, tag)
	err := t.inner.InsertValues(x.branch, x.branch.VisibleLen(),
		[]weft.Content{{Kind: weft.ContentType, Branch: nested}})
	if err != nil {
		return nil, err
	}
	return &XMLElement{doc: x.doc, branch: nested}, nil
}

// PushText appends a text node child and returns it.
func (x *XMLElement) PushText(t *Txn) (*XMLText, error) {
	if err := x.check(t); err != nil {
		return nil, err
	}
	nested := t.inner.NewNested(weft.KindXMLText, "")
	err := t.inner.InsertValues(x.branch, x.branch.VisibleLen(),
		[]weft.Content{{Kind: weft.ContentType, Branch: nested}})
	if err != nil {
		return nil, err
	}
	return &XMLText{doc: x.doc, branch: nested}, nil
}

// Child returns the index-th child node, wrapped per its kind.
func (x *XMLElement) Child(index int) (any, error) {
	if x.gone() {
		return nil, ErrDocClosed
	}
	v, err := x.branch.ValueAt(index)
	if err != nil {
		return nil, err
	}
	return wrapBranch(x.doc, v), nil
}

// Delete removes length child nodes starting at index.
func (x *XMLElement) Delete(t *Txn, index, length int) error {
	if err := x.check(t); err != nil {
		return err
	}
	return t.inner.DeleteRange(x.branch, index, length)
}

// SetAttribute binds an attribute to a string value.
func (x *XMLElement) SetAttribute(t *Txn, key, value string) error {
	if err := x.check(t); err != nil {
		return err
	}
	t.inner.MapSet(x.branch, key, weft.Content{Kind: weft.ContentValue, Value: value})
	return nil
}

// GetAttribute returns an attribute value.
func (x *XMLElement) GetAttribute(key string) (string, bool) {
	if x.gone() {
		return "", false
	}
	v, ok := x.branch.MapGet(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// RemoveAttribute drops an attribute; removing an absent one is a
// no-op.
func (x *XMLElement) RemoveAttribute(t *Txn, key string) error {
	if err := x.check(t); err != nil {
		return err
	}
	if _, ok := x.branch.MapGet(key); ok {
		t.inner.MapDelete(x.branch, key)
	}
	return nil
}

// Attributes returns the live attributes.
func (x *XMLElement) Attributes() map[string]string {
	out := make(map[string]string)
	if x.gone() {
		return out
	}
	for _, key := range x.branch.MapKeys() {
		if v, ok := x.GetAttribute(key); ok {
			out[key] = v
		}
	}
	return out
}

// String serializes the element and its subtree as markup. An element
// whose doc was closed reads as empty.
func (x *XMLElement) String() string {
	if x.gone() {
		return ""
	}
	return x.branch.String()
}

// XMLText is a shared text node inside markup. It shares the text
// surface of Text but is always integrated.
type XMLText struct {
	doc    *Doc
	branch *weft.Branch
}

func (x *XMLText) Integrated() bool { return true }

func (x *XMLText) check(t *Txn) error {
	if x.doc.inner.Closed() {
		return ErrDocClosed
	}
	return t.check(x.doc)
}

// gone reports whether the owning doc has been closed, invalidating
// the node.
func (x *XMLText) gone() bool { return x.doc.inner.Closed() }

// Len is the content length in offset units.
func (x *XMLText) Len() int {
	if x.gone() {
		return 0
	}
	return x.branch.OffsetLen()
}

// String renders the node's text content; empty once the doc closes.
func (x *XMLText) String() string {
	if x.gone() {
		return ""
	}
	return x.branch.String()
}

// Insert places chunk at index.
func (x *XMLText) Insert(t *Txn, index int, chunk string) error {
	if err := x.check(t); err != nil {
		return err
	}
	return t.inner.InsertText(x.branch, index, chunk, nil)
}

// Push appends chunk at the end.
func (x *XMLText) Push(t *Txn, chunk string) error {
	return x.Insert(t, x.Len(), chunk)
}

// Delete removes length offset units starting at index.
func (x *XMLText) Delete(t *Txn, index, length int) error {
	if err := x.check(t); err != nil {
		return err
	}
	return t.inner.DeleteRange(x.branch, index, length)
}
