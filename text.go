package loom

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/loomdb/loom/weft"
)

// Text is a shared collaborative string. A Text starts preliminary (a
// plain local string, no document attached) and is promoted to
// integrated exactly once, either by fetching a root via Doc.GetText
// or by inserting it into an integrated container. Indexes and
// lengths are expressed in the owning document's offset units (bytes
// by default); a preliminary Text uses byte offsets.
type Text struct {
	doc    *Doc
	branch *weft.Branch
	prelim string
}

// NewText creates a preliminary text with the given initial content.
func NewText(initial string) *Text {
	return &Text{prelim: initial}
}

// Integrated reports whether the text is attached to a document.
func (x *Text) Integrated() bool { return x.branch != nil }

func (x *Text) check(t *Txn) error {
	if x.doc.inner.Closed() {
		return ErrDocClosed
	}
	if err := t.check(x.doc); err != nil {
		return err
	}
	return nil
}

// gone reports whether the owning doc has been closed under an
// integrated text, invalidating it.
func (x *Text) gone() bool {
	return x.branch != nil && x.doc.inner.Closed()
}

// Len is the content length in offset units.
func (x *Text) Len() int {
	if x.branch == nil {
		return len(x.prelim)
	}
	if x.gone() {
		return 0
	}
	return x.branch.OffsetLen()
}

// String renders the current content. Embeds are skipped. A text whose
// doc was closed reads as empty.
func (x *Text) String() string {
	if x.branch == nil {
		return x.prelim
	}
	if x.gone() {
		return ""
	}
	return x.branch.String()
}

// ToJSON renders the content as a JSON value.
func (x *Text) ToJSON() (string, error) {
	if x.gone() {
		return "", ErrDocClosed
	}
	raw, err := json.Marshal(x.String())
	return string(raw), err
}

func boundary(s string, index int) bool {
	return index >= 0 && index <= len(s) &&
		(index == len(s) || utf8.RuneStart(s[index]))
}

// Insert places chunk at index. On a preliminary text the handle is
// ignored and may be nil.
func (x *Text) Insert(t *Txn, index int, chunk string) error {
	if x.branch == nil {
		if !boundary(x.prelim, index) {
			return ErrOutOfBounds
		}
		x.prelim = x.prelim[:index] + chunk + x.prelim[index:]
		return nil
	}
	if err := x.check(t); err != nil {
		return err
	}
	return t.inner.InsertText(x.branch, index, chunk, nil)
}

// InsertWithAttributes places chunk at index carrying formatting
// attributes. Requires an integrated text.
func (x *Text) InsertWithAttributes(t *Txn, index int, chunk string, attrs map[string]any) error {
	if x.branch == nil {
		return ErrPreliminary
	}
	if err := x.check(t); err != nil {
		return err
	}
	canon, err := canonAttrs(attrs)
	if err != nil {
		return err
	}
	return t.inner.InsertText(x.branch, index, chunk, canon)
}

// InsertEmbed places a foreign value at index; it occupies one offset
// unit. Requires an integrated text.
func (x *Text) InsertEmbed(t *Txn, index int, embed any) error {
	return x.InsertEmbedWithAttributes(t, index, embed, nil)
}

// InsertEmbedWithAttributes places a foreign value with formatting
// attributes. Requires an integrated text.
func (x *Text) InsertEmbedWithAttributes(t *Txn, index int, embed any, attrs map[string]any) error {
	if x.branch == nil {
		return ErrPreliminary
	}
	if err := x.check(t); err != nil {
		return err
	}
	canonEmbed, err := canonValue(embed)
	if err != nil {
		return err
	}
	canon, err := canonAttrs(attrs)
	if err != nil {
		return err
	}
	return t.inner.InsertEmbed(x.branch, index, canonEmbed, canon)
}

// Format applies formatting attributes over [index, index+length). A
// nil attribute value clears that attribute. Requires an integrated
// text.
func (x *Text) Format(t *Txn, index, length int, attrs map[string]any) error {
	if x.branch == nil {
		return ErrPreliminary
	}
	if err := x.check(t); err != nil {
		return err
	}
	canon, err := canonAttrs(attrs)
	if err != nil {
		return err
	}
	return t.inner.Format(x.branch, index, length, canon)
}

// Push appends chunk at the end.
func (x *Text) Push(t *Txn, chunk string) error {
	return x.Insert(t, x.Len(), chunk)
}

// Delete removes length offset units starting at index.
func (x *Text) Delete(t *Txn, index, length int) error {
	if x.branch == nil {
		if !boundary(x.prelim, index) || !boundary(x.prelim, index+length) {
			return ErrOutOfBounds
		}
		x.prelim = x.prelim[:index] + x.prelim[index+length:]
		return nil
	}
	if err := x.check(t); err != nil {
		return err
	}
	return t.inner.DeleteRange(x.branch, index, length)
}

func canonAttrs(attrs map[string]any) (map[string]any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	canon := make(map[string]any, len(attrs))
	for k, v := range attrs {
		cv, err := canonValue(v)
		if err != nil {
			return nil, err
		}
		canon[k] = cv
	}
	return canon, nil
}
