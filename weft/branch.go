package weft

import (
	"slices"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Kind of a shared collection.
type Kind byte

const (
	KindText Kind = iota + 1
	KindArray
	KindMap
	KindXMLElement
	KindXMLText
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindXMLElement:
		return "xml-element"
	case KindXMLText:
		return "xml-text"
	}
	return "?"
}

// Branch is one shared collection instance: a root type or a nested
// one. It carries both a linked item sequence (text, array, xml
// children) and keyed map entries (map, xml attributes); which parts
// are used depends on the kind.
type Branch struct {
	kind Kind
	doc  *Doc
	name string // root name, "" when nested
	tag  string // xml element tag

	item    *Item // carrier item when nested, nil for roots
	start   *Item
	entries map[string][]*Item

	orphaned bool
}

func (b *Branch) Kind() Kind  { return b.kind }
func (b *Branch) Doc() *Doc   { return b.doc }
func (b *Branch) Name() string { return b.name }
func (b *Branch) Tag() string  { return b.tag }

// IsRoot reports whether this is a named top-level collection.
func (b *Branch) IsRoot() bool { return b.item == nil }

// ParentBranch returns the containing collection, nil for roots and
// branches whose carrier has not integrated yet.
func (b *Branch) ParentBranch() *Branch {
	if b.item == nil {
		return nil
	}
	return b.item.Parent
}

// project re-tags the branch as another kind. The engine allows a
// root created as one kind to be read as another; content units stay
// in place and are reinterpreted.
func (b *Branch) project(kind Kind) {
	b.kind = kind
}

// VisibleLen is the number of alive, countable units in the sequence.
func (b *Branch) VisibleLen() int {
	n := 0
	for it := b.start; it != nil; it = it.Right {
		if it.visible() {
			n++
		}
	}
	return n
}

// OffsetLen is the sequence length expressed in the document's
// configured offset units.
func (b *Branch) OffsetLen() int {
	n := 0
	for it := b.start; it != nil; it = it.Right {
		if it.visible() {
			n += unitWidth(it, b.doc.offset)
		}
	}
	return n
}

func unitWidth(it *Item, kind OffsetKind) int {
	if it.Content.Kind != ContentRune {
		return 1
	}
	switch kind {
	case OffsetBytes:
		return utf8.RuneLen(it.Content.Rune)
	case OffsetUTF16:
		return utf16RuneLen(it.Content.Rune)
	default:
		return 1
	}
}

// utf16RuneLen matches utf16.RuneLen, which is unavailable before Go 1.23.
func utf16RuneLen(r rune) int {
	switch {
	case r < 0 || utf16.IsSurrogate(r) || r > utf8.MaxRune:
		return -1
	case r >= 0x10000:
		return 2
	default:
		return 1
	}
}

// unitIndex translates an external index (in the document's offset
// units) into an internal unit index. The index must land on a unit
// boundary and not exceed the sequence length.
func (b *Branch) unitIndex(offset int) (int, error) {
	if offset < 0 {
		return 0, ErrOutOfBounds
	}
	pos, units := 0, 0
	for it := b.start; it != nil; it = it.Right {
		if pos == offset {
			return units, nil
		}
		if !it.visible() {
			continue
		}
		pos += unitWidth(it, b.doc.offset)
		if pos > offset {
			return 0, ErrOutOfBounds
		}
		units++
	}
	if pos == offset {
		return units, nil
	}
	return 0, ErrOutOfBounds
}

// unitSpan translates an external (offset, length) range into unit
// counts.
func (b *Branch) unitSpan(offset, length int) (idx, count int, err error) {
	idx, err = b.unitIndex(offset)
	if err != nil {
		return
	}
	end, err := b.unitIndex(offset + length)
	if err != nil {
		return
	}
	return idx, end - idx, nil
}

// position finds the insertion point before visible unit index idx:
// left is the item preceding it (nil for head), right is left's
// immediate linked neighbor.
func (b *Branch) position(idx int) (left, right *Item, err error) {
	if idx < 0 {
		return nil, nil, ErrOutOfBounds
	}
	seen := 0
	for it := b.start; it != nil; it = it.Right {
		if seen == idx && it.visible() {
			return left, it, nil
		}
		left = it
		if it.visible() {
			seen++
		}
	}
	if seen < idx {
		return nil, nil, ErrOutOfBounds
	}
	return left, nil, nil
}

// unitAt returns the idx-th visible unit.
func (b *Branch) unitAt(idx int) *Item {
	seen := 0
	for it := b.start; it != nil; it = it.Right {
		if !it.visible() {
			continue
		}
		if seen == idx {
			return it
		}
		seen++
	}
	return nil
}

// String renders the sequence's text content. Embeds and nested
// types are skipped; xml elements are serialized recursively.
func (b *Branch) String() string {
	if b.kind == KindXMLElement {
		return b.xmlString()
	}
	var sb strings.Builder
	for it := b.start; it != nil; it = it.Right {
		if it.visible() && it.Content.Kind == ContentRune {
			sb.WriteRune(it.Content.Rune)
		}
	}
	return sb.String()
}

func (b *Branch) xmlString() string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(b.tag)
	for _, key := range b.MapKeys() {
		it := b.winner(key)
		if it == nil {
			continue
		}
		sb.WriteByte(' ')
		sb.WriteString(key)
		sb.WriteString("=\"")
		if s, ok := it.Content.Value.(string); ok {
			sb.WriteString(s)
		}
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
	for it := b.start; it != nil; it = it.Right {
		if !it.visible() {
			continue
		}
		switch it.Content.Kind {
		case ContentRune:
			sb.WriteRune(it.Content.Rune)
		case ContentType:
			sb.WriteString(it.Content.Branch.String())
		}
	}
	sb.WriteString("</")
	sb.WriteString(b.tag)
	sb.WriteByte('>')
	return sb.String()
}

// Values collects the visible sequence units as host values; nested
// branches come back as *Branch.
func (b *Branch) Values() []any {
	var vals []any
	for it := b.start; it != nil; it = it.Right {
		if !it.visible() {
			continue
		}
		switch it.Content.Kind {
		case ContentRune:
			vals = append(vals, string(it.Content.Rune))
		case ContentValue:
			vals = append(vals, it.Content.Value)
		case ContentType:
			vals = append(vals, it.Content.Branch)
		}
	}
	return vals
}

// ValueAt returns the idx-th visible unit as a host value.
func (b *Branch) ValueAt(idx int) (any, error) {
	it := b.unitAt(idx)
	if it == nil {
		return nil, ErrOutOfBounds
	}
	switch it.Content.Kind {
	case ContentRune:
		return string(it.Content.Rune), nil
	case ContentType:
		return it.Content.Branch, nil
	default:
		return it.Content.Value, nil
	}
}

// winner resolves concurrent map entries for a key: the alive entry
// with the greatest (Seq, Src) id wins on every replica.
func (b *Branch) winner(key string) *Item {
	var win *Item
	for _, it := range b.entries[key] {
		if it.Deleted {
			continue
		}
		if win == nil || win.ID.Less(it.ID) {
			win = it
		}
	}
	return win
}

func (b *Branch) MapGet(key string) (any, bool) {
	it := b.winner(key)
	if it == nil {
		return nil, false
	}
	if it.Content.Kind == ContentType {
		return it.Content.Branch, true
	}
	return it.Content.Value, true
}

func (b *Branch) MapKeys() []string {
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		if b.winner(key) != nil {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

func (b *Branch) MapLen() int {
	n := 0
	for key := range b.entries {
		if b.winner(key) != nil {
			n++
		}
	}
	return n
}

// attrAt computes the active value of a formatting attribute at the
// boundary before visible unit index idx.
func (b *Branch) attrAt(idx int, key string) any {
	var val any
	seen := 0
	for it := b.start; it != nil; it = it.Right {
		if it.visible() {
			if seen == idx {
				break
			}
			seen++
			continue
		}
		if !it.Deleted && it.Content.Kind == ContentFormat && it.Content.Key == key {
			val = it.Content.Value
		}
	}
	return val
}

// JSONValue builds a plain host value mirroring the collection
// content: string for texts, []any for arrays, map[string]any for
// maps, serialized markup for xml kinds.
func (b *Branch) JSONValue() any {
	switch b.kind {
	case KindText, KindXMLText:
		return b.String()
	case KindXMLElement:
		return b.xmlString()
	case KindMap:
		m := make(map[string]any)
		for _, key := range b.MapKeys() {
			v, _ := b.MapGet(key)
			if nested, ok := v.(*Branch); ok {
				v = nested.JSONValue()
			}
			m[key] = v
		}
		return m
	default:
		vals := b.Values()
		out := make([]any, 0, len(vals))
		for _, v := range vals {
			if nested, ok := v.(*Branch); ok {
				v = nested.JSONValue()
			}
			out = append(out, v)
		}
		return out
	}
}

// Path walks from the document root down to this branch, yielding
// map keys (string) and sequence indexes (int).
func (b *Branch) Path() []any {
	var segs []any
	for cur := b; cur.item != nil; {
		it := cur.item
		parent := it.Parent
		if it.ParentSub != "" {
			segs = append(segs, it.ParentSub)
		} else {
			idx := 0
			for sib := parent.start; sib != nil && sib != it; sib = sib.Right {
				if sib.visible() {
					idx++
				}
			}
			segs = append(segs, idx)
		}
		cur = parent
	}
	slices.Reverse(segs)
	return segs
}
