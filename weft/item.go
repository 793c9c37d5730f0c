package weft

// ContentKind tags what a single content unit holds.
type ContentKind byte

const (
	// ContentRune is one text code point.
	ContentRune ContentKind = iota
	// ContentValue is one plain value: an array element, a map entry
	// value or a text embed.
	ContentValue
	// ContentType is a nested shared collection.
	ContentType
	// ContentFormat is a zero-length rich text formatting mark.
	ContentFormat
	// ContentGone is a tombstone whose payload was garbage collected.
	ContentGone
)

type Content struct {
	Kind   ContentKind
	Rune   rune
	Value  any     // ContentValue: the value; ContentFormat: the attribute value
	Branch *Branch // ContentType
	Key    string  // ContentFormat: the attribute key
}

// Item is one unit of document content. Sequence items are linked in
// document order; map items hang off their parent branch by key.
type Item struct {
	ID          ID
	Origin      ID // left neighbor at insertion time, zero for head
	RightOrigin ID // right neighbor at insertion time, zero for tail
	Parent      *Branch
	ParentSub   string // map entry key, "" for sequence items
	Left, Right *Item
	Deleted     bool
	Content     Content
}

// countable reports whether the item occupies a visible index
// position when alive. Format marks never do.
func (it *Item) countable() bool {
	return it.Content.Kind != ContentFormat
}

func (it *Item) visible() bool {
	return !it.Deleted && it.countable()
}

// gc drops the payload of a deleted item, keeping only its identity
// and ordering information. Format marks and nested-type carriers
// keep their payload: marks are the formatting state itself and
// carriers anchor branches that later remote units may still target.
func (it *Item) gc() {
	switch it.Content.Kind {
	case ContentFormat, ContentType, ContentGone:
		return
	}
	if !it.Deleted {
		return
	}
	it.Content = Content{Kind: ContentGone}
}
