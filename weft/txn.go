package weft

import "slices"

// MapKeyChange remembers the pre-transaction winner of a map key.
type MapKeyChange struct {
	OldValue any
	HadOld   bool
}

// BranchChanges is the raw per-collection change record of one
// transaction: inserted and tombstoned unit ids plus touched map
// keys. Deltas and event payloads are derived from it lazily.
type BranchChanges struct {
	Branch   *Branch
	Inserted map[ID]struct{}
	Deleted  map[ID]struct{}
	Keys     map[string]MapKeyChange
}

// Txn is the engine-side mutation context. All writes to a document
// happen through exactly one open Txn; committing it seals the change
// record and produces the commit's update payload.
type Txn struct {
	doc     *Doc
	before  VV
	after   VV
	changes map[*Branch]*BranchChanges
	order   []*Branch
	ds      *deleteSet

	committed bool
	update    []byte
	dsTLV     []byte
}

func (t *Txn) Doc() *Doc       { return t.doc }
func (t *Txn) Committed() bool { return t.committed }

// Before is the document state vector at transaction start.
func (t *Txn) Before() VV { return t.before }

// After is the state vector at commit; nil before that.
func (t *Txn) After() VV { return t.after }

// UpdateTLV is the differential update of this commit; nil before it.
func (t *Txn) UpdateTLV() []byte { return t.update }

// DeleteSetTLV is the commit's tombstone ranges; nil before commit.
func (t *Txn) DeleteSetTLV() []byte { return t.dsTLV }

// Changed lists the change records in first-touch order.
func (t *Txn) Changed() []*BranchChanges {
	recs := make([]*BranchChanges, 0, len(t.order))
	for _, b := range t.order {
		recs = append(recs, t.changes[b])
	}
	return recs
}

func (t *Txn) branchChanges(b *Branch) *BranchChanges {
	ch := t.changes[b]
	if ch == nil {
		ch = &BranchChanges{
			Branch:   b,
			Inserted: make(map[ID]struct{}),
			Deleted:  make(map[ID]struct{}),
			Keys:     make(map[string]MapKeyChange),
		}
		t.changes[b] = ch
		t.order = append(t.order, b)
	}
	return ch
}

func (t *Txn) recordInsert(b *Branch, it *Item) {
	t.branchChanges(b).Inserted[it.ID] = struct{}{}
}

func (t *Txn) recordDelete(b *Branch, it *Item) {
	t.branchChanges(b).Deleted[it.ID] = struct{}{}
}

// recordMapChange snapshots the current winner of a key the first
// time the key is touched within this transaction.
func (t *Txn) recordMapChange(b *Branch, key string) {
	ch := t.branchChanges(b)
	if _, done := ch.Keys[key]; done {
		return
	}
	win := b.winner(key)
	if win == nil {
		ch.Keys[key] = MapKeyChange{}
		return
	}
	old := win.Content.Value
	if win.Content.Kind == ContentType {
		old = win.Content.Branch
	}
	ch.Keys[key] = MapKeyChange{OldValue: old, HadOld: true}
}

// deleteItem tombstones one unit, recording the change and the
// delete-set entry. Idempotent.
func (t *Txn) deleteItem(it *Item) {
	if it.Deleted {
		return
	}
	if it.ParentSub != "" {
		t.recordMapChange(it.Parent, it.ParentSub)
	} else if it.countable() {
		t.recordDelete(it.Parent, it)
	}
	it.Deleted = true
	t.ds.Add(it.ID)
}

// insertChain integrates a run of fresh local units between left and
// right, chaining origins so concurrent edits cannot interleave
// inside the run.
func (t *Txn) insertChain(b *Branch, left, right *Item, contents []Content) {
	prev := left
	for _, c := range contents {
		it := &Item{
			ID:      t.doc.nextID(),
			Parent:  b,
			Content: c,
		}
		if prev != nil {
			it.Origin = prev.ID
		}
		if right != nil {
			it.RightOrigin = right.ID
		}
		t.doc.integrate(t, it)
		prev = it
	}
}

// InsertText inserts a chunk of text at an index given in the
// document's offset units. With attrs, the chunk is wrapped in
// formatting marks restoring the surrounding attributes after it.
func (t *Txn) InsertText(b *Branch, offset int, chunk string, attrs map[string]any) error {
	uidx, err := b.unitIndex(offset)
	if err != nil {
		return err
	}
	left, right, err := b.position(uidx)
	if err != nil {
		return err
	}
	var contents, closers []Content
	for _, k := range sortedKeys(attrs) {
		prev := b.attrAt(uidx, k)
		contents = append(contents, Content{Kind: ContentFormat, Key: k, Value: attrs[k]})
		closers = append(closers, Content{Kind: ContentFormat, Key: k, Value: prev})
	}
	for _, r := range chunk {
		contents = append(contents, Content{Kind: ContentRune, Rune: r})
	}
	contents = append(contents, closers...)
	t.insertChain(b, left, right, contents)
	return nil
}

// InsertEmbed inserts one embedded value at a text index, optionally
// wrapped in formatting marks.
func (t *Txn) InsertEmbed(b *Branch, offset int, embed any, attrs map[string]any) error {
	uidx, err := b.unitIndex(offset)
	if err != nil {
		return err
	}
	left, right, err := b.position(uidx)
	if err != nil {
		return err
	}
	var contents []Content
	var closers []Content
	for _, k := range sortedKeys(attrs) {
		prev := b.attrAt(uidx, k)
		contents = append(contents, Content{Kind: ContentFormat, Key: k, Value: attrs[k]})
		closers = append(closers, Content{Kind: ContentFormat, Key: k, Value: prev})
	}
	contents = append(contents, Content{Kind: ContentValue, Value: embed})
	contents = append(contents, closers...)
	t.insertChain(b, left, right, contents)
	return nil
}

// Format wraps an existing text range in formatting marks. The marks
// occupy no visible index positions.
func (t *Txn) Format(b *Branch, offset, length int, attrs map[string]any) error {
	uidx, count, err := b.unitSpan(offset, length)
	if err != nil {
		return err
	}
	keys := sortedKeys(attrs)
	prevs := make(map[string]any, len(keys))
	for _, k := range keys {
		prevs[k] = b.attrAt(uidx+count, k)
	}
	// closing marks first: inserting at the start boundary does not
	// shift the end boundary, marks are not countable
	endLeft, endRight, err := b.position(uidx + count)
	if err != nil {
		return err
	}
	var closers []Content
	for _, k := range keys {
		closers = append(closers, Content{Kind: ContentFormat, Key: k, Value: prevs[k]})
	}
	t.insertChain(b, endLeft, endRight, closers)
	startLeft, startRight, err := b.position(uidx)
	if err != nil {
		return err
	}
	var openers []Content
	for _, k := range keys {
		openers = append(openers, Content{Kind: ContentFormat, Key: k, Value: attrs[k]})
	}
	t.insertChain(b, startLeft, startRight, openers)
	return nil
}

// InsertValues inserts plain values and/or nested branches into a
// sequence at a unit index (arrays and xml children count one unit
// per element).
func (t *Txn) InsertValues(b *Branch, idx int, contents []Content) error {
	left, right, err := b.position(idx)
	if err != nil {
		return err
	}
	t.insertChain(b, left, right, contents)
	return nil
}

// DeleteRange tombstones length offset-units of sequence content
// starting at offset.
func (t *Txn) DeleteRange(b *Branch, offset, length int) error {
	uidx, count, err := b.unitSpan(offset, length)
	if err != nil {
		return err
	}
	it := b.unitAt(uidx)
	for count > 0 && it != nil {
		next := it.Right
		if it.visible() {
			t.deleteItem(it)
			count--
		}
		it = next
	}
	if count > 0 {
		return ErrOutOfBounds
	}
	return nil
}

// MapSet writes a key: previous entries are tombstoned, concurrent
// remote writes are resolved by the winner rule at read time.
func (t *Txn) MapSet(b *Branch, key string, c Content) {
	t.recordMapChange(b, key)
	for _, it := range b.entries[key] {
		if !it.Deleted {
			t.deleteItem(it)
		}
	}
	it := &Item{
		ID:        t.doc.nextID(),
		Parent:    b,
		ParentSub: key,
		Content:   c,
	}
	t.doc.integrate(t, it)
}

// MapDelete tombstones all alive entries of a key.
func (t *Txn) MapDelete(b *Branch, key string) {
	for _, it := range b.entries[key] {
		if !it.Deleted {
			t.deleteItem(it)
		}
	}
}

// NewNested creates a detached branch for nesting into a sequence or
// map through a ContentType unit.
func (t *Txn) NewNested(kind Kind, tag string) *Branch {
	return t.doc.newNested(kind, tag)
}

// Commit seals the transaction: encodes the commit's differential
// update, garbage-collects tombstoned payloads unless the document
// skips GC, releases the open-transaction slot and runs the commit
// hook. The error, if any, comes from the hook; the mutations stay
// committed regardless.
func (t *Txn) Commit() error {
	if t.committed {
		return ErrCommitted
	}
	if t.doc.closed {
		return ErrClosed
	}
	d := t.doc
	t.after = d.vv.Clone()
	t.dsTLV = encodeDeleteRanges(t.ds.Ranges())
	if len(t.changes) > 0 || !t.ds.Empty() {
		t.update = d.encodeUpdate(t.before, t.ds.Ranges())
	}
	t.committed = true
	d.open = nil
	if !d.skipGC {
		for src, runs := range t.ds.Ranges() {
			for _, r := range runs {
				for seq := r.Seq; seq < r.Seq+r.Len; seq++ {
					if it := d.find(ID{Src: src, Seq: seq}); it != nil {
						it.gc()
					}
				}
			}
		}
	}
	if d.onCommit != nil {
		return d.onCommit(t)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
