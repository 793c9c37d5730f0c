package weft

// OffsetKind selects the unit in which text indexes and lengths are
// expressed at the API boundary. Internally the engine always works
// in code points.
type OffsetKind byte

const (
	OffsetBytes OffsetKind = iota
	OffsetUTF16
	OffsetUTF32
)

// Doc owns the full operation history of one replica: per-source item
// blocks, named root collections and buffers for updates that arrived
// ahead of their dependencies.
type Doc struct {
	clientID uint64
	offset   OffsetKind
	skipGC   bool

	blocks map[uint64][]*Item
	roots  map[string]*Branch
	vv     VV

	open       *Txn
	pendingOps []wireOp
	pendingDel map[uint64][]Range

	onCommit func(*Txn) error

	closed bool
}

func NewDoc(clientID uint64, offset OffsetKind, skipGC bool) *Doc {
	return &Doc{
		clientID:   clientID,
		offset:     offset,
		skipGC:     skipGC,
		blocks:     make(map[uint64][]*Item),
		roots:      make(map[string]*Branch),
		vv:         make(VV),
		pendingDel: make(map[uint64][]Range),
	}
}

func (d *Doc) ClientID() uint64       { return d.clientID }
func (d *Doc) OffsetKind() OffsetKind { return d.offset }
func (d *Doc) SkipGC() bool           { return d.skipGC }

// OnCommit installs the hook invoked exactly once per committed
// transaction, after the commit's bookkeeping is done.
func (d *Doc) OnCommit(hook func(*Txn) error) {
	d.onCommit = hook
}

// VV returns the live version vector. Callers that keep it must
// clone it.
func (d *Doc) VV() VV { return d.vv }

func (d *Doc) Close() {
	d.closed = true
	d.roots = nil
	d.blocks = nil
	d.pendingOps = nil
}

func (d *Doc) Closed() bool { return d.closed }

// Root returns the named top-level collection, creating it on first
// access. An existing root requested as a different kind gets
// projected onto that kind; projected reports when that happened.
func (d *Doc) Root(name string, kind Kind) (b *Branch, projected bool) {
	b = d.roots[name]
	if b == nil {
		b = &Branch{kind: kind, doc: d, name: name}
		if kind == KindXMLElement {
			b.tag = name
		}
		d.roots[name] = b
		return b, false
	}
	if b.kind != kind {
		b.project(kind)
		return b, true
	}
	return b, false
}

// rootForApply resolves a root named by a remote op without
// projecting an existing one.
func (d *Doc) rootForApply(name string, kind Kind) *Branch {
	if b := d.roots[name]; b != nil {
		return b
	}
	b, _ := d.Root(name, kind)
	return b
}

// newNested creates a detached branch that becomes reachable once its
// carrier item integrates.
func (d *Doc) newNested(kind Kind, tag string) *Branch {
	return &Branch{kind: kind, doc: d, tag: tag}
}

func (d *Doc) find(id ID) *Item {
	if id.IsZero() {
		return nil
	}
	block := d.blocks[id.Src]
	if id.Seq == 0 || id.Seq > uint64(len(block)) {
		return nil
	}
	return block[id.Seq-1]
}

func (d *Doc) nextID() ID {
	return ID{Src: d.clientID, Seq: uint64(len(d.blocks[d.clientID])) + 1}
}

// Begin returns the open transaction if one exists, otherwise opens
// a new one. The caller side must not hold two live handles; the
// engine enforces it by construction.
func (d *Doc) Begin() *Txn {
	if d.open != nil && !d.open.committed {
		return d.open
	}
	t := &Txn{
		doc:     d,
		before:  d.vv.Clone(),
		changes: make(map[*Branch]*BranchChanges),
		ds:      newDeleteSet(),
	}
	d.open = t
	return t
}

// integrate places one item into the document: YATA conflict
// resolution for sequence items, entry bookkeeping for map items.
// The caller guarantees it.ID is the next sequence number of its
// source and that origins and parent are present.
func (d *Doc) integrate(t *Txn, it *Item) {
	b := it.Parent
	if it.ParentSub != "" {
		t.recordMapChange(b, it.ParentSub)
		if b.entries == nil {
			b.entries = make(map[string][]*Item)
		}
		b.entries[it.ParentSub] = append(b.entries[it.ParentSub], it)
	} else {
		d.integrateSequence(b, it)
		t.recordInsert(b, it)
	}
	if it.Content.Kind == ContentType {
		it.Content.Branch.item = it
	}
	d.blocks[it.ID.Src] = append(d.blocks[it.ID.Src], it)
	d.vv.Put(it.ID.Src, it.ID.Seq)
}

func (d *Doc) integrateSequence(b *Branch, it *Item) {
	var left *Item
	if !it.Origin.IsZero() {
		left = d.find(it.Origin)
	}
	right := d.find(it.RightOrigin)

	var o *Item
	if left != nil {
		o = left.Right
	} else {
		o = b.start
	}

	// YATA: skip over concurrent items that sort before this one.
	conflicting := make(map[*Item]struct{})
	beforeOrigin := make(map[*Item]struct{})
	for o != nil && o != right {
		beforeOrigin[o] = struct{}{}
		conflicting[o] = struct{}{}
		if o.Origin == it.Origin {
			if o.ID.Src < it.ID.Src {
				left = o
				clear(conflicting)
			} else if o.RightOrigin == it.RightOrigin {
				break
			}
		} else if !o.Origin.IsZero() {
			oo := d.find(o.Origin)
			if _, seen := beforeOrigin[oo]; seen {
				if _, conf := conflicting[oo]; !conf {
					left = o
					clear(conflicting)
				}
			} else {
				break
			}
		} else {
			break
		}
		o = o.Right
	}

	it.Left = left
	if left != nil {
		it.Right = left.Right
		left.Right = it
	} else {
		it.Right = b.start
		b.start = it
	}
	if it.Right != nil {
		it.Right.Left = it
	}
}
