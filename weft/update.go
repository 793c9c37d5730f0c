package weft

import (
	"encoding/json"
	"slices"
	"unicode/utf8"

	"github.com/learn-decentralized-systems/toytlv"
)

// Update payload, version 1. TLV all the way down:
//
//	U( Y(version)
//	   C( A(src) O(...)* )*   per-source op blocks, ops in seq order
//	   D( A(src) R(seq,len)* )*  tombstone ranges )
//
// Op record fields:
//
//	I seq        first unit sequence number (zip)
//	L id         left origin (zip pair), absent for head inserts
//	R id         right origin, absent for tail inserts
//	N kind+name  root parent
//	Q id         nested parent: the carrier unit of the branch
//	K key        map entry key
//	S text       run of code points (one unit each)
//	V json       one plain value unit
//	T kind+tag   one nested collection unit
//	F A(key)+J(json)  one formatting mark
//	G len        run of garbage-collected tombstones
const updateVersion = 1

// wireOp is one decoded content unit ready for integration.
type wireOp struct {
	id          ID
	origin      ID
	rightOrigin ID
	rootName    string
	rootKind    Kind
	parentID    ID
	key         string
	content     Content
	typeKind    Kind
	typeTag     string
}

// encodeUpdate renders everything past `since` plus the given
// tombstone ranges as a version-1 payload.
func (d *Doc) encodeUpdate(since VV, ds map[uint64][]Range) []byte {
	body := toytlv.Record('Y', []byte{updateVersion})

	srcs := make([]uint64, 0, len(d.blocks))
	for src := range d.blocks {
		srcs = append(srcs, src)
	}
	slices.Sort(srcs)

	for _, src := range srcs {
		block := d.blocks[src]
		from := since.Get(src)
		if from >= uint64(len(block)) {
			continue
		}
		var ops []byte
		items := block[from:]
		for i := 0; i < len(items); {
			j := i + 1
			for j < len(items) && chains(items[j-1], items[j]) {
				j++
			}
			ops = append(ops, encodeRun(items[i:j])...)
			i = j
		}
		body = append(body, toytlv.Record('C',
			toytlv.Record('A', ZipUint64(src)), ops)...)
	}

	body = append(body, encodeDeleteRanges(ds)...)
	return toytlv.Record('U', body)
}

// chains reports whether two consecutive block items can ride in one
// run record.
func chains(a, b *Item) bool {
	if b.ID.Seq != a.ID.Seq+1 || b.Parent != a.Parent {
		return false
	}
	if a.ParentSub != "" || b.ParentSub != "" {
		return false
	}
	if b.Origin != a.ID || b.RightOrigin != a.RightOrigin {
		return false
	}
	k := a.Content.Kind
	return k == b.Content.Kind && (k == ContentRune || k == ContentGone)
}

func encodeRun(items []*Item) []byte {
	head := items[0]
	var fields []byte
	fields = toytlv.Append(fields, 'I', ZipUint64(head.ID.Seq))
	if !head.Origin.IsZero() {
		fields = toytlv.Append(fields, 'L', head.Origin.ZipBytes())
	}
	if !head.RightOrigin.IsZero() {
		fields = toytlv.Append(fields, 'R', head.RightOrigin.ZipBytes())
	}
	parent := head.Parent
	if parent.IsRoot() {
		fields = toytlv.Append(fields, 'N', append([]byte{byte(parent.kind)}, parent.name...))
	} else {
		fields = toytlv.Append(fields, 'Q', parent.item.ID.ZipBytes())
	}
	if head.ParentSub != "" {
		fields = toytlv.Append(fields, 'K', []byte(head.ParentSub))
	}
	switch head.Content.Kind {
	case ContentRune:
		var text []byte
		for _, it := range items {
			text = utf8.AppendRune(text, it.Content.Rune)
		}
		fields = toytlv.Append(fields, 'S', text)
	case ContentGone:
		fields = toytlv.Append(fields, 'G', ZipUint64(uint64(len(items))))
	case ContentValue:
		fields = toytlv.Append(fields, 'V', mustJSON(head.Content.Value))
	case ContentType:
		nested := head.Content.Branch
		fields = toytlv.Append(fields, 'T', append([]byte{byte(nested.kind)}, nested.tag...))
	case ContentFormat:
		fields = toytlv.Append(fields, 'F', toytlv.Concat(
			toytlv.Record('A', []byte(head.Content.Key)),
			toytlv.Record('J', mustJSON(head.Content.Value))))
	}
	return toytlv.Record('O', fields)
}

// mustJSON encodes a canonical host value; the binding layer
// validates values at mutation time, so this cannot fail for
// integrated content.
func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return raw
}

func encodeDeleteRanges(ds map[uint64][]Range) []byte {
	srcs := make([]uint64, 0, len(ds))
	for src := range ds {
		if len(ds[src]) > 0 {
			srcs = append(srcs, src)
		}
	}
	slices.Sort(srcs)
	var out []byte
	for _, src := range srcs {
		body := toytlv.Record('A', ZipUint64(src))
		for _, r := range ds[src] {
			body = toytlv.Append(body, 'R', ZipUint64Pair(r.Seq, r.Len))
		}
		out = append(out, toytlv.Record('D', body)...)
	}
	return out
}

// DecodeDeleteRanges parses a standalone tombstone-range blob, as
// found in a transaction's change report.
func DecodeDeleteRanges(data []byte) (map[uint64][]Range, error) {
	ds := make(map[uint64][]Range)
	rest := data
	for len(rest) > 0 {
		var body []byte
		var err error
		body, rest, err = toytlv.TakeWary('D', rest)
		if err != nil {
			return nil, ErrBadUpdate
		}
		if err = decodeDeleteBlock(body, ds); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func decodeDeleteBlock(body []byte, ds map[uint64][]Range) error {
	raw, rest, err := toytlv.TakeWary('A', body)
	if err != nil {
		return ErrBadUpdate
	}
	src := UnzipUint64(raw)
	for len(rest) > 0 {
		raw, rest, err = toytlv.TakeWary('R', rest)
		if err != nil || !ValidZipPairLen(len(raw)) {
			return ErrBadUpdate
		}
		seq, length := UnzipUint64Pair(raw)
		if seq == 0 || length == 0 {
			return ErrBadUpdate
		}
		ds[src] = append(ds[src], Range{Seq: seq, Len: length})
	}
	return nil
}

// decodeUpdate validates and expands a payload into per-unit ops.
// Nothing touches document state here; a malformed payload fails
// before any unit integrates.
func decodeUpdate(data []byte) ([]wireOp, map[uint64][]Range, error) {
	body, rest, err := toytlv.TakeWary('U', data)
	if err != nil || len(rest) != 0 {
		return nil, nil, ErrBadUpdate
	}
	ver, blocks, err := toytlv.TakeWary('Y', body)
	if err != nil || len(ver) != 1 || ver[0] != updateVersion {
		return nil, nil, ErrBadUpdate
	}
	var ops []wireOp
	ds := make(map[uint64][]Range)
	for len(blocks) > 0 {
		lit, rec, tail, err := toytlv.TakeAnyWary(blocks)
		if err != nil || rec == nil {
			return nil, nil, ErrBadUpdate
		}
		blocks = tail
		switch lit {
		case 'C':
			ops, err = decodeOpBlock(rec, ops)
			if err != nil {
				return nil, nil, err
			}
		case 'D':
			if err = decodeDeleteBlock(rec, ds); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, ErrBadUpdate
		}
	}
	return ops, ds, nil
}

func decodeOpBlock(body []byte, ops []wireOp) ([]wireOp, error) {
	raw, rest, err := toytlv.TakeWary('A', body)
	if err != nil {
		return nil, ErrBadUpdate
	}
	src := UnzipUint64(raw)
	for len(rest) > 0 {
		var rec []byte
		rec, rest, err = toytlv.TakeWary('O', rest)
		if err != nil {
			return nil, ErrBadUpdate
		}
		ops, err = decodeOp(src, rec, ops)
		if err != nil {
			return nil, err
		}
	}
	return ops, nil
}

func decodeOp(src uint64, rec []byte, ops []wireOp) ([]wireOp, error) {
	op := wireOp{id: ID{Src: src}}
	var text string
	var goneLen uint64
	haveContent := false
	for len(rec) > 0 {
		lit, body, rest, err := toytlv.TakeAnyWary(rec)
		if err != nil || body == nil {
			return nil, ErrBadUpdate
		}
		rec = rest
		switch lit {
		case 'I':
			op.id.Seq = UnzipUint64(body)
		case 'L':
			if op.origin, err = IDFromZipBytes(body); err != nil {
				return nil, err
			}
		case 'R':
			if op.rightOrigin, err = IDFromZipBytes(body); err != nil {
				return nil, err
			}
		case 'N':
			if len(body) < 2 {
				return nil, ErrBadUpdate
			}
			op.rootKind = Kind(body[0])
			op.rootName = string(body[1:])
		case 'Q':
			if op.parentID, err = IDFromZipBytes(body); err != nil {
				return nil, err
			}
		case 'K':
			op.key = string(body)
		case 'S':
			if len(body) == 0 || !utf8.Valid(body) {
				return nil, ErrBadUpdate
			}
			text = string(body)
			haveContent = true
		case 'G':
			goneLen = UnzipUint64(body)
			if goneLen == 0 {
				return nil, ErrBadUpdate
			}
			haveContent = true
		case 'V':
			var v any
			if err = json.Unmarshal(body, &v); err != nil {
				return nil, ErrBadUpdate
			}
			op.content = Content{Kind: ContentValue, Value: v}
			haveContent = true
		case 'T':
			if len(body) < 1 {
				return nil, ErrBadUpdate
			}
			op.typeKind = Kind(body[0])
			op.typeTag = string(body[1:])
			op.content = Content{Kind: ContentType}
			haveContent = true
		case 'F':
			key, tail, err := toytlv.TakeWary('A', body)
			if err != nil {
				return nil, ErrBadUpdate
			}
			raw, _, err := toytlv.TakeWary('J', tail)
			if err != nil {
				return nil, ErrBadUpdate
			}
			var v any
			if err = json.Unmarshal(raw, &v); err != nil {
				return nil, ErrBadUpdate
			}
			op.content = Content{Kind: ContentFormat, Key: string(key), Value: v}
			haveContent = true
		default:
			return nil, ErrBadUpdate
		}
	}
	if op.id.Seq == 0 || !haveContent {
		return nil, ErrBadUpdate
	}
	if op.rootName == "" && op.parentID.IsZero() {
		return nil, ErrBadUpdate
	}

	// expand runs into per-unit ops, chaining origins
	switch {
	case text != "":
		prev := op.origin
		id := op.id
		for _, r := range text {
			unit := op
			unit.id = id
			unit.origin = prev
			unit.content = Content{Kind: ContentRune, Rune: r}
			ops = append(ops, unit)
			prev = id
			id = id.Next()
		}
	case goneLen > 0:
		prev := op.origin
		id := op.id
		for i := uint64(0); i < goneLen; i++ {
			unit := op
			unit.id = id
			unit.origin = prev
			unit.content = Content{Kind: ContentGone}
			ops = append(ops, unit)
			prev = id
			id = id.Next()
		}
	default:
		ops = append(ops, op)
	}
	return ops, nil
}

// Diff encodes everything the given remote state vector has not seen,
// along with the document's full tombstone set.
func (d *Doc) Diff(since VV) []byte {
	return d.encodeUpdate(since, d.allDeleteRanges())
}

func (d *Doc) allDeleteRanges() map[uint64][]Range {
	ds := make(map[uint64][]Range)
	for src, block := range d.blocks {
		var runs []Range
		for _, it := range block {
			if !it.Deleted {
				continue
			}
			if n := len(runs); n > 0 && runs[n-1].Seq+runs[n-1].Len == it.ID.Seq {
				runs[n-1].Len++
			} else {
				runs = append(runs, Range{Seq: it.ID.Seq, Len: 1})
			}
		}
		if len(runs) > 0 {
			ds[src] = runs
		}
	}
	return ds
}

// Apply merges a remote payload into the document within the given
// transaction. Units whose dependencies are not here yet are buffered
// and retried on later applies; duplicates are dropped. A decode
// failure leaves the document untouched.
func (d *Doc) Apply(t *Txn, payload []byte) error {
	if d.closed {
		return ErrClosed
	}
	ops, ds, err := decodeUpdate(payload)
	if err != nil {
		return err
	}

	// when the vector already covers every incoming unit, only the
	// tombstone pass matters
	top := make(VV, 4)
	for _, op := range ops {
		top.PutID(op.id)
	}
	if d.vv.Seen(top) {
		ops = nil
	}

	queue := append(d.pendingOps, ops...)
	d.pendingOps = nil
	progress := true
	for progress && len(queue) > 0 {
		progress = false
		remain := queue[:0:0]
		for _, op := range queue {
			switch d.opState(op) {
			case opDup:
				// seen before, drop
			case opReady:
				d.integrateWire(t, op)
				progress = true
			default:
				remain = append(remain, op)
			}
		}
		queue = remain
	}
	d.pendingOps = queue

	for src, runs := range ds {
		d.pendingDel[src] = append(d.pendingDel[src], runs...)
	}
	d.applyPendingDeletes(t)
	return nil
}

type opState byte

const (
	opReady opState = iota
	opDup
	opWait
)

func (d *Doc) opState(op wireOp) opState {
	if d.vv.Covers(op.id) {
		return opDup
	}
	if op.id.Seq != d.vv.Get(op.id.Src)+1 {
		return opWait
	}
	if !op.origin.IsZero() && d.find(op.origin) == nil {
		return opWait
	}
	if !op.rightOrigin.IsZero() && d.find(op.rightOrigin) == nil {
		return opWait
	}
	if op.rootName == "" && d.find(op.parentID) == nil {
		return opWait
	}
	return opReady
}

func (d *Doc) integrateWire(t *Txn, op wireOp) {
	var b *Branch
	if op.rootName != "" {
		b = d.rootForApply(op.rootName, op.rootKind)
	} else {
		carrier := d.find(op.parentID)
		if carrier.Content.Kind == ContentType && carrier.Content.Branch != nil {
			b = carrier.Content.Branch
		} else {
			// parent collection is gone; keep the unit to hold its
			// sequence number, invisible under an orphan branch that
			// still points at the carrier so re-encoding works
			b = d.newNested(KindArray, "")
			b.item = carrier
			b.orphaned = true
		}
	}
	content := op.content
	if content.Kind == ContentType {
		content.Branch = d.newNested(op.typeKind, op.typeTag)
	}
	it := &Item{
		ID:          op.id,
		Origin:      op.origin,
		RightOrigin: op.rightOrigin,
		Parent:      b,
		ParentSub:   op.key,
		Content:     content,
	}
	if content.Kind == ContentGone {
		it.Deleted = true
	}
	d.integrate(t, it)
}

func (d *Doc) applyPendingDeletes(t *Txn) {
	for src, runs := range d.pendingDel {
		var remain []Range
		for _, r := range runs {
			for seq := r.Seq; seq < r.Seq+r.Len; seq++ {
				it := d.find(ID{Src: src, Seq: seq})
				if it == nil {
					remain = append(remain, Range{Seq: seq, Len: r.Seq + r.Len - seq})
					break
				}
				if !it.Deleted {
					t.deleteItem(it)
					if !d.skipGC {
						it.gc()
					}
				}
			}
		}
		if len(remain) > 0 {
			d.pendingDel[src] = remain
		} else {
			delete(d.pendingDel, src)
		}
	}
}
