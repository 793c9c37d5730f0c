package weft

import (
	"slices"

	"github.com/learn-decentralized-systems/toytlv"
)

// VV is a version vector: the highest contiguous sequence number
// integrated from each known replica. This is the document's state
// vector; its TLV form is version 1 of the sync wire format.
type VV map[uint64]uint64

func (vv VV) Get(src uint64) uint64 {
	return vv[src]
}

// Put the src-seq pair to the VV, returns whether it was
// unseen (i.e. made any difference).
func (vv VV) Put(src, seq uint64) bool {
	pre, ok := vv[src]
	if ok && pre >= seq {
		return false
	}
	vv[src] = seq
	return true
}

func (vv VV) PutID(id ID) bool {
	return vv.Put(id.Src, id.Seq)
}

// Covers reports whether the id's unit is already accounted for.
func (vv VV) Covers(id ID) bool {
	return id.Seq <= vv[id.Src]
}

// Seen reports whether vv covers everything bb covers.
func (vv VV) Seen(bb VV) bool {
	for src, seq := range bb {
		if seq > vv[src] {
			return false
		}
	}
	return true
}

func (vv VV) Clone() VV {
	ret := make(VV, len(vv))
	for src, seq := range vv {
		ret[src] = seq
	}
	return ret
}

func (vv VV) Sources() []uint64 {
	srcs := make([]uint64, 0, len(vv))
	for src := range vv {
		srcs = append(srcs, src)
	}
	slices.Sort(srcs)
	return srcs
}

// TLV renders the vector as a sequence of V records, nil for empty.
func (vv VV) TLV() (ret []byte) {
	for _, src := range vv.Sources() {
		ret = toytlv.Append(ret, 'V', ID{Src: src, Seq: vv[src]}.ZipBytes())
	}
	return
}

// PutTLV consumes a sequence of V records.
func (vv VV) PutTLV(rec []byte) error {
	rest := rec
	for len(rest) > 0 {
		var val []byte
		var err error
		val, rest, err = toytlv.TakeWary('V', rest)
		if err != nil {
			return ErrBadUpdate
		}
		id, err := IDFromZipBytes(val)
		if err != nil {
			return err
		}
		vv.PutID(id)
	}
	return nil
}

func VVFromTLV(tlv []byte) (VV, error) {
	vv := make(VV)
	if err := vv.PutTLV(tlv); err != nil {
		return nil, err
	}
	return vv, nil
}

func (vv VV) String() string {
	ret := make([]byte, 0, len(vv)*16)
	for i, src := range vv.Sources() {
		if i > 0 {
			ret = append(ret, ',')
		}
		ret = append(ret, ID{Src: src, Seq: vv[src]}.String()...)
	}
	return string(ret)
}
