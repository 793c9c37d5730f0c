package weft

import (
	"github.com/loomdb/loom/utils"
)

// Range is a run of deleted sequence numbers of one source.
type Range struct {
	Seq uint64 // first deleted unit
	Len uint64
}

// deleteSet accumulates the units tombstoned by one transaction.
// Local deletions arrive in document order, not clock order, so
// clocks are heaped per source and coalesced into ranges on demand.
type deleteSet struct {
	clocks map[uint64]*utils.Heap[uint64]
	ranges map[uint64][]Range
	n      int
}

func newDeleteSet() *deleteSet {
	return &deleteSet{clocks: make(map[uint64]*utils.Heap[uint64])}
}

func (ds *deleteSet) Add(id ID) {
	h := ds.clocks[id.Src]
	if h == nil {
		h = &utils.Heap[uint64]{}
		ds.clocks[id.Src] = h
	}
	h.Push(id.Seq)
	ds.n++
	ds.ranges = nil
}

func (ds *deleteSet) Empty() bool { return ds.n == 0 }

// Ranges coalesces the set into sorted, disjoint runs per source.
func (ds *deleteSet) Ranges() map[uint64][]Range {
	if ds.ranges != nil {
		return ds.ranges
	}
	out := make(map[uint64][]Range, len(ds.clocks))
	for src, h := range ds.clocks {
		var runs []Range
		for h.Len() > 0 {
			seq := h.Pop()
			if n := len(runs); n > 0 && runs[n-1].Seq+runs[n-1].Len == seq {
				runs[n-1].Len++
			} else if n > 0 && seq < runs[n-1].Seq+runs[n-1].Len {
				// duplicate clock, already covered
			} else {
				runs = append(runs, Range{Seq: seq, Len: 1})
			}
		}
		out[src] = runs
		// refill the heap so Ranges stays repeatable
		for _, r := range runs {
			for i := uint64(0); i < r.Len; i++ {
				h.Push(r.Seq + i)
			}
		}
	}
	ds.ranges = out
	return out
}
