package weft

import (
	"fmt"
	"strconv"
	"strings"
)

// ID locates one content unit in a document's operation history.
// Src is the authoring replica, Seq is that replica's own sequence
// number, starting at 1. The zero ID means "no id" (e.g. no origin).
type ID struct {
	Src uint64
	Seq uint64
}

var ZeroID = ID{}

func (id ID) IsZero() bool {
	return id == ZeroID
}

// Less orders ids by (Seq, Src). This is not a causal order, just a
// deterministic one shared by every replica.
func (id ID) Less(other ID) bool {
	if id.Seq != other.Seq {
		return id.Seq < other.Seq
	}
	return id.Src < other.Src
}

func (id ID) Next() ID {
	return ID{Src: id.Src, Seq: id.Seq + 1}
}

func (id ID) ZipBytes() []byte {
	return ZipUint64Pair(id.Seq, id.Src)
}

func IDFromZipBytes(zip []byte) (ID, error) {
	if !ValidZipPairLen(len(zip)) {
		return ZeroID, ErrBadUpdate
	}
	seq, src := UnzipUint64Pair(zip)
	return ID{Src: src, Seq: seq}, nil
}

func (id ID) String() string {
	return fmt.Sprintf("%x-%x", id.Src, id.Seq)
}

// ParseID is the inverse of String, accepting the "src-seq" hex form
// ids are logged in.
func ParseID(s string) (ID, error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return ZeroID, fmt.Errorf("bad id %q", s)
	}
	src, err := strconv.ParseUint(s[:dash], 16, 64)
	if err != nil {
		return ZeroID, err
	}
	seq, err := strconv.ParseUint(s[dash+1:], 16, 64)
	if err != nil {
		return ZeroID, err
	}
	return ID{Src: src, Seq: seq}, nil
}
