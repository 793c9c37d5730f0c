// Package weft is the CRDT document engine underneath the loom
// binding layer. It keeps per-replica operation blocks, resolves
// concurrent sequence edits with YATA origins, and speaks version 1
// of the TLV update format.
package weft

import "errors"

var (
	ErrBadUpdate   = errors.New("weft: malformed update payload")
	ErrClosed      = errors.New("weft: document is closed")
	ErrOutOfBounds = errors.New("weft: index out of bounds")
	ErrBadValue    = errors.New("weft: value cannot be represented")
	ErrCommitted   = errors.New("weft: transaction already committed")
)
