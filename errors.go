package loom

import (
	"errors"

	"github.com/loomdb/loom/weft"
)

var (
	// ErrBadOffsetKind is the configuration error for an unrecognized
	// text offset token; no document is created when it fires.
	ErrBadOffsetKind = errors.New("loom: not a valid offset kind (utf8, utf16, or utf32)")

	// ErrPreliminary guards operations that only make sense once a
	// shared type is integrated into a document.
	ErrPreliminary = errors.New("loom: preliminary type, must be added to a document first")

	// ErrAlreadyIntegrated fires on a second attachment attempt.
	ErrAlreadyIntegrated = errors.New("loom: shared type is already integrated")

	// ErrCommitted fires on any use of a released transaction handle.
	ErrCommitted = errors.New("loom: transaction handle already committed")

	// ErrForeignTxn fires when a handle from another document is
	// passed to a shared type operation.
	ErrForeignTxn = errors.New("loom: transaction belongs to another document")

	// ErrNoTxn fires when a mutation of an integrated type comes
	// without a transaction handle.
	ErrNoTxn = errors.New("loom: operation requires a transaction")

	// ErrDocClosed fires on operations against a destroyed document.
	// It is the engine's closed-document error, so it matches whichever
	// layer detected the condition.
	ErrDocClosed = weft.ErrClosed

	// ErrNoSubscription fires when cancelling an unknown subscription.
	ErrNoSubscription = errors.New("loom: no such subscription")

	// ErrBadUpdate is the decode error for malformed sync payloads;
	// a failed import leaves the document untouched.
	ErrBadUpdate = weft.ErrBadUpdate

	// ErrBadValue marks values the engine value model cannot hold.
	ErrBadValue = weft.ErrBadValue

	// ErrOutOfBounds marks index arguments outside the collection.
	ErrOutOfBounds = weft.ErrOutOfBounds
)
