package loom

import (
	"github.com/loomdb/loom/weft"
)

// Txn is the handle to the doc's single live mutation context. All
// reads and writes of shared types go through one; a committed handle
// is inert and every operation on it fails with ErrCommitted.
type Txn struct {
	doc   *Doc
	inner *weft.Txn
}

func (t *Txn) Doc() *Doc       { return t.doc }
func (t *Txn) Committed() bool { return t.inner.Committed() }

// check validates the handle against the shared type's owning doc.
func (t *Txn) check(d *Doc) error {
	if t == nil {
		return ErrNoTxn
	}
	if t.doc.inner.Closed() {
		return ErrDocClosed
	}
	if d != nil && t.doc != d {
		return ErrForeignTxn
	}
	if t.inner.Committed() {
		return ErrCommitted
	}
	return nil
}

// Commit integrates the transaction's mutations, fires observers and
// retires the handle. Observer errors are returned joined, but the
// mutations stay committed regardless.
func (t *Txn) Commit() error {
	if t.inner.Committed() {
		return ErrCommitted
	}
	err := t.inner.Commit()
	if t.doc.txn == t {
		t.doc.txn = nil
	}
	return err
}

// StateVector encodes the doc's current version vector for a
// sync exchange.
func (t *Txn) StateVector() ([]byte, error) {
	if err := t.check(nil); err != nil {
		return nil, err
	}
	return t.doc.inner.VV().TLV(), nil
}

// Diff encodes every change the remote state vector has not seen,
// deletions included. A nil state vector yields the whole doc.
func (t *Txn) Diff(stateVector []byte) ([]byte, error) {
	if err := t.check(nil); err != nil {
		return nil, err
	}
	since := weft.VV{}
	if len(stateVector) > 0 {
		var err error
		since, err = weft.VVFromTLV(stateVector)
		if err != nil {
			return nil, err
		}
	}
	return t.doc.inner.Diff(since), nil
}

// Apply integrates a remote update payload. The payload is decoded in
// full before any state changes; a malformed one leaves the doc
// untouched. Already-seen changes are skipped, so re-applying is
// harmless.
func (t *Txn) Apply(update []byte) error {
	if err := t.check(nil); err != nil {
		return err
	}
	return t.doc.inner.Apply(t.inner, update)
}
