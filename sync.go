package loom

// EncodeStateVector returns the doc's version vector in wire form.
func EncodeStateVector(d *Doc) (sv []byte, err error) {
	err = d.Transact(func(t *Txn) error {
		sv, err = t.StateVector()
		return err
	})
	return sv, err
}

// EncodeStateAsUpdate encodes everything the holder of stateVector is
// missing as a single update payload. A nil stateVector encodes the
// whole doc history, deletions included.
func EncodeStateAsUpdate(d *Doc, stateVector []byte) (update []byte, err error) {
	err = d.Transact(func(t *Txn) error {
		update, err = t.Diff(stateVector)
		return err
	})
	return update, err
}

// ApplyUpdate integrates a remote update into the doc. Applying the
// same payload twice, or two sites' payloads in either order, leaves
// both replicas with the same state.
func ApplyUpdate(d *Doc, update []byte) error {
	return d.Transact(func(t *Txn) error {
		return t.Apply(update)
	})
}
