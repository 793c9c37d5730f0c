package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc(t *testing.T, clientID uint64) *Doc {
	d, err := NewDoc(Options{ClientID: clientID})
	require.Nil(t, err)
	return d
}

func TestDoc_Options(t *testing.T) {
	_, err := NewDoc(Options{OffsetKind: "utf7"})
	assert.ErrorIs(t, err, ErrBadOffsetKind)

	d, err := NewDoc(Options{OffsetKind: "UTF-16"})
	assert.Nil(t, err)
	assert.NotNil(t, d)

	d, err = NewDoc(Options{})
	require.Nil(t, err)
	assert.NotZero(t, d.ClientID())
	assert.Less(t, d.ClientID(), uint64(1)<<53)
}

func TestDoc_SingleTransactionInvariant(t *testing.T) {
	d := newDoc(t, 1)
	t1, err := d.BeginTransaction()
	require.Nil(t, err)
	t2, err := d.BeginTransaction()
	require.Nil(t, err)
	assert.Same(t, t1, t2)

	assert.Nil(t, t1.Commit())
	assert.ErrorIs(t, t2.Commit(), ErrCommitted)

	t3, err := d.BeginTransaction()
	require.Nil(t, err)
	assert.NotSame(t, t1, t3)
	assert.Nil(t, t3.Commit())
}

func TestDoc_TransactReusesLiveHandle(t *testing.T) {
	d := newDoc(t, 1)
	outer, err := d.BeginTransaction()
	require.Nil(t, err)

	err = d.Transact(func(inner *Txn) error {
		assert.Same(t, outer, inner)
		return nil
	})
	require.Nil(t, err)
	// the outer holder still owns the commit
	assert.False(t, outer.Committed())
	assert.Nil(t, outer.Commit())
}

func TestDoc_TransactCommitsOnEveryExit(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)

	fail := assert.AnError
	err = d.Transact(func(tx *Txn) error {
		require.Nil(t, txt.Insert(tx, 0, "abc"))
		return fail
	})
	assert.ErrorIs(t, err, fail)
	// the body failed after the mutation; the commit still happened
	assert.Equal(t, "abc", txt.String())

	tx, err := d.BeginTransaction()
	require.Nil(t, err)
	assert.False(t, tx.Committed())
	assert.Nil(t, tx.Commit())
}

func TestDoc_ForeignTransaction(t *testing.T) {
	d1 := newDoc(t, 1)
	d2 := newDoc(t, 2)
	txt, err := d1.GetText("t")
	require.Nil(t, err)

	foreign, err := d2.BeginTransaction()
	require.Nil(t, err)
	assert.ErrorIs(t, txt.Insert(foreign, 0, "abc"), ErrForeignTxn)
	assert.Equal(t, "", txt.String())
}

func TestDoc_UseAfterCommit(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)

	tx, err := d.BeginTransaction()
	require.Nil(t, err)
	require.Nil(t, txt.Insert(tx, 0, "abc"))
	require.Nil(t, tx.Commit())

	assert.ErrorIs(t, txt.Insert(tx, 3, "def"), ErrCommitted)
	_, err = tx.StateVector()
	assert.ErrorIs(t, err, ErrCommitted)
	assert.Equal(t, "abc", txt.String())
}

func TestDoc_Close(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return txt.Insert(tx, 0, "abc")
	}))

	require.Nil(t, d.Close())
	assert.Nil(t, d.Close())

	_, err = d.GetText("t")
	assert.ErrorIs(t, err, ErrDocClosed)
	_, err = d.BeginTransaction()
	assert.ErrorIs(t, err, ErrDocClosed)
	assert.ErrorIs(t, d.Transact(func(tx *Txn) error { return nil }), ErrDocClosed)
}

func TestDoc_CloseInvalidatesReads(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)
	arr, err := d.GetArray("a")
	require.Nil(t, err)
	m, err := d.GetMap("m")
	require.Nil(t, err)
	xe, err := d.GetXMLElement("doc")
	require.Nil(t, err)
	require.Nil(t, d.Transact(func(tx *Txn) error {
		if err := txt.Insert(tx, 0, "abc"); err != nil {
			return err
		}
		if err := arr.Push(tx, "x"); err != nil {
			return err
		}
		if err := m.Set(tx, "k", "v"); err != nil {
			return err
		}
		return xe.SetAttribute(tx, "lang", "en")
	}))
	require.Equal(t, "abc", txt.String())

	require.Nil(t, d.Close())

	// integrated values are invalidated, not frozen at pre-close state
	assert.Equal(t, "", txt.String())
	assert.Equal(t, 0, txt.Len())
	_, err = txt.ToJSON()
	assert.ErrorIs(t, err, ErrDocClosed)

	assert.Equal(t, 0, arr.Len())
	assert.Nil(t, arr.Values())
	_, err = arr.Get(0)
	assert.ErrorIs(t, err, ErrDocClosed)
	_, err = arr.ToJSON()
	assert.ErrorIs(t, err, ErrDocClosed)

	assert.Equal(t, 0, m.Len())
	assert.Nil(t, m.Keys())
	_, ok := m.Get("k")
	assert.False(t, ok)
	_, err = m.ToJSON()
	assert.ErrorIs(t, err, ErrDocClosed)

	assert.Equal(t, 0, xe.Len())
	assert.Equal(t, "", xe.String())
	_, ok = xe.GetAttribute("lang")
	assert.False(t, ok)
	assert.Empty(t, xe.Attributes())
	_, err = xe.Child(0)
	assert.ErrorIs(t, err, ErrDocClosed)

	// a preliminary value owes nothing to any doc
	p := NewText("keep")
	assert.Equal(t, "keep", p.String())
}

func TestDoc_Projection(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("r")
	require.Nil(t, err)
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return txt.Insert(tx, 0, "ab")
	}))

	// same root requested as another kind gets reinterpreted, not replaced
	arr, err := d.GetArray("r")
	require.Nil(t, err)
	assert.Equal(t, 2, arr.Len())
}

func TestDoc_UpdateHose(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)

	name, feed := d.AddUpdateHose("")
	assert.NotEmpty(t, name)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return txt.Insert(tx, 0, "abc")
	}))

	recs, err := feed.Feed()
	require.Nil(t, err)
	require.Len(t, recs, 1)

	// the drained update replays on another replica
	d2 := newDoc(t, 2)
	require.Nil(t, ApplyUpdate(d2, recs[0]))
	txt2, err := d2.GetText("t")
	require.Nil(t, err)
	assert.Equal(t, "abc", txt2.String())

	assert.Nil(t, d.RemoveUpdateHose(name))
	assert.ErrorIs(t, d.RemoveUpdateHose(name), ErrNoSubscription)
}
