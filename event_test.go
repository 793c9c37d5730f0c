package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_ObserverFiresOncePerTransaction(t *testing.T) {
	d := newDoc(t, 1)
	m, err := d.GetMap("m")
	require.Nil(t, err)

	fired := 0
	var keys map[string]EntryChange
	sub, err := m.Observe(func(e *MapEvent) error {
		fired++
		keys = e.Keys()
		return nil
	})
	require.Nil(t, err)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return m.Set(tx, "x", 1)
	}))
	require.Equal(t, 1, fired)
	require.Contains(t, keys, "x")
	assert.Equal(t, ActionAdd, keys["x"].Action)
	assert.Equal(t, float64(1), keys["x"].NewValue)

	require.Nil(t, d.Unobserve(sub))
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return m.Set(tx, "y", 2)
	}))
	assert.Equal(t, 1, fired)

	assert.ErrorIs(t, d.Unobserve(sub), ErrNoSubscription)
}

func TestMap_ObserverSeesUpdateAndDelete(t *testing.T) {
	d := newDoc(t, 1)
	m, err := d.GetMap("m")
	require.Nil(t, err)
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return m.Set(tx, "x", 1)
	}))

	var keys map[string]EntryChange
	_, err = m.Observe(func(e *MapEvent) error {
		keys = e.Keys()
		return nil
	})
	require.Nil(t, err)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return m.Set(tx, "x", 2)
	}))
	require.Contains(t, keys, "x")
	assert.Equal(t, ActionUpdate, keys["x"].Action)
	assert.Equal(t, float64(1), keys["x"].OldValue)
	assert.Equal(t, float64(2), keys["x"].NewValue)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return m.Delete(tx, "x")
	}))
	require.Contains(t, keys, "x")
	assert.Equal(t, ActionDelete, keys["x"].Action)
	assert.Equal(t, float64(2), keys["x"].OldValue)
}

func TestText_ObserverDelta(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)

	var evt *TextEvent
	_, err = txt.Observe(func(e *TextEvent) error {
		evt = e
		// the delta must be computed while the commit is live
		_ = e.Delta()
		return nil
	})
	require.Nil(t, err)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return txt.Insert(tx, 0, "hi")
	}))
	require.NotNil(t, evt)
	assert.Same(t, txt.branch, evt.Target().branch)
	assert.Empty(t, evt.Path())

	delta := evt.Delta()
	require.Len(t, delta, 1)
	assert.Equal(t, "hi", delta[0].Insert)
	// memoized: same slice on every access
	assert.Same(t, &delta[0], &evt.Delta()[0])
}

func TestObserveDeep_SeesNestedChanges(t *testing.T) {
	d := newDoc(t, 1)
	m, err := d.GetMap("m")
	require.Nil(t, err)

	nested := NewText("")
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return m.Set(tx, "body", nested)
	}))

	var deepEvents []Event
	deepFired := 0
	_, err = m.ObserveDeep(func(evts []Event) error {
		deepFired++
		deepEvents = evts
		return nil
	})
	require.Nil(t, err)

	directFired := 0
	_, err = nested.Observe(func(*TextEvent) error {
		directFired++
		return nil
	})
	require.Nil(t, err)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return nested.Insert(tx, 0, "hi")
	}))

	// the deep ancestor observer fires alongside, not instead of,
	// the direct one
	assert.Equal(t, 1, directFired)
	assert.Equal(t, 1, deepFired)
	require.Len(t, deepEvents, 1)
	te, ok := deepEvents[0].(*TextEvent)
	require.True(t, ok)
	assert.Equal(t, []any{"body"}, te.Path())
}

func TestObserveAfterTransaction(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)

	var evt *AfterTransactionEvent
	sub, err := d.ObserveAfterTransaction(func(e *AfterTransactionEvent) error {
		evt = e
		return nil
	})
	require.Nil(t, err)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return txt.Insert(tx, 0, "abc")
	}))
	require.NotNil(t, evt)
	assert.Empty(t, evt.BeforeState)
	assert.NotEmpty(t, evt.AfterState)
	assert.NotEmpty(t, evt.Update)

	// the update buffer is the commit's own diff
	d2 := newDoc(t, 2)
	require.Nil(t, ApplyUpdate(d2, evt.Update))
	txt2, err := d2.GetText("t")
	require.Nil(t, err)
	assert.Equal(t, "abc", txt2.String())

	require.Nil(t, sub.Cancel())
	assert.ErrorIs(t, sub.Cancel(), ErrNoSubscription)
}

func TestObserver_ErrorDoesNotRollBack(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)

	_, err = txt.Observe(func(*TextEvent) error {
		return assert.AnError
	})
	require.Nil(t, err)

	err = d.Transact(func(tx *Txn) error {
		return txt.Insert(tx, 0, "abc")
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "abc", txt.String())
}

func TestObservers_FireInRegistrationOrder(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		_, err = txt.Observe(func(*TextEvent) error {
			order = append(order, i)
			return nil
		})
		require.Nil(t, err)
	}
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return txt.Insert(tx, 0, "x")
	}))
	assert.Equal(t, []int{1, 2, 3}, order)
}
