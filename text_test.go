package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_PrelimIntegratedParity(t *testing.T) {
	txt := NewText("")
	assert.False(t, txt.Integrated())
	require.Nil(t, txt.Insert(nil, 0, "hello"))
	assert.Equal(t, "hello", txt.String())
	assert.Equal(t, 5, txt.Len())

	d := newDoc(t, 1)
	arr, err := d.GetArray("a")
	require.Nil(t, err)
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return arr.Push(tx, txt)
	}))

	assert.True(t, txt.Integrated())
	assert.Equal(t, "hello", txt.String())
	assert.Equal(t, 5, txt.Len())

	got, err := arr.Get(0)
	require.Nil(t, err)
	nested, ok := got.(*Text)
	require.True(t, ok)
	assert.Equal(t, "hello", nested.String())
}

func TestText_ReattachFails(t *testing.T) {
	d := newDoc(t, 1)
	arr, err := d.GetArray("a")
	require.Nil(t, err)

	txt := NewText("hi")
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return arr.Push(tx, txt)
	}))

	err = d.Transact(func(tx *Txn) error {
		return arr.Push(tx, txt)
	})
	assert.ErrorIs(t, err, ErrAlreadyIntegrated)
	assert.Equal(t, 1, arr.Len())
	assert.Equal(t, "hi", txt.String())
}

func TestText_PrelimDisallowsFormatting(t *testing.T) {
	txt := NewText("hello")
	attrs := map[string]any{"bold": true}
	assert.ErrorIs(t, txt.Format(nil, 0, 5, attrs), ErrPreliminary)
	assert.ErrorIs(t, txt.InsertWithAttributes(nil, 0, "x", attrs), ErrPreliminary)
	assert.ErrorIs(t, txt.InsertEmbed(nil, 0, map[string]any{"img": "x.png"}), ErrPreliminary)
	_, err := txt.Observe(func(*TextEvent) error { return nil })
	assert.ErrorIs(t, err, ErrPreliminary)
}

func TestText_RootEditing(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)
	assert.True(t, txt.Integrated())

	require.Nil(t, d.Transact(func(tx *Txn) error {
		if err := txt.Insert(tx, 0, "hello"); err != nil {
			return err
		}
		return txt.Push(tx, " world")
	}))
	assert.Equal(t, "hello world", txt.String())

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return txt.Delete(tx, 5, 6)
	}))
	assert.Equal(t, "hello", txt.String())

	js, err := txt.ToJSON()
	require.Nil(t, err)
	assert.Equal(t, `"hello"`, js)
}

func TestText_FormatAndAttributes(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)

	var delta []DeltaOp
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return txt.Insert(tx, 0, "hello world")
	}))
	sub, err := txt.Observe(func(e *TextEvent) error {
		delta = e.Delta()
		return nil
	})
	require.Nil(t, err)
	defer func() { _ = sub.Cancel() }()

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return txt.Format(tx, 0, 5, map[string]any{"bold": true})
	}))
	require.Len(t, delta, 1)
	assert.Equal(t, 5, delta[0].Retain)
	assert.Equal(t, map[string]any{"bold": true}, delta[0].Attributes)
}

func TestText_Embed(t *testing.T) {
	d := newDoc(t, 1)
	txt, err := d.GetText("t")
	require.Nil(t, err)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		if err := txt.Insert(tx, 0, "ab"); err != nil {
			return err
		}
		return txt.InsertEmbed(tx, 1, map[string]any{"image": "x.png"})
	}))
	// the embed occupies one unit but renders as no text
	assert.Equal(t, "ab", txt.String())
	assert.Equal(t, 3, txt.Len())
}

func TestText_PrelimBounds(t *testing.T) {
	txt := NewText("héllo")
	assert.ErrorIs(t, txt.Insert(nil, 2, "x"), ErrOutOfBounds)
	assert.ErrorIs(t, txt.Insert(nil, 100, "x"), ErrOutOfBounds)
	assert.ErrorIs(t, txt.Delete(nil, 1, 1), ErrOutOfBounds)
	require.Nil(t, txt.Delete(nil, 1, 2))
	assert.Equal(t, "hllo", txt.String())
}
