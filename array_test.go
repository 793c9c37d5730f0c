package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArray_PrelimIntegratedParity(t *testing.T) {
	arr := NewArray([]any{"a", 1, true})
	assert.False(t, arr.Integrated())
	assert.Equal(t, 3, arr.Len())
	require.Nil(t, arr.Insert(nil, 1, "b"))
	assert.Equal(t, 4, arr.Len())

	d := newDoc(t, 1)
	root, err := d.GetMap("m")
	require.Nil(t, err)
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return root.Set(tx, "list", arr)
	}))

	assert.True(t, arr.Integrated())
	assert.Equal(t, 4, arr.Len())
	v, err := arr.Get(1)
	require.Nil(t, err)
	assert.Equal(t, "b", v)
	// numbers canonicalize to float64 on both sides of integration
	v, err = arr.Get(2)
	require.Nil(t, err)
	assert.Equal(t, float64(1), v)
}

func TestArray_RootEditing(t *testing.T) {
	d := newDoc(t, 1)
	arr, err := d.GetArray("a")
	require.Nil(t, err)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		if err := arr.Push(tx, "x", "y"); err != nil {
			return err
		}
		return arr.Insert(tx, 1, "z")
	}))
	assert.Equal(t, []any{"x", "z", "y"}, arr.Values())

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return arr.Delete(tx, 0, 2)
	}))
	assert.Equal(t, []any{"y"}, arr.Values())

	_, err = arr.Get(5)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestArray_ToJSON(t *testing.T) {
	arr := NewArray([]any{"a", NewText("hi")})
	js, err := arr.ToJSON()
	require.Nil(t, err)
	assert.Equal(t, `["a","hi"]`, js)

	d := newDoc(t, 1)
	root, err := d.GetArray("r")
	require.Nil(t, err)
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return root.Push(tx, arr)
	}))
	js, err = arr.ToJSON()
	require.Nil(t, err)
	assert.Equal(t, `["a","hi"]`, js)
}

func TestArray_BadValue(t *testing.T) {
	arr := NewArray(nil)
	err := arr.Insert(nil, 0, make(chan int))
	assert.ErrorIs(t, err, ErrBadValue)
	assert.Equal(t, 0, arr.Len())
}

func TestMap_SetGetDelete(t *testing.T) {
	d := newDoc(t, 1)
	m, err := d.GetMap("m")
	require.Nil(t, err)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		if err := m.Set(tx, "x", 1); err != nil {
			return err
		}
		return m.Set(tx, "y", "two")
	}))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"x", "y"}, m.Keys())

	v, ok := m.Get("x")
	assert.True(t, ok)
	assert.Equal(t, float64(1), v)

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return m.Delete(tx, "x")
	}))
	_, ok = m.Get("x")
	assert.False(t, ok)

	err = d.Transact(func(tx *Txn) error {
		return m.Delete(tx, "x")
	})
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestMap_PrelimIntegratedParity(t *testing.T) {
	m := NewMap(map[string]any{"a": 1})
	require.Nil(t, m.Set(nil, "b", NewText("hi")))
	assert.Equal(t, []string{"a", "b"}, m.Keys())

	d := newDoc(t, 1)
	root, err := d.GetArray("r")
	require.Nil(t, err)
	require.Nil(t, d.Transact(func(tx *Txn) error {
		return root.Push(tx, m)
	}))

	assert.True(t, m.Integrated())
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	v, ok := m.Get("b")
	require.True(t, ok)
	nested, ok := v.(*Text)
	require.True(t, ok)
	assert.True(t, nested.Integrated())
	assert.Equal(t, "hi", nested.String())

	js, err := m.ToJSON()
	require.Nil(t, err)
	assert.Equal(t, `{"a":1,"b":"hi"}`, js)
}

func TestXML_ElementTree(t *testing.T) {
	d := newDoc(t, 1)
	root, err := d.GetXMLElement("doc")
	require.Nil(t, err)
	assert.Equal(t, "doc", root.Tag())

	require.Nil(t, d.Transact(func(tx *Txn) error {
		if err := root.SetAttribute(tx, "lang", "en"); err != nil {
			return err
		}
		p, err := root.PushElement(tx, "p")
		if err != nil {
			return err
		}
		body, err := p.PushText(tx)
		if err != nil {
			return err
		}
		return body.Insert(tx, 0, "hi")
	}))

	lang, ok := root.GetAttribute("lang")
	assert.True(t, ok)
	assert.Equal(t, "en", lang)
	assert.Equal(t, `<doc lang="en"><p>hi</p></doc>`, root.String())

	require.Nil(t, d.Transact(func(tx *Txn) error {
		return root.RemoveAttribute(tx, "lang")
	}))
	_, ok = root.GetAttribute("lang")
	assert.False(t, ok)
}
