package store

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomdb/loom"
)

func openStore(t *testing.T) *Store {
	s, err := Open(t.TempDir(), Options{})
	require.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func editText(t *testing.T, d *loom.Doc, name, chunk string) {
	txt, err := d.GetText(name)
	require.Nil(t, err)
	require.Nil(t, d.Transact(func(tx *loom.Txn) error {
		return txt.Insert(tx, txt.Len(), chunk)
	}))
}

func textOf(t *testing.T, d *loom.Doc, name string) string {
	txt, err := d.GetText(name)
	require.Nil(t, err)
	return txt.String()
}

func TestStore_AppendLoadRoundTrip(t *testing.T) {
	s := openStore(t)

	d1, err := loom.NewDoc(loom.Options{ClientID: 1})
	require.Nil(t, err)
	_, err = s.Bind("notes", d1)
	require.Nil(t, err)

	editText(t, d1, "t", "hello")
	editText(t, d1, "t", " world")

	d2, err := loom.NewDoc(loom.Options{ClientID: 2})
	require.Nil(t, err)
	require.Nil(t, s.Load("notes", d2))
	assert.Equal(t, "hello world", textOf(t, d2, "t"))
}

func TestStore_LoadUnknownDoc(t *testing.T) {
	s := openStore(t)
	d, err := loom.NewDoc(loom.Options{ClientID: 1})
	require.Nil(t, err)
	assert.ErrorIs(t, s.Load("nope", d), ErrNoDoc)
}

func TestStore_AppendSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{Sync: true})
	require.Nil(t, err)

	d1, err := loom.NewDoc(loom.Options{ClientID: 1})
	require.Nil(t, err)
	_, err = s.Bind("notes", d1)
	require.Nil(t, err)
	editText(t, d1, "t", "abc")
	require.Nil(t, s.Close())

	s, err = Open(dir, Options{})
	require.Nil(t, err)
	defer func() { _ = s.Close() }()

	d2, err := loom.NewDoc(loom.Options{ClientID: 2})
	require.Nil(t, err)
	require.Nil(t, s.Load("notes", d2))
	assert.Equal(t, "abc", textOf(t, d2, "t"))
}

func TestStore_Compact(t *testing.T) {
	s := openStore(t)

	d1, err := loom.NewDoc(loom.Options{ClientID: 1})
	require.Nil(t, err)
	_, err = s.Bind("notes", d1)
	require.Nil(t, err)
	for _, chunk := range []string{"a", "b", "c", "d"} {
		editText(t, d1, "t", chunk)
	}

	require.Nil(t, s.Compact("notes"))

	d2, err := loom.NewDoc(loom.Options{ClientID: 2})
	require.Nil(t, err)
	require.Nil(t, s.Load("notes", d2))
	assert.Equal(t, "abcd", textOf(t, d2, "t"))

	// appends after compaction still replay on top of the snapshot
	editText(t, d1, "t", "e")
	d3, err := loom.NewDoc(loom.Options{ClientID: 3})
	require.Nil(t, err)
	require.Nil(t, s.Load("notes", d3))
	assert.Equal(t, "abcde", textOf(t, d3, "t"))
}

func TestStore_BindStopsOnCancel(t *testing.T) {
	s := openStore(t)

	d, err := loom.NewDoc(loom.Options{ClientID: 1})
	require.Nil(t, err)
	sub, err := s.Bind("notes", d)
	require.Nil(t, err)
	editText(t, d, "t", "abc")
	require.Nil(t, sub.Cancel())
	editText(t, d, "t", "def")

	d2, err := loom.NewDoc(loom.Options{ClientID: 2})
	require.Nil(t, err)
	require.Nil(t, s.Load("notes", d2))
	assert.Equal(t, "abc", textOf(t, d2, "t"))
}

func TestStore_Collector(t *testing.T) {
	s := openStore(t)

	d, err := loom.NewDoc(loom.Options{ClientID: 1})
	require.Nil(t, err)
	_, err = s.Bind("notes", d)
	require.Nil(t, err)
	editText(t, d, "t", "abc")
	require.Nil(t, s.Compact("notes"))

	reg := prometheus.NewRegistry()
	require.Nil(t, reg.Register(NewCollector(s)))
	families, err := reg.Gather()
	require.Nil(t, err)

	byName := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if m.GetCounter() != nil {
				byName[f.GetName()] = m.GetCounter().GetValue()
			} else if m.GetGauge() != nil {
				byName[f.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, float64(1), byName["loom_store_updates_appended_total"])
	assert.Equal(t, float64(1), byName["loom_store_compactions_total"])
	assert.Contains(t, byName, "pebble_wal_bytes_written_total")
}

func TestStore_ClosedFails(t *testing.T) {
	s, err := Open(t.TempDir(), Options{})
	require.Nil(t, err)
	require.Nil(t, s.Close())

	assert.ErrorIs(t, s.Append("x", []byte{1}), ErrClosed)
	assert.ErrorIs(t, s.Compact("x"), ErrClosed)
	d, err := loom.NewDoc(loom.Options{ClientID: 1})
	require.Nil(t, err)
	assert.ErrorIs(t, s.Load("x", d), ErrClosed)
	_, err = s.Bind("x", d)
	assert.ErrorIs(t, err, ErrClosed)
}
