// Package store persists document update logs in pebble. Each commit
// appends its update payload through a merge operator that keeps the
// per-document log as one concatenated TLV stream; compaction replays
// the log and rewrites it as a single snapshot update.
package store

import (
	"encoding/binary"
	"io"
	"sync/atomic"

	"github.com/cespare/xxhash"
	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/learn-decentralized-systems/toytlv"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/loomdb/loom"
	"github.com/loomdb/loom/utils"
)

var (
	ErrClosed   = errors.New("the store is closed")
	ErrNoDoc    = errors.New("no such document in the store")
	ErrBadLog   = errors.New("malformed update log")
	writeSynced = pebble.WriteOptions{Sync: true}
)

const defaultSnapshotCache = 128

// Options configures a store.
type Options struct {
	// SnapshotCacheSize bounds the LRU cache of compacted snapshot
	// payloads. Zero picks a default.
	SnapshotCacheSize int
	// Sync makes every append wait for the WAL.
	Sync bool

	Logger utils.Logger
}

// Store is a pebble-backed log of document updates, keyed by document
// name. It is safe for concurrent use across distinct documents; one
// document keeps its own single-goroutine discipline.
type Store struct {
	db   *pebble.DB
	log  utils.Logger
	wo   *pebble.WriteOptions
	snap *lru.Cache[uint64, []byte]

	bound  *xsync.MapOf[string, loom.Subscription]
	closed atomic.Bool

	// counters surfaced by Collector
	appends     atomic.Uint64
	bytesIn     atomic.Uint64
	compactions atomic.Uint64
}

// updateKey addresses a document's merged update log; snapKey its
// compacted snapshot. Names are hashed to fixed-width keys.
func updateKey(name string) []byte { return nameKey('U', name) }
func snapKey(name string) []byte   { return nameKey('S', name) }

func nameKey(lit byte, name string) []byte {
	var key [9]byte
	key[0] = lit
	binary.BigEndian.PutUint64(key[1:], xxhash.Sum64String(name))
	return key[:]
}

// appendMerger concatenates update records in write order; the log
// stays a valid TLV stream under any partial merge pebble performs.
type appendMerger struct {
	vals [][]byte
}

func (m *appendMerger) MergeNewer(value []byte) error {
	m.vals = append(m.vals, append([]byte(nil), value...))
	return nil
}

func (m *appendMerger) MergeOlder(value []byte) error {
	m.vals = append([][]byte{append([]byte(nil), value...)}, m.vals...)
	return nil
}

func (m *appendMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	size := 0
	for _, v := range m.vals {
		size += len(v)
	}
	out := make([]byte, 0, size)
	for _, v := range m.vals {
		out = append(out, v...)
	}
	return out, nil, nil
}

func merger(key, value []byte) (pebble.ValueMerger, error) {
	return &appendMerger{vals: [][]byte{append([]byte(nil), value...)}}, nil
}

// Open opens (or creates) a store under dir.
func Open(dir string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NopLogger{}
	}
	cacheSize := opts.SnapshotCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultSnapshotCache
	}
	snap, _ := lru.New[uint64, []byte](cacheSize)
	db, err := pebble.Open(dir, &pebble.Options{
		Merger: &pebble.Merger{
			Name:  "loom-update-log",
			Merge: merger,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening store at %s", dir)
	}
	wo := pebble.NoSync
	if opts.Sync {
		wo = &writeSynced
	}
	return &Store{
		db:    db,
		log:   logger,
		wo:    wo,
		snap:  snap,
		bound: xsync.NewMapOf[string, loom.Subscription](),
	}, nil
}

// Append adds one update payload to the named document's log.
func (s *Store) Append(name string, update []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(update) == 0 {
		return nil
	}
	if err := s.db.Merge(updateKey(name), update, s.wo); err != nil {
		return errors.Wrapf(err, "appending to %q", name)
	}
	s.appends.Add(1)
	s.bytesIn.Add(uint64(len(update)))
	return nil
}

// loadLog reads the snapshot (if any) followed by the raw update log.
func (s *Store) loadLog(name string) (snapshot, log []byte, err error) {
	hash := xxhash.Sum64String(name)
	if cached, ok := s.snap.Get(hash); ok {
		snapshot = cached
	} else {
		val, closer, gerr := s.db.Get(snapKey(name))
		switch {
		case gerr == nil:
			snapshot = append([]byte(nil), val...)
			_ = closer.Close()
			s.snap.Add(hash, snapshot)
		case gerr != pebble.ErrNotFound:
			return nil, nil, errors.Wrapf(gerr, "reading snapshot of %q", name)
		}
	}
	val, closer, gerr := s.db.Get(updateKey(name))
	switch {
	case gerr == nil:
		log = append([]byte(nil), val...)
		_ = closer.Close()
	case gerr != pebble.ErrNotFound:
		return nil, nil, errors.Wrapf(gerr, "reading log of %q", name)
	}
	if snapshot == nil && log == nil {
		return nil, nil, errors.Wrapf(ErrNoDoc, "%q", name)
	}
	return snapshot, log, nil
}

// Load replays the named document's persisted history into d.
func (s *Store) Load(name string, d *loom.Doc) error {
	if s.closed.Load() {
		return ErrClosed
	}
	snapshot, log, err := s.loadLog(name)
	if err != nil {
		return err
	}
	if len(snapshot) > 0 {
		if err = loom.ApplyUpdate(d, snapshot); err != nil {
			return errors.Wrapf(err, "replaying snapshot of %q", name)
		}
	}
	n := 0
	for rest := log; len(rest) > 0; {
		var update []byte
		update, rest = toytlv.Take('U', rest)
		if update == nil {
			return errors.Wrapf(ErrBadLog, "%q after %d updates", name, n)
		}
		// Take strips the envelope the doc expects; re-frame it.
		if err = loom.ApplyUpdate(d, toytlv.Record('U', update)); err != nil {
			return errors.Wrapf(err, "replaying update %d of %q", n, name)
		}
		n++
	}
	s.log.Debug("loaded document", "name", name, "updates", n)
	return nil
}

// Bind subscribes to the doc's commits and appends each one's update
// to the named log. The returned subscription stops the binding; the
// store also drops it on Close.
func (s *Store) Bind(name string, d *loom.Doc) (loom.Subscription, error) {
	if s.closed.Load() {
		return loom.Subscription{}, ErrClosed
	}
	sub, err := d.ObserveAfterTransaction(func(e *loom.AfterTransactionEvent) error {
		return s.Append(name, e.Update)
	})
	if err != nil {
		return loom.Subscription{}, err
	}
	if old, loaded := s.bound.LoadAndStore(name, sub); loaded {
		s.log.Warn("rebinding document", "name", name)
		_ = old.Cancel()
	}
	return sub, nil
}

// Compact squashes the named document's snapshot and update log into
// a single snapshot update.
func (s *Store) Compact(name string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	d, err := loom.NewDoc(loom.Options{Logger: s.log})
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	if err = s.Load(name, d); err != nil {
		return err
	}
	snapshot, err := loom.EncodeStateAsUpdate(d, nil)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	_ = batch.Set(snapKey(name), snapshot, nil)
	_ = batch.Delete(updateKey(name), nil)
	if err = s.db.Apply(batch, s.wo); err != nil {
		return errors.Wrapf(err, "compacting %q", name)
	}
	s.snap.Add(xxhash.Sum64String(name), snapshot)
	s.compactions.Add(1)
	s.log.Info("compacted document", "name", name, "bytes", len(snapshot))
	return nil
}

// Close stops all bindings and closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.bound.Range(func(name string, sub loom.Subscription) bool {
		_ = sub.Cancel()
		s.bound.Delete(name)
		return true
	})
	return s.db.Close()
}
