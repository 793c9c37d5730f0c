package loom

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/loomdb/loom/utils"
	"github.com/loomdb/loom/weft"
)

// UpdateHoseLimit caps the number of buffered commit updates per hose.
const UpdateHoseLimit = 1 << 20

// Options configures a new document store.
type Options struct {
	// ClientID identifies this replica in every id it mints. Zero picks
	// a random id confined to 53 bits so it survives peers that keep
	// ids in doubles.
	ClientID uint64
	// OffsetKind selects the index/length unit of text operations:
	// "utf8" (byte offsets, the default), "utf16" or "utf32".
	// Case and dashes are ignored, so "UTF-16" works too.
	OffsetKind string
	// SkipGC keeps deleted content in memory instead of dropping it
	// once tombstoned.
	SkipGC bool

	Logger utils.Logger
}

// ParseOffsetKind maps an offset-kind token to the engine's enum.
func ParseOffsetKind(token string) (weft.OffsetKind, error) {
	norm := strings.ToLower(strings.ReplaceAll(token, "-", ""))
	switch norm {
	case "", "utf8":
		return weft.OffsetBytes, nil
	case "utf16":
		return weft.OffsetUTF16, nil
	case "utf32":
		return weft.OffsetUTF32, nil
	default:
		return weft.OffsetBytes, fmt.Errorf("%w: %q", ErrBadOffsetKind, token)
	}
}

func randomClientID() uint64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	id := binary.LittleEndian.Uint64(buf[:]) & (1<<53 - 1)
	if id == 0 {
		id = 1
	}
	return id
}

// Doc is a collaborative document store: a set of named shared roots,
// a mutation lifecycle with one live transaction at a time, and the
// sync protocol entry points. A Doc and everything attached to it is
// meant for a single goroutine.
type Doc struct {
	inner *weft.Doc
	log   utils.Logger
	txn   *Txn

	afterSeq  uint64
	afterList []afterObserver
	obsSeq    uint64
	obs       map[*weft.Branch][]*observer

	hoses map[string]*toyqueue.RecordQueue
}

// NewDoc creates a document store. A zero Options value gives a doc
// with a random client id, byte offsets and GC enabled.
func NewDoc(opts Options) (*Doc, error) {
	offset, err := ParseOffsetKind(opts.OffsetKind)
	if err != nil {
		return nil, err
	}
	clientID := opts.ClientID
	if clientID == 0 {
		clientID = randomClientID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NopLogger{}
	}
	d := &Doc{
		inner: weft.NewDoc(clientID, offset, opts.SkipGC),
		log:   logger,
		obs:   make(map[*weft.Branch][]*observer),
		hoses: make(map[string]*toyqueue.RecordQueue),
	}
	d.inner.OnCommit(d.handleCommit)
	return d, nil
}

// ClientID reports the id this replica stamps on its changes.
func (d *Doc) ClientID() uint64 { return d.inner.ClientID() }

// BeginTransaction returns the live transaction handle, opening one
// if none is open. Calling it twice without a commit in between
// returns the same handle.
func (d *Doc) BeginTransaction() (*Txn, error) {
	if d.inner.Closed() {
		return nil, ErrDocClosed
	}
	if d.txn != nil && !d.txn.Committed() {
		return d.txn, nil
	}
	d.txn = &Txn{doc: d, inner: d.inner.Begin()}
	return d.txn, nil
}

// Transact runs body inside a transaction. If a transaction is
// already live it is reused and left open; otherwise one is opened
// and committed on every exit path. Observer errors surface alongside
// the body's error, but never roll the mutations back.
func (d *Doc) Transact(body func(t *Txn) error) error {
	if d.inner.Closed() {
		return ErrDocClosed
	}
	reused := d.txn != nil && !d.txn.Committed()
	t, err := d.BeginTransaction()
	if err != nil {
		return err
	}
	bodyErr := body(t)
	if reused {
		return bodyErr
	}
	return errors.Join(bodyErr, t.Commit())
}

func (d *Doc) root(name string, kind weft.Kind) (*weft.Branch, error) {
	if d.inner.Closed() {
		return nil, ErrDocClosed
	}
	b, projected := d.inner.Root(name, kind)
	if projected {
		d.log.Debug("root type projected", "name", name, "as", kind.String(), "was", b.Kind().String())
	}
	return b, nil
}

// GetText returns the text root under name, creating it if absent. A
// root already holding another kind is projected onto the text
// surface rather than replaced.
func (d *Doc) GetText(name string) (*Text, error) {
	b, err := d.root(name, weft.KindText)
	if err != nil {
		return nil, err
	}
	return &Text{doc: d, branch: b}, nil
}

// GetArray returns the array root under name, creating it if absent.
func (d *Doc) GetArray(name string) (*Array, error) {
	b, err := d.root(name, weft.KindArray)
	if err != nil {
		return nil, err
	}
	return &Array{doc: d, branch: b}, nil
}

// GetMap returns the map root under name, creating it if absent.
func (d *Doc) GetMap(name string) (*Map, error) {
	b, err := d.root(name, weft.KindMap)
	if err != nil {
		return nil, err
	}
	return &Map{doc: d, branch: b}, nil
}

// GetXMLElement returns the XML element root under name; the root
// name doubles as the element tag.
func (d *Doc) GetXMLElement(name string) (*XMLElement, error) {
	b, err := d.root(name, weft.KindXMLElement)
	if err != nil {
		return nil, err
	}
	return &XMLElement{doc: d, branch: b}, nil
}

// GetXMLText returns the XML text root under name.
func (d *Doc) GetXMLText(name string) (*XMLText, error) {
	b, err := d.root(name, weft.KindXMLText)
	if err != nil {
		return nil, err
	}
	return &XMLText{doc: d, branch: b}, nil
}

// AddUpdateHose registers a queue that every subsequent commit's
// update bytes are drained into. An empty name gets a generated one.
// Re-registering a name closes the previous hose. The returned feed
// blocks until records arrive.
func (d *Doc) AddUpdateHose(name string) (string, toyqueue.FeedCloser) {
	if name == "" {
		name = uuid.Must(uuid.NewV7()).String()
	}
	queue := &toyqueue.RecordQueue{Limit: UpdateHoseLimit}
	if old := d.hoses[name]; old != nil {
		d.log.Warn("replacing update hose", "name", name)
		_ = old.Close()
	}
	d.hoses[name] = queue
	return name, queue.Blocking()
}

// RemoveUpdateHose closes and unregisters a hose.
func (d *Doc) RemoveUpdateHose(name string) error {
	q := d.hoses[name]
	if q == nil {
		return fmt.Errorf("%w: hose %q", ErrNoSubscription, name)
	}
	delete(d.hoses, name)
	return q.Close()
}

func (d *Doc) broadcast(update []byte) {
	if len(update) == 0 || len(d.hoses) == 0 {
		return
	}
	recs := toyqueue.Records{update}
	for name, hose := range d.hoses {
		if err := hose.Drain(recs); err != nil {
			d.log.Warn("dropping update hose", "name", name, "err", err)
			delete(d.hoses, name)
		}
	}
}

// handleCommit is the engine's commit hook: it publishes the commit
// to observers and hoses. Returned errors are the observers'; the
// commit itself is already durable in the doc.
func (d *Doc) handleCommit(wt *weft.Txn) error {
	err := d.dispatch(wt)
	d.broadcast(wt.UpdateTLV())
	return err
}

// Close commits any live transaction and shuts the doc down. Further
// operations fail with ErrDocClosed; shared types still attached read
// as empty.
func (d *Doc) Close() error {
	if d.inner.Closed() {
		return nil
	}
	var err error
	if d.txn != nil && !d.txn.Committed() {
		err = d.txn.Commit()
	}
	for name, hose := range d.hoses {
		_ = hose.Close()
		delete(d.hoses, name)
	}
	d.inner.Close()
	return err
}
