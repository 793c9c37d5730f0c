package loom

import (
	"errors"

	"github.com/loomdb/loom/weft"
)

// DeltaOp, EntryChange and EntryAction re-surface the engine's change
// description types; observer-facing deltas use them directly.
type (
	DeltaOp     = weft.DeltaOp
	EntryChange = weft.EntryChange
	EntryAction = weft.EntryAction
)

const (
	ActionAdd    = weft.ActionAdd
	ActionUpdate = weft.ActionUpdate
	ActionDelete = weft.ActionDelete
)

// Event is the common surface of per-type change events. Concrete
// types carry a typed Target and a typed change description.
type Event interface {
	// Path walks from the document root to the changed type: map
	// keys as strings, sequence indexes as ints.
	Path() []any
}

// Subscription identifies one observer registration; cancel it with
// Doc.Unobserve or Cancel.
type Subscription struct {
	doc    *Doc
	branch *weft.Branch // nil for after-transaction observers
	id     uint64
}

// Cancel removes exactly this registration.
func (s Subscription) Cancel() error {
	if s.doc == nil {
		return ErrNoSubscription
	}
	return s.doc.Unobserve(s)
}

type observer struct {
	id   uint64
	deep bool
	fire func(evts []Event) error
}

type afterObserver struct {
	id   uint64
	fire func(*AfterTransactionEvent) error
}

// AfterTransactionEvent is the change report of one committed
// transaction. All fields are encoded once, at commit, to immutable
// buffers.
type AfterTransactionEvent struct {
	BeforeState []byte
	AfterState  []byte
	DeleteSet   []byte
	Update      []byte
}

// ObserveAfterTransaction registers an observer fired once per
// committed transaction, in registration order.
func (d *Doc) ObserveAfterTransaction(fn func(*AfterTransactionEvent) error) (Subscription, error) {
	if d.inner.Closed() {
		return Subscription{}, ErrDocClosed
	}
	d.afterSeq++
	d.afterList = append(d.afterList, afterObserver{id: d.afterSeq, fire: fn})
	return Subscription{doc: d, id: d.afterSeq}, nil
}

// Unobserve cancels the registration behind sub. Cancelling twice is
// an error.
func (d *Doc) Unobserve(sub Subscription) error {
	if sub.doc != d {
		return ErrNoSubscription
	}
	if sub.branch == nil {
		for i, o := range d.afterList {
			if o.id == sub.id {
				d.afterList = append(d.afterList[:i], d.afterList[i+1:]...)
				return nil
			}
		}
		return ErrNoSubscription
	}
	obs := d.obs[sub.branch]
	for i, o := range obs {
		if o.id == sub.id {
			d.obs[sub.branch] = append(obs[:i], obs[i+1:]...)
			return nil
		}
	}
	return ErrNoSubscription
}

func (d *Doc) observe(b *weft.Branch, deep bool, fire func([]Event) error) (Subscription, error) {
	if d.inner.Closed() {
		return Subscription{}, ErrDocClosed
	}
	d.obsSeq++
	d.obs[b] = append(d.obs[b], &observer{id: d.obsSeq, deep: deep, fire: fire})
	return Subscription{doc: d, branch: b, id: d.obsSeq}, nil
}

// dispatch turns one committed engine transaction into observer
// callbacks: the after-transaction report first, then per-type events
// in the order the transaction first touched each type. Observer
// errors are collected, never short-circuiting the rest.
func (d *Doc) dispatch(wt *weft.Txn) error {
	var errs []error

	if len(d.afterList) > 0 {
		evt := &AfterTransactionEvent{
			BeforeState: wt.Before().TLV(),
			AfterState:  wt.After().TLV(),
			DeleteSet:   wt.DeleteSetTLV(),
			Update:      wt.UpdateTLV(),
		}
		for _, o := range append([]afterObserver(nil), d.afterList...) {
			if err := o.fire(evt); err != nil {
				errs = append(errs, err)
			}
		}
	}

	var deepOrder []*observer
	deepEvents := make(map[*observer][]Event)

	for _, ch := range wt.Changed() {
		evt := d.eventFor(ch)
		for _, o := range append([]*observer(nil), d.obs[ch.Branch]...) {
			if o.deep {
				continue
			}
			if err := o.fire([]Event{evt}); err != nil {
				errs = append(errs, err)
			}
		}
		// deep observers on the type itself and every ancestor
		for b := ch.Branch; b != nil; b = b.ParentBranch() {
			for _, o := range d.obs[b] {
				if !o.deep {
					continue
				}
				if deepEvents[o] == nil {
					deepOrder = append(deepOrder, o)
				}
				deepEvents[o] = append(deepEvents[o], evt)
			}
		}
	}

	for _, o := range deepOrder {
		if err := o.fire(deepEvents[o]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Doc) eventFor(ch *weft.BranchChanges) Event {
	switch ch.Branch.Kind() {
	case weft.KindText:
		return &TextEvent{doc: d, ch: ch}
	case weft.KindArray:
		return &ArrayEvent{doc: d, ch: ch}
	case weft.KindMap:
		return &MapEvent{doc: d, ch: ch}
	default:
		return &XMLEvent{doc: d, ch: ch}
	}
}

// wrapDelta replaces raw engine branches inside insert payloads with
// their host-facing types.
func wrapDelta(d *Doc, ops []DeltaOp) []DeltaOp {
	for i, op := range ops {
		if vs, ok := op.Insert.([]any); ok {
			wrapped := make([]any, len(vs))
			for j, v := range vs {
				wrapped[j] = wrapBranch(d, v)
			}
			ops[i].Insert = wrapped
		}
	}
	return ops
}

func wrapEntryChanges(d *Doc, keys map[string]EntryChange) map[string]EntryChange {
	for k, ch := range keys {
		ch.OldValue = wrapBranch(d, ch.OldValue)
		ch.NewValue = wrapBranch(d, ch.NewValue)
		keys[k] = ch
	}
	return keys
}

// TextEvent reports one transaction's changes to a text. Target, Path
// and Delta are computed on first access and memoized; read Delta
// inside the callback if the event is retained past it.
type TextEvent struct {
	doc *Doc
	ch  *weft.BranchChanges

	target *Text
	path   []any
	delta  []DeltaOp
	done   struct{ target, path, delta bool }
}

func (e *TextEvent) Target() *Text {
	if !e.done.target {
		e.target = &Text{doc: e.doc, branch: e.ch.Branch}
		e.done.target = true
	}
	return e.target
}

func (e *TextEvent) Path() []any {
	if !e.done.path {
		e.path = e.ch.Branch.Path()
		e.done.path = true
	}
	return e.path
}

func (e *TextEvent) Delta() []DeltaOp {
	if !e.done.delta {
		e.delta = wrapDelta(e.doc, e.ch.SequenceDelta())
		e.done.delta = true
	}
	return e.delta
}

// ArrayEvent reports one transaction's changes to an array.
type ArrayEvent struct {
	doc *Doc
	ch  *weft.BranchChanges

	target *Array
	path   []any
	delta  []DeltaOp
	done   struct{ target, path, delta bool }
}

func (e *ArrayEvent) Target() *Array {
	if !e.done.target {
		e.target = &Array{doc: e.doc, branch: e.ch.Branch}
		e.done.target = true
	}
	return e.target
}

func (e *ArrayEvent) Path() []any {
	if !e.done.path {
		e.path = e.ch.Branch.Path()
		e.done.path = true
	}
	return e.path
}

func (e *ArrayEvent) Delta() []DeltaOp {
	if !e.done.delta {
		e.delta = wrapDelta(e.doc, e.ch.SequenceDelta())
		e.done.delta = true
	}
	return e.delta
}

// MapEvent reports one transaction's changes to a map, keyed by the
// touched entry.
type MapEvent struct {
	doc *Doc
	ch  *weft.BranchChanges

	target *Map
	path   []any
	keys   map[string]EntryChange
	done   struct{ target, path, keys bool }
}

func (e *MapEvent) Target() *Map {
	if !e.done.target {
		e.target = &Map{doc: e.doc, branch: e.ch.Branch}
		e.done.target = true
	}
	return e.target
}

func (e *MapEvent) Path() []any {
	if !e.done.path {
		e.path = e.ch.Branch.Path()
		e.done.path = true
	}
	return e.path
}

func (e *MapEvent) Keys() map[string]EntryChange {
	if !e.done.keys {
		e.keys = wrapEntryChanges(e.doc, e.ch.MapDelta())
		e.done.keys = true
	}
	return e.keys
}

// XMLEvent reports one transaction's changes to a markup node: child
// changes as a delta, attribute changes as keyed entries.
type XMLEvent struct {
	doc *Doc
	ch  *weft.BranchChanges

	target any
	path   []any
	delta  []DeltaOp
	keys   map[string]EntryChange
	done   struct{ target, path, delta, keys bool }
}

// Target is either a *XMLElement or a *XMLText.
func (e *XMLEvent) Target() any {
	if !e.done.target {
		e.target = wrapBranch(e.doc, e.ch.Branch)
		e.done.target = true
	}
	return e.target
}

func (e *XMLEvent) Path() []any {
	if !e.done.path {
		e.path = e.ch.Branch.Path()
		e.done.path = true
	}
	return e.path
}

func (e *XMLEvent) Delta() []DeltaOp {
	if !e.done.delta {
		e.delta = wrapDelta(e.doc, e.ch.SequenceDelta())
		e.done.delta = true
	}
	return e.delta
}

func (e *XMLEvent) Keys() map[string]EntryChange {
	if !e.done.keys {
		e.keys = wrapEntryChanges(e.doc, e.ch.MapDelta())
		e.done.keys = true
	}
	return e.keys
}

// Observe registers fn to run during the commit of every transaction
// that changes this text. Fails on a preliminary text.
func (x *Text) Observe(fn func(*TextEvent) error) (Subscription, error) {
	if x.branch == nil {
		return Subscription{}, ErrPreliminary
	}
	return x.doc.observe(x.branch, false, func(evts []Event) error {
		return fn(evts[0].(*TextEvent))
	})
}

// ObserveDeep registers fn to also see changes of nested descendants;
// it receives all of a transaction's events under this type at once.
func (x *Text) ObserveDeep(fn func([]Event) error) (Subscription, error) {
	if x.branch == nil {
		return Subscription{}, ErrPreliminary
	}
	return x.doc.observe(x.branch, true, fn)
}

func (x *Array) Observe(fn func(*ArrayEvent) error) (Subscription, error) {
	if x.branch == nil {
		return Subscription{}, ErrPreliminary
	}
	return x.doc.observe(x.branch, false, func(evts []Event) error {
		return fn(evts[0].(*ArrayEvent))
	})
}

func (x *Array) ObserveDeep(fn func([]Event) error) (Subscription, error) {
	if x.branch == nil {
		return Subscription{}, ErrPreliminary
	}
	return x.doc.observe(x.branch, true, fn)
}

func (x *Map) Observe(fn func(*MapEvent) error) (Subscription, error) {
	if x.branch == nil {
		return Subscription{}, ErrPreliminary
	}
	return x.doc.observe(x.branch, false, func(evts []Event) error {
		return fn(evts[0].(*MapEvent))
	})
}

func (x *Map) ObserveDeep(fn func([]Event) error) (Subscription, error) {
	if x.branch == nil {
		return Subscription{}, ErrPreliminary
	}
	return x.doc.observe(x.branch, true, fn)
}

func (x *XMLElement) Observe(fn func(*XMLEvent) error) (Subscription, error) {
	return x.doc.observe(x.branch, false, func(evts []Event) error {
		return fn(evts[0].(*XMLEvent))
	})
}

func (x *XMLElement) ObserveDeep(fn func([]Event) error) (Subscription, error) {
	return x.doc.observe(x.branch, true, fn)
}

func (x *XMLText) Observe(fn func(*XMLEvent) error) (Subscription, error) {
	return x.doc.observe(x.branch, false, func(evts []Event) error {
		return fn(evts[0].(*XMLEvent))
	})
}

func (x *XMLText) ObserveDeep(fn func([]Event) error) (Subscription, error) {
	return x.doc.observe(x.branch, true, fn)
}
