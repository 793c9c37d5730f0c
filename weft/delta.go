package weft

import "reflect"

// DeltaOp is one step of a sequence change description: exactly one
// of Insert, Retain or Delete is set. Text inserts carry a string,
// other sequence inserts a []any. Attributes annotate inserts done
// under formatting and retained spans whose formatting changed.
type DeltaOp struct {
	Insert     any
	Retain     int
	Delete     int
	Attributes map[string]any
}

// EntryAction classifies one map key change.
type EntryAction byte

const (
	ActionAdd EntryAction = iota
	ActionUpdate
	ActionDelete
)

func (a EntryAction) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	default:
		return "delete"
	}
}

// EntryChange describes what happened to one map key within a
// transaction.
type EntryChange struct {
	Action   EntryAction
	OldValue any
	NewValue any
}

// SequenceDelta computes the insert/retain/delete description of this
// change record by replaying the current sequence against the
// transaction's raw unit sets.
func (ch *BranchChanges) SequenceDelta() []DeltaOp {
	var out []DeltaOp
	textual := ch.Branch.kind == KindText || ch.Branch.kind == KindXMLText

	alive := map[string]any{}  // formatting attrs as of now
	before := map[string]any{} // formatting attrs as of txn start

	push := func(op DeltaOp) {
		if n := len(out); n > 0 {
			last := &out[n-1]
			switch {
			case op.Delete > 0 && last.Delete > 0:
				last.Delete += op.Delete
				return
			case op.Retain > 0 && last.Retain > 0 && attrsEqual(last.Attributes, op.Attributes):
				last.Retain += op.Retain
				return
			case op.Insert != nil && last.Insert != nil && attrsEqual(last.Attributes, op.Attributes):
				if s, ok := last.Insert.(string); ok {
					if s2, ok2 := op.Insert.(string); ok2 {
						last.Insert = s + s2
						return
					}
				}
				if vs, ok := last.Insert.([]any); ok {
					if vs2, ok2 := op.Insert.([]any); ok2 {
						last.Insert = append(vs, vs2...)
						return
					}
				}
			}
		}
		out = append(out, op)
	}

	for it := ch.Branch.start; it != nil; it = it.Right {
		if it.Content.Kind == ContentFormat {
			if it.Deleted {
				continue
			}
			setAttr(alive, it.Content.Key, it.Content.Value)
			if _, fresh := ch.Inserted[it.ID]; !fresh {
				setAttr(before, it.Content.Key, it.Content.Value)
			}
			continue
		}
		_, inserted := ch.Inserted[it.ID]
		_, deleted := ch.Deleted[it.ID]
		switch {
		case inserted && it.visible():
			var payload any
			switch it.Content.Kind {
			case ContentRune:
				if textual {
					payload = string(it.Content.Rune)
				} else {
					payload = []any{string(it.Content.Rune)}
				}
			case ContentType:
				payload = []any{it.Content.Branch}
			default:
				payload = []any{it.Content.Value}
			}
			push(DeltaOp{Insert: payload, Attributes: attrsCopy(alive)})
		case inserted:
			// inserted and deleted within the same transaction
		case deleted:
			push(DeltaOp{Delete: 1})
		case it.visible():
			push(DeltaOp{Retain: 1, Attributes: attrsDiff(alive, before)})
		}
	}

	// trailing plain retains say nothing
	for n := len(out); n > 0 && out[n-1].Retain > 0 && len(out[n-1].Attributes) == 0; n-- {
		out = out[:n-1]
	}
	return out
}

// MapDelta resolves the touched keys of this change record into
// add/update/delete entries, dropping writes that landed on the same
// value.
func (ch *BranchChanges) MapDelta() map[string]EntryChange {
	out := make(map[string]EntryChange, len(ch.Keys))
	for key, old := range ch.Keys {
		var cur any
		hasCur := false
		if win := ch.Branch.winner(key); win != nil {
			hasCur = true
			cur = win.Content.Value
			if win.Content.Kind == ContentType {
				cur = win.Content.Branch
			}
		}
		switch {
		case old.HadOld && !hasCur:
			out[key] = EntryChange{Action: ActionDelete, OldValue: old.OldValue}
		case !old.HadOld && hasCur:
			out[key] = EntryChange{Action: ActionAdd, NewValue: cur}
		case old.HadOld && hasCur:
			if !reflect.DeepEqual(old.OldValue, cur) {
				out[key] = EntryChange{Action: ActionUpdate, OldValue: old.OldValue, NewValue: cur}
			}
		}
	}
	return out
}

func setAttr(m map[string]any, key string, val any) {
	if val == nil {
		delete(m, key)
	} else {
		m[key] = val
	}
}

func attrsCopy(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// attrsDiff yields the attributes whose value changed between the two
// states; removed keys map to nil.
func attrsDiff(now, before map[string]any) map[string]any {
	var out map[string]any
	set := func(k string, v any) {
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	for k, v := range now {
		if !reflect.DeepEqual(before[k], v) {
			set(k, v)
		}
	}
	for k := range before {
		if _, ok := now[k]; !ok {
			set(k, nil)
		}
	}
	return out
}

func attrsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !reflect.DeepEqual(b[k], v) {
			return false
		}
	}
	return true
}
