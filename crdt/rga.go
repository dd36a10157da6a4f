package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// RGA is a replicated growable array: a causal linked list where each
// element carries a timestamp, used to order concurrent inserts at the same
// position deterministically (higher timestamp, then higher id, sorts
// earlier). Used for a document field that holds an ordered sequence.
type RGA struct {
	vertices map[string]*RGANode // id -> node, for O(1) lookup by element id
	head     *RGANode            // sentinel head, never removed
	mu       sync.RWMutex
}

// RGANode is one element of an RGA. Child holds a nested CRDT rather than a
// raw value, so sequence elements can themselves be registers, counters, or
// maps.
type RGANode struct {
	ID        string
	Child     CRDT
	ChildType Type
	Next      *RGANode
	Timestamp int64
	Tombstone bool
}

// NewRGA creates an empty RGA with a "start" sentinel head.
func NewRGA() *RGA {
	head := &RGANode{ID: "start", Timestamp: 0}
	r := &RGA{
		vertices: make(map[string]*RGANode),
		head:     head,
	}
	r.vertices[head.ID] = head
	return r
}

// RGA op kinds, named rather than left as bare literals at each call site.
const (
	RGAInsert  = 0
	RGARemove  = 1
	RGAForward = 2
)

// RGAOp is an RGA mutation: insert, remove, or forward a child op to an
// existing element, selected by TypeCode (one of RGAInsert/RGARemove/
// RGAForward).
type RGAOp struct {
	OriginID string
	TypeCode int

	// Insert
	PrevID   string
	ElemID   string
	InitType Type
	InitVal  interface{}
	Ts       int64

	// Remove
	RemoveID string

	// Forward (TypeCode 2)
	TargetID string
	ChildOp  Op
}

func (op RGAOp) Origin() string   { return op.OriginID }
func (op RGAOp) Type() Type       { return TypeSequence }
func (op RGAOp) Timestamp() int64 { return op.Ts }

func (op RGAOp) MarshalJSON() ([]byte, error) {
	type Alias RGAOp
	aux := &struct {
		ChildOp *json.RawMessage `json:"ChildOp,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(&op),
	}

	if op.ChildOp != nil {
		data, err := json.Marshal(op.ChildOp)
		if err != nil {
			return nil, err
		}
		wrapper := TypedOpWrapper{
			Type: op.ChildOp.Type(),
			Data: data,
		}
		b, err := json.Marshal(wrapper)
		if err != nil {
			return nil, err
		}
		raw := json.RawMessage(b)
		aux.ChildOp = &raw
	}
	return json.Marshal(aux)
}

func (op *RGAOp) UnmarshalJSON(data []byte) error {
	type Alias RGAOp
	aux := &struct {
		ChildOp *json.RawMessage `json:"ChildOp,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(op),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.ChildOp != nil {
		var wrapper TypedOpWrapper
		if err := json.Unmarshal(*aux.ChildOp, &wrapper); err != nil {
			return err
		}

		child, err := OpReg.UnmarshalOp(wrapper.Type, wrapper.Data)
		if err != nil {
			return err
		}
		op.ChildOp = child
	}
	return nil
}

func (r *RGA) Apply(op Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rOp, ok := op.(RGAOp)
	if !ok {
		return errors.New("invalid op for RGA")
	}

	switch rOp.TypeCode {
	case RGAInsert:
		return r.insertLocked(rOp)
	case RGARemove:
		return r.removeLocked(rOp)
	case RGAForward:
		return r.forwardLocked(rOp)
	default:
		return fmt.Errorf("unknown rga op code %d", rOp.TypeCode)
	}
}

// insertionPoint walks forward from prev past any sibling that must sort
// ahead of an element with timestamp ts and id elemID: a later write
// (higher timestamp) sorts first, and among equal timestamps the larger id
// sorts first, so every replica inserting the same concurrent batch in any
// order lands on the same list.
func insertionPoint(prev *RGANode, ts int64, elemID string) *RGANode {
	curr := prev
	for curr.Next != nil {
		next := curr.Next
		if next.Timestamp > ts || (next.Timestamp == ts && next.ID > elemID) {
			curr = next
			continue
		}
		break
	}
	return curr
}

func (r *RGA) insertLocked(rOp RGAOp) error {
	prev, ok := r.vertices[rOp.PrevID]
	if !ok {
		return fmt.Errorf("predecessor node %s not found", rOp.PrevID)
	}

	if _, exists := r.vertices[rOp.ElemID]; exists {
		// Already applied; inserts are idempotent by element id.
		return nil
	}

	child, err := Factory.NewCRDT(rOp.OriginID, rOp.InitType)
	if err != nil {
		return fmt.Errorf("create nested crdt: %w", err)
	}

	if rOp.InitVal != nil && rOp.InitType == TypeRegister {
		initOp := LWWOp{OriginID: rOp.OriginID, Value: rOp.InitVal, Ts: rOp.Ts}
		if err := child.Apply(initOp); err != nil {
			return fmt.Errorf("apply initial value: %w", err)
		}
	}

	curr := insertionPoint(prev, rOp.Ts, rOp.ElemID)
	newNode := &RGANode{
		ID:        rOp.ElemID,
		Child:     child,
		ChildType: rOp.InitType,
		Timestamp: rOp.Ts,
		Next:      curr.Next,
	}
	curr.Next = newNode
	r.vertices[newNode.ID] = newNode
	return nil
}

// removeLocked tombstones the target element. A remove for an id this
// replica hasn't inserted yet (possible under out-of-order delivery from a
// third peer) is a silent no-op rather than an error: the eventual insert
// still arrives, and the dangling remove is simply lost.
func (r *RGA) removeLocked(rOp RGAOp) error {
	if node, ok := r.vertices[rOp.RemoveID]; ok {
		node.Tombstone = true
	}
	return nil
}

func (r *RGA) forwardLocked(rOp RGAOp) error {
	node, ok := r.vertices[rOp.TargetID]
	if !ok {
		return fmt.Errorf("target element %s not found", rOp.TargetID)
	}
	if node.Tombstone {
		return fmt.Errorf("target element %s already removed", rOp.TargetID)
	}
	if node.Child == nil {
		return fmt.Errorf("target element %s has no child crdt", rOp.TargetID)
	}
	if rOp.ChildOp == nil {
		return errors.New("forwarded op is nil")
	}
	return node.Child.Apply(rOp.ChildOp)
}

func (r *RGA) Value() interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []interface{}
	curr := r.head.Next
	for curr != nil {
		if !curr.Tombstone && curr.Child != nil {
			res = append(res, curr.Child.Value())
		}
		curr = curr.Next
	}
	return res
}

func (r *RGA) Type() Type { return TypeSequence }

// LastID returns the id of the last live element, or "start" if empty — the
// PrevID to use for an Append.
func (r *RGA) LastID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lastID := "start"
	curr := r.head.Next
	for curr != nil {
		if !curr.Tombstone {
			lastID = curr.ID
		}
		curr = curr.Next
	}
	return lastID
}

// RGAElement is one live element of a sequence, exposed with its id.
type RGAElement struct {
	ID        string      `json:"id"`
	Value     interface{} `json:"value"`
	ChildType Type        `json:"child_type"`
}

// Elements returns all live elements in order.
func (r *RGA) Elements() []RGAElement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []RGAElement
	curr := r.head.Next
	for curr != nil {
		if !curr.Tombstone && curr.Child != nil {
			res = append(res, RGAElement{
				ID:        curr.ID,
				Value:     curr.Child.Value(),
				ChildType: curr.ChildType,
			})
		}
		curr = curr.Next
	}
	return res
}

// GetElement returns the nested CRDT at id, or nil if absent or removed.
func (r *RGA) GetElement(id string) CRDT {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.vertices[id]
	if !ok || node.Tombstone {
		return nil
	}
	return node.Child
}

// Bytes returns the sequence's live elements serialized as JSON.
func (r *RGA) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	elements := r.Elements()
	b, _ := json.Marshal(elements)
	return b
}

// Len returns the number of live (non-tombstoned) elements.
func (r *RGA) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	curr := r.head.Next
	for curr != nil {
		if !curr.Tombstone {
			count++
		}
		curr = curr.Next
	}
	return count
}
