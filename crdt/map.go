package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// MapCRDT is a key -> CRDT container. Keys are added by initializing a
// child CRDT of some Type at that key; further ops on the key are routed to
// the child. This is the root structure a document's top-level state is
// built from: each field of a document is a key into a MapCRDT.
type MapCRDT struct {
	data map[string]CRDT
	mu   sync.RWMutex
}

// NewMapCRDT creates an empty MapCRDT.
func NewMapCRDT() *MapCRDT {
	return &MapCRDT{
		data: make(map[string]CRDT),
	}
}

// MapOp either initializes a child CRDT at Key, removes Key, or forwards
// ChildOp to the CRDT already at Key.
type MapOp struct {
	OriginID string
	Key      string

	ChildOp Op

	IsInit   bool
	InitType Type
	IsRemove bool

	Ts int64
}

func (op MapOp) Origin() string   { return op.OriginID }
func (op MapOp) Type() Type       { return TypeMap }
func (op MapOp) Timestamp() int64 { return op.Ts }

// TypedOpWrapper carries a Type alongside an Op's raw encoded form so the Op
// interface can be reconstructed on decode via OpRegistry.
type TypedOpWrapper struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (op MapOp) MarshalJSON() ([]byte, error) {
	type Alias MapOp
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

func (op *MapOp) UnmarshalJSON(data []byte) error {
	type Alias MapOp
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

func (m *MapCRDT) Apply(op Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mOp, ok := op.(MapOp)
	if !ok {
		return errors.New("invalid op for MapCRDT")
	}

	if mOp.IsRemove {
		delete(m.data, mOp.Key)
		return nil
	}

	if mOp.IsInit {
		if err := m.initLocked(mOp.OriginID, mOp.Key, mOp.InitType); err != nil {
			return err
		}
	}

	if mOp.ChildOp == nil {
		return nil
	}

	child, exists := m.data[mOp.Key]
	if !exists {
		return fmt.Errorf("map key %q has no child to apply op to", mOp.Key)
	}
	return child.Apply(mOp.ChildOp)
}

// initLocked installs a fresh child of typ at key, unless one is already
// there — a key is initialized at most once, so a replayed or concurrent
// init op is a no-op rather than an overwrite. Caller holds m.mu.
func (m *MapCRDT) initLocked(originID, key string, typ Type) error {
	if _, exists := m.data[key]; exists {
		return nil
	}
	child, err := Factory.NewCRDT(originID, typ)
	if err != nil {
		return fmt.Errorf("init map key %q: %w", key, err)
	}
	m.data[key] = child
	return nil
}

func (m *MapCRDT) Value() interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]interface{})
	for k, v := range m.data {
		res[k] = v.Value()
	}
	return res
}

func (m *MapCRDT) Type() Type { return TypeMap }

// AddChild installs a child CRDT at key directly, bypassing Apply. Used when
// constructing a document's initial shape locally.
func (m *MapCRDT) AddChild(key string, c CRDT) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = c
}

// GetChild returns the CRDT at key, or nil if unset.
func (m *MapCRDT) GetChild(key string) CRDT {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key]
}

// MapCRDTState is the serialized form of a MapCRDT's children.
type MapCRDTState struct {
	Children map[string]MapChildState `json:"children"`
}

// MapChildState is one child's type tag plus its serialized state.
type MapChildState struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Bytes returns the map's state, recursively serializing each child via its
// own Bytes() if it implements State, falling back to JSON otherwise.
func (m *MapCRDT) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := MapCRDTState{
		Children: make(map[string]MapChildState),
	}

	for key, child := range m.data {
		var data []byte
		if stateC, ok := child.(State); ok {
			data = stateC.Bytes()
		} else {
			data, _ = json.Marshal(child)
		}

		state.Children[key] = MapChildState{
			Type: child.Type(),
			Data: data,
		}
	}

	b, _ := json.Marshal(state)
	return b
}

// Keys returns the map's current key set.
func (m *MapCRDT) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of keys currently set.
func (m *MapCRDT) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
