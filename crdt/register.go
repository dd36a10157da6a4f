package crdt

import (
	"errors"
	"sync"
)

// LWWRegister is a last-write-wins register: the write with the highest
// timestamp wins. On an exact timestamp tie, the write from the
// lexicographically greater OriginID wins, so two replicas applying the
// same pair of concurrent same-timestamp writes — in either order —
// converge on the same value instead of depending on application order.
type LWWRegister struct {
	value     interface{}
	timestamp int64
	originID  string
	mu        sync.RWMutex
}

// NewLWWRegister creates a register seeded with an initial value and
// timestamp (0 for a register with no prior writes).
func NewLWWRegister(initialVal interface{}, ts int64) *LWWRegister {
	return &LWWRegister{
		value:     initialVal,
		timestamp: ts,
	}
}

// LWWOp sets the register's value at a given logical timestamp.
type LWWOp struct {
	OriginID string
	Value    interface{}
	Ts       int64
}

func (op LWWOp) Origin() string   { return op.OriginID }
func (op LWWOp) Type() Type       { return TypeRegister }
func (op LWWOp) Timestamp() int64 { return op.Ts }

func (r *LWWRegister) Apply(op Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lwwOp, ok := op.(LWWOp)
	if !ok {
		return errors.New("invalid op for LWWRegister")
	}

	if r.wins(lwwOp) {
		r.value = lwwOp.Value
		r.timestamp = lwwOp.Ts
		r.originID = lwwOp.OriginID
	}

	return nil
}

// wins reports whether op should overwrite the register's current value:
// a strictly newer timestamp always wins, and on a tie the greater
// OriginID wins, so the decision is the same regardless of which replica
// evaluates it or in what order the tied ops arrive.
func (r *LWWRegister) wins(op LWWOp) bool {
	if op.Ts != r.timestamp {
		return op.Ts > r.timestamp
	}
	return op.OriginID > r.originID
}

func (r *LWWRegister) Value() interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

func (r *LWWRegister) Type() Type { return TypeRegister }
