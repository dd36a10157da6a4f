package crdt

import (
	"encoding/json"
	"errors"
	"sync"
)

// PNCounter is a counter that supports both increment and decrement while
// remaining convergent. It is built directly on two VectorClock values
// rather than a pair of plain maps: an origin's running increments and
// running decrements are each monotonically growing per-replica tallies,
// exactly what VectorClock already models (a replica id mapped to a count
// that only ever goes up), so merging a PNCounter reduces to the same
// per-entry max VectorClock.Merge already performs for causal history.
type PNCounter struct {
	ID string `json:"id"`
	Up VectorClock `json:"up"` // cumulative increments, per origin
	Dn VectorClock `json:"dn"` // cumulative decrements (stored positive), per origin
	mu sync.RWMutex
}

// NewPNCounter creates an empty PNCounter owned by id (used as the fallback
// origin for an op that doesn't name one).
func NewPNCounter(id string) *PNCounter {
	return &PNCounter{
		ID: id,
		Up: NewVectorClock(),
		Dn: NewVectorClock(),
	}
}

// PNCounterOp adjusts a PNCounter by Amount: positive increments, negative
// decrements.
type PNCounterOp struct {
	OriginID string `json:"origin_id"`
	Amount   int64  `json:"amount"`
	Ts       int64  `json:"ts"`
}

func (op PNCounterOp) Origin() string   { return op.OriginID }
func (op PNCounterOp) Type() Type       { return TypeCounter }
func (op PNCounterOp) Timestamp() int64 { return op.Ts }

// Apply folds a PNCounterOp into the counter's running tallies. Applying
// the same op twice double-counts it — PNCounter is op-based, not
// idempotent, so callers must deduplicate by vector clock before Apply, the
// same discipline doc.go's ApplyOp already documents for every CRDT here.
func (pn *PNCounter) Apply(op Op) error {
	pnOp, ok := op.(PNCounterOp)
	if !ok {
		return errors.New("invalid op for PNCounter")
	}

	pn.mu.Lock()
	defer pn.mu.Unlock()

	origin := pnOp.OriginID
	if origin == "" {
		origin = pn.ID
	}

	if pnOp.Amount >= 0 {
		pn.Up.Set(origin, pn.Up.Get(origin)+uint64(pnOp.Amount))
	} else {
		pn.Dn.Set(origin, pn.Dn.Get(origin)+uint64(-pnOp.Amount))
	}
	return nil
}

// Value returns the counter's net total: every origin's increments, minus
// every origin's decrements.
func (pn *PNCounter) Value() interface{} {
	pn.mu.RLock()
	defer pn.mu.RUnlock()

	var total int64
	for _, v := range pn.Up {
		total += int64(v)
	}
	for _, v := range pn.Dn {
		total -= int64(v)
	}
	return total
}

// Type returns TypeCounter.
func (pn *PNCounter) Type() Type { return TypeCounter }

// Bytes returns the counter's state serialized as JSON.
func (pn *PNCounter) Bytes() []byte {
	pn.mu.RLock()
	defer pn.mu.RUnlock()
	b, _ := json.Marshal(pn)
	return b
}

// PNCounterState is a snapshot of a PNCounter's per-origin tallies, used for
// state-based merge between two independently-updated replicas.
type PNCounterState struct {
	Up VectorClock `json:"up"`
	Dn VectorClock `json:"dn"`
}

// State returns a copy of the counter's current per-origin tallies.
func (pn *PNCounter) State() PNCounterState {
	pn.mu.RLock()
	defer pn.mu.RUnlock()
	return PNCounterState{Up: pn.Up.Clone(), Dn: pn.Dn.Clone()}
}

// Merge folds another replica's state into this one. Both Up and Dn only
// ever grow, so taking the per-origin max in each direction — exactly
// VectorClock.Merge's causal-history rule — is monotonic and repeated
// merges from any order converge to the same result.
func (pn *PNCounter) Merge(other PNCounterState) {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	pn.Up.Merge(other.Up)
	pn.Dn.Merge(other.Dn)
}
