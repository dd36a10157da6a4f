package crdt

import "github.com/vmihailenco/msgpack/v5"

// VectorClock maps a replica id to a counter that only grows. A CrdtDoc
// records, per origin, the highest op timestamp it has incorporated; that
// clock bounds which ops GenerateSyncMessage still owes a peer, and is the
// opaque payload a SyncState wraps.
type VectorClock map[string]uint64

// NewVectorClock creates an empty clock (all replicas at 0).
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Get returns the counter for nodeID, 0 if never seen.
func (vc VectorClock) Get(nodeID string) uint64 {
	return vc[nodeID]
}

// Set pins the counter for nodeID to an exact value, used when rebuilding a
// clock from a persisted op log rather than incrementing live.
func (vc VectorClock) Set(nodeID string, counter uint64) {
	vc[nodeID] = counter
}

// Increment bumps nodeID's counter by one, recording a local op.
func (vc VectorClock) Increment(nodeID string) {
	vc[nodeID]++
}

// Merge folds other into vc by taking the max counter per replica.
func (vc VectorClock) Merge(other VectorClock) {
	for id, counter := range other {
		if counter > vc[id] {
			vc[id] = counter
		}
	}
}

// Descends reports whether vc has seen everything other has seen — the
// "<=" direction of the partial order. Two clocks where neither descends
// the other are concurrent.
func (vc VectorClock) Descends(other VectorClock) bool {
	for id, otherCtr := range other {
		if vc[id] < otherCtr {
			return false
		}
	}
	return true
}

// Clone returns an independent copy, so callers can mutate without
// aliasing a clock another goroutine might be reading.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Bytes msgpack-encodes the clock for inclusion in an encoded sync state.
func (vc VectorClock) Bytes() []byte {
	b, err := msgpack.Marshal(map[string]uint64(vc))
	if err != nil {
		return nil
	}
	return b
}

// DecodeVectorClock reverses Bytes.
func DecodeVectorClock(data []byte) (VectorClock, error) {
	var raw map[string]uint64
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return VectorClock(raw), nil
}
