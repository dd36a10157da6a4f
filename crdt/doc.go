package crdt

import (
	"sync"
	"time"
)

// CrdtDoc is a document's CRDT state: a MapCRDT root plus the append-only
// op log and vector clock syncdoc.go needs to compute what a peer is still
// owed. DocSynchronizer and DocHandle never touch CrdtDoc directly — they
// only see the opaque surface in syncdoc.go.
type CrdtDoc struct {
	PeerID string

	mu    sync.RWMutex
	root  *MapCRDT
	ops   []Op
	clock VectorClock
}

// NewCrdtDoc creates an empty document attributed to peerID — the origin
// recorded on every local op.
func NewCrdtDoc(peerID string) *CrdtDoc {
	return &CrdtDoc{
		PeerID: peerID,
		root:   NewMapCRDT(),
		clock:  NewVectorClock(),
	}
}

// Heads returns a copy of the document's current vector clock.
func (d *CrdtDoc) Heads() VectorClock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clock.Clone()
}

// Value returns the document's materialized key/value state.
func (d *CrdtDoc) Value() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root.Value().(map[string]interface{})
}

// Get returns the CRDT at key, or nil.
func (d *CrdtDoc) Get(key string) CRDT {
	return d.root.GetChild(key)
}

// Keys returns the document's top-level field names.
func (d *CrdtDoc) Keys() []string {
	return d.root.Keys()
}

// nextTimestamp produces a strictly increasing logical timestamp for a
// locally-originated op.
func (d *CrdtDoc) nextTimestamp() int64 {
	d.mu.RLock()
	last := d.clock[d.PeerID]
	d.mu.RUnlock()

	now := time.Now().UnixNano()
	if uint64(now) <= last {
		now = int64(last + 1)
	}
	return now
}

// InitField creates a new field of the given type at key if it doesn't
// already exist. If key is already set the existing field is kept; the
// init op is still appended to the op log and returned.
func (d *CrdtDoc) InitField(key string, typ Type) Op {
	op := MapOp{
		OriginID: d.PeerID,
		Key:      key,
		IsInit:   true,
		InitType: typ,
		Ts:       d.nextTimestamp(),
	}
	d.apply(op)
	return op
}

// SetField routes childOp to the CRDT at key, applying locally and
// returning the wrapping MapOp so callers can forward it to peers.
func (d *CrdtDoc) SetField(key string, childOp Op) Op {
	op := MapOp{
		OriginID: d.PeerID,
		Key:      key,
		ChildOp:  childOp,
		Ts:       d.nextTimestamp(),
	}
	d.apply(op)
	return op
}

// RemoveField deletes key from the document.
func (d *CrdtDoc) RemoveField(key string) Op {
	op := MapOp{
		OriginID: d.PeerID,
		Key:      key,
		IsRemove: true,
		Ts:       d.nextTimestamp(),
	}
	d.apply(op)
	return op
}

// ApplyOp merges a remote op (typically received inside a sync message)
// into the document, appending it to the op log and advancing the clock
// for its origin. Applying an op this document has already seen (same
// origin, timestamp not newer than what's recorded) is a safe no-op at the
// clock level, though MapCRDT.Apply itself isn't strictly idempotent for
// every child type — callers should filter by vector clock before calling.
func (d *CrdtDoc) ApplyOp(op Op) error {
	return d.apply(op)
}

func (d *CrdtDoc) apply(op Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.root.Apply(op); err != nil {
		return err
	}

	d.ops = append(d.ops, op)
	origin := op.Origin()
	ts := uint64(op.Timestamp())
	if ts > d.clock[origin] {
		d.clock[origin] = ts
	}
	return nil
}

// OpsSince returns every op not yet reflected in since, in log order —
// the set a storage coordinator or peer still needs.
func (d *CrdtDoc) OpsSince(since VectorClock) []Op {
	return d.opsSince(since)
}

// opsSince returns every op whose origin/timestamp isn't yet reflected in
// since, in log order. Grounded on the teacher's SyncManager.GenerateDelta
// vector-clock filter.
func (d *CrdtDoc) opsSince(since VectorClock) []Op {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Op
	for _, op := range d.ops {
		origin := op.Origin()
		ts := uint64(op.Timestamp())
		if seen, ok := since[origin]; ok && seen >= ts {
			continue
		}
		out = append(out, op)
	}
	return out
}
