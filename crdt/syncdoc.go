package crdt

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// This file is the boundary DocSynchronizer drives: it never inspects a
// CrdtDoc's MapCRDT state directly, only SyncState and SyncMessage values
// produced and consumed here. A different CRDT engine could replace this
// file without DocSynchronizer changing at all.

// SyncState is per-peer, opaque bookkeeping: what we believe the peer has
// already incorporated. Grounded on the per-peer sentFrontier/lastRemote
// bookkeeping in the maep node's syncSession, simplified to a single vector
// clock since this engine tracks causality with one clock rather than a
// Merkle summary.
type SyncState struct {
	TheirHeads VectorClock

	// sent distinguishes "never sent this peer anything" from "sent and
	// they're fully caught up" — both look like an empty TheirHeads
	// otherwise. Without it, the very first message to a peer about a
	// brand-new, still-empty document would be suppressed as "nothing to
	// send", and a requesting DocHandle would never emit its initial
	// request.
	sent bool
}

// InitSyncState returns a fresh SyncState for a peer we've never
// synchronized with — we assume they have nothing.
func InitSyncState() SyncState {
	return SyncState{TheirHeads: NewVectorClock()}
}

// opEnvelope carries a Type tag alongside an Op's own JSON encoding, since
// Op is an interface and msgpack (like json) can't pick the concrete type
// back out without help. Mirrors the teacher's OpWrapper/TypedOpWrapper
// pattern, reused here for the wire form of a whole sync message.
type opEnvelope struct {
	Type Type            `msgpack:"type"`
	Data json.RawMessage `msgpack:"data"`
}

// SyncMessage is the wire payload DocSynchronizer exchanges with peers. It
// carries the sender's current heads and any ops the sender believes the
// recipient is missing.
type SyncMessage struct {
	Heads   VectorClock
	Changes []Op
}

// wireSyncMessage is SyncMessage's msgpack-safe shape.
type wireSyncMessage struct {
	Heads   map[string]uint64 `msgpack:"heads"`
	Changes []opEnvelope      `msgpack:"changes"`
}

// wireSyncState is SyncState's msgpack-safe shape.
type wireSyncState struct {
	Heads map[string]uint64 `msgpack:"heads"`
	Sent  bool              `msgpack:"sent"`
}

// EncodeSyncState serializes a SyncState for storage (spec §4.5's optional
// saveSyncState/loadSyncState path).
func EncodeSyncState(ss SyncState) ([]byte, error) {
	return msgpack.Marshal(wireSyncState{Heads: map[string]uint64(ss.TheirHeads), Sent: ss.sent})
}

// DecodeSyncState reverses EncodeSyncState.
func DecodeSyncState(data []byte) (SyncState, error) {
	var wire wireSyncState
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return SyncState{}, fmt.Errorf("decode sync state: %w", err)
	}
	if wire.Heads == nil {
		wire.Heads = map[string]uint64{}
	}
	return SyncState{TheirHeads: VectorClock(wire.Heads), sent: wire.Sent}, nil
}

// EncodeSyncMessage serializes a SyncMessage for the network.
func EncodeSyncMessage(msg *SyncMessage) ([]byte, error) {
	wire := wireSyncMessage{
		Heads:   map[string]uint64(msg.Heads),
		Changes: make([]opEnvelope, 0, len(msg.Changes)),
	}
	for _, op := range msg.Changes {
		data, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("encode op: %w", err)
		}
		wire.Changes = append(wire.Changes, opEnvelope{Type: op.Type(), Data: data})
	}
	return msgpack.Marshal(wire)
}

// DecodeSyncMessage reverses EncodeSyncMessage.
func DecodeSyncMessage(data []byte) (*SyncMessage, error) {
	var wire wireSyncMessage
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode sync message: %w", err)
	}

	changes := make([]Op, 0, len(wire.Changes))
	for _, env := range wire.Changes {
		op, err := OpReg.UnmarshalOp(env.Type, env.Data)
		if err != nil {
			return nil, fmt.Errorf("decode op: %w", err)
		}
		changes = append(changes, op)
	}

	heads := wire.Heads
	if heads == nil {
		heads = map[string]uint64{}
	}
	return &SyncMessage{Heads: VectorClock(heads), Changes: changes}, nil
}

// GenerateSyncMessage computes the next outbound message for a peer given
// what we believe they've already seen. It returns the (possibly updated)
// SyncState, the message, and whether there's anything worth sending — if
// our heads already descend ss.TheirHeads and we have no newer ops, the
// third return is false and callers must not send anything.
//
// The returned SyncState optimistically advances TheirHeads to our current
// heads: once a message carrying those ops is handed to the network
// adapter, we assume it will arrive, rather than waiting for an
// application-level ack. A lost message is recovered by the unavailability
// rule and the next reconnect's round, not by this function retrying.
func GenerateSyncMessage(doc *CrdtDoc, ss SyncState) (SyncState, *SyncMessage, bool) {
	ourHeads := doc.Heads()
	missing := doc.opsSince(ss.TheirHeads)

	if ss.sent && len(missing) == 0 && ourHeads.Descends(ss.TheirHeads) {
		return ss, nil, false
	}

	msg := &SyncMessage{
		Heads:   ourHeads,
		Changes: missing,
	}

	next := SyncState{TheirHeads: ourHeads.Clone(), sent: true}
	return next, msg, true
}

// ReceiveSyncMessage applies an inbound message's changes to doc and
// updates ss to reflect what the sender has told us it holds.
func ReceiveSyncMessage(doc *CrdtDoc, ss SyncState, msg *SyncMessage) (SyncState, error) {
	for _, op := range msg.Changes {
		if err := doc.ApplyOp(op); err != nil {
			return ss, fmt.Errorf("apply remote op: %w", err)
		}
	}

	theirHeads := ss.TheirHeads
	if theirHeads == nil {
		theirHeads = NewVectorClock()
	}
	theirHeads.Merge(msg.Heads)
	return SyncState{TheirHeads: theirHeads, sent: ss.sent}, nil
}
