// Package crdt holds the field-level CRDT primitives a document is built
// from (counters, sets, registers, sequences, maps, attachments) plus the
// opaque sync-message protocol (syncdoc.go) that sits between
// DocSynchronizer and these primitives. The synchronizer never looks inside
// a document's CRDT state; it only calls the functions in syncdoc.go.
package crdt

// Type identifies the kind of CRDT a field or document root holds.
type Type int

const (
	TypeCounter Type = iota
	TypeSet
	TypeRegister
	TypeSequence
	TypeMap
	TypeAttachment
)

func (t Type) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeSet:
		return "set"
	case TypeRegister:
		return "register"
	case TypeSequence:
		return "sequence"
	case TypeMap:
		return "map"
	case TypeAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// Op is a single mutation applied to a CRDT.
type Op interface {
	// Origin returns the replica id that produced this op.
	Origin() string
	// Type returns the CRDT type this op applies to.
	Type() Type
	// Timestamp returns a logical clock value, 0 if unused.
	Timestamp() int64
}

// State is implemented by CRDTs that can serialize their full state
// independent of the op log that produced it (used for snapshots).
type State interface {
	Bytes() []byte
}

// CRDT is the common interface every field-level or document-level CRDT in
// this package satisfies.
type CRDT interface {
	// Apply merges a remote or local op into the receiver's state.
	Apply(op Op) error
	// Value returns the CRDT's current materialized value.
	Value() interface{}
	// Type returns this CRDT's type.
	Type() Type
}

// DeltaCRDT extends CRDT with delta-based sync support.
type DeltaCRDT interface {
	CRDT
	// Delta returns the change since some earlier point (implementation
	// defined; a real delta-CRDT would take a version vector as input).
	Delta() State
	// MergeDelta merges a delta produced by Delta into current state.
	MergeDelta(delta State) error
}
