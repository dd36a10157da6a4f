package crdt_test

import (
	"testing"
	"time"

	"github.com/shinyes/docsync/crdt"
)

func TestLWWRegister(t *testing.T) {
	r := crdt.NewLWWRegister("initial", 0)

	ts1 := time.Now().UnixNano()
	r.Apply(crdt.LWWOp{OriginID: "node1", Value: "update1", Ts: ts1})

	if val := r.Value().(string); val != "update1" {
		t.Errorf("expected update1, got %v", val)
	}

	// Older write, should be ignored.
	r.Apply(crdt.LWWOp{OriginID: "node2", Value: "old_update", Ts: ts1 - 1000})

	if val := r.Value().(string); val != "update1" {
		t.Errorf("expected update1 unchanged, got %v", val)
	}

	// Newer write, should win.
	r.Apply(crdt.LWWOp{OriginID: "node3", Value: "new_update", Ts: ts1 + 1000})

	if val := r.Value().(string); val != "new_update" {
		t.Errorf("expected new_update, got %v", val)
	}
}

// Two replicas applying the same pair of same-timestamp writes in opposite
// order must still converge: the tie-break is the OriginID comparison, not
// which write happened to be applied first.
func TestLWWRegisterTieBreakIsDeterministic(t *testing.T) {
	ts := time.Now().UnixNano()
	opA := crdt.LWWOp{OriginID: "alpha", Value: "from-alpha", Ts: ts}
	opB := crdt.LWWOp{OriginID: "bravo", Value: "from-bravo", Ts: ts}

	r1 := crdt.NewLWWRegister(nil, 0)
	r1.Apply(opA)
	r1.Apply(opB)

	r2 := crdt.NewLWWRegister(nil, 0)
	r2.Apply(opB)
	r2.Apply(opA)

	if r1.Value() != r2.Value() {
		t.Fatalf("replicas diverged on a timestamp tie: %v vs %v", r1.Value(), r2.Value())
	}
	if r1.Value() != "from-bravo" {
		t.Errorf("expected greater OriginID (bravo) to win the tie, got %v", r1.Value())
	}
}
