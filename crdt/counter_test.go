package crdt_test

import (
	"testing"
	"time"

	"github.com/shinyes/docsync/crdt"
)

func TestPNCounter(t *testing.T) {
	pn := crdt.NewPNCounter("node1")

	pn.Apply(crdt.PNCounterOp{OriginID: "node1", Amount: 10, Ts: time.Now().UnixNano()})
	pn.Apply(crdt.PNCounterOp{OriginID: "node1", Amount: -3, Ts: time.Now().UnixNano()})
	pn.Apply(crdt.PNCounterOp{OriginID: "node2", Amount: -2, Ts: time.Now().UnixNano()})

	if val := pn.Value().(int64); val != 5 { // 10 - 3 - 2 = 5
		t.Errorf("expected 5, got %d", val)
	}
}

func TestPNCounterIncrease(t *testing.T) {
	pn := crdt.NewPNCounter("node1")

	op1 := crdt.PNCounterOp{OriginID: "node1", Amount: 5, Ts: time.Now().UnixNano()}
	pn.Apply(op1)

	if val := pn.Value().(int64); val != 5 {
		t.Errorf("expected 5, got %d", val)
	}

	op2 := crdt.PNCounterOp{OriginID: "node2", Amount: 10, Ts: time.Now().UnixNano()}
	pn.Apply(op2)

	if val := pn.Value().(int64); val != 15 {
		t.Errorf("expected 15, got %d", val)
	}
}

func TestPNCounterMerge(t *testing.T) {
	pn1 := crdt.NewPNCounter("node1")
	pn2 := crdt.NewPNCounter("node2")

	pn1.Apply(crdt.PNCounterOp{OriginID: "node1", Amount: 10, Ts: time.Now().UnixNano()})
	pn1.Apply(crdt.PNCounterOp{OriginID: "node1", Amount: -3, Ts: time.Now().UnixNano()})

	pn2.Apply(crdt.PNCounterOp{OriginID: "node2", Amount: 5, Ts: time.Now().UnixNano()})
	pn2.Apply(crdt.PNCounterOp{OriginID: "node2", Amount: -2, Ts: time.Now().UnixNano()})

	if val := pn1.Value().(int64); val != 7 {
		t.Errorf("pn1 before merge: expected 7, got %d", val)
	}
	if val := pn2.Value().(int64); val != 3 {
		t.Errorf("pn2 before merge: expected 3, got %d", val)
	}

	pn1.Merge(pn2.State())
	pn2.Merge(pn1.State())

	// (10 + 5) - (3 + 2) = 10, both replicas converge
	if val := pn1.Value().(int64); val != 10 {
		t.Errorf("pn1 after merge: expected 10, got %d", val)
	}
	if val := pn2.Value().(int64); val != 10 {
		t.Errorf("pn2 after merge: expected 10, got %d", val)
	}
}
