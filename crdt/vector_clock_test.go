package crdt_test

import (
	"testing"

	"github.com/shinyes/docsync/crdt"
)

func TestVectorClock(t *testing.T) {
	vc1 := crdt.NewVectorClock()
	vc1.Increment("A")
	vc1.Increment("B") // {A:1, B:1}

	vc2 := crdt.NewVectorClock()
	vc2.Increment("A") // {A:1}

	if !vc1.Descends(vc2) {
		t.Errorf("vc1 should descend vc2")
	}

	if vc2.Descends(vc1) {
		t.Errorf("vc2 should not descend vc1")
	}

	vc2.Increment("C") // {A:1, C:1}

	// Neither descends the other: concurrent.
	if vc1.Descends(vc2) || vc2.Descends(vc1) {
		t.Errorf("expected concurrent clocks")
	}

	vc1.Merge(vc2) // {A:1, B:1, C:1}
	if !vc1.Descends(vc2) {
		t.Errorf("merged vc1 should descend vc2")
	}
}

func TestVectorClockSetGetRoundTrip(t *testing.T) {
	vc := crdt.NewVectorClock()
	vc.Set("node1", 100)
	vc.Set("node2", 200)

	if vc.Get("node1") != 100 {
		t.Errorf("expected node1=100, got %d", vc.Get("node1"))
	}
	if vc.Get("missing") != 0 {
		t.Errorf("expected 0 for unseen node, got %d", vc.Get("missing"))
	}

	encoded := vc.Bytes()
	decoded, err := crdt.DecodeVectorClock(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Get("node1") != 100 || decoded.Get("node2") != 200 {
		t.Errorf("round trip mismatch: %v", decoded)
	}
}
