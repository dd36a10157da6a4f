package crdt_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shinyes/docsync/crdt"
)

func TestRGA(t *testing.T) {
	r := crdt.NewRGA()
	ts := time.Now().UnixNano()

	// Insert A, B, C as register-backed elements.
	r.Apply(crdt.RGAOp{OriginID: "n1", TypeCode: 0, PrevID: "start", ElemID: "1", InitType: crdt.TypeRegister, InitVal: "A", Ts: ts})
	r.Apply(crdt.RGAOp{OriginID: "n1", TypeCode: 0, PrevID: "1", ElemID: "2", InitType: crdt.TypeRegister, InitVal: "B", Ts: ts + 1})
	r.Apply(crdt.RGAOp{OriginID: "n1", TypeCode: 0, PrevID: "2", ElemID: "3", InitType: crdt.TypeRegister, InitVal: "C", Ts: ts + 2})

	vals := r.Value().([]interface{})
	if fmt.Sprintf("%v%v%v", vals[0], vals[1], vals[2]) != "ABC" {
		t.Errorf("expected ABC, got %v", vals)
	}

	// Insert D after A with a high timestamp.
	r.Apply(crdt.RGAOp{OriginID: "n2", TypeCode: 0, PrevID: "1", ElemID: "4", InitType: crdt.TypeRegister, InitVal: "D", Ts: ts + 10})

	vals = r.Value().([]interface{}) // A D B C
	str := fmt.Sprintf("%v%v%v%v", vals[0], vals[1], vals[2], vals[3])
	if str != "ADBC" {
		t.Errorf("expected ADBC, got %s", str)
	}

	// Remove B.
	r.Apply(crdt.RGAOp{OriginID: "n1", TypeCode: 1, RemoveID: "2", Ts: time.Now().UnixNano()})

	vals = r.Value().([]interface{}) // A D C
	str = fmt.Sprintf("%v%v%v", vals[0], vals[1], vals[2])
	if str != "ADC" {
		t.Errorf("expected ADC, got %s", str)
	}
}

func TestRGANestedMap(t *testing.T) {
	r := crdt.NewRGA()
	ts := time.Now().UnixNano()

	err := r.Apply(crdt.RGAOp{
		OriginID: "n1",
		TypeCode: 0,
		PrevID:   "start",
		ElemID:   "item1",
		InitType: crdt.TypeMap,
		Ts:       ts,
	})
	if err != nil {
		t.Fatalf("insert map element: %v", err)
	}

	child := r.GetElement("item1")
	if child == nil {
		t.Fatal("could not fetch nested element")
	}
	if child.Type() != crdt.TypeMap {
		t.Errorf("expected TypeMap, got %v", child.Type())
	}

	mapCRDT, ok := child.(*crdt.MapCRDT)
	if !ok {
		t.Fatal("could not cast to *crdt.MapCRDT")
	}

	initOp := crdt.MapOp{
		OriginID: "n1",
		Key:      "name",
		IsInit:   true,
		InitType: crdt.TypeRegister,
		Ts:       ts + 1,
	}
	mapCRDT.Apply(initOp)

	setOp := crdt.MapOp{
		OriginID: "n1",
		Key:      "name",
		ChildOp: crdt.LWWOp{
			OriginID: "n1",
			Value:    "Alice",
			Ts:       ts + 2,
		},
		Ts: ts + 2,
	}
	mapCRDT.Apply(setOp)

	val := r.Value().([]interface{})
	if len(val) != 1 {
		t.Fatalf("expected 1 element, got %d", len(val))
	}

	mapVal, ok := val[0].(map[string]interface{})
	if !ok {
		t.Fatalf("expected map value, got %T", val[0])
	}

	if mapVal["name"] != "Alice" {
		t.Errorf("expected name=Alice, got %v", mapVal["name"])
	}
}

func TestRGAChildOpForward(t *testing.T) {
	r := crdt.NewRGA()
	ts := time.Now().UnixNano()

	r.Apply(crdt.RGAOp{
		OriginID: "n1",
		TypeCode: 0,
		PrevID:   "start",
		ElemID:   "item1",
		InitType: crdt.TypeMap,
		Ts:       ts,
	})

	child := r.GetElement("item1")
	mapCRDT := child.(*crdt.MapCRDT)
	mapCRDT.Apply(crdt.MapOp{
		OriginID: "n1",
		Key:      "count",
		IsInit:   true,
		InitType: crdt.TypeCounter,
		Ts:       ts + 1,
	})

	childOp := crdt.MapOp{
		OriginID: "n1",
		Key:      "count",
		ChildOp: crdt.PNCounterOp{
			OriginID: "n1",
			Amount:   5,
			Ts:       ts + 2,
		},
		Ts: ts + 2,
	}

	err := r.Apply(crdt.RGAOp{
		OriginID: "n1",
		TypeCode: 2,
		TargetID: "item1",
		ChildOp:  childOp,
		Ts:       ts + 2,
	})
	if err != nil {
		t.Fatalf("forward child op: %v", err)
	}

	val := r.Value().([]interface{})
	mapVal := val[0].(map[string]interface{})
	if mapVal["count"] != int64(5) {
		t.Errorf("expected count=5, got %v", mapVal["count"])
	}
}
