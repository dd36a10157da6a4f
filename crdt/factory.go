package crdt

import (
	"encoding/json"
	"fmt"
)

// ctor builds an empty CRDT of one Type, seeded with id (the origin replica
// id of the op that creates it, used by types like PNCounter that need a
// default origin).
type ctor func(id string) CRDT

// unmarshaler decodes the JSON form of one Type's Op.
type unmarshaler func(data []byte) (Op, error)

// CRDTFactory constructs a CRDT instance for a given Type. It is a thin
// wrapper over a registration table rather than a type switch, so a new
// CRDT kind is added with one Register call instead of touching every
// switch that dispatches on Type across the package.
type CRDTFactory struct {
	ctors map[Type]ctor
}

// NewCRDTFactory builds a factory pre-registered with every CRDT kind this
// package ships.
func NewCRDTFactory() *CRDTFactory {
	f := &CRDTFactory{ctors: make(map[Type]ctor)}
	f.Register(TypeCounter, func(id string) CRDT { return NewPNCounter(id) })
	f.Register(TypeSet, func(string) CRDT { return NewORSet() })
	f.Register(TypeMap, func(string) CRDT { return NewMapCRDT() })
	f.Register(TypeSequence, func(string) CRDT { return NewRGA() })
	f.Register(TypeAttachment, func(string) CRDT { return &Attachment{Register: NewLWWRegister(Metadata{}, 0)} })
	f.Register(TypeRegister, func(string) CRDT { return NewLWWRegister(nil, 0) })
	return f
}

// Register installs or replaces the constructor for typ.
func (f *CRDTFactory) Register(typ Type, c ctor) {
	f.ctors[typ] = c
}

// NewCRDT creates a new, empty CRDT instance of the given type.
func (f *CRDTFactory) NewCRDT(id string, typ Type) (CRDT, error) {
	c, ok := f.ctors[typ]
	if !ok {
		return nil, fmt.Errorf("unknown crdt type: %s", typ)
	}
	return c(id), nil
}

// OpRegistry deserializes an Op by its Type, since Op is an interface and
// JSON/msgpack can't pick the concrete type on their own.
type OpRegistry struct {
	decoders map[Type]unmarshaler
}

// NewOpRegistry builds a registry pre-registered with every Op kind this
// package ships.
func NewOpRegistry() *OpRegistry {
	r := &OpRegistry{decoders: make(map[Type]unmarshaler)}

	r.Register(TypeCounter, func(data []byte) (Op, error) {
		var o PNCounterOp
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("unmarshal PNCounterOp: %w", err)
		}
		return o, nil
	})

	// A set op decodes as the newer tagged ORSetOp. JSON written for the
	// tag-less SetOp also decodes as an ORSetOp (with an empty Tag), since
	// its fields are a subset; the SetOp branch runs only when the ORSetOp
	// decode itself fails.
	r.Register(TypeSet, func(data []byte) (Op, error) {
		var o ORSetOp
		if err := json.Unmarshal(data, &o); err == nil {
			return o, nil
		}
		var legacy SetOp
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("unmarshal SetOp: %w", err)
		}
		return legacy, nil
	})

	lwwDecoder := func(data []byte) (Op, error) {
		var o LWWOp
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("unmarshal LWWOp: %w", err)
		}
		return o, nil
	}
	r.Register(TypeRegister, lwwDecoder)
	r.Register(TypeAttachment, lwwDecoder)

	r.Register(TypeSequence, func(data []byte) (Op, error) {
		var o RGAOp
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("unmarshal RGAOp: %w", err)
		}
		return o, nil
	})

	r.Register(TypeMap, func(data []byte) (Op, error) {
		var o MapOp
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("unmarshal MapOp: %w", err)
		}
		return o, nil
	})

	return r
}

// Register installs or replaces the decoder for typ.
func (r *OpRegistry) Register(typ Type, u unmarshaler) {
	r.decoders[typ] = u
}

// UnmarshalOp deserializes an Op given its declared type.
func (r *OpRegistry) UnmarshalOp(typ Type, data []byte) (Op, error) {
	u, ok := r.decoders[typ]
	if !ok {
		return nil, fmt.Errorf("unknown op type: %s", typ)
	}
	return u(data)
}

var (
	// Factory is the package-wide CRDT constructor.
	Factory = NewCRDTFactory()

	// OpReg is the package-wide Op deserializer.
	OpReg = NewOpRegistry()
)

// NewCRDTByType is a convenience wrapper around Factory.NewCRDT.
func NewCRDTByType(id string, typ Type) (CRDT, error) {
	return Factory.NewCRDT(id, typ)
}

// UnmarshalOpByType is a convenience wrapper around OpReg.UnmarshalOp.
func UnmarshalOpByType(typ Type, data []byte) (Op, error) {
	return OpReg.UnmarshalOp(typ, data)
}
