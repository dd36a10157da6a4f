package crdt

import (
	"encoding/json"
	"errors"
	"sync"
)

// GSet is a grow-only set: elements may be added but never removed.
type GSet struct {
	elems map[interface{}]struct{}
	mu    sync.RWMutex
}

// NewGSet creates an empty GSet.
func NewGSet() *GSet {
	return &GSet{
		elems: make(map[interface{}]struct{}),
	}
}

// SetOp is a GSet mutation. Add must be true; GSet has no remove.
type SetOp struct {
	OriginID string
	Val      interface{}
	Add      bool
	Ts       int64
}

func (op SetOp) Origin() string   { return op.OriginID }
func (op SetOp) Type() Type       { return TypeSet }
func (op SetOp) Timestamp() int64 { return op.Ts }

func (s *GSet) Apply(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sOp, ok := op.(SetOp)
	if !ok {
		return errors.New("invalid op for GSet")
	}
	if !sOp.Add {
		return errors.New("GSet does not support removal")
	}
	s.elems[sOp.Val] = struct{}{}
	return nil
}

func (s *GSet) Value() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]interface{}, 0, len(s.elems))
	for k := range s.elems {
		res = append(res, k)
	}
	return res
}

func (s *GSet) Type() Type { return TypeSet }

// Merge unions other's elements into s. A GSet only ever grows, so union is
// the entire merge rule and it is trivially idempotent and commutative.
func (s *GSet) Merge(other *GSet) {
	other.mu.RLock()
	elems := make([]interface{}, 0, len(other.elems))
	for v := range other.elems {
		elems = append(elems, v)
	}
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range elems {
		s.elems[v] = struct{}{}
	}
}

// orTagSet is the live add-tags observed for one element of an ORSet.
type orTagSet map[string]struct{}

func (t orTagSet) add(tag string)      { t[tag] = struct{}{} }
func (t orTagSet) remove(tags []string) {
	for _, tag := range tags {
		delete(t, tag)
	}
}

// ORSet is an observed-remove set: every add is tagged with a unique id and
// an element is considered present as long as at least one of its tags
// survives. Remove clears the tags the remover had actually observed, so a
// concurrent add (with a tag the remover never saw) wins — add-wins
// semantics.
type ORSet struct {
	elems map[interface{}]orTagSet // element -> observed add-tags
	mu    sync.RWMutex
}

// NewORSet creates an empty ORSet.
func NewORSet() *ORSet {
	return &ORSet{
		elems: make(map[interface{}]orTagSet),
	}
}

// ORSetOp adds or removes an element. Add uses Tag as the new add-tag;
// remove clears the tags listed in RemTags (computed by the remover at
// prepare time from whatever tags it had observed).
type ORSetOp struct {
	OriginID string
	Val      interface{}
	Add      bool
	Tag      string
	RemTags  []string
	Ts       int64
}

func (op ORSetOp) Origin() string   { return op.OriginID }
func (op ORSetOp) Type() Type       { return TypeSet }
func (op ORSetOp) Timestamp() int64 { return op.Ts }

func (s *ORSet) Apply(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sOp, ok := op.(ORSetOp)
	if !ok {
		return errors.New("invalid op for ORSet")
	}

	if sOp.Add {
		s.addLocked(sOp.Val, sOp.Tag)
	} else {
		s.removeLocked(sOp.Val, sOp.RemTags)
	}
	return nil
}

func (s *ORSet) addLocked(val interface{}, tag string) {
	tags, ok := s.elems[val]
	if !ok {
		tags = make(orTagSet)
		s.elems[val] = tags
	}
	tags.add(tag)
}

func (s *ORSet) removeLocked(val interface{}, remTags []string) {
	tags, exists := s.elems[val]
	if !exists {
		return
	}
	tags.remove(remTags)
	if len(tags) == 0 {
		delete(s.elems, val)
	}
}

func (s *ORSet) Value() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]interface{}, 0, len(s.elems))
	for k := range s.elems {
		res = append(res, k)
	}
	return res
}

func (s *ORSet) Type() Type { return TypeSet }

// GetTags returns the live add-tags observed for val, for callers that need
// to compute RemTags for a future remove.
func (s *ORSet) GetTags(val interface{}) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tags, exists := s.elems[val]
	if !exists {
		return nil
	}

	result := make([]string, 0, len(tags))
	for tag := range tags {
		result = append(result, tag)
	}
	return result
}

// ORSetElemState is one element's tag set, captured for a state-based merge
// or for serialization.
type ORSetElemState struct {
	Val  interface{} `json:"val"`
	Tags []string    `json:"tags"`
}

// State returns a snapshot of every live element and its observed tags.
func (s *ORSet) State() []ORSetElemState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ORSetElemState, 0, len(s.elems))
	for val, tags := range s.elems {
		tagList := make([]string, 0, len(tags))
		for tag := range tags {
			tagList = append(tagList, tag)
		}
		out = append(out, ORSetElemState{Val: val, Tags: tagList})
	}
	return out
}

// Merge folds another replica's elements into s by unioning tag sets.
// Union is idempotent and commutative: merging the same state twice, or in
// either order, leaves s in the same place. The merged state carries no
// record of removals, so a tag s has already removed comes back if other
// still holds it.
func (s *ORSet) Merge(other []ORSetElemState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, elem := range other {
		tags, ok := s.elems[elem.Val]
		if !ok {
			tags = make(orTagSet)
			s.elems[elem.Val] = tags
		}
		for _, tag := range elem.Tags {
			tags.add(tag)
		}
	}
}

// Bytes returns the set's state serialized as JSON.
func (s *ORSet) Bytes() []byte {
	b, _ := json.Marshal(s.State())
	return b
}
