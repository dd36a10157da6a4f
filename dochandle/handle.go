// Package dochandle implements the per-document reference a Repo hands its
// callers: the lifecycle state machine of spec §4.1 plus the in-memory
// CRDT value it guards. Grounded on the teacher's
// manager.Manager.GetRoot load-or-create-then-replay flow, generalized
// from a single blocking call into explicit states so a synchronizer can
// observe and drive the in-between.
package dochandle

import (
	"sync"

	"github.com/shinyes/docsync/crdt"
	"github.com/shinyes/docsync/docid"
)

// State is a DocHandle's lifecycle state. Spec §4.1.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateRequesting  State = "requesting"
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
	StateDeleted     State = "deleted"
)

// EventType enumerates the events a Handle emits.
type EventType string

const (
	EventChange       EventType = "change"
	EventHeadsChanged EventType = "heads-changed"
	EventUnavailable  EventType = "unavailable"
)

// Event is delivered to every subscriber on the handle's owning execution
// context. Doc is populated for Change/HeadsChanged.
type Event struct {
	Type EventType
	Doc  *crdt.CrdtDoc
}

// waiter is a pending doc(allowedStates) call: resolved once the handle's
// state lands in one of the states the caller asked for.
type waiter struct {
	states map[State]struct{}
	done   chan struct{}
}

// Handle is a per-document reference. Exactly one exists per documentId
// within a repo (the repo's handle cache enforces this); Handle itself
// does not enforce uniqueness.
type Handle struct {
	DocumentId docid.DocumentId
	IsNew      bool
	peerID     docid.PeerId

	mu      sync.Mutex
	state   State
	doc     *crdt.CrdtDoc
	waiters []*waiter
	subs    []func(Event)
}

// New constructs a handle in its initial state per spec §4.1: ready
// immediately if isNew, otherwise loading if a storage adapter is
// configured (hasStorage), otherwise requesting. peerID tags every op
// this replica originates locally — it must be the owning repo's own
// PeerId, not the documentId, or two different repos editing the same
// document would tag their ops with the same vector-clock origin.
func New(id docid.DocumentId, peerID docid.PeerId, isNew bool, hasStorage bool) *Handle {
	h := &Handle{DocumentId: id, IsNew: isNew, peerID: peerID}
	switch {
	case isNew:
		h.state = StateReady
		h.doc = crdt.NewCrdtDoc(string(peerID))
	case hasStorage:
		h.state = StateLoading
	default:
		h.state = StateRequesting
		h.doc = crdt.NewCrdtDoc(string(peerID))
	}
	return h
}

// Subscribe registers handler for every event this handle emits from the
// point of the call onward.
func (h *Handle) Subscribe(handler func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, handler)
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// InState reports whether the handle's current state is a member of set.
func (h *Handle) InState(set ...State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inStateLocked(set)
}

func (h *Handle) inStateLocked(set []State) bool {
	for _, s := range set {
		if h.state == s {
			return true
		}
	}
	return false
}

// DocNow returns the handle's current doc value and whether it is defined
// (state ready or requesting with a previously loaded doc). Non-blocking;
// most callers should use Doc instead.
func (h *Handle) DocNow() (*crdt.CrdtDoc, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc, h.doc != nil
}

// Doc blocks the calling goroutine until the handle enters one of
// allowedStates, then returns the doc (possibly nil, e.g. unavailable).
// This is the future doc(allowedStates) describes in spec §4.1 — the
// mechanism a synchronizer uses to wait out an in-flight load.
func (h *Handle) Doc(allowedStates ...State) *crdt.CrdtDoc {
	set := make(map[State]struct{}, len(allowedStates))
	for _, s := range allowedStates {
		set[s] = struct{}{}
	}

	h.mu.Lock()
	if _, ok := set[h.state]; ok {
		doc := h.doc
		h.mu.Unlock()
		return doc
	}
	w := &waiter{states: set, done: make(chan struct{})}
	h.waiters = append(h.waiters, w)
	h.mu.Unlock()

	<-w.done

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc
}

// LoadedFromStorage transitions loading → ready with a nonempty doc, per
// spec §4.1. Calling it outside StateLoading is a no-op.
func (h *Handle) LoadedFromStorage(doc *crdt.CrdtDoc) {
	h.mu.Lock()
	if h.state != StateLoading {
		h.mu.Unlock()
		return
	}
	h.state = StateReady
	h.doc = doc
	h.mu.Unlock()
	h.notifyWaiters()
	h.emit(Event{Type: EventChange, Doc: doc})
	h.emit(Event{Type: EventHeadsChanged, Doc: doc})
}

// Request transitions loading → requesting, per spec §4.1: storage
// returned nothing and the document must be fetched from peers. It emits
// EventChange like every other state transition that installs a doc, so a
// DocSynchronizer's drain-on-change subscription runs here too: requesting
// is one of the states drainPending accepts, and any message buffered
// while the handle was still loading (a decisive doc-unavailable included)
// must not sit stranded in pendingMessages until some later, unrelated
// change happens to fire.
func (h *Handle) Request() {
	h.mu.Lock()
	if h.state != StateLoading {
		h.mu.Unlock()
		return
	}
	h.state = StateRequesting
	h.doc = crdt.NewCrdtDoc(string(h.peerID))
	doc := h.doc
	h.mu.Unlock()
	h.notifyWaiters()
	h.emit(Event{Type: EventChange, Doc: doc})
}

// ReceivedFromPeer transitions requesting → ready on first successful
// receipt of a sync message carrying changes that bring the doc past
// empty. Calling it outside StateRequesting is a no-op — synchronizer
// callers are expected to check InState first when they need to
// distinguish "already ready" from "just became ready".
func (h *Handle) ReceivedFromPeer(doc *crdt.CrdtDoc) {
	h.mu.Lock()
	if h.state != StateRequesting {
		h.mu.Unlock()
		return
	}
	h.state = StateReady
	h.doc = doc
	h.mu.Unlock()
	h.notifyWaiters()
	h.emit(Event{Type: EventChange, Doc: doc})
	h.emit(Event{Type: EventHeadsChanged, Doc: doc})
}

// Unavailable transitions requesting → unavailable. This is the only
// caller-facing way the handle reaches unavailable, per spec §4.2's
// unavailability rule — the synchronizer decides when to call it.
func (h *Handle) Unavailable() {
	h.mu.Lock()
	if h.state != StateRequesting {
		h.mu.Unlock()
		return
	}
	h.state = StateUnavailable
	h.doc = nil
	h.mu.Unlock()
	h.notifyWaiters()
	h.emit(Event{Type: EventUnavailable})
}

// Update atomically replaces the doc via f, then emits change and
// heads-changed. f receives the current doc (never nil once the handle is
// ready) and returns the doc to install — usually the same pointer,
// mutated in place, since CrdtDoc already guards its own state with a
// mutex.
func (h *Handle) Update(f func(*crdt.CrdtDoc) *crdt.CrdtDoc) {
	h.mu.Lock()
	if !h.inStateLocked([]State{StateReady, StateRequesting}) {
		h.mu.Unlock()
		return
	}
	newDoc := f(h.doc)
	h.doc = newDoc
	h.mu.Unlock()

	h.emit(Event{Type: EventChange, Doc: newDoc})
	h.emit(Event{Type: EventHeadsChanged, Doc: newDoc})
}

// Delete transitions {ready, requesting, unavailable} → deleted.
func (h *Handle) Delete() {
	h.mu.Lock()
	if !h.inStateLocked([]State{StateReady, StateRequesting, StateUnavailable}) {
		h.mu.Unlock()
		return
	}
	h.state = StateDeleted
	h.doc = nil
	h.mu.Unlock()
	h.notifyWaiters()
}

func (h *Handle) notifyWaiters() {
	h.mu.Lock()
	state := h.state
	remaining := h.waiters[:0]
	var toFire []*waiter
	for _, w := range h.waiters {
		if _, ok := w.states[state]; ok {
			toFire = append(toFire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	h.waiters = remaining
	h.mu.Unlock()

	for _, w := range toFire {
		close(w.done)
	}
}

func (h *Handle) emit(ev Event) {
	h.mu.Lock()
	subs := make([]func(Event), len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, s := range subs {
		s(ev)
	}
}
