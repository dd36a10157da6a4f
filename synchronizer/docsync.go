// Package synchronizer implements the two state machines that are the
// hard part of this system: DocSynchronizer (spec §4.2), one per
// document, and CollectionSynchronizer (spec §4.3), one per repo.
// Grounded on the teacher's manager/sync.go (SyncManager's vector-clock
// delta generation/application, generalized here behind crdt.SyncState),
// pkg/sync's NodeManager (per-peer state map, OnPeerConnected/
// OnPeerDisconnected, mutex-guarded transitions) and engine.go's fan-out
// broadcast pattern; per-peer session bookkeeping modeled after
// other_examples/juanpablocruz-maep__node.go's syncSession.
package synchronizer

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/shinyes/docsync/crdt"
	"github.com/shinyes/docsync/dochandle"
	"github.com/shinyes/docsync/docid"
	"github.com/shinyes/docsync/network"
)

// PeerState is a DocSynchronizer's belief about one peer's knowledge of
// the document. Spec §4.2.
type PeerState string

const (
	PeerUnknown        PeerState = "unknown"
	PeerRequesting     PeerState = "requesting"
	PeerHasDoc         PeerState = "hasDoc"
	PeerDocUnavailable PeerState = "docUnavailable"
)

// DocSynchronizer owns sync state for every peer that has ever
// communicated about one document. One instance per document, created on
// demand by a CollectionSynchronizer.
type DocSynchronizer struct {
	documentId docid.DocumentId
	selfID     docid.PeerId
	handle     *dochandle.Handle
	send       func(network.ProtocolMessage) error
	log        zerolog.Logger

	mu              sync.Mutex
	peers           []docid.PeerId
	peerStates      map[docid.PeerId]PeerState
	syncStates      map[docid.PeerId]crdt.SyncState
	recognizedPeers map[docid.PeerId]struct{}
	pendingMessages []network.ProtocolMessage
	syncStarted     bool
}

// New constructs a DocSynchronizer bound to handle and subscribes to its
// events: local (or applied-remote) changes fan out to every active peer,
// and any message that arrived while the handle was still loading gets
// drained the moment it becomes ready.
func New(id docid.DocumentId, selfID docid.PeerId, handle *dochandle.Handle, send func(network.ProtocolMessage) error, log zerolog.Logger) *DocSynchronizer {
	s := &DocSynchronizer{
		documentId:      id,
		selfID:          selfID,
		handle:          handle,
		send:            send,
		log:             log.With().Str("component", "docsync").Str("doc", id.String()).Logger(),
		peerStates:      make(map[docid.PeerId]PeerState),
		syncStates:      make(map[docid.PeerId]crdt.SyncState),
		recognizedPeers: make(map[docid.PeerId]struct{}),
	}

	handle.Subscribe(func(ev dochandle.Event) {
		switch ev.Type {
		case dochandle.EventChange:
			s.drainPending()
			s.broadcastToActivePeers()
		case dochandle.EventHeadsChanged:
			// handled via EventChange; no separate action needed here.
		}
	})

	return s
}

// DocumentId returns the document this synchronizer is bound to.
func (s *DocSynchronizer) DocumentId() docid.DocumentId { return s.documentId }

// Peers returns the currently active peer set, in the order they joined.
func (s *DocSynchronizer) Peers() []docid.PeerId {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]docid.PeerId, len(s.peers))
	copy(out, s.peers)
	return out
}

// PeerState returns what this synchronizer believes peer knows about the
// document, or PeerUnknown if it has never heard of peer.
func (s *DocSynchronizer) PeerState(peer docid.PeerId) PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.peerStates[peer]; ok {
		return st
	}
	return PeerUnknown
}

// BeginSync marks syncStarted and, for each peer, defensively round-trips
// its sync state through encode/decode before emitting an outbound sync
// (or request) message. Spec §4.2: the round-trip guarantees the
// in-memory state matches its serialized form and breaks infinite loops
// observed when a peer disconnects mid-send. Blocks until the handle's doc
// is materialized.
func (s *DocSynchronizer) BeginSync(peers []docid.PeerId) error {
	s.mu.Lock()
	s.syncStarted = true
	s.mu.Unlock()

	s.handle.Doc(dochandle.StateReady, dochandle.StateRequesting)

	var errs []error
	for _, p := range peers {
		s.mu.Lock()
		ss, ok := s.syncStates[p]
		if !ok {
			ss = crdt.InitSyncState()
		}
		if encoded, err := crdt.EncodeSyncState(ss); err == nil {
			if decoded, err2 := crdt.DecodeSyncState(encoded); err2 == nil {
				ss = decoded
			}
		}
		s.syncStates[p] = ss
		if !slices.Contains(s.peers, p) {
			s.peers = append(s.peers, p)
		}
		if _, ok := s.peerStates[p]; !ok {
			s.peerStates[p] = PeerUnknown
		}
		s.mu.Unlock()

		if err := s.sendSyncTo(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EndSync removes peer from the active set. Its syncState and peerState
// survive — reconnection resumes where it left off, and the
// unavailability calculation still needs to see the last-known state.
func (s *DocSynchronizer) EndSync(peer docid.PeerId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.Index(s.peers, peer)
	if idx >= 0 {
		s.peers = slices.Delete(s.peers, idx, idx+1)
	}
}

// ReceiveMessage is the entry point for an inbound ProtocolMessage
// addressed to this document. Spec §4.2's receiveSyncMessage.
func (s *DocSynchronizer) ReceiveMessage(m network.ProtocolMessage) error {
	if m.DocumentId != s.documentId {
		return newProtocolViolation("message documentId does not match this synchronizer's document")
	}

	s.mu.Lock()
	s.recognizedPeers[m.SenderId] = struct{}{}
	ready := s.handle.InState(dochandle.StateReady, dochandle.StateRequesting)
	if !ready {
		s.pendingMessages = append(s.pendingMessages, m)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.drainPending()
	s.processMessage(m)
	return nil
}

// drainPending empties the pending-message buffer in arrival order. Safe
// to call reentrantly: new arrivals appended mid-drain are picked up by
// the next loop iteration since the queue is re-read under lock each
// time.
func (s *DocSynchronizer) drainPending() {
	if !s.handle.InState(dochandle.StateReady, dochandle.StateRequesting) {
		return
	}
	for {
		s.mu.Lock()
		if len(s.pendingMessages) == 0 {
			s.mu.Unlock()
			return
		}
		next := s.pendingMessages[0]
		s.pendingMessages = s.pendingMessages[1:]
		s.mu.Unlock()
		s.processMessage(next)
	}
}

// processMessage applies one already-dequeued message's effects: peer
// state transitions, CRDT application, the respond-to-one-peer step, and
// the unavailability re-check.
func (s *DocSynchronizer) processMessage(m network.ProtocolMessage) {
	if m.Type == network.MessageRequest || m.Type == network.MessageDocUnavailable {
		s.mu.Lock()
		s.peerStates[m.SenderId] = PeerDocUnavailable
		s.mu.Unlock()
		s.evaluateUnavailability()
		if m.Type == network.MessageDocUnavailable {
			return
		}
	}

	if len(m.Data) == 0 {
		return
	}

	msg, err := crdt.DecodeSyncMessage(m.Data)
	if err != nil {
		s.log.Warn().Err(err).Str("peer", string(m.SenderId)).Msg("dropping malformed sync message")
		return
	}

	if len(msg.Heads) > 0 {
		s.mu.Lock()
		s.peerStates[m.SenderId] = PeerHasDoc
		s.mu.Unlock()
	}

	doc, ok := s.handle.DocNow()
	if !ok {
		return
	}

	s.mu.Lock()
	ss, ok := s.syncStates[m.SenderId]
	if !ok {
		ss = crdt.InitSyncState()
	}
	s.mu.Unlock()

	wasRequesting := s.handle.InState(dochandle.StateRequesting)
	wasEmpty := len(doc.Heads()) == 0

	newSS, err := crdt.ReceiveSyncMessage(doc, ss, msg)
	if err != nil {
		s.log.Warn().Err(err).Str("peer", string(m.SenderId)).Msg("failed to apply inbound sync message")
		return
	}

	s.mu.Lock()
	s.syncStates[m.SenderId] = newSS
	s.mu.Unlock()

	if wasRequesting && wasEmpty && len(doc.Heads()) > 0 {
		s.handle.ReceivedFromPeer(doc)
	} else {
		s.handle.Update(func(d *crdt.CrdtDoc) *crdt.CrdtDoc { return d })
	}

	if err := s.sendSyncTo(m.SenderId); err != nil {
		s.log.Warn().Err(err).Str("peer", string(m.SenderId)).Msg("failed to send responsive sync message")
	}

	s.evaluateUnavailability()
}

// broadcastToActivePeers sends a tailored sync message to every currently
// active peer. Spec §4.2: "no fan-out batching; each peer gets its own
// precisely tailored message." Safe to call unconditionally on every
// handle.change — generateSyncMessage is a no-op for a peer whose
// syncState already reflects our current heads.
func (s *DocSynchronizer) broadcastToActivePeers() {
	for _, p := range s.Peers() {
		if err := s.sendSyncTo(p); err != nil {
			s.log.Warn().Err(err).Str("peer", string(p)).Msg("failed to broadcast change")
		}
	}
}

// sendSyncTo generates, classifies, and sends the next outbound message
// for peer, per spec §4.2's outbound sync generation steps.
func (s *DocSynchronizer) sendSyncTo(peer docid.PeerId) error {
	doc, ok := s.handle.DocNow()
	if !ok {
		return nil
	}

	s.mu.Lock()
	ss, ok := s.syncStates[peer]
	if !ok {
		ss = crdt.InitSyncState()
	}
	s.mu.Unlock()

	newSS, msg, hasMsg := crdt.GenerateSyncMessage(doc, ss)

	s.mu.Lock()
	s.syncStates[peer] = newSS
	s.mu.Unlock()

	if !hasMsg {
		return nil
	}

	data, err := crdt.EncodeSyncMessage(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, recognized := s.recognizedPeers[peer]
	state, hasState := s.peerStates[peer]
	msgType := network.MessageSync
	if len(doc.Heads()) == 0 && !recognized && (!hasState || state == PeerUnknown) {
		msgType = network.MessageRequest
		s.peerStates[peer] = PeerRequesting
	} else if len(msg.Heads) > 0 {
		s.peerStates[peer] = PeerHasDoc
	}
	s.recognizedPeers[peer] = struct{}{}
	s.mu.Unlock()

	return s.send(network.ProtocolMessage{
		Type:       msgType,
		SenderId:   s.selfID,
		TargetId:   peer,
		DocumentId: s.documentId,
		Data:       data,
	})
}

// evaluateUnavailability implements spec §4.2's unavailability rule: when
// syncing has started, the handle is requesting, there is at least one
// peer, and every one of them has told us they don't have the document,
// we tell them all and mark the handle unavailable. This is the only path
// to StateUnavailable.
func (s *DocSynchronizer) evaluateUnavailability() {
	s.mu.Lock()
	if !s.syncStarted || len(s.peers) == 0 {
		s.mu.Unlock()
		return
	}
	allUnavailable := true
	for _, p := range s.peers {
		if s.peerStates[p] != PeerDocUnavailable {
			allUnavailable = false
			break
		}
	}
	peersSnapshot := make([]docid.PeerId, len(s.peers))
	copy(peersSnapshot, s.peers)
	s.mu.Unlock()

	if !allUnavailable || !s.handle.InState(dochandle.StateRequesting) {
		return
	}

	for _, p := range peersSnapshot {
		if err := s.send(network.ProtocolMessage{
			Type:       network.MessageDocUnavailable,
			SenderId:   s.selfID,
			TargetId:   p,
			DocumentId: s.documentId,
		}); err != nil {
			s.log.Warn().Err(err).Str("peer", string(p)).Msg("failed to announce doc-unavailable")
		}
	}
	s.handle.Unavailable()
}
