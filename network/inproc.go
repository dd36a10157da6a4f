package network

import (
	"sync"

	"github.com/shinyes/docsync/docid"
)

// Hub wires a set of InProcAdapters together so they can exchange
// ProtocolMessages without a real transport — used by tests. Grounded on
// the teacher's pkg/sync engine.go
// changeQ/runChangeWorker pattern: each adapter owns a buffered inbound
// queue and a single worker goroutine draining it into the subscriber.
type Hub struct {
	mu       sync.Mutex
	adapters map[docid.PeerId]*InProcAdapter
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{adapters: make(map[docid.PeerId]*InProcAdapter)}
}

const inprocQueueSize = 256

// InProcAdapter is an Adapter that delivers messages to other adapters
// registered on the same Hub. Peer discovery is manual: call Connect to
// announce a link in both directions.
type InProcAdapter struct {
	hub    *Hub
	peerID docid.PeerId

	mu      sync.Mutex
	handler func(Event)
	peers   map[docid.PeerId]*InProcAdapter
	ready   bool

	eventQ chan Event
	closed chan struct{}
}

// NewAdapter creates an adapter identified as peerID and registers it on
// hub.
func NewAdapter(hub *Hub, peerID docid.PeerId) *InProcAdapter {
	a := &InProcAdapter{
		hub:    hub,
		peerID: peerID,
		peers:  make(map[docid.PeerId]*InProcAdapter),
		eventQ: make(chan Event, inprocQueueSize),
		closed: make(chan struct{}),
	}
	hub.mu.Lock()
	hub.adapters[peerID] = a
	hub.mu.Unlock()

	go a.runDispatchWorker()
	return a
}

// Connect announces a, and its peer peerID, to each other: both sides
// transition to EventPeerCandidate then EventPeer, mirroring a transport
// completing a handshake.
func (a *InProcAdapter) Connect(peerID docid.PeerId) {
	a.hub.mu.Lock()
	other, ok := a.hub.adapters[peerID]
	a.hub.mu.Unlock()
	if !ok {
		return
	}

	a.mu.Lock()
	a.peers[peerID] = other
	a.ready = true
	a.mu.Unlock()

	other.mu.Lock()
	other.peers[a.peerID] = a
	other.ready = true
	other.mu.Unlock()

	a.enqueue(Event{Type: EventPeerCandidate, PeerId: peerID})
	a.enqueue(Event{Type: EventPeer, PeerId: peerID})
	a.enqueue(Event{Type: EventReady})

	other.enqueue(Event{Type: EventPeerCandidate, PeerId: a.peerID})
	other.enqueue(Event{Type: EventPeer, PeerId: a.peerID})
	other.enqueue(Event{Type: EventReady})
}

// Disconnect tears down the link established by Connect, in both
// directions.
func (a *InProcAdapter) Disconnect(peerID docid.PeerId) {
	a.mu.Lock()
	other, ok := a.peers[peerID]
	delete(a.peers, peerID)
	a.mu.Unlock()
	if !ok {
		return
	}

	other.mu.Lock()
	delete(other.peers, a.peerID)
	other.mu.Unlock()

	a.enqueue(Event{Type: EventPeerDisconnected, PeerId: peerID})
	other.enqueue(Event{Type: EventPeerDisconnected, PeerId: a.peerID})
}

func (a *InProcAdapter) Send(msg ProtocolMessage) error {
	a.mu.Lock()
	target, ok := a.peers[msg.TargetId]
	a.mu.Unlock()
	if !ok {
		return ErrPeerUnreachable{Peer: msg.TargetId}
	}
	target.enqueue(Event{Type: EventMessage, PeerId: a.peerID, Message: msg})
	return nil
}

func (a *InProcAdapter) Subscribe(handler func(Event)) {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
}

func (a *InProcAdapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

func (a *InProcAdapter) Close() error {
	select {
	case <-a.closed:
		return nil
	default:
		close(a.closed)
	}
	a.hub.mu.Lock()
	delete(a.hub.adapters, a.peerID)
	a.hub.mu.Unlock()
	return nil
}

func (a *InProcAdapter) enqueue(ev Event) {
	select {
	case a.eventQ <- ev:
	case <-a.closed:
	}
}

func (a *InProcAdapter) runDispatchWorker() {
	for {
		select {
		case ev := <-a.eventQ:
			a.mu.Lock()
			h := a.handler
			a.mu.Unlock()
			if h != nil {
				h(ev)
			}
		case <-a.closed:
			return
		}
	}
}

// ErrPeerUnreachable is returned by Send when the target has no
// established link — the in-process analogue of a dropped connection.
type ErrPeerUnreachable struct {
	Peer docid.PeerId
}

func (e ErrPeerUnreachable) Error() string {
	return "network: peer unreachable: " + string(e.Peer)
}
