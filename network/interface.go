// Package network defines the capability the synchronizer consumes to move
// protocol messages between peers. The core never depends on a concrete
// transport — only on the Adapter interface below — so a test, an
// in-process demo, and a WebSocket deployment all satisfy the same
// contract. Grounded on the capability-interface shape of
// other_examples/nustiueudinastea-doltswarm's Transport/Gossip/Exchange
// split, adapted from a gossip/bundle model to an addressed-message model.
package network

import (
	"github.com/shinyes/docsync/docid"
)

// MessageType enumerates the wire-level kinds of ProtocolMessage. Spec §6.
type MessageType string

const (
	MessageSync          MessageType = "sync"
	MessageRequest       MessageType = "request"
	MessageDocUnavailable MessageType = "doc-unavailable"
	MessageEphemeral     MessageType = "ephemeral"
)

// ProtocolMessage is the addressed envelope the synchronizer exchanges with
// an Adapter. Data carries the CRDT's opaque encoded sync message; it is
// required for sync/request and absent for doc-unavailable.
type ProtocolMessage struct {
	Type       MessageType
	SenderId   docid.PeerId
	TargetId   docid.PeerId
	DocumentId docid.DocumentId
	Data       []byte
}

// EventType enumerates the events an Adapter produces, per spec §6.
type EventType string

const (
	EventPeerCandidate   EventType = "peer-candidate"
	EventPeer            EventType = "peer"
	EventPeerDisconnected EventType = "peer-disconnected"
	EventMessage          EventType = "message"
	EventReady            EventType = "ready"
)

// Event is what an Adapter pushes to its subscriber. PeerId and Message are
// populated according to Type; Message is set only for EventMessage.
type Event struct {
	Type    EventType
	PeerId  docid.PeerId
	Message ProtocolMessage
}

// Adapter is the capability a Repo needs from a transport: the ability to
// address a Send at a peer and to be told, by way of events, about peer
// lifecycle and inbound messages. Adapters are push-style — they call
// Subscribe's handler from their own goroutine(s); the handler must not
// block on anything that waits on the same adapter.
type Adapter interface {
	// Send delivers msg to msg.TargetId. Implementations may buffer, but
	// never block past their own readiness. A target with no established
	// link is reported as a Send error (ErrPeerUnreachable); a link that
	// goes away is also announced via EventPeerDisconnected.
	Send(msg ProtocolMessage) error

	// Subscribe registers handler to receive every Event this adapter
	// produces from the point of the call onward. Only one subscriber is
	// supported; a second Subscribe replaces the first.
	Subscribe(handler func(Event))

	// Ready reports whether the adapter has completed whatever handshake
	// it needs before Send is meaningful (e.g. an initial connection).
	// A Repo awaiting readiness watches for EventReady instead of polling
	// this method in a loop.
	Ready() bool

	// Close releases the adapter's resources. It does not clear the
	// adapter's peer links, so a Send after Close is not rejected.
	Close() error
}
