package network

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/shinyes/docsync/docid"
)

// wireEnvelope is ProtocolMessage's JSON wire form. Grounded on the
// sumanthd032-CollabText agent's Op-over-websocket encoding; id is a ULID
// purely for log correlation, the protocol itself is not request/response.
type wireEnvelope struct {
	ID         string          `json:"id"`
	Type       MessageType     `json:"type"`
	SenderId   string          `json:"senderId"`
	TargetId   string          `json:"targetId"`
	DocumentId string          `json:"documentId"`
	Data       []byte          `json:"data,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsSendQueueSize = 256

// messageTypeHello is a local handshake envelope, never surfaced as an
// EventMessage: each side sends one immediately on connecting so the other
// can learn its PeerId and register it before any real traffic arrives.
// Without it a dialing adapter would never populate its peers map (it only
// ever learns an id by reading an envelope's SenderId) and Send would
// always fail with ErrPeerUnreachable.
const messageTypeHello MessageType = "hello"

// wsPeer is one live connection, identified once the remote side's first
// envelope names its PeerId. Grounded on CollabText's Client{conn, send}.
type wsPeer struct {
	id   docid.PeerId
	conn *websocket.Conn
	send chan []byte
}

// WSAdapter is a reference Adapter over WebSocket connections. One
// WSAdapter can serve an inbound HTTP upgrade handler and/or dial out to
// remote peers; every connection, regardless of direction, is tracked the
// same way once identified. Grounded on the teacher's tenet_network.go
// peer-handler bookkeeping and CollabText's Hub/register/unregister/
// broadcast loop.
type WSAdapter struct {
	selfID docid.PeerId
	log    zerolog.Logger

	mu      sync.Mutex
	handler func(Event)
	peers   map[docid.PeerId]*wsPeer
	ready   bool

	register   chan *wsPeer
	unregister chan *wsPeer
	closed     chan struct{}
}

// NewWSAdapter creates an adapter identified as selfID. Call Run in a
// goroutine before Serve/Dial traffic arrives.
func NewWSAdapter(selfID docid.PeerId, log zerolog.Logger) *WSAdapter {
	return &WSAdapter{
		selfID:     selfID,
		log:        log.With().Str("component", "network").Str("peer", string(selfID)).Logger(),
		peers:      make(map[docid.PeerId]*wsPeer),
		register:   make(chan *wsPeer),
		unregister: make(chan *wsPeer),
		closed:     make(chan struct{}),
	}
}

// Run drives peer registration bookkeeping until Close. Must run in its
// own goroutine for the lifetime of the adapter.
func (a *WSAdapter) Run() {
	for {
		select {
		case p := <-a.register:
			a.mu.Lock()
			a.peers[p.id] = p
			a.ready = true
			a.mu.Unlock()
			a.dispatch(Event{Type: EventPeerCandidate, PeerId: p.id})
			a.dispatch(Event{Type: EventPeer, PeerId: p.id})
			a.dispatch(Event{Type: EventReady})
		case p := <-a.unregister:
			a.mu.Lock()
			if cur, ok := a.peers[p.id]; ok && cur == p {
				delete(a.peers, p.id)
				close(p.send)
			}
			a.mu.Unlock()
			a.dispatch(Event{Type: EventPeerDisconnected, PeerId: p.id})
		case <-a.closed:
			return
		}
	}
}

// ServeHTTP upgrades an inbound HTTP request to a WebSocket connection and
// begins tracking it as a peer once its first envelope announces an id.
func (a *WSAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	a.adopt(conn)
}

// Dial connects out to a remote adapter's ServeHTTP endpoint.
func (a *WSAdapter) Dial(url string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	a.adopt(conn)
	return nil
}

func (a *WSAdapter) adopt(conn *websocket.Conn) {
	p := &wsPeer{conn: conn, send: make(chan []byte, wsSendQueueSize)}
	go a.readPump(p)
	go a.writePump(p)

	hello, err := json.Marshal(wireEnvelope{
		ID:       ulid.Make().String(),
		Type:     messageTypeHello,
		SenderId: string(a.selfID),
	})
	if err != nil {
		a.log.Error().Err(err).Msg("failed to encode handshake envelope")
		return
	}
	p.send <- hello
}

// readPump identifies the peer from its first envelope, registers it, then
// forwards every subsequent envelope as a message Event.
func (a *WSAdapter) readPump(p *wsPeer) {
	defer func() {
		_ = p.conn.Close()
		if p.id != "" {
			a.unregister <- p
		}
	}()

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			a.log.Debug().Err(err).Msg("websocket read ended")
			return
		}

		var env wireEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			a.log.Warn().Err(err).Msg("dropping malformed envelope")
			continue
		}

		if p.id == "" {
			p.id = docid.PeerId(env.SenderId)
			a.register <- p
		}

		if env.Type == messageTypeHello {
			continue
		}

		var docID docid.DocumentId
		if env.DocumentId != "" {
			parsed, _, err := docid.ParseURL(env.DocumentId)
			if err == nil {
				docID = parsed
			}
		}

		a.dispatch(Event{
			Type:   EventMessage,
			PeerId: p.id,
			Message: ProtocolMessage{
				Type:       env.Type,
				SenderId:   docid.PeerId(env.SenderId),
				TargetId:   docid.PeerId(env.TargetId),
				DocumentId: docID,
				Data:       env.Data,
			},
		})
	}
}

func (a *WSAdapter) writePump(p *wsPeer) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case raw, ok := <-p.send:
			if !ok {
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (a *WSAdapter) dispatch(ev Event) {
	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (a *WSAdapter) Send(msg ProtocolMessage) error {
	a.mu.Lock()
	p, ok := a.peers[msg.TargetId]
	a.mu.Unlock()
	if !ok {
		return ErrPeerUnreachable{Peer: msg.TargetId}
	}

	var docURL string
	if !msg.DocumentId.IsZero() {
		docURL = msg.DocumentId.URL()
	}

	raw, err := json.Marshal(wireEnvelope{
		ID:         ulid.Make().String(),
		Type:       msg.Type,
		SenderId:   string(a.selfID),
		TargetId:   string(msg.TargetId),
		DocumentId: docURL,
		Data:       msg.Data,
	})
	if err != nil {
		return err
	}

	select {
	case p.send <- raw:
		return nil
	default:
		return ErrPeerUnreachable{Peer: msg.TargetId}
	}
}

func (a *WSAdapter) Subscribe(handler func(Event)) {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
}

func (a *WSAdapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

func (a *WSAdapter) Close() error {
	select {
	case <-a.closed:
		return nil
	default:
		close(a.closed)
	}
	a.mu.Lock()
	for _, p := range a.peers {
		_ = p.conn.Close()
	}
	a.mu.Unlock()
	return nil
}
