package synchronizer

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/shinyes/docsync/dochandle"
	"github.com/shinyes/docsync/docid"
	"github.com/shinyes/docsync/network"
)

// SharePolicy decides whether peer should be told about a document.
// A nil documentId means "should we tell this peer about documents at
// all" (used nowhere in the core today, reserved for future use); spec
// §4.3 always calls it with a concrete document. Grounded on spec §9's
// "(PeerId, DocumentId?) → Future<bool>" — collapsed to a synchronous bool
// since this core's single execution context has no async boundary to
// cross for a local policy decision.
type SharePolicy func(peer docid.PeerId, documentId *docid.DocumentId) bool

// AlwaysShare is the default policy: every peer may see every document.
func AlwaysShare(docid.PeerId, *docid.DocumentId) bool { return true }

// HandleResolver materializes the DocHandle for a documentId, creating it
// if necessary. Repo implements this; CollectionSynchronizer depends on
// the interface, not the concrete Repo, to avoid an import cycle (Repo
// composes a CollectionSynchronizer, spec §4.4).
type HandleResolver interface {
	FindOrCreateHandle(id docid.DocumentId) (*dochandle.Handle, error)
}

// CollectionSynchronizer demultiplexes inbound messages to the right
// DocSynchronizer, creates DocSynchronizers on demand, and fans peer
// join/leave events out to all of them after consulting the share policy.
// One instance per repo. Spec §4.3.
type CollectionSynchronizer struct {
	selfID      docid.PeerId
	resolver    HandleResolver
	sharePolicy SharePolicy
	sendFn      func(network.ProtocolMessage) error
	log         zerolog.Logger

	mu               sync.Mutex
	peers            map[docid.PeerId]struct{}
	docSynchronizers map[docid.DocumentId]*DocSynchronizer
	docSetUp         map[docid.DocumentId]struct{}
}

// NewCollection constructs a CollectionSynchronizer. policy may be nil, meaning
// AlwaysShare.
func NewCollection(selfID docid.PeerId, resolver HandleResolver, policy SharePolicy, send func(network.ProtocolMessage) error, log zerolog.Logger) *CollectionSynchronizer {
	if policy == nil {
		policy = AlwaysShare
	}
	return &CollectionSynchronizer{
		selfID:           selfID,
		resolver:         resolver,
		sharePolicy:      policy,
		sendFn:           send,
		log:              log.With().Str("component", "collectionsync").Logger(),
		peers:            make(map[docid.PeerId]struct{}),
		docSynchronizers: make(map[docid.DocumentId]*DocSynchronizer),
		docSetUp:         make(map[docid.DocumentId]struct{}),
	}
}

// AddPeer registers p as connected and, for every document already known
// to this synchronizer, begins syncing with p if the share policy allows
// it. A no-op if p is already registered.
func (c *CollectionSynchronizer) AddPeer(p docid.PeerId) {
	c.mu.Lock()
	if _, ok := c.peers[p]; ok {
		c.mu.Unlock()
		return
	}
	c.peers[p] = struct{}{}
	docs := make(map[docid.DocumentId]*DocSynchronizer, len(c.docSynchronizers))
	for id, ds := range c.docSynchronizers {
		docs[id] = ds
	}
	c.mu.Unlock()

	for id, ds := range docs {
		id := id
		if c.sharePolicy(p, &id) {
			if err := ds.BeginSync([]docid.PeerId{p}); err != nil {
				c.log.Warn().Err(err).Str("peer", string(p)).Msg("beginSync failed on peer join")
			}
		}
	}
}

// RemovePeer unregisters p and ends its sync session on every document.
func (c *CollectionSynchronizer) RemovePeer(p docid.PeerId) {
	c.mu.Lock()
	delete(c.peers, p)
	docs := make([]*DocSynchronizer, 0, len(c.docSynchronizers))
	for _, ds := range c.docSynchronizers {
		docs = append(docs, ds)
	}
	c.mu.Unlock()

	for _, ds := range docs {
		ds.EndSync(p)
	}
}

// AddDocument registers a document with this synchronizer and begins
// syncing it with every peer the share policy allows. A no-op if the
// document was already registered.
func (c *CollectionSynchronizer) AddDocument(id docid.DocumentId) error {
	c.mu.Lock()
	if _, ok := c.docSetUp[id]; ok {
		c.mu.Unlock()
		return nil
	}
	c.docSetUp[id] = struct{}{}
	c.mu.Unlock()

	ds, err := c.getOrCreate(id)
	if err != nil {
		return err
	}

	peers := c.generousPeers(id, nil)
	if len(peers) == 0 {
		return nil
	}
	return ds.BeginSync(peers)
}

// ReceiveMessage demultiplexes an inbound message to its DocSynchronizer,
// creating one (and the underlying handle, via HandleResolver) if this is
// the first time this document has been mentioned. After delivery, begins
// sync with any peer the share policy now allows that the DocSynchronizer
// doesn't already track. Spec §4.3.
func (c *CollectionSynchronizer) ReceiveMessage(m network.ProtocolMessage) error {
	if m.DocumentId.IsZero() {
		return &ErrUnknownDocument{}
	}

	c.mu.Lock()
	c.docSetUp[m.DocumentId] = struct{}{}
	c.mu.Unlock()

	ds, err := c.getOrCreate(m.DocumentId)
	if err != nil {
		return err
	}

	if err := ds.ReceiveMessage(m); err != nil {
		return err
	}

	already := ds.Peers()
	newPeers := c.generousPeers(m.DocumentId, already)
	if len(newPeers) == 0 {
		return nil
	}
	return ds.BeginSync(newPeers)
}

// DocSynchronizerFor returns the DocSynchronizer for id, if one has been
// created.
func (c *CollectionSynchronizer) DocSynchronizerFor(id docid.DocumentId) (*DocSynchronizer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.docSynchronizers[id]
	return ds, ok
}

// PeerCount returns the number of currently connected peers.
func (c *CollectionSynchronizer) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// getOrCreate returns the DocSynchronizer for id, materializing the
// handle and constructing one if this is the first reference.
func (c *CollectionSynchronizer) getOrCreate(id docid.DocumentId) (*DocSynchronizer, error) {
	c.mu.Lock()
	if ds, ok := c.docSynchronizers[id]; ok {
		c.mu.Unlock()
		return ds, nil
	}
	c.mu.Unlock()

	handle, err := c.resolver.FindOrCreateHandle(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ds, ok := c.docSynchronizers[id]; ok {
		return ds, nil
	}
	ds := New(id, c.selfID, handle, c.sendFn, c.log)
	c.docSynchronizers[id] = ds
	return ds, nil
}

// generousPeers returns every connected peer, minus exclude, that the
// share policy approves for id.
func (c *CollectionSynchronizer) generousPeers(id docid.DocumentId, exclude []docid.PeerId) []docid.PeerId {
	excludeSet := make(map[docid.PeerId]struct{}, len(exclude))
	for _, p := range exclude {
		excludeSet[p] = struct{}{}
	}

	c.mu.Lock()
	all := make([]docid.PeerId, 0, len(c.peers))
	for p := range c.peers {
		all = append(all, p)
	}
	c.mu.Unlock()

	var out []docid.PeerId
	for _, p := range all {
		if _, skip := excludeSet[p]; skip {
			continue
		}
		if c.sharePolicy(p, &id) {
			out = append(out, p)
		}
	}
	return out
}
