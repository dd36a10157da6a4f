// Package repo implements spec §4.4: the composition root a caller talks
// to. A Repo owns the handle cache, wires a CollectionSynchronizer to a
// network.Adapter, and wires a storage.Coordinator to each DocHandle's
// lifecycle. Grounded on the teacher's pkg/sync/engine.go Engine — same
// shape (open dependencies, start a single background worker draining a
// bounded channel, expose Stats), generalized from a relational
// change-event queue to an arbitrary work-item queue since a Repo must
// serialize handle-cache mutations and network events alike, not just one
// kind of event (spec §5's single-execution-context model).
package repo

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/shinyes/docsync/dochandle"
	"github.com/shinyes/docsync/docid"
	"github.com/shinyes/docsync/network"
	"github.com/shinyes/docsync/storage"
	"github.com/shinyes/docsync/synchronizer"
)

const repoQueueSize = 1024

// Repo is the caller-facing entry point: Create, Find, and Delete hand out
// *dochandle.Handle values; everything else (storage, peer bookkeeping,
// message routing) happens behind them on a single worker goroutine.
type Repo struct {
	peerID  docid.PeerId
	adapter network.Adapter
	storage *storage.Coordinator
	log     zerolog.Logger

	coll *synchronizer.CollectionSynchronizer

	mu                  sync.Mutex
	handles             map[docid.DocumentId]*dochandle.Handle
	pendingRegistration []docid.DocumentId

	workQ    chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	workerWg sync.WaitGroup

	stats repoStats
}

// New constructs a Repo and starts its worker goroutine. Callers should
// call Close when done.
func New(opts Options) *Repo {
	opts.setDefaults()

	r := &Repo{
		peerID:  opts.PeerId,
		adapter: opts.Network,
		storage: opts.Storage,
		log:     opts.Log.With().Str("component", "repo").Str("peer", string(opts.PeerId)).Logger(),
		handles: make(map[docid.DocumentId]*dochandle.Handle),
		workQ:   make(chan func(), repoQueueSize),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.coll = synchronizer.NewCollection(r.peerID, r, opts.SharePolicy, r.send, r.log)

	r.adapter.Subscribe(r.onNetworkEvent)

	r.workerWg.Add(1)
	go r.runWorker()

	return r
}

// PeerId returns this repo's own identity.
func (r *Repo) PeerId() docid.PeerId { return r.peerID }

// Create generates a fresh DocumentId, materializes a ready handle for it,
// and registers it with the synchronizer once the network is ready. Spec
// §4.4.
func (r *Repo) Create() *dochandle.Handle {
	id := docid.NewDocumentId()
	h := dochandle.New(id, r.peerID, true, r.storage != nil)

	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()

	atomic.AddUint64(&r.stats.documentsCreated, 1)
	r.enqueue(func() { r.handleDocumentEvent(id, h, true) })
	return h
}

// Find parses url, returns the cached handle if this repo already knows
// the document, and otherwise materializes a handle with isNew=false and
// begins the load-or-request sequence. Spec §4.4.
func (r *Repo) Find(url string) (*dochandle.Handle, error) {
	id, deprecated, err := docid.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if deprecated {
		r.log.Warn().Str("url", url).Msg("document url uses the deprecated legacy UUID form")
	}

	r.mu.Lock()
	if h, ok := r.handles[id]; ok {
		r.mu.Unlock()
		return h, nil
	}
	h := dochandle.New(id, r.peerID, false, r.storage != nil)
	r.handles[id] = h
	r.mu.Unlock()

	atomic.AddUint64(&r.stats.documentsFound, 1)
	r.enqueue(func() { r.handleDocumentEvent(id, h, false) })
	return h, nil
}

// Delete drops id from the handle cache, transitions its handle to
// deleted, and asks storage to remove every key under the document's
// prefix. A no-op if id isn't cached. Spec §4.4.
func (r *Repo) Delete(id docid.DocumentId) {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	h.Delete()
	atomic.AddUint64(&r.stats.documentsDeleted, 1)

	if r.storage == nil {
		return
	}
	r.enqueue(func() {
		if err := r.storage.RemoveDoc(id); err != nil {
			atomic.AddUint64(&r.stats.storageErrors, 1)
			r.log.Error().Err(err).Str("documentId", id.URL()).Msg("failed to remove deleted document from storage")
		}
	})
}

// FindOrCreateHandle implements synchronizer.HandleResolver: it backs the
// CollectionSynchronizer's on-demand materialization of a handle for a
// documentId it first learns about from an inbound message. Always invoked
// from the repo's own worker goroutine (via CollectionSynchronizer.
// ReceiveMessage, itself reached from onNetworkEvent), so the load/request
// sequence runs inline rather than through enqueue.
func (r *Repo) FindOrCreateHandle(id docid.DocumentId) (*dochandle.Handle, error) {
	r.mu.Lock()
	if h, ok := r.handles[id]; ok {
		r.mu.Unlock()
		return h, nil
	}
	h := dochandle.New(id, r.peerID, false, r.storage != nil)
	r.handles[id] = h
	r.mu.Unlock()

	atomic.AddUint64(&r.stats.documentsFound, 1)
	r.handleDocumentEvent(id, h, false)
	return h, nil
}

// send is the function every DocSynchronizer this repo's CollectionSynchronizer
// owns uses to put a message on the wire.
func (r *Repo) send(msg network.ProtocolMessage) error {
	return r.adapter.Send(msg)
}

// handleDocumentEvent runs the spec §4.4 "document" event handler: persist
// or load depending on isNew, subscribe to heads-changed for incremental
// persistence, and register with the CollectionSynchronizer once the
// network is ready. Must run on the worker goroutine.
func (r *Repo) handleDocumentEvent(id docid.DocumentId, h *dochandle.Handle, isNew bool) {
	if r.storage != nil {
		if isNew {
			if doc, ok := h.DocNow(); ok {
				if err := r.storage.SaveDoc(id, doc); err != nil {
					atomic.AddUint64(&r.stats.storageErrors, 1)
					r.log.Error().Err(err).Str("documentId", id.URL()).Msg("failed to persist new document")
				}
			}
		} else {
			doc, err := r.storage.LoadDoc(id, string(r.peerID))
			if err != nil {
				atomic.AddUint64(&r.stats.storageErrors, 1)
				r.log.Error().Err(err).Str("documentId", id.URL()).Msg("failed to load document from storage")
			}
			if doc != nil {
				h.LoadedFromStorage(doc)
			} else {
				h.Request()
			}
		}

		h.Subscribe(func(ev dochandle.Event) {
			if ev.Type != dochandle.EventHeadsChanged || ev.Doc == nil {
				return
			}
			r.enqueue(func() {
				if err := r.storage.SaveDoc(id, ev.Doc); err != nil {
					atomic.AddUint64(&r.stats.storageErrors, 1)
					r.log.Error().Err(err).Str("documentId", id.URL()).Msg("failed to persist document update")
				}
			})
		})
	}

	if r.adapter.Ready() {
		r.registerWithSynchronizer(id)
		return
	}
	r.mu.Lock()
	r.pendingRegistration = append(r.pendingRegistration, id)
	r.mu.Unlock()
}

func (r *Repo) registerWithSynchronizer(id docid.DocumentId) {
	if err := r.coll.AddDocument(id); err != nil {
		r.log.Error().Err(err).Str("documentId", id.URL()).Msg("failed to register document with synchronizer")
	}
}

func (r *Repo) drainPendingRegistration() {
	r.mu.Lock()
	pending := r.pendingRegistration
	r.pendingRegistration = nil
	r.mu.Unlock()

	for _, id := range pending {
		r.registerWithSynchronizer(id)
	}
}

// onNetworkEvent is the handler registered with the network.Adapter.
// Adapters call it from their own goroutine(s) (spec §6: "push-style"), so
// it only enqueues — all actual handling happens on the worker goroutine,
// preserving the single-execution-context ordering guarantee of spec §5.
func (r *Repo) onNetworkEvent(ev network.Event) {
	r.enqueue(func() { r.processNetworkEvent(ev) })
}

func (r *Repo) processNetworkEvent(ev network.Event) {
	switch ev.Type {
	case network.EventPeer:
		r.coll.AddPeer(ev.PeerId)
		atomic.AddUint64(&r.stats.peersConnected, 1)
	case network.EventPeerDisconnected:
		r.coll.RemovePeer(ev.PeerId)
		atomic.AddUint64(&r.stats.peersDisconnected, 1)
	case network.EventMessage:
		atomic.AddUint64(&r.stats.messagesReceived, 1)
		if err := r.coll.ReceiveMessage(ev.Message); err != nil {
			r.log.Warn().Err(err).Str("peer", string(ev.PeerId)).Msg("dropping inbound message")
		}
	case network.EventReady:
		r.drainPendingRegistration()
	case network.EventPeerCandidate:
		// Transport-level handshake progress; the core only acts on peer,
		// peer-disconnected, message, and ready (spec §6).
	}
}

// enqueue hands fn to the worker goroutine, blocking if the queue is
// saturated. Unlike the teacher's changeQ (which drops to a synchronous
// fallback under backpressure, safe for a best-effort row broadcast),
// protocol messages must be processed in arrival order per spec §5 — a
// dropped enqueue would violate that guarantee, so this blocks instead of
// falling back.
func (r *Repo) enqueue(fn func()) {
	select {
	case r.workQ <- fn:
	case <-r.ctx.Done():
	}
}

func (r *Repo) runWorker() {
	defer r.workerWg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case fn := <-r.workQ:
			fn()
		}
	}
}

// Close stops the worker goroutine and the underlying network adapter.
func (r *Repo) Close() error {
	r.cancel()
	r.workerWg.Wait()
	return r.adapter.Close()
}
