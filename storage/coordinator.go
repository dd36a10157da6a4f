package storage

import (
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/shinyes/docsync/crdt"
	"github.com/shinyes/docsync/docid"
)

// snapshotInterval is how many incremental chunks accumulate before
// Coordinator folds them into a fresh snapshot and drops the incrementals
// it superseded. Deterministic given the sequence of SaveDoc calls, as
// spec §4.5 requires.
const snapshotInterval = 20

// Coordinator implements spec §4.5: it translates a document's CRDT state
// to and from the structured key layout in §6, over whatever Adapter a
// Repo was configured with. Grounded on the teacher's manager/persistence.go
// chunk/snapshot scheme, adapted from flat string keys to storage.Key.
type Coordinator struct {
	adapter Adapter
	blobs   BlobStore
	log     zerolog.Logger

	mu          sync.Mutex
	lastSaved   map[string]crdt.VectorClock
	chunksSince map[string]int
}

// NewCoordinator wraps adapter (required) and blobs (may be nil if the repo
// doesn't need attachment storage).
func NewCoordinator(adapter Adapter, blobs BlobStore, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		adapter:     adapter,
		blobs:       blobs,
		log:         log.With().Str("component", "storage").Logger(),
		lastSaved:   make(map[string]crdt.VectorClock),
		chunksSince: make(map[string]int),
	}
}

// Blobs exposes the underlying blob store, or nil.
func (c *Coordinator) Blobs() BlobStore { return c.blobs }

// SaveDoc persists any ops doc has accumulated since the last SaveDoc call
// for id, as a new incremental chunk; every snapshotInterval chunks it
// folds everything into a fresh snapshot and drops the chunks it
// superseded.
func (c *Coordinator) SaveDoc(id docid.DocumentId, doc *crdt.CrdtDoc) error {
	key := id.String()

	c.mu.Lock()
	since, everSaved := c.lastSaved[key]
	if since == nil {
		since = crdt.NewVectorClock()
	}
	c.mu.Unlock()

	ops := doc.OpsSince(since)
	// A brand-new, still-empty document has zero ops to delta against, but
	// spec §4.4 requires persisting it immediately on creation — otherwise
	// a restart before the first edit would make find() re-request from
	// peers a document this repo already owns. Every later save with
	// nothing new to flush is a genuine no-op.
	if len(ops) == 0 && everSaved {
		return nil
	}

	chunkID := ulid.Make().String()
	msg := &crdt.SyncMessage{Heads: doc.Heads(), Changes: ops}
	data, err := crdt.EncodeSyncMessage(msg)
	if err != nil {
		return err
	}

	if err := c.adapter.Save(Key{key, "incremental", chunkID}, data); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastSaved[key] = doc.Heads()
	c.chunksSince[key]++
	needsSnapshot := c.chunksSince[key] >= snapshotInterval
	if needsSnapshot {
		c.chunksSince[key] = 0
	}
	c.mu.Unlock()

	if needsSnapshot {
		return c.writeSnapshot(id, doc)
	}
	return nil
}

// writeSnapshot folds a document's entire history into a single chunk
// under a fixed "latest" id, then drops every incremental chunk it
// supersedes.
func (c *Coordinator) writeSnapshot(id docid.DocumentId, doc *crdt.CrdtDoc) error {
	key := id.String()
	ops := doc.OpsSince(crdt.NewVectorClock())
	msg := &crdt.SyncMessage{Heads: doc.Heads(), Changes: ops}
	data, err := crdt.EncodeSyncMessage(msg)
	if err != nil {
		return err
	}
	if err := c.adapter.Save(Key{key, "snapshot", "latest"}, data); err != nil {
		return err
	}
	return c.adapter.RemoveRange(Key{key, "incremental"})
}

// LoadDoc loads and replays every snapshot and incremental chunk under
// id's key prefix, in chunk order, returning the materialized document. It
// returns a nil document (not an error) if nothing has ever been saved for
// id — the storage-level bottom value.
func (c *Coordinator) LoadDoc(id docid.DocumentId, peerID string) (*crdt.CrdtDoc, error) {
	key := id.String()
	entries, err := c.adapter.LoadRange(Key{key})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	var snapshots, incrementals []Entry
	for _, e := range entries {
		if len(e.Key) < 2 {
			continue
		}
		switch e.Key[1] {
		case "snapshot":
			snapshots = append(snapshots, e)
		case "incremental":
			incrementals = append(incrementals, e)
		}
	}

	// Chunk ids are ULIDs: lexicographic order is chronological order.
	sort.Slice(incrementals, func(i, j int) bool {
		return incrementals[i].Key[2] < incrementals[j].Key[2]
	})

	doc := crdt.NewCrdtDoc(peerID)
	apply := func(e Entry) error {
		msg, err := crdt.DecodeSyncMessage(e.Data)
		if err != nil {
			return err
		}
		for _, op := range msg.Changes {
			if err := doc.ApplyOp(op); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range snapshots {
		if err := apply(e); err != nil {
			return nil, err
		}
	}
	for _, e := range incrementals {
		if err := apply(e); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.lastSaved[key] = doc.Heads()
	c.mu.Unlock()

	return doc, nil
}

// RemoveDoc drops every key under id's prefix — snapshots, incrementals,
// and sync states alike. Spec §4.4: delete() removes all keys prefixed by
// [documentId] and does not propagate to peers.
func (c *Coordinator) RemoveDoc(id docid.DocumentId) error {
	key := id.String()

	c.mu.Lock()
	delete(c.lastSaved, key)
	delete(c.chunksSince, key)
	c.mu.Unlock()

	return c.adapter.RemoveRange(Key{key})
}

// SaveSyncState persists a peer's sync state, the optional reconnection
// fast path from spec §4.5; the in-process synchronizer cache remains
// authoritative and nothing in the hot sync loop calls this.
func (c *Coordinator) SaveSyncState(id docid.DocumentId, peer docid.PeerId, ss crdt.SyncState) error {
	data, err := crdt.EncodeSyncState(ss)
	if err != nil {
		return err
	}
	return c.adapter.Save(Key{id.String(), "sync-state", string(peer)}, data)
}

// LoadSyncState loads a previously-saved sync state, or a fresh
// InitSyncState if none was ever saved.
func (c *Coordinator) LoadSyncState(id docid.DocumentId, peer docid.PeerId) (crdt.SyncState, error) {
	data, err := c.adapter.Load(Key{id.String(), "sync-state", string(peer)})
	if err != nil {
		if _, ok := err.(*ErrNotFound); ok {
			return crdt.InitSyncState(), nil
		}
		return crdt.SyncState{}, err
	}
	return crdt.DecodeSyncState(data)
}
