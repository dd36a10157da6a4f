package repo

import "sync/atomic"

// repoStats holds the running counters Stats snapshots. Grounded on the
// teacher's engineStats/EngineStats split in pkg/sync/engine.go: unexported
// atomics mutated from any goroutine, an exported value type handed out on
// request.
type repoStats struct {
	documentsCreated    uint64
	documentsFound      uint64
	documentsDeleted    uint64
	messagesReceived    uint64
	peersConnected      uint64
	peersDisconnected   uint64
	storageErrors       uint64
}

// Stats is a point-in-time snapshot of a Repo's runtime counters.
type Stats struct {
	DocumentsCreated  uint64
	DocumentsFound    uint64
	DocumentsDeleted  uint64
	MessagesReceived  uint64
	PeersConnected    uint64
	PeersDisconnected uint64
	StorageErrors     uint64
	CachedDocuments   int
	WorkQueueDepth    int
}

// Stats returns a snapshot of r's runtime counters.
func (r *Repo) Stats() Stats {
	r.mu.Lock()
	cached := len(r.handles)
	r.mu.Unlock()

	return Stats{
		DocumentsCreated:  atomic.LoadUint64(&r.stats.documentsCreated),
		DocumentsFound:    atomic.LoadUint64(&r.stats.documentsFound),
		DocumentsDeleted:  atomic.LoadUint64(&r.stats.documentsDeleted),
		MessagesReceived:  atomic.LoadUint64(&r.stats.messagesReceived),
		PeersConnected:    atomic.LoadUint64(&r.stats.peersConnected),
		PeersDisconnected: atomic.LoadUint64(&r.stats.peersDisconnected),
		StorageErrors:     atomic.LoadUint64(&r.stats.storageErrors),
		CachedDocuments:   cached,
		WorkQueueDepth:    len(r.workQ),
	}
}
