// Package storage implements the StorageAdapter capability (spec §6) and
// the coordinator that sits above it: a thin layer translating
// documentId-scoped CRDT snapshots/chunks to and from structured keys.
// Repo never talks to an Adapter directly — only through a Coordinator.
package storage

// Key is an ordered sequence of short strings, componentwise-prefixable:
// loadRange(["a","b"]) matches ["a","b","c"] but not ["a","bc"].
type Key []string

// Entry is one key/value pair returned by LoadRange.
type Entry struct {
	Key  Key
	Data []byte
}

// Adapter is the storage capability a Repo is configured with. save then
// load of the same key must return exactly the saved bytes; save over an
// existing key overwrites.
type Adapter interface {
	Load(key Key) ([]byte, error)
	Save(key Key, data []byte) error
	Remove(key Key) error

	// LoadRange returns every entry whose key has prefix as an initial
	// subsequence, in unspecified order.
	LoadRange(prefix Key) ([]Entry, error)
	// RemoveRange removes exactly the entries LoadRange(prefix) would
	// return.
	RemoveRange(prefix Key) error

	Close() error
}

// ErrNotFound is returned by Load when key has never been saved.
type ErrNotFound struct {
	Key Key
}

func (e *ErrNotFound) Error() string {
	return "storage: key not found: " + joinKey(e.Key)
}

func joinKey(k Key) string {
	s := ""
	for i, part := range k {
		if i > 0 {
			s += "/"
		}
		s += part
	}
	return s
}

// BlobStore is a content-addressed store for document attachments (spec
// §4, "Blob/content-addressed attachments" in the supplemented features):
// large binary payloads are kept out of sync messages and referenced by
// hash from a crdt.Attachment field instead.
type BlobStore interface {
	// Put stores data and returns its content hash.
	Put(data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(hash string) ([]byte, error)
	// Has reports whether a blob with the given hash is present.
	Has(hash string) (bool, error)
}
