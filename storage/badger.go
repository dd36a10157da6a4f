package storage

import (
	"bytes"

	"github.com/dgraph-io/badger/v3"
)

const keySep = byte(0x1f) // unit separator, won't appear in a documentId/peerId

// BadgerAdapter implements Adapter over a Badger KV store, encoding a
// structured Key as its parts joined by an unprintable separator so
// componentwise prefix scans (LoadRange) reduce to Badger's own byte-prefix
// iterator. Adapted from the teacher's flat-byte-key BadgerStore.
type BadgerAdapter struct {
	db *badger.DB
}

// OpenBadgerAdapter opens (creating if absent) a Badger database at path.
func OpenBadgerAdapter(path string) (*BadgerAdapter, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's own logger is noisy at default level; callers use their own.

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerAdapter{db: db}, nil
}

func (a *BadgerAdapter) Close() error {
	return a.db.Close()
}

func encodeKey(k Key) []byte {
	var buf bytes.Buffer
	for i, part := range k {
		if i > 0 {
			buf.WriteByte(keySep)
		}
		buf.WriteString(part)
	}
	return buf.Bytes()
}

func decodeKey(raw []byte) Key {
	parts := bytes.Split(raw, []byte{keySep})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}

// encodePrefix encodes a prefix key the same way as encodeKey but appends
// the separator, so a key equal to the prefix's own joined form doesn't
// also match a sibling key of which it's a dumb string prefix (e.g.
// ["doc1"] must not match ["doc12", "snapshot"]).
func encodePrefix(k Key) []byte {
	if len(k) == 0 {
		return nil
	}
	return append(encodeKey(k), keySep)
}

func (a *BadgerAdapter) Load(key Key) ([]byte, error) {
	var val []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, &ErrNotFound{Key: key}
	}
	return val, err
}

func (a *BadgerAdapter) Save(key Key, data []byte) error {
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeKey(key), data)
	})
}

func (a *BadgerAdapter) Remove(key Key) error {
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(encodeKey(key))
	})
}

func (a *BadgerAdapter) LoadRange(prefix Key) ([]Entry, error) {
	var out []Entry
	rawPrefix := encodePrefix(prefix)
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(rawPrefix); it.ValidForPrefix(rawPrefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Entry{Key: decodeKey(item.KeyCopy(nil)), Data: v})
		}
		return nil
	})
	return out, err
}

func (a *BadgerAdapter) RemoveRange(prefix Key) error {
	rawPrefix := encodePrefix(prefix)
	var keys [][]byte
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(rawPrefix); it.ValidForPrefix(rawPrefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return a.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
