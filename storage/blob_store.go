package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Fetcher lets a DiskBlobStore recover a missing blob from the network
// instead of failing outright — used when an attachment's metadata has
// synced but the bytes haven't arrived yet.
type Fetcher interface {
	Fetch(hash string) ([]byte, error)
}

// DiskBlobStore implements BlobStore over the local filesystem, sharding
// blobs two levels deep by hash prefix to avoid one giant directory.
// Adapted from the teacher's store.DiskBlobStore.
type DiskBlobStore struct {
	baseDir string
	fetcher Fetcher
	log     zerolog.Logger
}

// NewDiskBlobStore creates baseDir if needed and returns a store rooted
// there.
func NewDiskBlobStore(baseDir string, log zerolog.Logger) (*DiskBlobStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &DiskBlobStore{baseDir: baseDir, log: log.With().Str("component", "blobstore").Logger()}, nil
}

// SetFetcher installs a Fetcher used by Get on a local miss.
func (bs *DiskBlobStore) SetFetcher(f Fetcher) {
	bs.fetcher = f
}

func (bs *DiskBlobStore) hashToPath(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(bs.baseDir, hash)
	}
	return filepath.Join(bs.baseDir, hash[:2], hash[2:4], hash)
}

func (bs *DiskBlobStore) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	path := bs.hashToPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return hash, nil
}

func (bs *DiskBlobStore) Get(hash string) ([]byte, error) {
	path := bs.hashToPath(hash)

	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}

	if os.IsNotExist(err) && bs.fetcher != nil {
		bs.log.Debug().Str("hash", hash).Msg("blob missing locally, fetching")
		data, err := bs.fetcher.Fetch(hash)
		if err != nil {
			return nil, err
		}

		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != hash {
			return nil, fmt.Errorf("fetched blob hash mismatch for %s", hash)
		}

		if _, err := bs.Put(data); err != nil {
			bs.log.Warn().Err(err).Str("hash", hash).Msg("failed to persist fetched blob")
		}
		return data, nil
	}

	return nil, err
}

func (bs *DiskBlobStore) Has(hash string) (bool, error) {
	path := bs.hashToPath(hash)
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
