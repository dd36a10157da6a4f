package storage_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinyes/docsync/storage"
)

func TestBadgerAdapterLoadRangeIsComponentwise(t *testing.T) {
	dir, err := os.MkdirTemp("", "docsync-badger-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	adapter, err := storage.OpenBadgerAdapter(dir)
	require.NoError(t, err)
	defer adapter.Close()

	require.NoError(t, adapter.Save(storage.Key{"doc1", "snapshot", "latest"}, []byte("a")))
	require.NoError(t, adapter.Save(storage.Key{"doc1", "incremental", "001"}, []byte("b")))
	// doc12 must not be swept up by a prefix scan for doc1.
	require.NoError(t, adapter.Save(storage.Key{"doc12", "snapshot", "latest"}, []byte("c")))

	entries, err := adapter.LoadRange(storage.Key{"doc1"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	got, err := adapter.Load(storage.Key{"doc1", "snapshot", "latest"})
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	require.NoError(t, adapter.RemoveRange(storage.Key{"doc1"}))
	entries, err = adapter.LoadRange(storage.Key{"doc1"})
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = adapter.LoadRange(storage.Key{"doc12"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBadgerAdapterLoadMissingReturnsErrNotFound(t *testing.T) {
	dir, err := os.MkdirTemp("", "docsync-badger-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	adapter, err := storage.OpenBadgerAdapter(dir)
	require.NoError(t, err)
	defer adapter.Close()

	_, err = adapter.Load(storage.Key{"missing"})
	require.Error(t, err)
	var notFound *storage.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}
