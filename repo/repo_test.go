package repo_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinyes/docsync/crdt"
	"github.com/shinyes/docsync/dochandle"
	"github.com/shinyes/docsync/docid"
	"github.com/shinyes/docsync/network"
	"github.com/shinyes/docsync/repo"
	"github.com/shinyes/docsync/storage"
)

func TestCreateFindSyncRoundTripOverInProcNetwork(t *testing.T) {
	hub := network.NewHub()
	adapterA := network.NewAdapter(hub, "peerA")
	adapterB := network.NewAdapter(hub, "peerB")

	repoA := repo.New(repo.Options{PeerId: "peerA", Network: adapterA, Log: zerolog.Nop()})
	repoB := repo.New(repo.Options{PeerId: "peerB", Network: adapterB, Log: zerolog.Nop()})
	defer repoA.Close()
	defer repoB.Close()

	adapterA.Connect("peerB")

	handle := repoA.Create()
	handle.Update(func(d *crdt.CrdtDoc) *crdt.CrdtDoc {
		d.InitField("title", crdt.TypeRegister)
		d.SetField("title", crdt.LWWOp{OriginID: "peerA", Value: "hello", Ts: 1})
		return d
	})

	url := handle.DocumentId.URL()

	hB, err := repoB.Find(url)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		doc, ok := hB.DocNow()
		return ok && doc != nil && doc.Value()["title"] == "hello"
	}, 2*time.Second, 10*time.Millisecond, "peerB never received peerA's document")

	assert.Equal(t, dochandle.StateReady, hB.State())
}

func TestFindInvalidURLReturnsErrorWithoutTouchingCache(t *testing.T) {
	hub := network.NewHub()
	adapterA := network.NewAdapter(hub, "peerA")
	r := repo.New(repo.Options{PeerId: "peerA", Network: adapterA, Log: zerolog.Nop()})
	defer r.Close()

	_, err := r.Find("not-a-valid-url")
	require.Error(t, err)
	assert.Equal(t, 0, r.Stats().CachedDocuments)
}

func TestFindReturnsCachedHandleOnSecondCall(t *testing.T) {
	hub := network.NewHub()
	adapterA := network.NewAdapter(hub, "peerA")
	r := repo.New(repo.Options{PeerId: "peerA", Network: adapterA, Log: zerolog.Nop()})
	defer r.Close()

	handle := r.Create()
	url := handle.DocumentId.URL()

	h1, err := r.Find(url)
	require.NoError(t, err)
	h2, err := r.Find(url)
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Same(t, handle, h1)
}

func TestCreateWithStoragePersistsImmediately(t *testing.T) {
	hub := network.NewHub()
	adapterA := network.NewAdapter(hub, "peerA")
	coord := storage.NewCoordinator(storage.NewMemoryAdapter(), nil, zerolog.Nop())
	r := repo.New(repo.Options{PeerId: "peerA", Network: adapterA, Storage: coord, Log: zerolog.Nop()})
	defer r.Close()

	handle := r.Create()
	id := handle.DocumentId

	require.Eventually(t, func() bool {
		doc, err := coord.LoadDoc(id, "peerA")
		return err == nil && doc != nil
	}, time.Second, 10*time.Millisecond, "new document was never persisted")
}

func TestFindWithoutStorageStartsRequesting(t *testing.T) {
	hub := network.NewHub()
	adapterA := network.NewAdapter(hub, "peerA")
	r := repo.New(repo.Options{PeerId: "peerA", Network: adapterA, Log: zerolog.Nop()})
	defer r.Close()

	id := docid.NewDocumentId()
	h, err := r.Find(id.URL())
	require.NoError(t, err)
	assert.Equal(t, dochandle.StateRequesting, h.State())
}

func TestDeleteRemovesDocumentFromStorage(t *testing.T) {
	hub := network.NewHub()
	adapterA := network.NewAdapter(hub, "peerA")
	coord := storage.NewCoordinator(storage.NewMemoryAdapter(), nil, zerolog.Nop())
	r := repo.New(repo.Options{PeerId: "peerA", Network: adapterA, Storage: coord, Log: zerolog.Nop()})
	defer r.Close()

	handle := r.Create()
	id := handle.DocumentId

	require.Eventually(t, func() bool {
		doc, err := coord.LoadDoc(id, "peerA")
		return err == nil && doc != nil
	}, time.Second, 10*time.Millisecond)

	r.Delete(id)
	assert.Equal(t, dochandle.StateDeleted, handle.State())

	require.Eventually(t, func() bool {
		doc, err := coord.LoadDoc(id, "peerA")
		return err == nil && doc == nil
	}, time.Second, 10*time.Millisecond, "document bytes were never removed from storage")
}

func TestDeleteOfUnknownDocumentIsANoOp(t *testing.T) {
	hub := network.NewHub()
	adapterA := network.NewAdapter(hub, "peerA")
	r := repo.New(repo.Options{PeerId: "peerA", Network: adapterA, Log: zerolog.Nop()})
	defer r.Close()

	r.Delete(docid.NewDocumentId())
}

func TestStatsReflectCreateFindAndPeerActivity(t *testing.T) {
	hub := network.NewHub()
	adapterA := network.NewAdapter(hub, "peerA")
	adapterB := network.NewAdapter(hub, "peerB")

	repoA := repo.New(repo.Options{PeerId: "peerA", Network: adapterA, Log: zerolog.Nop()})
	repoB := repo.New(repo.Options{PeerId: "peerB", Network: adapterB, Log: zerolog.Nop()})
	defer repoA.Close()
	defer repoB.Close()

	adapterA.Connect("peerB")

	handle := repoA.Create()
	url := handle.DocumentId.URL()
	_, err := repoB.Find(url)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return repoA.Stats().PeersConnected >= 1 && repoB.Stats().PeersConnected >= 1
	}, time.Second, 10*time.Millisecond)

	stats := repoA.Stats()
	assert.Equal(t, uint64(1), stats.DocumentsCreated)
	assert.Equal(t, 1, stats.CachedDocuments)
}
