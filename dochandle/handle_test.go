package dochandle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinyes/docsync/crdt"
	"github.com/shinyes/docsync/dochandle"
	"github.com/shinyes/docsync/docid"
)

func TestNewIsNewGoesStraightToReady(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", true, true)
	assert.Equal(t, dochandle.StateReady, h.State())
	doc, ok := h.DocNow()
	require.True(t, ok)
	require.NotNil(t, doc)
}

func TestNewNotIsNewWithStorageStartsLoading(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", false, true)
	assert.Equal(t, dochandle.StateLoading, h.State())
	_, ok := h.DocNow()
	assert.False(t, ok)
}

func TestNewNotIsNewWithoutStorageStartsRequesting(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", false, false)
	assert.Equal(t, dochandle.StateRequesting, h.State())
}

func TestLoadedFromStorageTransitionsToReadyAndEmits(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", false, true)

	var events []dochandle.EventType
	h.Subscribe(func(ev dochandle.Event) { events = append(events, ev.Type) })

	doc := crdt.NewCrdtDoc("peerA")
	h.LoadedFromStorage(doc)

	assert.Equal(t, dochandle.StateReady, h.State())
	assert.Contains(t, events, dochandle.EventChange)
	assert.Contains(t, events, dochandle.EventHeadsChanged)
}

func TestRequestTransitionsLoadingToRequesting(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", false, true)
	h.Request()
	assert.Equal(t, dochandle.StateRequesting, h.State())
}

// A message that arrives while the handle is still loading gets buffered
// by whatever is subscribed (a DocSynchronizer, in production) and must be
// drained the moment the handle leaves loading — including via Request,
// not just LoadedFromStorage/ReceivedFromPeer. This pins Request's emit so
// that drain trigger fires.
func TestRequestEmitsChange(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", false, true)

	var events []dochandle.EventType
	h.Subscribe(func(ev dochandle.Event) { events = append(events, ev.Type) })

	h.Request()

	assert.Equal(t, dochandle.StateRequesting, h.State())
	assert.Contains(t, events, dochandle.EventChange)
}

func TestUnavailableOnlyFromRequesting(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", true, true)
	h.Unavailable()
	assert.Equal(t, dochandle.StateReady, h.State(), "unavailable from ready must be a no-op")

	h2 := dochandle.New(docid.NewDocumentId(), "peerA", false, false)
	var gotUnavailable bool
	h2.Subscribe(func(ev dochandle.Event) {
		if ev.Type == dochandle.EventUnavailable {
			gotUnavailable = true
		}
	})
	h2.Unavailable()
	assert.Equal(t, dochandle.StateUnavailable, h2.State())
	assert.True(t, gotUnavailable)
}

func TestDocBlocksUntilAllowedState(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", false, true)

	resultCh := make(chan *crdt.CrdtDoc, 1)
	go func() {
		resultCh <- h.Doc(dochandle.StateReady, dochandle.StateRequesting)
	}()

	select {
	case <-resultCh:
		t.Fatal("Doc resolved before handle reached an allowed state")
	case <-time.After(50 * time.Millisecond):
	}

	doc := crdt.NewCrdtDoc("peerA")
	h.LoadedFromStorage(doc)

	select {
	case got := <-resultCh:
		assert.Same(t, doc, got)
	case <-time.After(time.Second):
		t.Fatal("Doc never resolved")
	}
}

func TestUpdateEmitsChangeAndHeadsChanged(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", true, true)

	var changeCount, headsCount int
	h.Subscribe(func(ev dochandle.Event) {
		switch ev.Type {
		case dochandle.EventChange:
			changeCount++
		case dochandle.EventHeadsChanged:
			headsCount++
		}
	})

	h.Update(func(d *crdt.CrdtDoc) *crdt.CrdtDoc {
		d.InitField("title", crdt.TypeRegister)
		return d
	})

	assert.Equal(t, 1, changeCount)
	assert.Equal(t, 1, headsCount)
}

func TestDeleteFromReadyTransitionsToDeletedAndDropsDoc(t *testing.T) {
	h := dochandle.New(docid.NewDocumentId(), "peerA", true, true)
	h.Delete()
	assert.Equal(t, dochandle.StateDeleted, h.State())

	_, ok := h.DocNow()
	assert.False(t, ok)
}
