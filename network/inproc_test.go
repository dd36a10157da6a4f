package network_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinyes/docsync/docid"
	"github.com/shinyes/docsync/network"
)

func drainUntil(t *testing.T, ch chan network.Event, want network.EventType) network.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestInProcAdapterConnectFiresPeerEventsBothSides(t *testing.T) {
	hub := network.NewHub()
	a := network.NewAdapter(hub, docid.PeerId("alice"))
	b := network.NewAdapter(hub, docid.PeerId("bob"))
	defer a.Close()
	defer b.Close()

	aEvents := make(chan network.Event, 16)
	bEvents := make(chan network.Event, 16)
	a.Subscribe(func(ev network.Event) { aEvents <- ev })
	b.Subscribe(func(ev network.Event) { bEvents <- ev })

	a.Connect(docid.PeerId("bob"))

	ev := drainUntil(t, aEvents, network.EventPeer)
	assert.Equal(t, docid.PeerId("bob"), ev.PeerId)
	ev = drainUntil(t, bEvents, network.EventPeer)
	assert.Equal(t, docid.PeerId("alice"), ev.PeerId)

	assert.True(t, a.Ready())
	assert.True(t, b.Ready())
}

func TestInProcAdapterSendDeliversMessage(t *testing.T) {
	hub := network.NewHub()
	a := network.NewAdapter(hub, docid.PeerId("alice"))
	b := network.NewAdapter(hub, docid.PeerId("bob"))
	defer a.Close()
	defer b.Close()

	bEvents := make(chan network.Event, 16)
	b.Subscribe(func(ev network.Event) { bEvents <- ev })
	a.Connect(docid.PeerId("bob"))
	drainUntil(t, bEvents, network.EventReady)

	id := docid.NewDocumentId()
	err := a.Send(network.ProtocolMessage{
		Type:       network.MessageSync,
		SenderId:   docid.PeerId("alice"),
		TargetId:   docid.PeerId("bob"),
		DocumentId: id,
		Data:       []byte("hello"),
	})
	require.NoError(t, err)

	ev := drainUntil(t, bEvents, network.EventMessage)
	assert.Equal(t, docid.PeerId("alice"), ev.PeerId)
	assert.Equal(t, []byte("hello"), ev.Message.Data)
	assert.Equal(t, id, ev.Message.DocumentId)
}

func TestInProcAdapterSendToUnknownPeerErrors(t *testing.T) {
	hub := network.NewHub()
	a := network.NewAdapter(hub, docid.PeerId("alice"))
	defer a.Close()

	err := a.Send(network.ProtocolMessage{TargetId: docid.PeerId("ghost")})
	require.Error(t, err)
	var unreachable network.ErrPeerUnreachable
	require.ErrorAs(t, err, &unreachable)
}

func TestInProcAdapterDisconnectFiresBothSides(t *testing.T) {
	hub := network.NewHub()
	a := network.NewAdapter(hub, docid.PeerId("alice"))
	b := network.NewAdapter(hub, docid.PeerId("bob"))
	defer a.Close()
	defer b.Close()

	aEvents := make(chan network.Event, 16)
	bEvents := make(chan network.Event, 16)
	a.Subscribe(func(ev network.Event) { aEvents <- ev })
	b.Subscribe(func(ev network.Event) { bEvents <- ev })

	a.Connect(docid.PeerId("bob"))
	drainUntil(t, aEvents, network.EventReady)
	drainUntil(t, bEvents, network.EventReady)

	a.Disconnect(docid.PeerId("bob"))

	drainUntil(t, aEvents, network.EventPeerDisconnected)
	drainUntil(t, bEvents, network.EventPeerDisconnected)
}
