package network_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinyes/docsync/docid"
	"github.com/shinyes/docsync/network"
)

func TestWSAdapterDialAndExchangeMessage(t *testing.T) {
	server := network.NewWSAdapter(docid.PeerId("server"), zerolog.Nop())
	go server.Run()
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()

	client := network.NewWSAdapter(docid.PeerId("client"), zerolog.Nop())
	go client.Run()
	defer client.Close()

	serverEvents := make(chan network.Event, 16)
	server.Subscribe(func(ev network.Event) { serverEvents <- ev })

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	require.NoError(t, client.Dial(wsURL))

	id := docid.NewDocumentId()
	require.Eventually(t, func() bool {
		err := client.Send(network.ProtocolMessage{
			Type:       network.MessageSync,
			SenderId:   docid.PeerId("client"),
			TargetId:   docid.PeerId("server"),
			DocumentId: id,
			Data:       []byte("payload"),
		})
		return err == nil
	}, time.Second, 10*time.Millisecond, "expected client to eventually be able to send")

	select {
	case ev := <-serverEvents:
		if ev.Type != network.EventMessage {
			// The peer-candidate/peer/ready triplet precedes the message;
			// drain until we see it or time out.
		drain:
			for i := 0; i < 10; i++ {
				select {
				case ev = <-serverEvents:
					if ev.Type == network.EventMessage {
						break drain
					}
				case <-time.After(time.Second):
					t.Fatal("timed out waiting for message event")
				}
			}
		}
		assert.Equal(t, docid.PeerId("client"), ev.PeerId)
		assert.Equal(t, []byte("payload"), ev.Message.Data)
		assert.Equal(t, id, ev.Message.DocumentId)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for any event")
	}
}
