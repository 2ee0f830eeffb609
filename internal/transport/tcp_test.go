package transport

import (
	"testing"
	"time"

	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/instance"
	"github.com/epax-io/epax/internal/message"
)

type chanHandler struct {
	fromReplica chan replicaDelivery
	fromClient  chan message.Message
}

type replicaDelivery struct {
	src int32
	msg message.Message
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		fromReplica: make(chan replicaDelivery, 4),
		fromClient:  make(chan message.Message, 4),
	}
}

func (h *chanHandler) DeliverFromReplica(src int32, msg message.Message) {
	h.fromReplica <- replicaDelivery{src, msg}
}
func (h *chanHandler) DeliverFromClient(msg message.Message) { h.fromClient <- msg }

func TestTCPDeliversReplicaMessagesWithSenderIndex(t *testing.T) {
	server := NewTCP(0, 8, time.Second)
	h := newChanHandler()
	if err := server.Listen("127.0.0.1:0", h); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	client := NewTCP(1, 8, time.Second)
	client.AddPeer(0, server.listener.Addr().String())

	want := &message.Prepare{Instance: instance.Instance{LeaderIndex: 0, InstanceNumber: 2}, Ballot: ballot.Default(0)}
	client.SendToReplica(0, want)

	select {
	case got := <-h.fromReplica:
		if got.src != 1 {
			t.Errorf("src = %d, want 1", got.src)
		}
		gotMsg, ok := got.msg.(*message.Prepare)
		if !ok || *gotMsg != *want {
			t.Errorf("delivered %+v, want %+v", got.msg, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replica delivery")
	}
}

func TestTCPTagsClientConnectionsSeparately(t *testing.T) {
	server := NewTCP(0, 8, time.Second)
	h := newChanHandler()
	if err := server.Listen("127.0.0.1:0", h); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	driver := NewTCP(ClientSenderIndex, 8, time.Second)
	want := &message.ClientRequest{ClientAddress: "client-1", ClientID: 1, Payload: []byte("GET k")}
	driver.SendToClient(server.listener.Addr().String(), want)

	select {
	case got := <-h.fromClient:
		gotMsg, ok := got.(*message.ClientRequest)
		if !ok || gotMsg.ClientAddress != want.ClientAddress || gotMsg.ClientID != want.ClientID {
			t.Errorf("delivered %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client delivery")
	}

	select {
	case got := <-h.fromReplica:
		t.Errorf("a client-originated send should not be delivered as a replica message, got %+v", got)
	default:
	}
}

func TestTCPSendToUnregisteredPeerIsANoop(t *testing.T) {
	client := NewTCP(1, 8, time.Second)
	// No AddPeer call for replica 2: SendToReplica should warn and return
	// without blocking or panicking.
	client.SendToReplica(2, &message.Nack{Instance: instance.Instance{LeaderIndex: 0, InstanceNumber: 0}})
}
